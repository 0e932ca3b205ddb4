// Package app 组装各个组件 (Dependency Container)
// 它遵循 config.Settings，但不知道具体的 CLI 命令
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"chunkrelay/pkg/checkpoint"
	"chunkrelay/pkg/config"
	"chunkrelay/pkg/meta"
	"chunkrelay/pkg/ratelimit"
	"chunkrelay/pkg/relay"
	"chunkrelay/pkg/retry"
	"chunkrelay/pkg/rpc"
	"chunkrelay/pkg/storage"
	"chunkrelay/pkg/storage/cache"
	"chunkrelay/pkg/storage/disk"
	"chunkrelay/pkg/storage/s3"
	"chunkrelay/pkg/topicmap"
	"chunkrelay/pkg/types"
)

// closers 按打开的逆序关闭资源
type closers []io.Closer

func (c closers) Close() error {
	var errs []error
	for i := len(c) - 1; i >= 0; i-- {
		errs = append(errs, c[i].Close())
	}
	return errors.Join(errs...)
}

func metaConfig(d config.DatabaseConfig) meta.Config {
	return meta.Config{
		Driver:   d.Driver,
		Path:     d.Path,
		Host:     d.Host,
		Port:     d.Port,
		User:     d.User,
		Password: d.Password,
		DBName:   d.DBName,
		SSLMode:  d.SSLMode,
		Debug:    d.Debug,
	}
}

// OpenDB 打开元数据库并迁移表结构
func OpenDB(ctx context.Context, d config.DatabaseConfig) (*meta.DB, error) {
	// sqlite 不会自己创建目录
	if (d.Driver == "" || d.Driver == "sqlite") && d.Path != "" && !strings.HasPrefix(d.Path, "file:") {
		if err := os.MkdirAll(filepath.Dir(d.Path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database dir: %w", err)
		}
	}
	db, err := meta.NewDB(ctx, metaConfig(d))
	if err != nil {
		return nil, fmt.Errorf("failed to init database: %w", err)
	}
	return db, nil
}

// initStore 根据 storage.type 选择后端，配置了 cache.redis_url 时在外面套一层 Redis
func initStore(ctx context.Context, s config.StorageConfig, c config.CacheConfig, logger *slog.Logger) (storage.Store, error) {
	var backend storage.Store
	switch s.Type {
	case "", "disk":
		if s.Path == "" {
			return nil, fmt.Errorf("storage path not set")
		}
		store, err := disk.NewAdapter(s.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to init storage: %w", err)
		}
		backend = store
	case "s3":
		if s.S3.Bucket == "" {
			return nil, fmt.Errorf("s3 bucket is required")
		}
		store, err := s3.NewAdapter(ctx, s3.Config{
			Endpoint:        s.S3.Endpoint,
			Region:          s.S3.Region,
			Bucket:          s.S3.Bucket,
			Prefix:          s.S3.Prefix,
			AccessKeyID:     s.S3.AccessKey,
			SecretAccessKey: s.S3.SecretKey,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to init s3 storage: %w", err)
		}
		backend = store
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", s.Type)
	}

	if c.RedisURL == "" {
		return backend, nil
	}
	cached, err := cache.NewCachedStore(backend, cache.Config{RedisURL: c.RedisURL, TTL: c.TTL}, logger)
	if err != nil {
		return nil, err
	}
	return cached, nil
}

// Relay 持有一次 relay run 需要的全部组件
type Relay struct {
	Client       *rpc.Client
	Ledger       checkpoint.Ledger
	Topics       *topicmap.Resolver // topics.backend = none 时为 nil
	Orchestrator *relay.Orchestrator

	closers closers
}

func (r *Relay) Close() error { return r.closers.Close() }

func throttler(t config.TransferConfig, logger *slog.Logger) retry.Throttler {
	return retry.Throttler{Margin: t.ThrottleMargin, Logger: logger}
}

// NewRelay 组装 relay：平台客户端 → ledger → 话题映射 → Orchestrator
func NewRelay(ctx context.Context, s config.Settings, logger *slog.Logger) (_ *Relay, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Relay{}
	defer func() {
		if err != nil {
			r.Close()
		}
	}()

	// 1. 平台
	r.Client, err = rpc.Dial(s.Platform.Addr)
	if err != nil {
		return nil, err
	}
	r.closers = append(r.closers, r.Client)

	// 2. 断点
	ledger, c, err := OpenLedger(ctx, s, logger)
	if err != nil {
		return nil, err
	}
	if c != nil {
		r.closers = append(r.closers, c)
	}
	if db, ok := ledger.(*checkpoint.DBLedger); ok {
		if _, err := db.CleanupStale(ctx, s.Checkpoint.StaleAfter); err != nil {
			return nil, fmt.Errorf("release stale claims: %w", err)
		}
	}
	r.Ledger = ledger

	// 3. 话题映射
	tr := throttler(s.Transfer, logger)
	opts := relay.Options{
		Source:         types.ContainerID(s.Source.Container),
		Target:         types.ContainerID(s.Target.Container),
		SourceTopic:    types.TopicID(s.Source.Topic),
		TargetTopic:    types.TopicID(s.Target.Topic),
		ChunkSize:      s.Transfer.ChunkSize,
		Parallel:       s.Transfer.Parallel,
		SmallThreshold: s.Transfer.SmallThreshold,
		Throttler:      tr,
		Policy: retry.Policy{
			Attempts:  s.Transfer.PartAttempts,
			BaseDelay: s.Transfer.RetryDelay,
			MaxDelay:  s.Transfer.MaxRetryDelay,
		},
		Logger: logger,
	}

	store, c, err := OpenTopicStore(ctx, s)
	if err != nil {
		return nil, err
	}
	if c != nil {
		r.closers = append(r.closers, c)
	}
	if store != nil {
		r.Topics, err = topicmap.NewResolver(ctx, store, r.Client, topicmap.Options{
			Source:     opts.Source,
			Target:     opts.Target,
			Fallback:   opts.TargetTopic,
			AutoCreate: s.Topics.AutoCreate,
			Throttler:  tr,
			Logger:     logger,
		})
		if err != nil {
			return nil, err
		}
		opts.Topics = r.Topics
	}

	// 4. Orchestrator
	r.Orchestrator = relay.New(r.Client, ledger, ratelimit.New(s.Transfer.MinInterval), opts)
	return r, nil
}

// OpenLedger 按 checkpoint.backend 打开断点存储
// 返回的 io.Closer 可能为 nil
func OpenLedger(ctx context.Context, s config.Settings, logger *slog.Logger) (checkpoint.Ledger, io.Closer, error) {
	switch s.Checkpoint.Backend {
	case "", "file":
		return checkpoint.NewFileLedger(s.Checkpoint.Path), nil, nil
	case "db":
		db, err := OpenDB(ctx, s.Database)
		if err != nil {
			return nil, nil, err
		}
		l := checkpoint.NewDBLedger(meta.NewRepository(db),
			types.ContainerID(s.Source.Container), types.ContainerID(s.Target.Container),
			s.Checkpoint.Session, logger)
		return l, db, nil
	default:
		return nil, nil, fmt.Errorf("unsupported checkpoint backend: %s", s.Checkpoint.Backend)
	}
}

// OpenTopicStore 按 topics.backend 打开话题映射；none 返回 nil
func OpenTopicStore(ctx context.Context, s config.Settings) (topicmap.Store, io.Closer, error) {
	switch s.Topics.Backend {
	case "none":
		return nil, nil, nil
	case "", "file":
		return topicmap.NewFileStore(s.Topics.Path), nil, nil
	case "redis":
		key := topicmap.RedisKey(types.ContainerID(s.Source.Container), types.ContainerID(s.Target.Container))
		store, err := topicmap.NewRedisStore(ctx, s.Topics.RedisURL, key)
		if err != nil {
			return nil, nil, err
		}
		return store, store, nil
	default:
		return nil, nil, fmt.Errorf("unsupported topics backend: %s", s.Topics.Backend)
	}
}
