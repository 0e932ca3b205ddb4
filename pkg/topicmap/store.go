package topicmap

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"chunkrelay/pkg/types"

	"github.com/redis/go-redis/v9"
)

// Store 持久化 源话题 → 目标话题 的映射
// 启动时整体读入，之后每建一个话题追加一条
type Store interface {
	Load(ctx context.Context) (map[types.TopicID]types.TopicID, error)
	Put(ctx context.Context, src, dst types.TopicID) error
}

// FileStore 是一个只追加的 TSV 文件：每行 "src\tdst"
// 同一个 src 出现多次时以最后一行为准
type FileStore struct {
	path string
	mu   sync.Mutex
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Load(ctx context.Context) (map[types.TopicID]types.TopicID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[types.TopicID]types.TopicID)
	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return out, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open topic map: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for line := 1; sc.Scan(); line++ {
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		src, dst, ok := strings.Cut(text, "\t")
		if !ok {
			return nil, fmt.Errorf("topic map line %d: expected two tab-separated ids", line)
		}
		s, err1 := strconv.ParseInt(strings.TrimSpace(src), 10, 64)
		d, err2 := strconv.ParseInt(strings.TrimSpace(dst), 10, 64)
		if err := errors.Join(err1, err2); err != nil {
			return nil, fmt.Errorf("topic map line %d: %w", line, err)
		}
		out[types.TopicID(s)] = types.TopicID(d)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read topic map: %w", err)
	}
	return out, nil
}

func (s *FileStore) Put(ctx context.Context, src, dst types.TopicID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open topic map: %w", err)
	}
	if _, err := fmt.Fprintf(f, "%d\t%d\n", src, dst); err != nil {
		f.Close()
		return fmt.Errorf("failed to append topic map: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// RedisStore 把映射存在一个 Redis hash 里，多个 relay 进程可以共享
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore 连接 Redis；key 通常由 source/target 组合生成
func NewRedisStore(ctx context.Context, redisURL, key string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisStore{client: client, key: key}, nil
}

// RedisKey 为一个 source→target 组合生成 hash 的 key
func RedisKey(source, target types.ContainerID) string {
	return fmt.Sprintf("relay:topics:%d->%d", source, target)
}

func (s *RedisStore) Load(ctx context.Context) (map[types.TopicID]types.TopicID, error) {
	raw, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load topic map: %w", err)
	}
	out := make(map[types.TopicID]types.TopicID, len(raw))
	for k, v := range raw {
		src, err1 := strconv.ParseInt(k, 10, 64)
		dst, err2 := strconv.ParseInt(v, 10, 64)
		if err := errors.Join(err1, err2); err != nil {
			return nil, fmt.Errorf("corrupt topic map entry %q=%q: %w", k, v, err)
		}
		out[types.TopicID(src)] = types.TopicID(dst)
	}
	return out, nil
}

func (s *RedisStore) Put(ctx context.Context, src, dst types.TopicID) error {
	return s.client.HSet(ctx, s.key, src.String(), dst.String()).Err()
}

func (s *RedisStore) Close() error { return s.client.Close() }
