package topicmap

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sync"

	"chunkrelay/pkg/platform"
	"chunkrelay/pkg/retry"
	"chunkrelay/pkg/types"
)

type Options struct {
	Source types.ContainerID
	Target types.ContainerID

	// Fallback 是映射缺失 (或建话题失败) 时使用的目标话题
	Fallback   types.TopicID
	AutoCreate bool

	Throttler retry.Throttler
	Logger    *slog.Logger
}

// Resolver 把源话题翻译成目标话题，必要时在目标容器里建一个同名话题
type Resolver struct {
	store  Store
	topics platform.Topics
	opts   Options
	log    *slog.Logger

	mu     sync.Mutex
	cache  map[types.TopicID]types.TopicID
	titles map[types.TopicID]string // 源容器的话题标题，第一次建话题时加载
}

// NewResolver 读入已有映射
func NewResolver(ctx context.Context, store Store, topics platform.Topics, opts Options) (*Resolver, error) {
	cache, err := store.Load(ctx)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		store:  store,
		topics: topics,
		opts:   opts,
		log:    logger,
		cache:  cache,
	}, nil
}

// Resolve 返回 src 对应的目标话题
// 只有映射存储写入失败才返回错误；建话题失败时退回 Fallback
func (r *Resolver) Resolve(ctx context.Context, src types.TopicID) (types.TopicID, error) {
	if src.IsZero() {
		return r.opts.Fallback, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if dst, ok := r.cache[src]; ok {
		return dst, nil
	}
	if !r.opts.AutoCreate || r.topics == nil {
		return r.opts.Fallback, nil
	}

	// 1. 标题沿用源话题
	title := r.titleLocked(ctx, src)

	// 2. 建话题 (限流时等待重放)
	var dst types.TopicID
	err := r.opts.Throttler.Run(ctx, func(ctx context.Context) error {
		id, err := r.topics.CreateTopic(ctx, r.opts.Target, title)
		if err != nil {
			return err
		}
		dst = id
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		r.log.Warn("failed to create topic, using fallback",
			"source_topic", src, "title", title, "fallback", r.opts.Fallback, "error", err)
		return r.opts.Fallback, nil
	}

	// 3. 先落盘再进缓存
	if err := r.store.Put(ctx, src, dst); err != nil {
		return 0, fmt.Errorf("failed to persist topic mapping %d->%d: %w", src, dst, err)
	}
	r.cache[src] = dst
	r.log.Info("topic created", "source_topic", src, "target_topic", dst, "title", title)
	return dst, nil
}

func (r *Resolver) titleLocked(ctx context.Context, src types.TopicID) string {
	if r.titles == nil {
		r.titles = make(map[types.TopicID]string)
		list, err := r.topics.ListTopics(ctx, r.opts.Source)
		if err != nil {
			r.log.Warn("failed to list source topics", "error", err)
		}
		for _, t := range list {
			r.titles[t.ID] = t.Title
		}
	}
	if title, ok := r.titles[src]; ok && title != "" {
		return title
	}
	return fmt.Sprintf("Topic %d", src)
}

// Mappings 返回当前映射的副本
func (r *Resolver) Mappings() map[types.TopicID]types.TopicID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return maps.Clone(r.cache)
}
