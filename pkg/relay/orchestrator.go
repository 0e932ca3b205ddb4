package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"chunkrelay/pkg/checkpoint"
	"chunkrelay/pkg/chunker"
	"chunkrelay/pkg/platform"
	"chunkrelay/pkg/ratelimit"
	"chunkrelay/pkg/retry"
	"chunkrelay/pkg/types"
	"chunkrelay/pkg/upload"
)

const (
	DefaultSmallThreshold = 10 << 20 // 10MB
	DefaultProgressEvery  = 10
)

// TopicResolver 把源话题翻译成目标话题
type TopicResolver interface {
	Resolve(ctx context.Context, src types.TopicID) (types.TopicID, error)
}

type Options struct {
	Source types.ContainerID
	Target types.ContainerID

	// SourceTopic 非 0 时只转发这个话题里的消息
	SourceTopic types.TopicID
	// TargetTopic 是没有映射时使用的目标话题
	TargetTopic types.TopicID
	Topics      TopicResolver

	ChunkSize      int
	Parallel       int
	SmallThreshold int64
	ProgressEvery  int

	Throttler retry.Throttler
	Policy    retry.Policy
	Logger    *slog.Logger

	// Now 可以在测试里替换
	Now func() time.Time
}

// Orchestrator 驱动整个转发流程：一次只处理一条消息
type Orchestrator struct {
	client  platform.Client
	ledger  checkpoint.Ledger
	limiter *ratelimit.Limiter
	opts    Options
	log     *slog.Logger
}

func New(client platform.Client, ledger checkpoint.Ledger, limiter *ratelimit.Limiter, opts Options) *Orchestrator {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = chunker.DefaultChunkSize
	}
	if opts.Parallel <= 0 {
		opts.Parallel = upload.DefaultParallel
	}
	if opts.SmallThreshold <= 0 {
		opts.SmallThreshold = DefaultSmallThreshold
	}
	if opts.ProgressEvery <= 0 {
		opts.ProgressEvery = DefaultProgressEvery
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Throttler.Logger == nil {
		opts.Throttler.Logger = logger
	}
	return &Orchestrator{
		client:  client,
		ledger:  ledger,
		limiter: limiter,
		opts:    opts,
		log:     logger,
	}
}

// Run 从 checkpoint 开始把源容器里剩余的消息全部转发
// 返回 error 只有两种情况：ctx 被取消，或者 checkpoint / 遍历出错 (整轮致命)
func (o *Orchestrator) Run(ctx context.Context) (*Stats, error) {
	stats := &Stats{Started: o.opts.Now()}
	defer func() { stats.Elapsed = o.opts.Now().Sub(stats.Started) }()

	// 1. 读取 checkpoint
	minID, resumed, err := o.ledger.Load(ctx)
	if err != nil {
		return stats, fmt.Errorf("load checkpoint: %w", err)
	}
	if resumed {
		o.log.Info("resuming from checkpoint", "item_id", minID)
	}

	// 2. 只请求 id > checkpoint 的消息
	it, err := o.client.IterateItems(ctx, o.opts.Source, minID)
	if err != nil {
		return stats, fmt.Errorf("iterate items: %w", err)
	}
	defer it.Close()

	claimer, shared := o.ledger.(checkpoint.Claimer)

	for {
		item, err := it.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return stats, ctx.Err()
			}
			return stats, fmt.Errorf("iterate items: %w", err)
		}

		// 3. 话题过滤：不计入 checkpoint
		if !o.opts.SourceTopic.IsZero() && item.Topic != o.opts.SourceTopic {
			stats.Filtered++
			continue
		}

		// 4. 多会话共享时先抢占
		if shared {
			ok, err := claimer.Claim(ctx, item.ID)
			if err != nil {
				if ctx.Err() != nil {
					return stats, ctx.Err()
				}
				return stats, fmt.Errorf("claim item %d: %w", item.ID, err)
			}
			if !ok {
				stats.Skipped++
				o.log.Debug("item claimed by another session", "item_id", item.ID)
				continue
			}
		}

		// 5. 转发
		sent, err := o.transfer(ctx, item)
		if err != nil && ctx.Err() != nil {
			// 被取消：当前消息不写 checkpoint，重启后整条重来
			o.log.Warn("transfer interrupted", "item_id", item.ID)
			if shared {
				if rerr := claimer.Release(context.WithoutCancel(ctx), item.ID); rerr != nil {
					o.log.Error("failed to release claim", "item_id", item.ID, "error", rerr)
				}
			}
			return stats, ctx.Err()
		}

		outcome := checkpoint.OutcomeSucceeded
		if err != nil {
			outcome = checkpoint.OutcomeFailed
			stats.Failed++
			o.log.Error("item transfer failed",
				"item_id", item.ID,
				"kind", item.Kind,
				"outcome", outcome,
				"error", err,
			)
		} else {
			stats.Succeeded++
			stats.Bytes += item.Size()
			o.log.Debug("item transferred", "item_id", item.ID, "target_id", sent, "kind", item.Kind)
		}

		// 6. 同步写 checkpoint，之后才请求下一条
		// 已经有结论的消息即使 ctx 刚好被取消也要记下来
		if err := o.ledger.Save(context.WithoutCancel(ctx), item.ID, outcome); err != nil {
			return stats, fmt.Errorf("save checkpoint %d: %w", item.ID, err)
		}

		if stats.Concluded()%o.opts.ProgressEvery == 0 {
			o.logProgress(stats)
		}
	}

	stats.Elapsed = o.opts.Now().Sub(stats.Started)
	o.log.Info("relay finished",
		"succeeded", stats.Succeeded,
		"failed", stats.Failed,
		"skipped", stats.Skipped,
		"filtered", stats.Filtered,
		"gb", fmt.Sprintf("%.2f", stats.Gigabytes()),
		"elapsed", stats.Elapsed.Round(time.Second),
	)
	return stats, nil
}

func (o *Orchestrator) logProgress(stats *Stats) {
	stats.Elapsed = o.opts.Now().Sub(stats.Started)
	o.log.Info("progress",
		"ok", stats.Succeeded,
		"failed", stats.Failed,
		"skipped", stats.Skipped,
		"msgs_per_min", fmt.Sprintf("%.1f", stats.MessagesPerMinute()),
		"gb", fmt.Sprintf("%.2f", stats.Gigabytes()),
	)
}
