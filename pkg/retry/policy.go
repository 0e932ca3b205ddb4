package retry

import (
	"context"
	"fmt"
	"math"
	"time"

	"chunkrelay/pkg/platform"

	"github.com/cenkalti/backoff/v4"
)

// Policy 对 TransientError 做有限次重试，间隔指数增长
// Attempts 包含第一次调用；<= 1 表示不重试
type Policy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Sleep     SleepFunc
}

// DefaultPolicy 对应 transfer.part_attempts / transfer.retry_delay 的默认值
func DefaultPolicy() Policy {
	return Policy{
		Attempts:  5,
		BaseDelay: 500 * time.Millisecond,
		MaxDelay:  30 * time.Second,
	}
}

// exponential 是不抖动、按 2 倍增长、封顶 MaxDelay 的退避
func (p Policy) exponential() *backoff.ExponentialBackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.BaseDelay
	eb.RandomizationFactor = 0
	eb.Multiplier = 2
	eb.MaxInterval = p.MaxDelay
	if eb.MaxInterval <= 0 {
		eb.MaxInterval = math.MaxInt64
	}
	eb.MaxElapsedTime = 0
	eb.Reset()
	return eb
}

// schedule 是一次 Do 的等待序列，最多 Attempts-1 次
func (p Policy) schedule(ctx context.Context) backoff.BackOff {
	retries := max(p.Attempts, 1) - 1
	return backoff.WithContext(backoff.WithMaxRetries(p.exponential(), uint64(retries)), ctx)
}

// Delay 返回第 attempt 次失败后的等待时间 (attempt 从 1 开始)
func (p Policy) Delay(attempt int) time.Duration {
	b := p.exponential()
	d := b.NextBackOff()
	for i := 1; i < attempt; i++ {
		d = b.NextBackOff()
	}
	return d
}

// Do 执行 op；只有 transient 错误会重试，其他错误立刻返回
// 次数用完后返回最后一次的错误
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := max(p.Attempts, 1)
	sleep := p.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	b := p.schedule(ctx)
	for {
		err := op(ctx)
		if err == nil || !platform.IsTransient(err) {
			return err
		}
		d := b.NextBackOff()
		if d == backoff.Stop {
			if cerr := ctx.Err(); cerr != nil {
				return cerr
			}
			return fmt.Errorf("gave up after %d attempts: %w", attempts, err)
		}
		if serr := sleep(ctx, d); serr != nil {
			return serr
		}
	}
}
