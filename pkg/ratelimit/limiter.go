package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Limiter 保证相邻两次“放行”之间至少间隔 minInterval
// 每条转发出去的消息占用一次放行 (不是每个分片)
// 同一个 pipeline 只应该有一个实例，由调用方注入
type Limiter struct {
	interval time.Duration
	lim      *rate.Limiter // nil 表示不限速
}

// New 创建限速器；minInterval <= 0 时 WaitTurn 立即返回
func New(minInterval time.Duration) *Limiter {
	l := &Limiter{interval: minInterval}
	if minInterval > 0 {
		// burst = 1：令牌桶只存一个令牌，等价于“两次之间至少隔 interval”
		// rate.Limiter 内部按预约顺序放行，即先到先得
		l.lim = rate.NewLimiter(rate.Every(minInterval), 1)
	}
	return l
}

// Interval 返回配置的最小间隔
func (l *Limiter) Interval() time.Duration { return l.interval }

// WaitTurn 挂起直到本次放行时间到达，并记录这次放行
// ctx 取消时返回 ctx 的错误，不占用放行
func (l *Limiter) WaitTurn(ctx context.Context) error {
	if l == nil || l.lim == nil {
		return ctx.Err()
	}
	return l.lim.Wait(ctx)
}
