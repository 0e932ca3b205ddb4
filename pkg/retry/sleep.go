package retry

import (
	"context"
	"time"
)

// SleepFunc 挂起 d，ctx 取消时提前返回 ctx.Err()
// 测试里替换成记录型的实现，不真正等待
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep 是默认实现
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
