package retry

import (
	"context"
	"log/slog"
	"time"

	"chunkrelay/pkg/platform"
)

// DefaultMargin 是在平台要求的等待时间上额外加的余量
const DefaultMargin = time.Second

// Throttler 处理平台的限流信号：等待 Wait+Margin 后用相同参数重放
// 限流次数不设上限，其他错误原样返回
type Throttler struct {
	Margin time.Duration
	Sleep  SleepFunc
	Logger *slog.Logger
}

func (t Throttler) sleep() SleepFunc {
	if t.Sleep != nil {
		return t.Sleep
	}
	return Sleep
}

func (t Throttler) logger() *slog.Logger {
	if t.Logger != nil {
		return t.Logger
	}
	return slog.Default()
}

// Run 执行 op，遇到 ThrottleError 就睡一觉再来
func (t Throttler) Run(ctx context.Context, op func(ctx context.Context) error) error {
	for replay := 0; ; replay++ {
		err := op(ctx)
		te, ok := platform.AsThrottle(err)
		if !ok {
			return err
		}

		wait := te.Wait + t.Margin
		t.logger().Warn("throttled by platform, waiting",
			"wait", wait,
			"replay", replay+1,
		)
		if err := t.sleep()(ctx, wait); err != nil {
			return err
		}
	}
}
