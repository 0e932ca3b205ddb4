package checkpoint

import (
	"context"
	"errors"

	"chunkrelay/pkg/types"
)

// Outcome 是一条消息转发的结论
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed" // 永久失败，checkpoint 照样前进
)

// ErrRegression 表示试图把 checkpoint 往回写
var ErrRegression = errors.New("checkpoint regression")

// Ledger 记录“最后一个已结论的消息 id”
// Save 必须在下一条消息被请求之前同步落盘
type Ledger interface {
	// Load 返回当前位置；ok=false 表示从头开始
	Load(ctx context.Context) (id types.ItemID, ok bool, err error)
	Save(ctx context.Context, id types.ItemID, outcome Outcome) error
}

// Claimer 是可以被多个进程共享的 Ledger
// Claim 返回 false 表示该消息已经被别的会话处理 (或处理完)
// Release 放弃一个没有结论的 claim，让它在下次运行时从头处理
type Claimer interface {
	Ledger
	Claim(ctx context.Context, id types.ItemID) (bool, error)
	Release(ctx context.Context, id types.ItemID) error
}
