package relay

import (
	"time"
)

// Stats 是一次运行的统计，只在内存里，不持久化
// 只由 orchestrator 的 goroutine 修改
type Stats struct {
	Succeeded int
	Failed    int
	Skipped   int // 已被其他会话处理
	Filtered  int // 不属于配置的源话题
	Bytes     int64
	Started   time.Time
	Elapsed   time.Duration
}

// Concluded 是已经写过 checkpoint 的消息数
func (s Stats) Concluded() int { return s.Succeeded + s.Failed }

// MessagesPerMinute 按已结论的消息计算速率
func (s Stats) MessagesPerMinute() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.Concluded()) / s.Elapsed.Minutes()
}

// Gigabytes 返回已转发的数据量 (GiB)
func (s Stats) Gigabytes() float64 {
	return float64(s.Bytes) / (1 << 30)
}
