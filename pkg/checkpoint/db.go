package checkpoint

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"chunkrelay/pkg/meta"
	"chunkrelay/pkg/types"

	"github.com/google/uuid"
)

// DefaultStaleAfter 超过这个时间还在 processing 的 claim 视为会话已死
const DefaultStaleAfter = 30 * time.Minute

// DBLedger 是基于 SQL 的共享 ledger
// 每条消息一行，多个 relay 进程可以同时处理同一个 source→target 组合
type DBLedger struct {
	repo    *meta.Repository
	pair    string
	session string
	logger  *slog.Logger
}

// PairKey 生成 source→target 组合的键
func PairKey(source, target types.ContainerID) string {
	return fmt.Sprintf("%d->%d", source, target)
}

// NewDBLedger 创建 ledger；session 为空时生成一个随机会话名
func NewDBLedger(repo *meta.Repository, source, target types.ContainerID, session string, logger *slog.Logger) *DBLedger {
	if session == "" {
		session = "relay-" + uuid.NewString()[:8]
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DBLedger{
		repo:    repo,
		pair:    PairKey(source, target),
		session: session,
		logger:  logger,
	}
}

func (l *DBLedger) Session() string { return l.session }

// Load 返回低水位：所有 <= 它的消息都已有结论
func (l *DBLedger) Load(ctx context.Context) (types.ItemID, bool, error) {
	id, ok, err := l.repo.LowWaterMark(ctx, l.pair)
	if err != nil {
		return 0, false, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	return types.ItemID(id), ok, nil
}

func (l *DBLedger) Claim(ctx context.Context, id types.ItemID) (bool, error) {
	return l.repo.ClaimItem(ctx, l.pair, int64(id), l.session)
}

func (l *DBLedger) Release(ctx context.Context, id types.ItemID) error {
	released, err := l.repo.ReleaseItem(ctx, l.pair, int64(id), l.session)
	if err != nil {
		return err
	}
	if released {
		l.logger.Info("claim released", "item_id", id, "session", l.session)
	}
	return nil
}

func (l *DBLedger) Save(ctx context.Context, id types.ItemID, outcome Outcome) error {
	status := meta.StatusDone
	if outcome == OutcomeFailed {
		status = meta.StatusFailed
	}
	return l.repo.FinishItem(ctx, l.pair, int64(id), status, "")
}

// CleanupStale 释放死掉的会话留下的 claim，启动时调用
func (l *DBLedger) CleanupStale(ctx context.Context, age time.Duration) (int64, error) {
	if age <= 0 {
		age = DefaultStaleAfter
	}
	n, err := l.repo.ReleaseStale(ctx, l.pair, time.Now().Add(-age))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		l.logger.Info("released stale claims", "count", n, "older_than", age)
	}
	return n, nil
}

// Stats 按状态统计行数
func (l *DBLedger) Stats(ctx context.Context) (map[string]int64, error) {
	return l.repo.CountByStatus(ctx, l.pair)
}
