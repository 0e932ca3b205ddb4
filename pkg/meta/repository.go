package meta

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrConcurrentUpdate = errors.New("concurrent update detected (CAS failed)")
	ErrMessageNotFound  = errors.New("message not found")
	ErrTopicNotFound    = errors.New("topic not found")
)

// Repository 封装所有对 SQL 数据库的操作
type Repository struct {
	db *DB
}

func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

func isDuplicate(err error) bool {
	// 兼容性：PG 与 SQLite 的唯一约束错误不一样
	return errors.Is(err, gorm.ErrDuplicatedKey) ||
		strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// -----------------------------------------------------------------------------
// 1. 共享转发 ledger
// -----------------------------------------------------------------------------

// ClaimItem 尝试抢占一条消息
// 返回 true 表示本会话获得了处理权；已经被别人处理中或已完成时返回 false
// abandoned 行可以被重新抢占 (带版本号 CAS)；本会话自己还挂着的 claim 直接续用
func (r *Repository) ClaimItem(ctx context.Context, pair string, itemID int64, session string) (bool, error) {
	conn := r.db.GetConn().WithContext(ctx)

	// 1. 乐观插入：主键冲突则什么都不做
	rec := TransferRecord{
		Pair:    pair,
		ItemID:  itemID,
		Status:  StatusProcessing,
		Session: session,
		Version: 1,
	}
	res := conn.Clauses(clause.OnConflict{DoNothing: true}).Create(&rec)
	if res.Error != nil {
		if isDuplicate(res.Error) {
			return false, nil
		}
		return false, fmt.Errorf("failed to claim item %d: %w", itemID, res.Error)
	}
	if res.RowsAffected == 1 {
		return true, nil
	}

	// 2. 已存在：同会话重启后续用；否则只有 abandoned 行可以被接管
	var existing TransferRecord
	if err := conn.Where("pair = ? AND item_id = ?", pair, itemID).First(&existing).Error; err != nil {
		return false, fmt.Errorf("failed to read claim for item %d: %w", itemID, err)
	}
	if existing.Status == StatusProcessing && existing.Session == session {
		return true, nil
	}
	if existing.Status != StatusAbandoned {
		return false, nil
	}

	// UPDATE transfers SET status='processing', session=?, version=version+1
	// WHERE pair=? AND item_id=? AND version=?
	res = conn.Model(&TransferRecord{}).
		Where("pair = ? AND item_id = ? AND version = ?", pair, itemID, existing.Version).
		Updates(map[string]any{
			"status":     StatusProcessing,
			"session":    session,
			"error":      "",
			"version":    gorm.Expr("version + 1"),
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	// 影响行数为 0：别人抢先接管了
	return res.RowsAffected == 1, nil
}

// FinishItem 把消息标记为 done / failed
// 行不存在时直接插入 (单进程模式下没有 claim 也能记录结果)
func (r *Repository) FinishItem(ctx context.Context, pair string, itemID int64, status, errMsg string) error {
	if status != StatusDone && status != StatusFailed {
		return fmt.Errorf("invalid final status %q", status)
	}
	rec := TransferRecord{
		Pair:   pair,
		ItemID: itemID,
		Status: status,
		Error:  errMsg,
	}
	err := r.db.GetConn().WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "pair"}, {Name: "item_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"status", "error", "updated_at"}),
		}).
		Create(&rec).Error
	if err != nil {
		return fmt.Errorf("failed to finish item %d: %w", itemID, err)
	}
	return nil
}

// LowWaterMark 返回可以安全作为 min_id 的位置：
// 所有 <= 它的消息都已经有结论 (done/failed)，并且它本身有结论
func (r *Repository) LowWaterMark(ctx context.Context, pair string) (int64, bool, error) {
	conn := r.db.GetConn().WithContext(ctx).Model(&TransferRecord{})

	// 1. 最小的未结论 id (processing 或 abandoned)
	var pending struct{ MinID *int64 }
	err := conn.Select("MIN(item_id) AS min_id").
		Where("pair = ? AND status IN ?", pair, []string{StatusProcessing, StatusAbandoned}).
		Scan(&pending).Error
	if err != nil {
		return 0, false, fmt.Errorf("failed to query pending claims: %w", err)
	}

	// 2. 在它之下最大的已结论 id
	q := r.db.GetConn().WithContext(ctx).Model(&TransferRecord{}).
		Select("MAX(item_id) AS max_id").
		Where("pair = ? AND status IN ?", pair, []string{StatusDone, StatusFailed})
	if pending.MinID != nil {
		q = q.Where("item_id < ?", *pending.MinID)
	}
	var done struct{ MaxID *int64 }
	if err := q.Scan(&done).Error; err != nil {
		return 0, false, fmt.Errorf("failed to query concluded items: %w", err)
	}
	if done.MaxID == nil {
		return 0, false, nil
	}
	return *done.MaxID, true, nil
}

// ReleaseStale 把超过 olderThan 还在 processing 的 claim 标记为 abandoned
func (r *Repository) ReleaseStale(ctx context.Context, pair string, olderThan time.Time) (int64, error) {
	res := r.db.GetConn().WithContext(ctx).Model(&TransferRecord{}).
		Where("pair = ? AND status = ? AND updated_at < ?", pair, StatusProcessing, olderThan).
		Updates(map[string]any{
			"status":     StatusAbandoned,
			"version":    gorm.Expr("version + 1"),
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to release stale claims: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// ReleaseItem 放弃本会话对一条消息的 claim (处理被中断)
// 只动本会话仍在 processing 的行，返回是否真的释放了
func (r *Repository) ReleaseItem(ctx context.Context, pair string, itemID int64, session string) (bool, error) {
	res := r.db.GetConn().WithContext(ctx).Model(&TransferRecord{}).
		Where("pair = ? AND item_id = ? AND session = ? AND status = ?", pair, itemID, session, StatusProcessing).
		Updates(map[string]any{
			"status":     StatusAbandoned,
			"version":    gorm.Expr("version + 1"),
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to release item %d: %w", itemID, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// CountByStatus 统计每种状态的行数
func (r *Repository) CountByStatus(ctx context.Context, pair string) (map[string]int64, error) {
	var rows []struct {
		Status string
		N      int64
	}
	err := r.db.GetConn().WithContext(ctx).Model(&TransferRecord{}).
		Select("status, COUNT(*) AS n").
		Where("pair = ?", pair).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		out[row.Status] = row.N
	}
	return out, nil
}

// -----------------------------------------------------------------------------
// 2. Hub: 消息 / 话题 / 分片
// -----------------------------------------------------------------------------

const (
	counterMessage = "message"
	counterTopic   = "topic"
)

// nextID 在事务里为容器分配下一个 id
func nextID(tx *gorm.DB, container int64, kind string) (int64, error) {
	c := Counter{ContainerID: container, Kind: kind}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&c).Error; err != nil && !isDuplicate(err) {
		return 0, err
	}
	res := tx.Model(&Counter{}).
		Where("container_id = ? AND kind = ?", container, kind).
		Update("value", gorm.Expr("value + 1"))
	if res.Error != nil {
		return 0, res.Error
	}
	if err := tx.Where("container_id = ? AND kind = ?", container, kind).First(&c).Error; err != nil {
		return 0, err
	}
	return c.Value, nil
}

// SaveMessage 写入一条消息；ID 为 0 时分配新 id
func (r *Repository) SaveMessage(ctx context.Context, m *MessageModel) error {
	return r.db.GetConn().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if m.ID == 0 {
			id, err := nextID(tx, m.ContainerID, counterMessage)
			if err != nil {
				return fmt.Errorf("failed to allocate message id: %w", err)
			}
			m.ID = id
		}
		if m.Timestamp == 0 {
			m.Timestamp = time.Now().Unix()
		}
		if err := tx.Create(m).Error; err != nil {
			return fmt.Errorf("failed to save message: %w", err)
		}
		return nil
	})
}

// ListMessages 按 id 升序返回 id > afterID 的消息
func (r *Repository) ListMessages(ctx context.Context, container, afterID int64, limit int) ([]MessageModel, error) {
	var msgs []MessageModel
	err := r.db.GetConn().WithContext(ctx).
		Where("container_id = ? AND id > ?", container, afterID).
		Order("id ASC").
		Limit(limit).
		Find(&msgs).Error
	return msgs, err
}

func (r *Repository) GetMessage(ctx context.Context, container, id int64) (*MessageModel, error) {
	var m MessageModel
	err := r.db.GetConn().WithContext(ctx).
		Where("container_id = ? AND id = ?", container, id).
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// CreateTopic 在容器里新建话题
func (r *Repository) CreateTopic(ctx context.Context, container int64, title string) (*TopicModel, error) {
	t := &TopicModel{ContainerID: container, Title: title}
	err := r.db.GetConn().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		id, err := nextID(tx, container, counterTopic)
		if err != nil {
			return err
		}
		t.ID = id
		return tx.Create(t).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create topic: %w", err)
	}
	return t, nil
}

func (r *Repository) ListTopics(ctx context.Context, container int64) ([]TopicModel, error) {
	var topics []TopicModel
	err := r.db.GetConn().WithContext(ctx).
		Where("container_id = ?", container).
		Order("id ASC").
		Find(&topics).Error
	return topics, err
}

func (r *Repository) GetTopic(ctx context.Context, container, id int64) (*TopicModel, error) {
	var t TopicModel
	err := r.db.GetConn().WithContext(ctx).
		Where("container_id = ? AND id = ?", container, id).
		First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTopicNotFound
	}
	return &t, err
}

// SavePart 记录一个分片 (同一 index 重放时覆盖)
func (r *Repository) SavePart(ctx context.Context, p *PartModel) error {
	err := r.db.GetConn().WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "session"}, {Name: "part_index"}},
			DoUpdates: clause.AssignmentColumns([]string{"total_parts", "hash", "size"}),
		}).
		Create(p).Error
	if err != nil {
		return fmt.Errorf("failed to save part %d: %w", p.PartIndex, err)
	}
	return nil
}

// ListParts 返回会话的全部分片，按 index 升序
func (r *Repository) ListParts(ctx context.Context, session string) ([]PartModel, error) {
	var parts []PartModel
	err := r.db.GetConn().WithContext(ctx).
		Where("session = ?", session).
		Order("part_index ASC").
		Find(&parts).Error
	return parts, err
}

// DeleteParts 删除会话的分片记录 (分片数据本身留在 CAS 里)
func (r *Repository) DeleteParts(ctx context.Context, session string) error {
	return r.db.GetConn().WithContext(ctx).
		Where("session = ?", session).
		Delete(&PartModel{}).Error
}
