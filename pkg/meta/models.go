package meta

import (
	"time"

	"gorm.io/datatypes"
)

// 转发记录的状态
const (
	StatusProcessing = "processing"
	StatusDone       = "done"
	StatusFailed     = "failed"
	StatusAbandoned  = "abandoned" // 会话死掉后被回收的 claim
)

// TransferRecord 是共享 ledger 的一行：某个 source→target 组合下一条消息的转发状态
// 多个 relay 进程通过 (pair, item_id) 主键抢占同一条消息
type TransferRecord struct {
	Pair   string `gorm:"primaryKey;type:varchar(64)"` // 例如 "-100123->-100456"
	ItemID int64  `gorm:"primaryKey;autoIncrement:false"`

	Status  string `gorm:"index;type:varchar(16);not null"`
	Session string `gorm:"type:varchar(64)"` // 抢占者的会话名
	Error   string `gorm:"type:text"`

	// Version 用于乐观锁，回收 abandoned 行时防止两个进程同时抢到
	Version int64 `gorm:"default:1"`

	CreatedAt time.Time
	UpdatedAt time.Time `gorm:"index"`
}

func (TransferRecord) TableName() string { return "transfers" }

// MessageModel 是 hub 里存储的一条消息
type MessageModel struct {
	ContainerID int64 `gorm:"primaryKey;autoIncrement:false"`
	ID          int64 `gorm:"primaryKey;autoIncrement:false"`

	Kind string `gorm:"type:varchar(16);not null"`
	Text string `gorm:"type:text"`

	// 媒体对象：ObjectHash 指向存储层里的 Manifest
	ObjectHash string `gorm:"type:char(64)"`
	Name       string `gorm:"type:varchar(255)"`
	MimeType   string `gorm:"type:varchar(127)"`
	Size       int64

	// Attributes 原样透传的格式属性 ([]core.Attribute 的 JSON)
	Attributes datatypes.JSON

	Topic     int64 `gorm:"index"`
	Timestamp int64 `gorm:"index"`

	CreatedAt time.Time
}

func (MessageModel) TableName() string { return "messages" }

// TopicModel 是容器内的一个话题
type TopicModel struct {
	ContainerID int64  `gorm:"primaryKey;autoIncrement:false"`
	ID          int64  `gorm:"primaryKey;autoIncrement:false"`
	Title       string `gorm:"type:varchar(255);not null"`

	CreatedAt time.Time
}

func (TopicModel) TableName() string { return "topics" }

// PartModel 记录上传会话中一个已落盘的分片
type PartModel struct {
	Session    string `gorm:"primaryKey;type:varchar(64)"`
	PartIndex  int    `gorm:"primaryKey;autoIncrement:false"`
	TotalParts int    `gorm:"not null"`
	Hash       string `gorm:"type:char(64);not null"`
	Size       int

	CreatedAt time.Time `gorm:"index"`
}

func (PartModel) TableName() string { return "upload_parts" }

// Counter 为每个容器分配单调递增的 id (消息 / 话题)
type Counter struct {
	ContainerID int64  `gorm:"primaryKey;autoIncrement:false"`
	Kind        string `gorm:"primaryKey;type:varchar(16)"`
	Value       int64
}

func (Counter) TableName() string { return "counters" }

// AllModels 返回需要迁移的全部表
func AllModels() []any {
	return []any{&TransferRecord{}, &MessageModel{}, &TopicModel{}, &PartModel{}, &Counter{}}
}
