package platform

import (
	"context"
	"io"

	"chunkrelay/pkg/core"
	"chunkrelay/pkg/types"
)

// Client 是远端消息平台对本程序暴露的全部能力
// 实现可以是 gRPC 客户端 (pkg/rpc)，也可以直接是 hub 后端 (pkg/hub)
type Client interface {
	// IterateItems 按时间顺序返回 id > minID 的消息
	IterateItems(ctx context.Context, container types.ContainerID, minID types.ItemID) (ItemIterator, error)

	// ReadSmallObject 一次性把小对象读进内存
	ReadSmallObject(ctx context.Context, ref core.MediaRef) ([]byte, error)

	// OpenObject 从 offset 0 打开对象的字节流
	OpenObject(ctx context.Context, ref core.MediaRef) (io.ReadCloser, error)

	// UploadPart 上传一个分片
	// 返回 nil (ack)、*ThrottleError、*TransientError 或其他致命错误
	UploadPart(ctx context.Context, req PartRequest) error

	// Send 发送一条消息 (文本 / 内联字节 / 已完成的上传句柄)，返回新消息 id
	Send(ctx context.Context, req SendRequest) (types.ItemID, error)
}

// ItemIterator 是一个有限的消息流
// Next 在流结束时返回 io.EOF
type ItemIterator interface {
	Next(ctx context.Context) (core.Item, error)
	Close() error
}

// Topics 是话题 (组织容器) 的管理接口
type Topics interface {
	ListTopics(ctx context.Context, container types.ContainerID) ([]Topic, error)
	CreateTopic(ctx context.Context, container types.ContainerID, title string) (types.TopicID, error)
}

type Topic struct {
	ID    types.TopicID `cbor:"id"`
	Title string        `cbor:"t"`
}

// PartRequest 携带 (session, index, total_parts) 三元组
type PartRequest struct {
	Session    types.SessionID `cbor:"sid"`
	Index      int             `cbor:"i"`
	TotalParts int             `cbor:"tp"`
	Data       []byte          `cbor:"d"`
}

// MediaPayload 二选一：Handle (大文件上传结果) 或 Inline (小文件原始字节)
type MediaPayload struct {
	Kind       types.MediaKind          `cbor:"k"`
	Handle     *core.RemoteObjectHandle `cbor:"h,omitempty"`
	Inline     []byte                   `cbor:"b,omitempty"`
	Name       string                   `cbor:"n,omitempty"`
	MimeType   string                   `cbor:"m,omitempty"`
	Attributes []core.Attribute         `cbor:"a,omitempty"`
}

type SendRequest struct {
	Container types.ContainerID `cbor:"c"`
	ReplyTo   types.TopicID     `cbor:"r,omitempty"` // 目标话题，0 表示不进话题
	Text      string            `cbor:"tx,omitempty"`
	Media     *MediaPayload     `cbor:"md,omitempty"`
}
