package core

import (
	"fmt"

	"chunkrelay/pkg/types"
)

// MediaRef 是远端对象的不透明地址，只有平台客户端能解释它
type MediaRef string

func (r MediaRef) String() string { return string(r) }

// Attribute 是一条格式属性 (时长、分辨率、文件名...)，原样透传
type Attribute struct {
	Type   string            `cbor:"t" json:"type"`
	Fields map[string]string `cbor:"f,omitempty" json:"fields,omitempty"`
}

// UnknownSize 表示源平台没有给出对象大小 (0 是真实的空文件)
const UnknownSize int64 = -1

// MediaDescriptor 描述一条消息携带的二进制对象
type MediaDescriptor struct {
	Ref        MediaRef    `cbor:"r"`
	Size       int64       `cbor:"s"` // 负数即 UnknownSize
	Name       string      `cbor:"n,omitempty"`
	MimeType   string      `cbor:"m,omitempty"`
	Attributes []Attribute `cbor:"a,omitempty"`
}

// Item 是一个可转发单元 (文本和/或媒体消息)
// 从源读出后不可变，Kind 在读取时就已确定
type Item struct {
	ID        types.ItemID      `cbor:"id"`
	Container types.ContainerID `cbor:"c"`
	Kind      types.MediaKind   `cbor:"k"`
	Text      string            `cbor:"tx,omitempty"`
	Media     *MediaDescriptor  `cbor:"md,omitempty"`
	Topic     types.TopicID     `cbor:"tp,omitempty"`
	Timestamp int64             `cbor:"ts,omitempty"`
}

// Size 返回媒体大小，没有媒体时为 0
func (it Item) Size() int64 {
	if it.Media == nil {
		return 0
	}
	return it.Media.Size
}

// DisplayName 返回发送时使用的文件名
func (it Item) DisplayName() string {
	if it.Media != nil && it.Media.Name != "" {
		return it.Media.Name
	}
	return fmt.Sprintf("file_%d", it.ID)
}

// RemoteObjectHandle 是 Upload Session 完成后得到的远端对象句柄
// 只应通过 upload.Session.Finalize 获得
type RemoteObjectHandle struct {
	Session    types.SessionID `cbor:"sid"`
	TotalParts int             `cbor:"tp"`
	Name       string          `cbor:"n"`
	Size       int64           `cbor:"s"`
	Digest     string          `cbor:"d,omitempty"` // sha256 hex，按 index 顺序计算
}
