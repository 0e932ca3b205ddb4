// pkg/types/common.go
package types

import (
	"fmt"
	"strconv"
)

// Hash 代表对象的唯一标识符 (SHA256 Hex String)
// 这是一个“值对象”，应当是不可变的。
type Hash string

func (h Hash) String() string { return string(h) }

// 验证 Hash 合法性
func (h Hash) IsZero() bool  { return h == "" }
func (h Hash) IsValid() bool { return len(h) == 64 } // 简单的长度检查

// ItemID 是源容器内单调递增的消息编号
// 0 表示“从头开始”
type ItemID int64

func (id ItemID) String() string { return strconv.FormatInt(int64(id), 10) }

// ParseItemID 解析十进制字符串 (checkpoint 文件的格式)
func ParseItemID(s string) (ItemID, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid item id %q: %w", s, err)
	}
	if v < 0 {
		return 0, fmt.Errorf("invalid item id %q: negative", s)
	}
	return ItemID(v), nil
}

// ContainerID 标识一个聊天/频道 (源或目标)
type ContainerID int64

func (c ContainerID) String() string { return strconv.FormatInt(int64(c), 10) }

// TopicID 标识容器内的话题 (组织容器)，0 表示“不属于任何话题”
type TopicID int64

func (t TopicID) String() string { return strconv.FormatInt(int64(t), 10) }
func (t TopicID) IsZero() bool   { return t == 0 }

// SessionID 是一次大文件上传会话的随机标识
type SessionID string

func (s SessionID) String() string { return string(s) }

// MediaKind 在读取消息时一次性确定，后续流程只看这个标签
type MediaKind string

const (
	KindText     MediaKind = "text"
	KindVideo    MediaKind = "video"
	KindPhoto    MediaKind = "photo"
	KindDocument MediaKind = "document"
	KindAudio    MediaKind = "audio"
	KindVoice    MediaKind = "voice"
	KindNone     MediaKind = "none"
)

// HasMedia 表示该类型是否携带二进制对象
func (k MediaKind) HasMedia() bool {
	switch k {
	case KindVideo, KindPhoto, KindDocument, KindAudio, KindVoice:
		return true
	}
	return false
}

func (k MediaKind) IsValid() bool {
	return k == KindText || k == KindNone || k.HasMedia()
}
