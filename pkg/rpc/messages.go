package rpc

import (
	"chunkrelay/pkg/core"
	"chunkrelay/pkg/platform"
	"chunkrelay/pkg/types"
)

// 线上消息：请求参数里已经是 platform 类型的直接复用

type IterateRequest struct {
	Container types.ContainerID `cbor:"c"`
	MinID     types.ItemID      `cbor:"m"`
}

type ObjectRequest struct {
	Ref core.MediaRef `cbor:"r"`
}

// DataFrame 是 OpenObject 流里的一帧，ReadSmallObject 也用它返回整个对象
type DataFrame struct {
	Data []byte `cbor:"d"`
}

type Ack struct{}

type SendResponse struct {
	ID types.ItemID `cbor:"id"`
}

type ListTopicsRequest struct {
	Container types.ContainerID `cbor:"c"`
}

type ListTopicsResponse struct {
	Topics []platform.Topic `cbor:"t"`
}

type CreateTopicRequest struct {
	Container types.ContainerID `cbor:"c"`
	Title     string            `cbor:"t"`
}

type CreateTopicResponse struct {
	ID types.TopicID `cbor:"id"`
}
