package core

import "chunkrelay/pkg/types"

// ObjectType 定义了存储层中的对象类型
type ObjectType string

const (
	TypeChunk    ObjectType = "chunk"    // 原始数据块 (一个分片)
	TypeManifest ObjectType = "manifest" // 分片清单，把分片组装成一个逻辑对象
)

// Object 是所有可持久化对象的通用接口
type Object interface {
	// Type 返回对象类型
	Type() ObjectType

	// ID 返回对象的哈希值 (内容寻址)
	ID() types.Hash

	// Bytes 返回对象的序列化数据 (用于存储)
	Bytes() []byte
}
