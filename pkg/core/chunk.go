package core

import "chunkrelay/pkg/types"

// Chunk 是一个已落盘的分片，按内容寻址
type Chunk struct {
	hash types.Hash
	data []byte
}

func NewChunk(data []byte) *Chunk {
	return &Chunk{
		hash: CalculateBlobHash(data),
		data: data,
	}
}

func (c *Chunk) Type() ObjectType { return TypeChunk }
func (c *Chunk) ID() types.Hash   { return c.hash }
func (c *Chunk) Bytes() []byte    { return c.data }
func (c *Chunk) Size() int64      { return int64(len(c.data)) }

// ChunkTask 是 Chunk Source 产出、Upload Session 消费的一个分片任务
// Index 从 0 开始，严格递增
type ChunkTask struct {
	Index int
	Data  []byte
}
