package core

import (
	"fmt"

	"chunkrelay/pkg/types"
)

// PartLink 描述了 Manifest 对某个分片的引用
type PartLink struct {
	Cid  Link `cbor:"h"`
	Size int  `cbor:"s"` // 这个分片的大小 (用于计算 offset)
}

// Manifest 把按序排列的分片组装成一个逻辑上的大对象
// 它本身也是内容寻址的：ID = sha256(canonical cbor)
type Manifest struct {
	hash     types.Hash `cbor:"-"`
	rawBytes []byte     `cbor:"-"`

	TypeVal   ObjectType `cbor:"t"`  // 必须是 "manifest"
	TotalSize int64      `cbor:"ts"` // 对象总大小
	Parts     []PartLink `cbor:"ps"` // 按 index 排列的分片引用
}

// NewManifest 创建并密封一个新的清单
func NewManifest(parts []PartLink) (*Manifest, error) {
	var total int64
	for i, p := range parts {
		if p.Size < 0 {
			return nil, fmt.Errorf("part %d has negative size", i)
		}
		total += int64(p.Size)
	}

	m := &Manifest{
		TypeVal:   TypeManifest,
		TotalSize: total,
		Parts:     parts,
	}
	h, b, err := CalculateHash(m)
	if err != nil {
		return nil, err
	}
	m.hash = h
	m.rawBytes = b
	return m, nil
}

// DecodeManifest 从存储中的原始字节还原清单
func DecodeManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := DecodeObject(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}
	if m.TypeVal != TypeManifest {
		return nil, fmt.Errorf("object is not a manifest, got: %s", m.TypeVal)
	}
	m.hash = CalculateBlobHash(data)
	m.rawBytes = data
	return &m, nil
}

func (m *Manifest) Type() ObjectType { return TypeManifest }
func (m *Manifest) ID() types.Hash   { return m.hash }
func (m *Manifest) Bytes() []byte    { return m.rawBytes }
func (m *Manifest) Size() int64      { return m.TotalSize }

// ManifestBuilder 按顺序收集分片，最后一次性生成 Manifest
type ManifestBuilder struct {
	parts []PartLink
}

func NewManifestBuilder() *ManifestBuilder {
	return &ManifestBuilder{}
}

func (b *ManifestBuilder) Add(c *Chunk) {
	b.parts = append(b.parts, PartLink{Cid: NewLink(c.ID()), Size: len(c.Bytes())})
}

// AddRef 追加一个已知 Hash 的分片 (分片已经在存储里了)
func (b *ManifestBuilder) AddRef(hash types.Hash, size int) {
	b.parts = append(b.parts, PartLink{Cid: NewLink(hash), Size: size})
}

func (b *ManifestBuilder) Len() int { return len(b.parts) }

func (b *ManifestBuilder) Build() (*Manifest, error) {
	return NewManifest(b.parts)
}
