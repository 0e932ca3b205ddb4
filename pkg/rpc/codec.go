package rpc

import (
	"chunkrelay/pkg/core"

	"google.golang.org/grpc/encoding"
)

// CodecName 是 content-subtype：请求头里会带上 application/grpc+cbor
const CodecName = "cbor"

// cborCodec 让 gRPC 直接传输带 cbor tag 的 Go 结构体，不需要 .proto
type cborCodec struct{}

func (cborCodec) Marshal(v any) ([]byte, error)      { return core.Encode(v) }
func (cborCodec) Unmarshal(data []byte, v any) error { return core.DecodeObject(data, v) }
func (cborCodec) Name() string                       { return CodecName }

func init() {
	encoding.RegisterCodec(cborCodec{})
}
