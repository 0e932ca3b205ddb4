package storage

import (
	"context"
	"errors"
	"io"

	"chunkrelay/pkg/core"
	"chunkrelay/pkg/types"
)

var (
	ErrNotFound = errors.New("object not found")

	// ErrThrottled 表示后端要求降速 (例如 S3 SlowDown)
	// hub 会把它转换成带等待时间的限流错误
	ErrThrottled = errors.New("storage backend throttled")
)

// Store 是内容寻址的对象存储 (分片和 Manifest)
type Store interface {
	// Put 将一个对象持久化；对象已存在时什么都不做
	Put(ctx context.Context, obj core.Object) error

	// Get 返回对象的原始字节流，调用方负责 Close
	Get(ctx context.Context, hash types.Hash) (io.ReadCloser, error)

	// Has 检查对象是否存在 (用于去重)
	Has(ctx context.Context, hash types.Hash) (bool, error)
}

// ReadAll 读取一个对象的全部字节 (只用于 Manifest 这类小对象)
func ReadAll(ctx context.Context, s Store, hash types.Hash) ([]byte, error) {
	rc, err := s.Get(ctx, hash)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
