package chunker

import (
	"context"
	"errors"
	"fmt"
	"io"

	"chunkrelay/pkg/core"
)

// 平台单个分片的上限 (单位: 字节)
const (
	MaxChunkSize     = 512 * 1024 // 512KB
	DefaultChunkSize = MaxChunkSize
)

var (
	// ErrShortObject 表示对象实际长度小于声明的 size
	ErrShortObject = errors.New("object ended before declared size")
	// ErrLongObject 表示读完声明的 size 之后流里还有数据
	ErrLongObject = errors.New("object is longer than declared size")
)

// Opener 能按引用打开一个远端对象的字节流
type Opener interface {
	OpenObject(ctx context.Context, ref core.MediaRef) (io.ReadCloser, error)
}

// Source 把一个字节流切成固定大小的有序分片
// 它是一次性的：中途放弃后不能续读，重试必须从 offset 0 重新 Open
type Source struct {
	r         io.Reader
	closer    io.Closer
	size      int64
	chunkSize int
	total     int
	next      int
	err       error // 粘性错误 (包括 io.EOF)
}

// NewSource 包装一个已经打开的流
func NewSource(r io.Reader, size int64, chunkSize int) (*Source, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("invalid chunk size %d", chunkSize)
	}
	if size < 0 {
		return nil, fmt.Errorf("invalid object size %d", size)
	}
	s := &Source{
		r:         r,
		size:      size,
		chunkSize: chunkSize,
		total:     TotalParts(size, chunkSize),
	}
	if c, ok := r.(io.Closer); ok {
		s.closer = c
	}
	return s, nil
}

// Open 从 offset 0 打开远端对象并返回新的 Source
func Open(ctx context.Context, o Opener, ref core.MediaRef, size int64, chunkSize int) (*Source, error) {
	rc, err := o.OpenObject(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("open object %s: %w", ref, err)
	}
	s, err := NewSource(rc, size, chunkSize)
	if err != nil {
		rc.Close()
		return nil, err
	}
	return s, nil
}

// TotalParts 返回分片总数
func (s *Source) TotalParts() int { return s.total }

// Next 返回下一个分片，全部读完后返回 io.EOF
// 每个分片都是新分配的 buffer，调用方可以把它交给并发上传
func (s *Source) Next() (core.ChunkTask, error) {
	if s.err != nil {
		return core.ChunkTask{}, s.err
	}
	if s.next >= s.total {
		s.err = s.checkExhausted()
		return core.ChunkTask{}, s.err
	}

	n := PartSize(s.next, s.size, s.chunkSize)
	buf := make([]byte, n)
	if _, err := io.ReadFull(s.r, buf); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			s.err = fmt.Errorf("%w: part %d of %d", ErrShortObject, s.next, s.total)
		} else {
			s.err = fmt.Errorf("read part %d: %w", s.next, err)
		}
		return core.ChunkTask{}, s.err
	}

	task := core.ChunkTask{Index: s.next, Data: buf}
	s.next++
	return task, nil
}

// checkExhausted 确认流在声明的 size 处结束，否则对象会被截断
func (s *Source) checkExhausted() error {
	var extra [1]byte
	n, err := io.ReadFull(s.r, extra[:])
	switch {
	case n > 0:
		return fmt.Errorf("%w: more than %d bytes", ErrLongObject, s.size)
	case errors.Is(err, io.EOF):
		return io.EOF
	default:
		return fmt.Errorf("read past part %d: %w", s.total, err)
	}
}

// Close 关闭底层流 (如果有)
func (s *Source) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// TotalParts 计算 ceil(size / chunkSize)
func TotalParts(size int64, chunkSize int) int {
	if size <= 0 || chunkSize <= 0 {
		return 0
	}
	c := int64(chunkSize)
	return int((size + c - 1) / c)
}

// PartSize 返回第 index 个分片的长度，越界时为 0
func PartSize(index int, size int64, chunkSize int) int {
	start := int64(index) * int64(chunkSize)
	if index < 0 || start >= size {
		return 0
	}
	if rem := size - start; rem < int64(chunkSize) {
		return int(rem)
	}
	return chunkSize
}
