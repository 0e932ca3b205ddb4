package upload

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"log/slog"
	"sync"

	"chunkrelay/pkg/chunker"
	"chunkrelay/pkg/core"
	"chunkrelay/pkg/platform"
	"chunkrelay/pkg/retry"
	"chunkrelay/pkg/types"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// DefaultParallel 是同时在途的分片上限
const DefaultParallel = 10

var (
	// ErrIncompleteSession 表示还有分片没有被确认，不能 Finalize
	ErrIncompleteSession = errors.New("upload session incomplete")
	ErrOutOfOrder        = errors.New("chunk scheduled out of order")
	ErrSessionCancelled  = errors.New("upload session cancelled")
)

// PartUploadFailedError 表示某个分片在重试耗尽后仍然失败
type PartUploadFailedError struct {
	Index int
	Err   error
}

func (e *PartUploadFailedError) Error() string {
	return fmt.Sprintf("part %d upload failed: %v", e.Index, e.Err)
}

func (e *PartUploadFailedError) Unwrap() error { return e.Err }

// Uploader 是 Session 唯一需要的平台能力
type Uploader interface {
	UploadPart(ctx context.Context, req platform.PartRequest) error
}

type Options struct {
	ChunkSize int
	Parallel  int
	Throttler retry.Throttler // 限流：等待后重放，不计次数
	Policy    retry.Policy    // 瞬时错误：有限次重试
	Logger    *slog.Logger
}

// Session 代表一次大文件上传
// Schedule 只在 orchestrator 的 goroutine 里按顺序调用，分片上传在 errgroup 里并发执行
type Session struct {
	id    types.SessionID
	size  int64
	total int
	up    Uploader
	opts  Options
	log   *slog.Logger

	g      *errgroup.Group
	gctx   context.Context
	cancel context.CancelCauseFunc

	next   int       // 下一个期望的 index，只被 Schedule 读写
	digest hash.Hash // 按 index 顺序累加，只被 Schedule 读写

	mu    sync.Mutex
	acked []bool
	count int

	waitOnce sync.Once
	waitErr  error
}

// NewSession 为一个 size 字节的对象开启上传会话
func NewSession(ctx context.Context, up Uploader, size int64, opts Options) (*Session, error) {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = chunker.DefaultChunkSize
	}
	if opts.Parallel <= 0 {
		opts.Parallel = DefaultParallel
	}
	if size < 0 {
		return nil, fmt.Errorf("invalid object size %d", size)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	total := chunker.TotalParts(size, opts.ChunkSize)
	id := types.SessionID(uuid.NewString())

	// 1. 外层 cancel 给 Cancel() 用，errgroup 的 ctx 在第一个分片失败时取消
	base, cancel := context.WithCancelCause(ctx)
	g, gctx := errgroup.WithContext(base)
	// 2. SetLimit 之后 g.Go 会阻塞到有空位，这就是内存上限 P × chunk
	g.SetLimit(opts.Parallel)

	return &Session{
		id:     id,
		size:   size,
		total:  total,
		up:     up,
		opts:   opts,
		log:    logger.With("session", id),
		g:      g,
		gctx:   gctx,
		cancel: cancel,
		digest: sha256.New(),
		acked:  make([]bool, total),
	}, nil
}

func (s *Session) ID() types.SessionID { return s.id }
func (s *Session) TotalParts() int     { return s.total }

// Acked 返回已确认的分片数
func (s *Session) Acked() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Schedule 派发一个分片，只等待空闲槽位，不等待上传本身
// 会话已经失败时直接返回失败原因
func (s *Session) Schedule(index int, data []byte) error {
	if err := s.failure(); err != nil {
		return err
	}
	if index != s.next || index >= s.total {
		return fmt.Errorf("%w: got %d, want %d (total %d)", ErrOutOfOrder, index, s.next, s.total)
	}
	if want := chunker.PartSize(index, s.size, s.opts.ChunkSize); len(data) != want {
		return fmt.Errorf("part %d has %d bytes, want %d", index, len(data), want)
	}
	s.next++
	s.digest.Write(data)

	req := platform.PartRequest{
		Session:    s.id,
		Index:      index,
		TotalParts: s.total,
		Data:       data,
	}

	// g.Go 在达到 Parallel 上限时阻塞
	s.g.Go(func() error {
		if err := s.gctx.Err(); err != nil {
			return context.Cause(s.gctx)
		}
		err := s.opts.Policy.Do(s.gctx, func(ctx context.Context) error {
			return s.opts.Throttler.Run(ctx, func(ctx context.Context) error {
				return s.up.UploadPart(ctx, req)
			})
		})
		if err != nil {
			if s.gctx.Err() != nil {
				return context.Cause(s.gctx)
			}
			s.log.Error("part upload failed", "part", index, "error", err)
			return &PartUploadFailedError{Index: index, Err: err}
		}
		s.ack(index)
		return nil
	})
	return nil
}

func (s *Session) ack(index int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.acked[index] {
		s.acked[index] = true
		s.count++
	}
}

func (s *Session) failure() error {
	if s.gctx.Err() == nil {
		return nil
	}
	return context.Cause(s.gctx)
}

// Wait 阻塞到所有已派发的分片完成或会话失败 (await_completion)
func (s *Session) Wait() error {
	s.waitOnce.Do(func() {
		s.waitErr = s.g.Wait()
		// 释放 WithCancelCause 的资源
		s.cancel(nil)
	})
	return s.waitErr
}

// Finalize 在所有分片都确认之后生成远端对象句柄
func (s *Session) Finalize(displayName string) (core.RemoteObjectHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.count != s.total || s.next != s.total {
		return core.RemoteObjectHandle{}, fmt.Errorf("%w: %d/%d parts acknowledged", ErrIncompleteSession, s.count, s.total)
	}
	return core.RemoteObjectHandle{
		Session:    s.id,
		TotalParts: s.total,
		Name:       displayName,
		Size:       s.size,
		Digest:     hex.EncodeToString(s.digest.Sum(nil)),
	}, nil
}

// Cancel 放弃所有在途分片并等待它们退出
func (s *Session) Cancel() {
	s.cancel(ErrSessionCancelled)
	_ = s.Wait()
}
