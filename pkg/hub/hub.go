// Package hub 是一个可以自己部署的平台端点
// 它把消息、话题、上传会话保存在 SQL 里，把分片按内容寻址存放在对象存储里
package hub

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"chunkrelay/pkg/meta"
	"chunkrelay/pkg/platform"
	"chunkrelay/pkg/storage"

	"golang.org/x/time/rate"
)

const (
	DefaultPageSize    = 100
	DefaultBackendWait = time.Second
)

var (
	ErrEmptyMessage   = errors.New("message has neither text nor media")
	ErrInvalidPart    = errors.New("invalid upload part")
	ErrPartsMissing   = errors.New("upload session is missing parts")
	ErrSizeMismatch   = errors.New("uploaded size does not match handle")
	ErrDigestMismatch = errors.New("uploaded digest does not match handle")
)

// Options 控制 hub 的行为
type Options struct {
	// FloodInterval > 0 时开启防刷：Send / CreateTopic 超速会收到带等待时间的限流错误
	FloodInterval time.Duration
	FloodBurst    int

	// BackendWait 是存储后端要求降速时告诉客户端的等待时间
	BackendWait time.Duration

	PageSize int
	Logger   *slog.Logger
}

// Hub 实现 platform.Client 和 platform.Topics
type Hub struct {
	repo  *meta.Repository
	store storage.Store
	flood *rate.Limiter // nil 表示不限
	opts  Options
	log   *slog.Logger
}

var (
	_ platform.Client = (*Hub)(nil)
	_ platform.Topics = (*Hub)(nil)
)

func New(repo *meta.Repository, store storage.Store, opts Options) *Hub {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.BackendWait <= 0 {
		opts.BackendWait = DefaultBackendWait
	}
	if opts.FloodBurst <= 0 {
		opts.FloodBurst = 1
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	h := &Hub{
		repo:  repo,
		store: store,
		opts:  opts,
		log:   opts.Logger,
	}
	if opts.FloodInterval > 0 {
		h.flood = rate.NewLimiter(rate.Every(opts.FloodInterval), opts.FloodBurst)
	}
	return h
}

// admit 检查防刷限额；超速时不排队，直接告诉调用方要等多久
func (h *Hub) admit() error {
	if h.flood == nil {
		return nil
	}
	r := h.flood.Reserve()
	if d := r.Delay(); d > 0 {
		r.Cancel()
		wait := d.Round(time.Second)
		if wait < d {
			wait += time.Second
		}
		h.log.Warn("flood control triggered", "wait", wait)
		return &platform.ThrottleError{Wait: wait}
	}
	return nil
}

// backendErr 把存储层的降速信号翻译成平台限流
func (h *Hub) backendErr(op string, err error) error {
	if errors.Is(err, storage.ErrThrottled) {
		return &platform.ThrottleError{Wait: h.opts.BackendWait}
	}
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%s: %w", op, platform.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}
