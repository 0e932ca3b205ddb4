package app

import (
	"context"
	"log/slog"

	"chunkrelay/pkg/config"
	"chunkrelay/pkg/hub"
	"chunkrelay/pkg/meta"
	"chunkrelay/pkg/storage"
)

// Hub 持有 relay-hub 的组件
type Hub struct {
	Hub   *hub.Hub
	Store storage.Store
	DB    *meta.DB

	closers closers
}

func (h *Hub) Close() error { return h.closers.Close() }

// NewHub 组装 hub：元数据库 + 对象存储 (+ 可选 Redis 缓存)
func NewHub(ctx context.Context, s config.Settings, logger *slog.Logger) (_ *Hub, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{}
	defer func() {
		if err != nil {
			h.Close()
		}
	}()

	h.DB, err = OpenDB(ctx, s.Database)
	if err != nil {
		return nil, err
	}
	h.closers = append(h.closers, h.DB)

	h.Store, err = initStore(ctx, s.Storage, s.Cache, logger)
	if err != nil {
		return nil, err
	}
	if c, ok := h.Store.(interface{ Close() error }); ok {
		h.closers = append(h.closers, c)
	}

	h.Hub = hub.New(meta.NewRepository(h.DB), h.Store, hub.Options{
		FloodInterval: s.Hub.FloodInterval,
		FloodBurst:    s.Hub.FloodBurst,
		BackendWait:   s.Hub.BackendWait,
		Logger:        logger,
	})
	return h, nil
}
