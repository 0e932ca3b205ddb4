package hub

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"chunkrelay/pkg/platform"
	"chunkrelay/pkg/types"
)

var ErrEmptyTitle = errors.New("topic title is empty")

func (h *Hub) ListTopics(ctx context.Context, container types.ContainerID) ([]platform.Topic, error) {
	rows, err := h.repo.ListTopics(ctx, int64(container))
	if err != nil {
		return nil, fmt.Errorf("list topics: %w", err)
	}
	out := make([]platform.Topic, 0, len(rows))
	for _, r := range rows {
		out = append(out, platform.Topic{ID: types.TopicID(r.ID), Title: r.Title})
	}
	return out, nil
}

// CreateTopic 和 Send 共用防刷限额
func (h *Hub) CreateTopic(ctx context.Context, container types.ContainerID, title string) (types.TopicID, error) {
	if err := h.admit(); err != nil {
		return 0, err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return 0, ErrEmptyTitle
	}
	t, err := h.repo.CreateTopic(ctx, int64(container), title)
	if err != nil {
		return 0, fmt.Errorf("create topic: %w", err)
	}
	h.log.Info("topic created", "container", container, "topic", t.ID, "title", title)
	return types.TopicID(t.ID), nil
}
