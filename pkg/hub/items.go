package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"chunkrelay/pkg/core"
	"chunkrelay/pkg/meta"
	"chunkrelay/pkg/platform"
	"chunkrelay/pkg/storage"
	"chunkrelay/pkg/types"
)

// toItem 把一行消息还原成可转发单元
func toItem(m *meta.MessageModel) (core.Item, error) {
	item := core.Item{
		ID:        types.ItemID(m.ID),
		Container: types.ContainerID(m.ContainerID),
		Kind:      types.MediaKind(m.Kind),
		Text:      m.Text,
		Topic:     types.TopicID(m.Topic),
		Timestamp: m.Timestamp,
	}
	if m.ObjectHash == "" {
		return item, nil
	}
	media := &core.MediaDescriptor{
		Ref:      core.MediaRef(m.ObjectHash),
		Size:     m.Size,
		Name:     m.Name,
		MimeType: m.MimeType,
	}
	if len(m.Attributes) > 0 {
		if err := json.Unmarshal(m.Attributes, &media.Attributes); err != nil {
			return core.Item{}, fmt.Errorf("message %d: bad attributes: %w", m.ID, err)
		}
	}
	item.Media = media
	return item, nil
}

// pageIterator 按 id 升序分页读取消息
type pageIterator struct {
	h         *Hub
	container int64
	after     int64
	buf       []meta.MessageModel
	done      bool
}

// IterateItems 返回 id > minID 的消息，从旧到新
func (h *Hub) IterateItems(ctx context.Context, container types.ContainerID, minID types.ItemID) (platform.ItemIterator, error) {
	return &pageIterator{h: h, container: int64(container), after: int64(minID)}, nil
}

func (it *pageIterator) Next(ctx context.Context) (core.Item, error) {
	if len(it.buf) == 0 {
		if it.done {
			return core.Item{}, io.EOF
		}
		page, err := it.h.repo.ListMessages(ctx, it.container, it.after, it.h.opts.PageSize)
		if err != nil {
			return core.Item{}, platform.Transient(fmt.Errorf("list messages: %w", err))
		}
		if len(page) < it.h.opts.PageSize {
			it.done = true
		}
		if len(page) == 0 {
			return core.Item{}, io.EOF
		}
		it.buf = page
	}

	m := it.buf[0]
	it.buf = it.buf[1:]
	it.after = m.ID
	return toItem(&m)
}

func (it *pageIterator) Close() error { return nil }

func (h *Hub) loadManifest(ctx context.Context, ref core.MediaRef) (*core.Manifest, error) {
	hash := types.Hash(ref)
	if !hash.IsValid() {
		return nil, fmt.Errorf("object %q: %w", ref, platform.ErrNotFound)
	}
	data, err := storage.ReadAll(ctx, h.store, hash)
	if err != nil {
		return nil, h.backendErr("read manifest", err)
	}
	return core.DecodeManifest(data)
}

// ReadSmallObject 把整个对象读进内存
func (h *Hub) ReadSmallObject(ctx context.Context, ref core.MediaRef) ([]byte, error) {
	rc, err := h.OpenObject(ctx, ref)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// OpenObject 返回按分片顺序惰性拼接的字节流
func (h *Hub) OpenObject(ctx context.Context, ref core.MediaRef) (io.ReadCloser, error) {
	m, err := h.loadManifest(ctx, ref)
	if err != nil {
		return nil, err
	}
	return &objectReader{ctx: ctx, h: h, parts: m.Parts}, nil
}

// objectReader 同一时刻只持有一个分片的句柄
type objectReader struct {
	ctx   context.Context
	h     *Hub
	parts []core.PartLink
	next  int
	cur   io.ReadCloser
}

func (r *objectReader) Read(p []byte) (int, error) {
	for {
		if r.cur == nil {
			if r.next >= len(r.parts) {
				return 0, io.EOF
			}
			rc, err := r.h.store.Get(r.ctx, r.parts[r.next].Cid.Hash)
			if err != nil {
				return 0, r.h.backendErr(fmt.Sprintf("read part %d", r.next), err)
			}
			r.cur = rc
			r.next++
		}

		n, err := r.cur.Read(p)
		if errors.Is(err, io.EOF) {
			// 当前分片读完，关掉再换下一个
			r.cur.Close()
			r.cur = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (r *objectReader) Close() error {
	if r.cur == nil {
		return nil
	}
	err := r.cur.Close()
	r.cur = nil
	return err
}
