package hub

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"chunkrelay/pkg/chunker"
	"chunkrelay/pkg/core"
	"chunkrelay/pkg/meta"
	"chunkrelay/pkg/platform"
	"chunkrelay/pkg/types"

	"gorm.io/datatypes"
)

// UploadPart 把一个分片按内容寻址落盘，并登记到所属会话
// 同一个 (session, index) 重放是幂等的
func (h *Hub) UploadPart(ctx context.Context, req platform.PartRequest) error {
	if req.Session == "" || req.TotalParts <= 0 || req.Index < 0 || req.Index >= req.TotalParts {
		return fmt.Errorf("%w: index %d of %d", ErrInvalidPart, req.Index, req.TotalParts)
	}
	if len(req.Data) == 0 || len(req.Data) > chunker.MaxChunkSize {
		return fmt.Errorf("%w: part %d has %d bytes", ErrInvalidPart, req.Index, len(req.Data))
	}

	c := core.NewChunk(req.Data)
	if err := h.store.Put(ctx, c); err != nil {
		return h.backendErr("store part", err)
	}

	err := h.repo.SavePart(ctx, &meta.PartModel{
		Session:    req.Session.String(),
		PartIndex:  req.Index,
		TotalParts: req.TotalParts,
		Hash:       c.ID().String(),
		Size:       len(req.Data),
	})
	if err != nil {
		return platform.Transient(fmt.Errorf("record part %d: %w", req.Index, err))
	}
	return nil
}

// Send 在目标容器里生成一条新消息
func (h *Hub) Send(ctx context.Context, req platform.SendRequest) (types.ItemID, error) {
	if err := h.admit(); err != nil {
		return 0, err
	}
	if req.Text == "" && req.Media == nil {
		return 0, ErrEmptyMessage
	}

	// 1. 回复的话题必须存在
	if !req.ReplyTo.IsZero() {
		if _, err := h.repo.GetTopic(ctx, int64(req.Container), int64(req.ReplyTo)); err != nil {
			if errors.Is(err, meta.ErrTopicNotFound) {
				return 0, fmt.Errorf("topic %d: %w", req.ReplyTo, platform.ErrNotFound)
			}
			return 0, err
		}
	}

	m := &meta.MessageModel{
		ContainerID: int64(req.Container),
		Kind:        string(types.KindText),
		Text:        req.Text,
		Topic:       int64(req.ReplyTo),
		Timestamp:   time.Now().Unix(),
	}

	// 2. 媒体：内联字节现场切分，句柄则从已上传的分片组装
	if media := req.Media; media != nil {
		if !media.Kind.HasMedia() {
			return 0, fmt.Errorf("media kind %q: %w", media.Kind, platform.ErrUnsupportedItem)
		}
		manifest, err := h.materialize(ctx, media)
		if err != nil {
			return 0, err
		}
		m.Kind = string(media.Kind)
		m.ObjectHash = manifest.ID().String()
		m.Size = manifest.Size()
		m.Name = media.Name
		m.MimeType = media.MimeType
		if len(media.Attributes) > 0 {
			raw, err := json.Marshal(media.Attributes)
			if err != nil {
				return 0, fmt.Errorf("encode attributes: %w", err)
			}
			m.Attributes = datatypes.JSON(raw)
		}
	}

	// 3. 落库
	if err := h.repo.SaveMessage(ctx, m); err != nil {
		return 0, fmt.Errorf("save message: %w", err)
	}

	// 会话已经被消费掉了，分片记录不再需要
	if req.Media != nil && req.Media.Handle != nil {
		if err := h.repo.DeleteParts(ctx, req.Media.Handle.Session.String()); err != nil {
			h.log.Warn("failed to release upload session", "session", req.Media.Handle.Session, "error", err)
		}
	}

	h.log.Debug("message stored", "container", req.Container, "item_id", m.ID, "kind", m.Kind, "size", m.Size)
	return types.ItemID(m.ID), nil
}

func (h *Hub) materialize(ctx context.Context, media *platform.MediaPayload) (*core.Manifest, error) {
	// 没有句柄就是内联字节，长度为 0 的是空文件
	if media.Handle != nil {
		return h.assemble(ctx, media.Handle)
	}
	return h.ingest(ctx, bytes.NewReader(media.Inline), int64(len(media.Inline)))
}

// assemble 用一个完整的上传会话生成 Manifest
func (h *Hub) assemble(ctx context.Context, handle *core.RemoteObjectHandle) (*core.Manifest, error) {
	parts, err := h.repo.ListParts(ctx, handle.Session.String())
	if err != nil {
		return nil, fmt.Errorf("list parts: %w", err)
	}
	if len(parts) != handle.TotalParts {
		return nil, fmt.Errorf("%w: session %s has %d of %d", ErrPartsMissing, handle.Session, len(parts), handle.TotalParts)
	}

	builder := core.NewManifestBuilder()
	for i, p := range parts {
		// ListParts 按 index 排序，index 必须连续
		if p.PartIndex != i || p.TotalParts != handle.TotalParts {
			return nil, fmt.Errorf("%w: session %s part %d", ErrPartsMissing, handle.Session, i)
		}
		builder.AddRef(types.Hash(p.Hash), p.Size)
	}

	manifest, err := builder.Build()
	if err != nil {
		return nil, err
	}
	if manifest.Size() != handle.Size {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrSizeMismatch, manifest.Size(), handle.Size)
	}

	if handle.Digest != "" {
		if err := h.verifyDigest(ctx, manifest, handle.Digest); err != nil {
			return nil, err
		}
	}

	if err := h.store.Put(ctx, manifest); err != nil {
		return nil, h.backendErr("store manifest", err)
	}
	return manifest, nil
}

func (h *Hub) verifyDigest(ctx context.Context, m *core.Manifest, want string) error {
	r := &objectReader{ctx: ctx, h: h, parts: m.Parts}
	defer r.Close()

	sum := sha256.New()
	if _, err := io.Copy(sum, r); err != nil {
		return fmt.Errorf("hash uploaded object: %w", err)
	}
	if got := hex.EncodeToString(sum.Sum(nil)); got != want {
		return fmt.Errorf("%w: got %s", ErrDigestMismatch, got)
	}
	return nil
}
