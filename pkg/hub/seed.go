package hub

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"chunkrelay/pkg/chunker"
	"chunkrelay/pkg/core"
	"chunkrelay/pkg/ignore"
	"chunkrelay/pkg/meta"
	"chunkrelay/pkg/types"

	"github.com/gabriel-vasile/mimetype"
)

// SeedOptions 描述把一个目录导入成消息的方式
type SeedOptions struct {
	Container types.ContainerID
	// Topic 非空时先创建同名话题，所有文件都发到这个话题下
	Topic string
}

// SeedResult 汇总一次导入
type SeedResult struct {
	Topic   types.TopicID
	Items   int
	Skipped int
	Bytes   int64
}

// ingest 把一个字节流切成分片存储，并返回密封好的 Manifest
func (h *Hub) ingest(ctx context.Context, r io.Reader, size int64) (*core.Manifest, error) {
	src, err := chunker.NewSource(r, size, chunker.DefaultChunkSize)
	if err != nil {
		return nil, err
	}

	builder := core.NewManifestBuilder()
	for {
		task, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		c := core.NewChunk(task.Data)
		if err := h.store.Put(ctx, c); err != nil {
			return nil, h.backendErr("store chunk", err)
		}
		builder.Add(c)
	}

	manifest, err := builder.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build manifest: %w", err)
	}
	if err := h.store.Put(ctx, manifest); err != nil {
		return nil, h.backendErr("store manifest", err)
	}
	return manifest, nil
}

// KindFromMIME 把探测到的 MIME 类型映射到媒体种类
func KindFromMIME(mime string) types.MediaKind {
	base, _, _ := strings.Cut(mime, ";")
	switch {
	case base == "audio/ogg":
		return types.KindVoice
	case strings.HasPrefix(base, "video/"):
		return types.KindVideo
	case strings.HasPrefix(base, "image/"):
		return types.KindPhoto
	case strings.HasPrefix(base, "audio/"):
		return types.KindAudio
	default:
		return types.KindDocument
	}
}

// Seed 把 root 下所有未被 .relayignore 忽略的文件导入为媒体消息
// 空文件没有可转发的内容，直接跳过
func (h *Hub) Seed(ctx context.Context, root string, opts SeedOptions) (*SeedResult, error) {
	matcher, err := ignore.NewMatcher(root)
	if err != nil {
		return nil, err
	}
	entries, err := matcher.Walk(root)
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}

	res := &SeedResult{}
	if opts.Topic != "" {
		res.Topic, err = h.CreateTopic(ctx, opts.Container, opts.Topic)
		if err != nil {
			return nil, err
		}
	}

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if e.Size == 0 {
			res.Skipped++
			continue
		}

		if err := h.seedFile(ctx, e, opts.Container, res.Topic); err != nil {
			return res, fmt.Errorf("seed %s: %w", e.Rel, err)
		}
		res.Items++
		res.Bytes += e.Size
	}

	h.log.Info("seed finished", "root", root, "items", res.Items, "skipped", res.Skipped, "bytes", res.Bytes)
	return res, nil
}

func (h *Hub) seedFile(ctx context.Context, e ignore.Entry, container types.ContainerID, topic types.TopicID) error {
	mt, err := mimetype.DetectFile(e.Path)
	if err != nil {
		return err
	}

	f, err := os.Open(e.Path)
	if err != nil {
		return err
	}
	defer f.Close()

	manifest, err := h.ingest(ctx, f, e.Size)
	if err != nil {
		return err
	}

	m := &meta.MessageModel{
		ContainerID: int64(container),
		Kind:        string(KindFromMIME(mt.String())),
		Text:        e.Rel,
		ObjectHash:  manifest.ID().String(),
		Name:        path.Base(e.Rel),
		MimeType:    mt.String(),
		Size:        manifest.Size(),
		Topic:       int64(topic),
		Timestamp:   time.Now().Unix(),
	}
	if err := h.repo.SaveMessage(ctx, m); err != nil {
		return err
	}
	h.log.Debug("seeded file", "rel", e.Rel, "item_id", m.ID, "kind", m.Kind, "size", m.Size)
	return nil
}
