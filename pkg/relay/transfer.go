package relay

import (
	"context"
	"errors"
	"fmt"
	"io"

	"chunkrelay/pkg/chunker"
	"chunkrelay/pkg/core"
	"chunkrelay/pkg/platform"
	"chunkrelay/pkg/types"
	"chunkrelay/pkg/upload"
)

// path 是消息的转发路径，分类只看 Kind 和 Size
type path int

const (
	pathUnsupported path = iota
	pathText
	pathSmall
	pathStream
)

func (p path) String() string {
	switch p {
	case pathText:
		return "text"
	case pathSmall:
		return "small"
	case pathStream:
		return "stream"
	}
	return "unsupported"
}

// classify 决定转发路径
// 大小未知的媒体无法分片，按不支持处理；空文件走小文件路径
func classify(item core.Item, threshold int64) path {
	switch {
	case item.Kind == types.KindText:
		return pathText
	case !item.Kind.HasMedia() || item.Media == nil:
		return pathUnsupported
	case item.Media.Size < 0:
		return pathUnsupported
	case item.Media.Size < threshold:
		return pathSmall
	default:
		return pathStream
	}
}

// transfer 转发一条消息，返回目标端的新消息 id
func (o *Orchestrator) transfer(ctx context.Context, item core.Item) (types.ItemID, error) {
	p := classify(item, o.opts.SmallThreshold)
	if p == pathUnsupported {
		return 0, fmt.Errorf("item %d kind %q: %w", item.ID, item.Kind, platform.ErrUnsupportedItem)
	}

	replyTo, err := o.resolveTopic(ctx, item)
	if err != nil {
		return 0, err
	}
	o.log.Debug("item classified", "item_id", item.ID, "path", p, "size", item.Size(), "reply_to", replyTo)

	switch p {
	case pathText:
		return o.sendText(ctx, item, replyTo)
	case pathSmall:
		return o.sendSmall(ctx, item, replyTo)
	default:
		return o.sendStream(ctx, item, replyTo)
	}
}

func (o *Orchestrator) resolveTopic(ctx context.Context, item core.Item) (types.TopicID, error) {
	if o.opts.Topics == nil {
		return o.opts.TargetTopic, nil
	}
	dst, err := o.opts.Topics.Resolve(ctx, item.Topic)
	if err != nil {
		return 0, fmt.Errorf("resolve topic %d: %w", item.Topic, err)
	}
	return dst, nil
}

// send 是所有发送的唯一出口：每次尝试都先排队拿限速令牌，被限流则等待后整体重放
// 这样重放的那次也和上一条消息保持最小间隔
func (o *Orchestrator) send(ctx context.Context, req platform.SendRequest) (types.ItemID, error) {
	var id types.ItemID
	err := o.opts.Throttler.Run(ctx, func(ctx context.Context) error {
		if err := o.limiter.WaitTurn(ctx); err != nil {
			return err
		}
		sent, err := o.client.Send(ctx, req)
		if err != nil {
			return err
		}
		id = sent
		return nil
	})
	return id, err
}

func (o *Orchestrator) sendText(ctx context.Context, item core.Item, replyTo types.TopicID) (types.ItemID, error) {
	req := platform.SendRequest{
		Container: o.opts.Target,
		ReplyTo:   replyTo,
		Text:      item.Text,
	}
	var id types.ItemID
	err := o.opts.Policy.Do(ctx, func(ctx context.Context) error {
		var err error
		id, err = o.send(ctx, req)
		return err
	})
	return id, err
}

func mediaPayload(item core.Item) *platform.MediaPayload {
	return &platform.MediaPayload{
		Kind:       item.Kind,
		Name:       item.DisplayName(),
		MimeType:   item.Media.MimeType,
		Attributes: item.Media.Attributes,
	}
}

// sendSmall 把整个对象读进内存后一次发送，不经过分片和上传会话
// 读 + 发作为一个整体做瞬时错误重试
func (o *Orchestrator) sendSmall(ctx context.Context, item core.Item, replyTo types.TopicID) (types.ItemID, error) {
	var id types.ItemID
	err := o.opts.Policy.Do(ctx, func(ctx context.Context) error {
		var data []byte
		err := o.opts.Throttler.Run(ctx, func(ctx context.Context) error {
			var err error
			data, err = o.client.ReadSmallObject(ctx, item.Media.Ref)
			return err
		})
		if err != nil {
			return fmt.Errorf("read object: %w", err)
		}

		media := mediaPayload(item)
		media.Inline = data
		id, err = o.send(ctx, platform.SendRequest{
			Container: o.opts.Target,
			ReplyTo:   replyTo,
			Text:      item.Text,
			Media:     media,
		})
		return err
	})
	return id, err
}

// sendStream 边读边传：Chunk Source → Upload Session → Finalize → Send
// 任何一步失败，整个对象作废；下次 (重启后) 用新的会话从头开始
func (o *Orchestrator) sendStream(ctx context.Context, item core.Item, replyTo types.TopicID) (types.ItemID, error) {
	size := item.Media.Size

	// 1. 打开源对象 (从 offset 0)
	var src *chunker.Source
	err := o.opts.Policy.Do(ctx, func(ctx context.Context) error {
		return o.opts.Throttler.Run(ctx, func(ctx context.Context) error {
			var err error
			src, err = chunker.Open(ctx, o.client, item.Media.Ref, size, o.opts.ChunkSize)
			return err
		})
	})
	if err != nil {
		return 0, err
	}
	defer src.Close()

	// 2. 新会话
	sess, err := upload.NewSession(ctx, o.client, size, upload.Options{
		ChunkSize: o.opts.ChunkSize,
		Parallel:  o.opts.Parallel,
		Throttler: o.opts.Throttler,
		Policy:    o.opts.Policy,
		Logger:    o.log.With("item_id", item.ID),
	})
	if err != nil {
		return 0, err
	}
	o.log.Debug("stream upload started",
		"item_id", item.ID, "session", sess.ID(), "size", size, "parts", sess.TotalParts())

	// 3. 拉一块推一块；Schedule 只在没有空位时阻塞
	for {
		if err := ctx.Err(); err != nil {
			sess.Cancel()
			return 0, err
		}
		task, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			sess.Cancel()
			return 0, fmt.Errorf("read object: %w", err)
		}
		if err := sess.Schedule(task.Index, task.Data); err != nil {
			sess.Cancel()
			return 0, err
		}
	}

	// 4. 等所有分片确认
	if err := sess.Wait(); err != nil {
		return 0, err
	}
	handle, err := sess.Finalize(item.DisplayName())
	if err != nil {
		return 0, err
	}

	// 5. 用句柄发送
	media := mediaPayload(item)
	media.Handle = &handle
	req := platform.SendRequest{
		Container: o.opts.Target,
		ReplyTo:   replyTo,
		Text:      item.Text,
		Media:     media,
	}
	var id types.ItemID
	err = o.opts.Policy.Do(ctx, func(ctx context.Context) error {
		var err error
		id, err = o.send(ctx, req)
		return err
	})
	return id, err
}
