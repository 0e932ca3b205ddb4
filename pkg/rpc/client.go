package rpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"chunkrelay/pkg/core"
	"chunkrelay/pkg/platform"
	"chunkrelay/pkg/types"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
)

// MaxMessageSize 要能装下一个内联的小对象 (阈值可配，最大 64MB)
const MaxMessageSize = 64 * 1024 * 1024

// Client 通过 gRPC 访问一个远端 hub，实现 platform.Client 和 platform.Topics
type Client struct {
	conn *grpc.ClientConn
}

var (
	_ platform.Client = (*Client)(nil)
	_ platform.Topics = (*Client)(nil)
)

// DefaultDialOptions 是连接 hub 的默认选项
func DefaultDialOptions() []grpc.DialOption {
	return []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.CallContentSubtype(CodecName),
			grpc.MaxCallRecvMsgSize(MaxMessageSize),
			grpc.MaxCallSendMsgSize(MaxMessageSize),
		),
		// 保持连接活跃
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                10 * time.Second,
			Timeout:             20 * time.Second,
			PermitWithoutStream: true,
		}),
	}
}

// Dial 创建客户端，连接在后台建立
func Dial(addr string, extra ...grpc.DialOption) (*Client, error) {
	opts := append(DefaultDialOptions(), extra...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create grpc client for %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

// Close 关闭底层连接
func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func (c *Client) invoke(ctx context.Context, method string, in, out any) error {
	return fromStatus(c.conn.Invoke(ctx, method, in, out))
}

func (c *Client) ReadSmallObject(ctx context.Context, ref core.MediaRef) ([]byte, error) {
	var out DataFrame
	if err := c.invoke(ctx, MethodReadSmallObject, &ObjectRequest{Ref: ref}, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

func (c *Client) UploadPart(ctx context.Context, req platform.PartRequest) error {
	return c.invoke(ctx, MethodUploadPart, &req, &Ack{})
}

func (c *Client) Send(ctx context.Context, req platform.SendRequest) (types.ItemID, error) {
	var out SendResponse
	if err := c.invoke(ctx, MethodSend, &req, &out); err != nil {
		return 0, err
	}
	return out.ID, nil
}

func (c *Client) ListTopics(ctx context.Context, container types.ContainerID) ([]platform.Topic, error) {
	var out ListTopicsResponse
	if err := c.invoke(ctx, MethodListTopics, &ListTopicsRequest{Container: container}, &out); err != nil {
		return nil, err
	}
	return out.Topics, nil
}

func (c *Client) CreateTopic(ctx context.Context, container types.ContainerID, title string) (types.TopicID, error) {
	var out CreateTopicResponse
	if err := c.invoke(ctx, MethodCreateTopic, &CreateTopicRequest{Container: container, Title: title}, &out); err != nil {
		return 0, err
	}
	return out.ID, nil
}

// openStream 发出一个服务端流请求；返回的 cancel 负责在放弃时结束流
func (c *Client) openStream(ctx context.Context, name, method string, req any) (grpc.ClientStream, context.CancelFunc, error) {
	ctx, cancel := context.WithCancel(ctx)
	desc := &grpc.StreamDesc{StreamName: name, ServerStreams: true}
	stream, err := c.conn.NewStream(ctx, desc, method)
	if err != nil {
		cancel()
		return nil, nil, fromStatus(err)
	}
	if err := stream.SendMsg(req); err != nil {
		cancel()
		return nil, nil, fromStatus(err)
	}
	if err := stream.CloseSend(); err != nil {
		cancel()
		return nil, nil, fromStatus(err)
	}
	return stream, cancel, nil
}

// IterateItems 以服务端流的方式读取消息
func (c *Client) IterateItems(ctx context.Context, container types.ContainerID, minID types.ItemID) (platform.ItemIterator, error) {
	stream, cancel, err := c.openStream(ctx, "IterateItems", MethodIterateItems, &IterateRequest{Container: container, MinID: minID})
	if err != nil {
		return nil, err
	}
	return &itemStream{stream: stream, cancel: cancel}, nil
}

type itemStream struct {
	stream grpc.ClientStream
	cancel context.CancelFunc
}

func (s *itemStream) Next(ctx context.Context) (core.Item, error) {
	if err := ctx.Err(); err != nil {
		return core.Item{}, err
	}
	var item core.Item
	if err := s.stream.RecvMsg(&item); err != nil {
		if errors.Is(err, io.EOF) {
			return core.Item{}, io.EOF
		}
		return core.Item{}, fromStatus(err)
	}
	return item, nil
}

func (s *itemStream) Close() error {
	s.cancel()
	return nil
}

// OpenObject 打开对象的字节流
// 先同步收第一帧，这样“对象不存在”“被限流”会在 Open 时就暴露出来
func (c *Client) OpenObject(ctx context.Context, ref core.MediaRef) (io.ReadCloser, error) {
	stream, cancel, err := c.openStream(ctx, "OpenObject", MethodOpenObject, &ObjectRequest{Ref: ref})
	if err != nil {
		return nil, err
	}

	r := &objectStream{stream: stream, cancel: cancel}
	if err := r.fill(); err != nil && !errors.Is(err, io.EOF) {
		cancel()
		return nil, err
	}
	return r, nil
}

// objectStream 把 gRPC 下载流包装成 io.Reader
// 典型的“缓冲-消费”状态机
type objectStream struct {
	stream grpc.ClientStream
	cancel context.CancelFunc
	buf    []byte
	err    error // 粘性错误 (包括 io.EOF)
}

func (r *objectStream) fill() error {
	for len(r.buf) == 0 && r.err == nil {
		var frame DataFrame
		if err := r.stream.RecvMsg(&frame); err != nil {
			if errors.Is(err, io.EOF) {
				r.err = io.EOF
			} else {
				r.err = fromStatus(err)
			}
			break
		}
		r.buf = frame.Data
	}
	if len(r.buf) > 0 {
		return nil
	}
	return r.err
}

func (r *objectStream) Read(p []byte) (int, error) {
	if err := r.fill(); err != nil {
		return 0, err
	}
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}

func (r *objectStream) Close() error {
	r.cancel()
	return nil
}
