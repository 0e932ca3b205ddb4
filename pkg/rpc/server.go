package rpc

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"chunkrelay/pkg/platform"

	"google.golang.org/grpc"
)

// frameSize 是 OpenObject 每一帧的最大字节数
const frameSize = 256 * 1024

// Backend 是被暴露出去的平台实现 (通常是 *hub.Hub)
type Backend interface {
	platform.Client
	platform.Topics
}

// Server 把 Backend 适配成 gRPC 服务，负责错误码翻译
type Server struct {
	backend Backend
	log     *slog.Logger
}

var _ PlatformServer = (*Server)(nil)

func NewServer(backend Backend, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{backend: backend, log: logger}
}

func (s *Server) IterateItems(req *IterateRequest, stream grpc.ServerStream) error {
	ctx := stream.Context()
	it, err := s.backend.IterateItems(ctx, req.Container, req.MinID)
	if err != nil {
		return toStatus(err)
	}
	defer it.Close()

	for {
		item, err := it.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return toStatus(err)
		}
		if err := stream.SendMsg(&item); err != nil {
			return err
		}
	}
}

func (s *Server) ReadSmallObject(ctx context.Context, req *ObjectRequest) (*DataFrame, error) {
	data, err := s.backend.ReadSmallObject(ctx, req.Ref)
	if err != nil {
		return nil, toStatus(err)
	}
	return &DataFrame{Data: data}, nil
}

// OpenObject 把对象按 frameSize 切成帧顺序下发
func (s *Server) OpenObject(req *ObjectRequest, stream grpc.ServerStream) error {
	rc, err := s.backend.OpenObject(stream.Context(), req.Ref)
	if err != nil {
		return toStatus(err)
	}
	defer rc.Close()

	buf := make([]byte, frameSize)
	for {
		n, err := io.ReadFull(rc, buf)
		if n > 0 {
			// SendMsg 返回前已经序列化完，buf 可以复用
			if serr := stream.SendMsg(&DataFrame{Data: buf[:n]}); serr != nil {
				return serr
			}
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil
		}
		if err != nil {
			s.log.Warn("object stream aborted", "ref", req.Ref, "error", err)
			return toStatus(err)
		}
	}
}

func (s *Server) UploadPart(ctx context.Context, req *platform.PartRequest) (*Ack, error) {
	if err := s.backend.UploadPart(ctx, *req); err != nil {
		return nil, toStatus(err)
	}
	return &Ack{}, nil
}

func (s *Server) Send(ctx context.Context, req *platform.SendRequest) (*SendResponse, error) {
	id, err := s.backend.Send(ctx, *req)
	if err != nil {
		return nil, toStatus(err)
	}
	return &SendResponse{ID: id}, nil
}

func (s *Server) ListTopics(ctx context.Context, req *ListTopicsRequest) (*ListTopicsResponse, error) {
	topics, err := s.backend.ListTopics(ctx, req.Container)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ListTopicsResponse{Topics: topics}, nil
}

func (s *Server) CreateTopic(ctx context.Context, req *CreateTopicRequest) (*CreateTopicResponse, error) {
	id, err := s.backend.CreateTopic(ctx, req.Container, req.Title)
	if err != nil {
		return nil, toStatus(err)
	}
	return &CreateTopicResponse{ID: id}, nil
}
