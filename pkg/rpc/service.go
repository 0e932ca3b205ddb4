package rpc

import (
	"context"

	"chunkrelay/pkg/platform"

	"google.golang.org/grpc"
)

const serviceName = "chunkrelay.platform.v1.Platform"

// 方法全名，拦截器和日志里用
const (
	MethodIterateItems    = "/" + serviceName + "/IterateItems"
	MethodReadSmallObject = "/" + serviceName + "/ReadSmallObject"
	MethodOpenObject      = "/" + serviceName + "/OpenObject"
	MethodUploadPart      = "/" + serviceName + "/UploadPart"
	MethodSend            = "/" + serviceName + "/Send"
	MethodListTopics      = "/" + serviceName + "/ListTopics"
	MethodCreateTopic     = "/" + serviceName + "/CreateTopic"
)

// PlatformServer 是服务端要实现的方法集合
type PlatformServer interface {
	IterateItems(*IterateRequest, grpc.ServerStream) error
	ReadSmallObject(context.Context, *ObjectRequest) (*DataFrame, error)
	OpenObject(*ObjectRequest, grpc.ServerStream) error
	UploadPart(context.Context, *platform.PartRequest) (*Ack, error)
	Send(context.Context, *platform.SendRequest) (*SendResponse, error)
	ListTopics(context.Context, *ListTopicsRequest) (*ListTopicsResponse, error)
	CreateTopic(context.Context, *CreateTopicRequest) (*CreateTopicResponse, error)
}

// unary 生成一个普通方法的描述，相当于 protoc 生成的 _X_Handler
func unary[Req, Resp any](name string, call func(PlatformServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(PlatformServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/" + name}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(PlatformServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// serverStream 生成一个服务端流方法的描述：先收一个请求，再持续下发
func serverStream[Req any](name string, call func(PlatformServer, *Req, grpc.ServerStream) error) grpc.StreamDesc {
	return grpc.StreamDesc{
		StreamName:    name,
		ServerStreams: true,
		Handler: func(srv any, stream grpc.ServerStream) error {
			in := new(Req)
			if err := stream.RecvMsg(in); err != nil {
				return err
			}
			return call(srv.(PlatformServer), in, stream)
		},
	}
}

// ServiceDesc 手写的服务描述 (消息是 cbor 结构体，没有 .proto)
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*PlatformServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("ReadSmallObject", PlatformServer.ReadSmallObject),
		unary("UploadPart", PlatformServer.UploadPart),
		unary("Send", PlatformServer.Send),
		unary("ListTopics", PlatformServer.ListTopics),
		unary("CreateTopic", PlatformServer.CreateTopic),
	},
	Streams: []grpc.StreamDesc{
		serverStream("IterateItems", PlatformServer.IterateItems),
		serverStream("OpenObject", PlatformServer.OpenObject),
	},
	Metadata: "chunkrelay/platform.cbor",
}

func RegisterPlatformServer(s grpc.ServiceRegistrar, srv PlatformServer) {
	s.RegisterService(&ServiceDesc, srv)
}
