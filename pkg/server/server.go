package server

import (
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"
)

// MaxRecvMsgSize 要能收下一个内联发送的小对象
const MaxRecvMsgSize = 64 * 1024 * 1024

// New 创建带拦截器链的 gRPC 服务端
// 顺序：Recovery 在最外层，这样 Logging 里的 panic 也能被接住
func New(logger *slog.Logger, extra ...grpc.ServerOption) *grpc.Server {
	if logger == nil {
		logger = slog.Default()
	}
	opts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(UnaryRecovery(logger), UnaryLogging(logger)),
		grpc.ChainStreamInterceptor(StreamRecovery(logger), StreamLogging(logger)),
		grpc.MaxRecvMsgSize(MaxRecvMsgSize),
		// 客户端每 10s ping 一次，服务端要允许
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
	}
	return grpc.NewServer(append(opts, extra...)...)
}
