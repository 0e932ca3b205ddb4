package server

import (
	"context"
	"log/slog"
	"runtime/debug"
	"time"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// =============================================================================
// 1. Logging Interceptor (结构化日志)
// =============================================================================

// UnaryLogging 记录 Send / UploadPart 这类普通请求
func UnaryLogging(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logRPC(logger, "unary", info.FullMethod, time.Since(start), err)
		return resp, err
	}
}

// StreamLogging 记录 IterateItems / OpenObject 这类流式请求
func StreamLogging(logger *slog.Logger) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		err := handler(srv, ss)
		logRPC(logger, "stream", info.FullMethod, time.Since(start), err)
		return err
	}
}

func logRPC(logger *slog.Logger, kind, method string, duration time.Duration, err error) {
	st, _ := status.FromError(err)
	code := st.Code()

	attrs := []slog.Attr{
		slog.String("kind", kind),
		slog.String("method", method),
		slog.String("code", code.String()),
		slog.Duration("dur", duration),
	}

	level := slog.LevelDebug
	switch code {
	case codes.OK:
	case codes.Internal, codes.Unknown, codes.DataLoss:
		level = slog.LevelError
	case codes.ResourceExhausted:
		// 限流是正常流程，把要求的等待时间带出来
		level = slog.LevelInfo
		for _, d := range st.Details() {
			if info, ok := d.(*errdetails.RetryInfo); ok {
				attrs = append(attrs, slog.Duration("wait", info.GetRetryDelay().AsDuration()))
			}
		}
	default:
		level = slog.LevelWarn
	}
	if err != nil {
		attrs = append(attrs, slog.String("err", st.Message()))
	}

	logger.LogAttrs(context.Background(), level, "gRPC request", attrs...)
}

// =============================================================================
// 2. Recovery Interceptor (防弹衣)
// =============================================================================

func UnaryRecovery(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = recoverFromPanic(logger, info.FullMethod, r)
			}
		}()
		return handler(ctx, req)
	}
}

func StreamRecovery(logger *slog.Logger) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = recoverFromPanic(logger, info.FullMethod, r)
			}
		}()
		return handler(srv, ss)
	}
}

func recoverFromPanic(logger *slog.Logger, method string, p any) error {
	logger.Error("🔥 PANIC RECOVERED",
		slog.String("method", method),
		slog.Any("panic", p),
		slog.String("stack", string(debug.Stack())),
	)
	// 返回 Internal，而不是直接断开连接
	return status.Errorf(codes.Internal, "internal server error: panic recovered")
}
