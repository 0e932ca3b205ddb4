package rpc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chunkrelay/pkg/hub"
	"chunkrelay/pkg/platform"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/durationpb"
)

// DefaultThrottleWait 用于服务端返回 ResourceExhausted 却没有附带 RetryInfo 的情况
const DefaultThrottleWait = time.Second

// toStatus 把平台错误翻译成 gRPC 状态 (服务端)
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	if te, ok := platform.AsThrottle(err); ok {
		st := status.New(codes.ResourceExhausted, err.Error())
		if withInfo, derr := st.WithDetails(&errdetails.RetryInfo{RetryDelay: durationpb.New(te.Wait)}); derr == nil {
			st = withInfo
		}
		return st.Err()
	}

	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case platform.IsTransient(err):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, platform.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, platform.ErrUnsupportedItem):
		return status.Error(codes.Unimplemented, err.Error())
	case errors.Is(err, hub.ErrInvalidPart),
		errors.Is(err, hub.ErrEmptyMessage),
		errors.Is(err, hub.ErrEmptyTitle):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, hub.ErrPartsMissing),
		errors.Is(err, hub.ErrSizeMismatch),
		errors.Is(err, hub.ErrDigestMismatch):
		return status.Error(codes.FailedPrecondition, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// fromStatus 把 gRPC 状态还原成平台错误 (客户端)
// 这样 relay 的限流/重试逻辑对本地 hub 和远端 hub 完全一样
func fromStatus(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}

	switch st.Code() {
	case codes.ResourceExhausted:
		wait := DefaultThrottleWait
		for _, d := range st.Details() {
			if info, ok := d.(*errdetails.RetryInfo); ok && info.GetRetryDelay() != nil {
				wait = info.GetRetryDelay().AsDuration()
			}
		}
		return &platform.ThrottleError{Wait: wait}
	case codes.Unavailable, codes.DeadlineExceeded, codes.Aborted:
		return platform.Transient(err)
	case codes.NotFound:
		return fmt.Errorf("%s: %w", st.Message(), platform.ErrNotFound)
	case codes.Unimplemented:
		return fmt.Errorf("%s: %w", st.Message(), platform.ErrUnsupportedItem)
	case codes.Canceled:
		return fmt.Errorf("%s: %w", st.Message(), context.Canceled)
	default:
		return err
	}
}
