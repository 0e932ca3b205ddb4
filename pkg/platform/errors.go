package platform

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnsupportedItem 表示消息的媒体类型无法转发 (永久失败)
	ErrUnsupportedItem = errors.New("unsupported item")
	ErrNotFound        = errors.New("not found")
)

// ThrottleError 是平台的限流信号，Wait 之后才能重放同一个请求
type ThrottleError struct {
	Wait time.Duration
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("throttled: retry after %s", e.Wait)
}

// TransientError 包装可以有限次重试的错误 (超时、连接重置...)
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// Transient 把 err 标记为可重试，nil 原样返回
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// AsThrottle 取出错误链里的 ThrottleError
func AsThrottle(err error) (*ThrottleError, bool) {
	var te *ThrottleError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}

func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
