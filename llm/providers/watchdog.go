package providers

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/BaSui01/duochat/types"
)

// DefaultIdleTimeout 流式响应中两次数据之间允许的最长静默时间
const DefaultIdleTimeout = 120 * time.Second

// ErrIdleTimeout 是 watchdog 取消流时设置的 cause
var ErrIdleTimeout = errors.New("no data from backend within idle timeout")

// IdleWatchdog 在连续 timeout 时间内没有 Reset 时触发回调。
type IdleWatchdog struct {
	mu      sync.Mutex
	timer   *time.Timer
	timeout time.Duration
	stopped bool
}

// NewIdleWatchdog 创建并启动 watchdog
func NewIdleWatchdog(timeout time.Duration, fire func()) *IdleWatchdog {
	return &IdleWatchdog{timer: time.AfterFunc(timeout, fire), timeout: timeout}
}

// Reset 收到数据后调用
func (w *IdleWatchdog) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.stopped {
		w.timer.Reset(w.timeout)
	}
}

// Stop 之后 Reset 不再重新计时
func (w *IdleWatchdog) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped = true
	w.timer.Stop()
}

// WatchStream 派生一个流式请求用的 ctx：超过 idle 没有 Reset 时以 ErrIdleTimeout 取消。
// 调用方负责 Stop 与 cancel。
func WatchStream(ctx context.Context, idle time.Duration) (context.Context, *IdleWatchdog, context.CancelCauseFunc) {
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}
	streamCtx, cancel := context.WithCancelCause(ctx)
	return streamCtx, NewIdleWatchdog(idle, func() { cancel(ErrIdleTimeout) }), cancel
}

// IsIdleTimeout 判断流是否因静默超时被取消
func IsIdleTimeout(ctx context.Context) bool {
	return errors.Is(context.Cause(ctx), ErrIdleTimeout)
}

// IdleTimeoutError 后端静默超时，可重试
func IdleTimeoutError(cause error, provider string) *types.Error {
	return types.NewError(types.ErrUpstreamTimeout, "backend stopped responding").
		WithCause(cause).WithRetryable(true).WithProvider(provider)
}

// InterruptedError 将被取消的流式 ctx 映射为 types.Error
func InterruptedError(ctx context.Context, provider string) *types.Error {
	cause := context.Cause(ctx)
	if errors.Is(cause, ErrIdleTimeout) {
		return IdleTimeoutError(cause, provider)
	}
	return MapTransportError(cause, provider)
}
