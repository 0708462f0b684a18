// 测试辅助：带超时的上下文、可推进的时钟与轮询等待。
//
//	ctx := testutil.TestContext(t)
//	clock := testutil.NewFakeClock(start)
//	state, _ := conversation.New(settings, conversation.WithClock(clock.Now))
package testutil

import (
	"context"
	"sync"
	"testing"
	"time"
)

const (
	defaultTestTimeout = 30 * time.Second
	pollInterval       = 10 * time.Millisecond
)

// TestContext 返回随测试结束取消的上下文，30 秒超时兜底
func TestContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTestTimeout)
	t.Cleanup(cancel)
	return ctx
}

// CancelledContext 返回已取消的上下文
func CancelledContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

// FakeClock 手动推进的时钟。Now 的签名与 conversation.WithClock 一致，
// 时间限制相关的测试不需要真实等待。
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance 推进 d，可在 Runner 运行期间从其他 goroutine 调用
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// WaitFor 轮询 condition 直到为真或超时，超时前最后再判断一次
func WaitFor(condition func() bool, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(pollInterval)
	}
	return condition()
}

// AssertEventuallyTrue 是 WaitFor 的断言形式
func AssertEventuallyTrue(t *testing.T, condition func() bool, timeout time.Duration) {
	t.Helper()
	if !WaitFor(condition, timeout) {
		t.Errorf("condition not met within %v", timeout)
	}
}

// WaitForChannel 从 ch 接收一个值，超时返回 false
func WaitForChannel[T any](ch <-chan T, timeout time.Duration) (T, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case v := <-ch:
		return v, true
	case <-timer.C:
		var zero T
		return zero, false
	}
}
