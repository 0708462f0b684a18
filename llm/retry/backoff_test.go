package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BaSui01/duochat/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"
)

func fastPolicy(maxRetries int) Policy {
	return Policy{
		MaxRetries:   maxRetries,
		InitialDelay: 5 * time.Millisecond,
		MaxDelay:     20 * time.Millisecond,
		Multiplier:   2.0,
		ShouldRetry:  func(error) bool { return true },
	}
}

func TestBackoff_Success(t *testing.T) {
	b := NewBackoff(fastPolicy(3), zap.NewNop())

	calls := 0
	err := b.Do(context.Background(), func(context.Context) error {
		calls++
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 1, calls, "应该只调用一次")
}

func TestBackoff_RetryThenSuccess(t *testing.T) {
	b := NewBackoff(fastPolicy(3), zap.NewNop())

	calls := 0
	got, err := Do(context.Background(), b, func(context.Context) ([]string, error) {
		calls++
		if calls < 3 {
			return nil, errors.New("temporary")
		}
		return []string{"llama2", "mistral"}, nil
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"llama2", "mistral"}, got)
	assert.Equal(t, 3, calls)
}

func TestBackoff_ExhaustedKeepsLastError(t *testing.T) {
	b := NewBackoff(fastPolicy(2), zap.NewNop())
	backendErr := types.NewError(types.ErrProviderUnavailable, "cannot reach backend").WithRetryable(true)

	calls := 0
	err := b.Do(context.Background(), func(context.Context) error {
		calls++
		return backendErr
	})

	assert.Same(t, backendErr, err)
	assert.Equal(t, 3, calls, "初始调用 + 2 次重试")
}

func TestBackoff_DefaultShouldRetryUsesRetryableFlag(t *testing.T) {
	policy := fastPolicy(3)
	policy.ShouldRetry = nil
	b := NewBackoff(policy, zap.NewNop())

	calls := 0
	err := b.Do(context.Background(), func(context.Context) error {
		calls++
		return types.NewError(types.ErrUnauthorized, "bad key")
	})

	assert.Equal(t, types.ErrUnauthorized, types.GetErrorCode(err))
	assert.Equal(t, 1, calls, "不可重试错误不应重试")
}

func TestBackoff_ContextCanceled(t *testing.T) {
	policy := fastPolicy(5)
	policy.InitialDelay = 200 * time.Millisecond
	policy.MaxDelay = time.Second
	b := NewBackoff(policy, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	lastErr := types.NewError(types.ErrUpstreamTimeout, "slow")
	err := b.Do(ctx, func(context.Context) error { return lastErr })

	require.Error(t, err)
	assert.Contains(t, err.Error(), "重试被取消")
	assert.ErrorIs(t, err, lastErr)
}

func TestBackoff_OnRetryCallback(t *testing.T) {
	var attempts []int
	policy := fastPolicy(2)
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		attempts = append(attempts, attempt)
	}
	b := NewBackoff(policy, zap.NewNop())

	_ = b.Do(context.Background(), func(context.Context) error { return errors.New("x") })
	assert.Equal(t, []int{1, 2}, attempts)
}

func TestBackoff_DelayBounds(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		initial := time.Duration(rapid.IntRange(1, 1000).Draw(rt, "initial_ms")) * time.Millisecond
		maxDelay := initial * time.Duration(rapid.IntRange(1, 50).Draw(rt, "max_factor"))
		attempt := rapid.IntRange(1, 20).Draw(rt, "attempt")
		jitter := rapid.Bool().Draw(rt, "jitter")

		b := NewBackoff(Policy{
			MaxRetries:   attempt,
			InitialDelay: initial,
			MaxDelay:     maxDelay,
			Multiplier:   2.0,
			Jitter:       jitter,
		}, nil)

		d := b.Delay(attempt)
		require.GreaterOrEqual(rt, d, initial)
		// 抖动最多把上限放大 25%
		require.LessOrEqual(rt, float64(d), float64(maxDelay)*1.25+1)
	})
}
