package providers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BaSui01/duochat/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatchStream_FiresWhenIdle(t *testing.T) {
	ctx, watchdog, cancel := WatchStream(context.Background(), 50*time.Millisecond)
	defer cancel(nil)
	defer watchdog.Stop()

	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("watchdog did not fire")
	}
	assert.True(t, IsIdleTimeout(ctx))

	e := InterruptedError(ctx, "openai")
	assert.Equal(t, types.ErrUpstreamTimeout, e.Code)
	assert.True(t, e.Retryable)
	assert.Equal(t, "openai", e.Provider)
	assert.ErrorIs(t, e, ErrIdleTimeout)
}

func TestWatchStream_ResetKeepsStreamAlive(t *testing.T) {
	ctx, watchdog, cancel := WatchStream(context.Background(), 80*time.Millisecond)
	defer cancel(nil)

	for i := 0; i < 5; i++ {
		time.Sleep(30 * time.Millisecond)
		watchdog.Reset()
	}
	require.NoError(t, ctx.Err())

	watchdog.Stop()
	watchdog.Reset()
	time.Sleep(120 * time.Millisecond)
	assert.NoError(t, ctx.Err())
}

func TestInterruptedError_CallerCancel(t *testing.T) {
	ctx, watchdog, cancel := WatchStream(context.Background(), time.Minute)
	defer watchdog.Stop()
	cancel(context.Canceled)

	assert.False(t, IsIdleTimeout(ctx))
	e := InterruptedError(ctx, "ollama")
	assert.NotEqual(t, types.ErrUpstreamTimeout, e.Code)
	assert.True(t, errors.Is(e, context.Canceled))
}
