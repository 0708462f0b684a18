package conversation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/BaSui01/duochat/testutil"
	"github.com/BaSui01/duochat/testutil/mocks"
	"github.com/BaSui01/duochat/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type recordingObserver struct {
	mu        sync.Mutex
	started   []int
	fragments []string
	completed []Message
	failed    []error
	finished  []Result
	onTurn    func(turn int)
}

func (o *recordingObserver) OnTurnStart(_ AgentInfo, turn int) {
	o.mu.Lock()
	o.started = append(o.started, turn)
	hook := o.onTurn
	o.mu.Unlock()
	if hook != nil {
		hook(turn)
	}
}

func (o *recordingObserver) OnFragment(_ AgentInfo, acc string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fragments = append(o.fragments, acc)
}

func (o *recordingObserver) OnTurnComplete(msg Message, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.completed = append(o.completed, msg)
}

func (o *recordingObserver) OnTurnFailed(_ AgentInfo, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failed = append(o.failed, err)
}

func (o *recordingObserver) OnFinished(r Result) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.finished = append(o.finished, r)
}

func TestRunner_MaxTurnsAlternatesAgents(t *testing.T) {
	s, _ := newTestState(t, 0)
	provider := mocks.NewMockProvider().WithFragments("one").WithFragments("two").WithFragments("three")
	obs := &recordingObserver{}
	r := NewRunner(s, NewTurnExecutor(provider, nil), RunnerConfig{MaxTurns: 3}, obs, zaptest.NewLogger(t))

	res := r.Run(testutil.TestContext(t))

	assert.Equal(t, ReasonMaxTurns, res.Reason)
	assert.NoError(t, res.Err)
	assert.Equal(t, 3, res.Turns)
	assert.True(t, s.IsFinished())
	assert.True(t, res.Stats.Finished)

	msgs := s.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, []Slot{Agent1, Agent2, Agent1}, []Slot{msgs[0].Slot, msgs[1].Slot, msgs[2].Slot})
	assert.Equal(t, []int{1, 2, 3}, obs.started)
	assert.Len(t, obs.completed, 3)
	require.Len(t, obs.finished, 1)
	assert.Equal(t, ReasonMaxTurns, obs.finished[0].Reason)
}

func TestRunner_EmptyResponseStops(t *testing.T) {
	s, _ := newTestState(t, 0)
	provider := mocks.NewMockProvider().WithFragments("Hello").WithScripts(mocks.Script{})
	obs := &recordingObserver{}
	r := NewRunner(s, NewTurnExecutor(provider, nil), RunnerConfig{}, obs, nil)

	res := r.Run(testutil.TestContext(t))

	assert.Equal(t, ReasonError, res.Reason)
	assert.True(t, IsEmptyResponse(res.Err))
	assert.Equal(t, 1, res.Turns)
	assert.Equal(t, 1, s.MessageCount())
	assert.True(t, s.IsFinished())
	assert.Equal(t, 2, provider.CallCount(), "failed turns are not retried")
	require.Len(t, obs.failed, 1)
}

func TestRunner_BackendErrorStops(t *testing.T) {
	s, _ := newTestState(t, 0)
	provider := mocks.NewMockProvider().WithScripts(mocks.Script{
		Fragments: []string{"par"},
		Err:       types.NewError(types.ErrUpstreamTimeout, "backend stopped responding").WithRetryable(true),
	})
	r := NewRunner(s, NewTurnExecutor(provider, nil), RunnerConfig{}, nil, nil)

	res := r.Run(testutil.TestContext(t))

	assert.Equal(t, ReasonError, res.Reason)
	assert.True(t, IsBackendError(res.Err))
	assert.Zero(t, s.MessageCount())
	assert.Equal(t, 1, provider.CallCount())
}

func TestRunner_TimeLimit(t *testing.T) {
	s, clock := newTestState(t, time.Minute)
	provider := mocks.NewMockProvider().WithFallback(mocks.Script{Fragments: []string{"talk"}})
	obs := &recordingObserver{onTurn: func(turn int) {
		if turn == 2 {
			clock.Advance(61 * time.Second)
		}
	}}
	r := NewRunner(s, NewTurnExecutor(provider, nil), RunnerConfig{}, obs, nil)

	res := r.Run(testutil.TestContext(t))

	// the in-flight turn completes; the limit is observed at the next boundary
	assert.Equal(t, ReasonTimeLimit, res.Reason)
	assert.Equal(t, 2, res.Turns)
	assert.Equal(t, 2, s.MessageCount())
}

func TestRunner_StopAtBoundary(t *testing.T) {
	s, _ := newTestState(t, 0)
	provider := mocks.NewMockProvider().WithFallback(mocks.Script{Fragments: []string{"talk"}})
	var r *Runner
	obs := &recordingObserver{onTurn: func(turn int) {
		if turn == 3 {
			r.Stop()
		}
	}}
	r = NewRunner(s, NewTurnExecutor(provider, nil), RunnerConfig{}, obs, nil)

	res := r.Run(testutil.TestContext(t))

	assert.Equal(t, ReasonStopped, res.Reason)
	assert.Equal(t, 3, res.Turns, "the turn in flight when Stop is called still completes")
	assert.True(t, r.StopRequested())
	assert.False(t, r.Running())
}

func TestRunner_StopBeforeRun(t *testing.T) {
	s, _ := newTestState(t, 0)
	provider := mocks.NewMockProvider()
	r := NewRunner(s, NewTurnExecutor(provider, nil), RunnerConfig{}, nil, nil)
	r.Stop()

	res := r.Run(testutil.TestContext(t))
	assert.Equal(t, ReasonStopped, res.Reason)
	assert.Zero(t, provider.CallCount())
	assert.True(t, s.IsFinished())
}

func TestRunner_ContextCancelled(t *testing.T) {
	s, _ := newTestState(t, 0)
	provider := mocks.NewMockProvider()
	r := NewRunner(s, NewTurnExecutor(provider, nil), RunnerConfig{}, nil, nil)

	res := r.Run(testutil.CancelledContext())
	assert.Equal(t, ReasonCancelled, res.Reason)
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.True(t, s.IsFinished())
}

func TestRunner_CancelledMidTurn(t *testing.T) {
	s, _ := newTestState(t, 0)
	provider := mocks.NewMockProvider().WithScripts(mocks.Script{Fragments: []string{"hm"}, Hang: true})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	obs := &recordingObserver{}
	r := NewRunner(s, NewTurnExecutor(provider, nil), RunnerConfig{}, obs, nil)
	go func() {
		testutil.WaitFor(func() bool {
			obs.mu.Lock()
			defer obs.mu.Unlock()
			return len(obs.fragments) > 0
		}, 5*time.Second)
		cancel()
	}()

	res := r.Run(ctx)
	assert.Equal(t, ReasonCancelled, res.Reason)
	assert.True(t, IsBackendError(res.Err))
	assert.Zero(t, s.MessageCount())
}

func TestRunner_FinishedStateIsConflict(t *testing.T) {
	s, _ := newTestState(t, 0)
	s.MarkFinished()
	r := NewRunner(s, NewTurnExecutor(mocks.NewMockProvider(), nil), RunnerConfig{}, nil, nil)

	res := r.Run(testutil.TestContext(t))
	assert.Equal(t, ReasonError, res.Reason)
	assert.True(t, types.IsErrorCode(res.Err, types.ErrConflict))
}

func TestMultiObserver(t *testing.T) {
	a, b := &recordingObserver{}, &recordingObserver{}
	m := MultiObserver{a, b, NopObserver{}}

	m.OnTurnStart(AgentInfo{}, 1)
	m.OnFragment(AgentInfo{}, "x")
	m.OnTurnComplete(Message{Content: "x"}, time.Second)
	m.OnTurnFailed(AgentInfo{}, assert.AnError)
	m.OnFinished(Result{Reason: ReasonStopped})

	for _, o := range []*recordingObserver{a, b} {
		assert.Equal(t, []int{1}, o.started)
		assert.Equal(t, []string{"x"}, o.fragments)
		assert.Len(t, o.completed, 1)
		assert.Len(t, o.failed, 1)
		assert.Len(t, o.finished, 1)
	}
}
