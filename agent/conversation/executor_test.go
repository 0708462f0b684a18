package conversation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BaSui01/duochat/llm"
	"github.com/BaSui01/duochat/testutil"
	"github.com/BaSui01/duochat/testutil/mocks"
	"github.com/BaSui01/duochat/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap/zaptest"
)

func TestBuildContext(t *testing.T) {
	s, _ := newTestState(t, 0)

	assert.Equal(t, []llm.Message{{Role: llm.RoleUser, Content: "climate policy"}}, BuildContext(s))

	_, _ = s.RecordMessage("Agent 1", "first")
	assert.Equal(t, []llm.Message{{Role: llm.RoleUser, Content: "first"}}, BuildContext(s))

	s.SwitchAgent()
	_, _ = s.RecordMessage("Agent 2", "second")
	s.SwitchAgent()
	_, _ = s.RecordMessage("Agent 1", "third")
	assert.Equal(t, []llm.Message{
		{Role: llm.RoleAssistant, Content: "first"},
		{Role: llm.RoleAssistant, Content: "second"},
		{Role: llm.RoleUser, Content: "third"},
	}, BuildContext(s))
}

func TestRunTurn_CommitsAccumulatedContent(t *testing.T) {
	s, _ := newTestState(t, 0)
	provider := mocks.NewMockProvider().WithFragments("Hello", " world")
	exec := NewTurnExecutor(provider, zaptest.NewLogger(t))

	var progress []string
	msg, err := exec.RunTurn(testutil.TestContext(t), s, func(acc string) {
		progress = append(progress, acc)
	})
	require.NoError(t, err)

	assert.Equal(t, "Hello world", msg.Content)
	assert.Equal(t, "Agent 1", msg.Name)
	assert.Equal(t, []string{"Hello", "Hello world"}, progress)
	assert.Equal(t, 1, s.MessageCount())

	req, ok := provider.LastCall()
	require.True(t, ok)
	assert.Equal(t, "llama2", req.Model)
	assert.Equal(t, "be brief", req.SystemPrompt)
	assert.Equal(t, []llm.Message{{Role: llm.RoleUser, Content: "climate policy"}}, req.Messages)
}

func TestRunTurn_SecondAgentSeesFirstAsUser(t *testing.T) {
	s, _ := newTestState(t, 0)
	provider := mocks.NewMockProvider().WithFragments("Hello", " world").WithFragments("Hi there")
	exec := NewTurnExecutor(provider, nil)
	ctx := testutil.TestContext(t)

	_, err := exec.RunTurn(ctx, s, nil)
	require.NoError(t, err)
	s.SwitchAgent()

	msg, err := exec.RunTurn(ctx, s, nil)
	require.NoError(t, err)
	assert.Equal(t, "Agent 2", msg.Name)
	assert.Equal(t, Agent2, msg.Slot)

	req, _ := provider.LastCall()
	assert.Equal(t, "mistral", req.Model)
	assert.Equal(t, []llm.Message{{Role: llm.RoleUser, Content: "Hello world"}}, req.Messages)
}

func TestRunTurn_Failures(t *testing.T) {
	tests := []struct {
		name   string
		script mocks.Script
		check  func(t *testing.T, err error)
	}{
		{
			name:   "zero fragments",
			script: mocks.Script{},
			check: func(t *testing.T, err error) {
				assert.True(t, IsEmptyResponse(err))
				assert.Contains(t, err.Error(), "Agent 2 (mistral) failed to generate a response")
			},
		},
		{
			name:   "whitespace only",
			script: mocks.Script{Fragments: []string{" ", "\n"}},
			check: func(t *testing.T, err error) {
				assert.True(t, IsEmptyResponse(err))
			},
		},
		{
			name: "fault mid stream",
			script: mocks.Script{
				Fragments: []string{"partial"},
				Err:       types.NewError(types.ErrUpstreamError, "connection reset").WithRetryable(true),
			},
			check: func(t *testing.T, err error) {
				assert.True(t, IsBackendError(err))
				e, ok := types.AsError(err)
				require.True(t, ok)
				assert.True(t, e.Retryable)
				assert.True(t, types.IsErrorCode(errors.Unwrap(err), types.ErrUpstreamError))
			},
		},
		{
			name:   "refused connection",
			script: mocks.Script{StreamErr: types.NewError(types.ErrProviderUnavailable, "dial tcp: connection refused")},
			check: func(t *testing.T, err error) {
				assert.True(t, IsBackendError(err))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestState(t, 0)
			_, err := s.RecordMessage("Agent 1", "opening")
			require.NoError(t, err)
			s.SwitchAgent()

			provider := mocks.NewMockProvider().WithScripts(tt.script)
			exec := NewTurnExecutor(provider, zaptest.NewLogger(t))

			_, err = exec.RunTurn(testutil.TestContext(t), s, nil)
			require.Error(t, err)
			tt.check(t, err)
			assert.Equal(t, 1, s.MessageCount(), "failed turn must not commit")
			assert.Equal(t, Agent2, s.CurrentAgent().Slot, "failed turn must not switch")
		})
	}
}

func TestRunTurn_CancelledMidStreamDoesNotCommit(t *testing.T) {
	s, _ := newTestState(t, 0)
	provider := mocks.NewMockProvider().WithScripts(mocks.Script{Fragments: []string{"half"}, Hang: true})
	exec := NewTurnExecutor(provider, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := exec.RunTurn(ctx, s, func(string) { cancel() })
		done <- err
	}()

	err, ok := testutil.WaitForChannel(done, 5*time.Second)
	require.True(t, ok)
	assert.True(t, IsBackendError(err))
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Zero(t, s.MessageCount())
}

func TestRunTurn_RecordsOTelMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	s, _ := newTestState(t, 0)
	provider := mocks.NewMockProvider().WithFragments("a", "b", "c").WithFragments(" ")
	exec := NewTurnExecutor(provider, zaptest.NewLogger(t), WithMeterProvider(mp))

	_, err := exec.RunTurn(testutil.TestContext(t), s, nil)
	require.NoError(t, err)
	s.SwitchAgent()
	_, err = exec.RunTurn(testutil.TestContext(t), s, nil)
	require.True(t, IsEmptyResponse(err))

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	turns := map[string]int64{}
	var fragments uint64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch m.Name {
			case "duochat.turn.total":
				sum, ok := m.Data.(metricdata.Sum[int64])
				require.True(t, ok)
				for _, dp := range sum.DataPoints {
					model, _ := dp.Attributes.Value(attribute.Key("model"))
					outcome, _ := dp.Attributes.Value(attribute.Key("outcome"))
					turns[model.AsString()+"/"+outcome.AsString()] += dp.Value
				}
			case "duochat.turn.fragments":
				hist, ok := m.Data.(metricdata.Histogram[int64])
				require.True(t, ok)
				for _, dp := range hist.DataPoints {
					fragments += dp.Count
				}
			}
		}
	}
	assert.Equal(t, map[string]int64{"llama2/ok": 1, "mistral/empty": 1}, turns)
	assert.Equal(t, uint64(2), fragments)
}

func TestContextTokens_IncludesSystemPrompt(t *testing.T) {
	msgs := []llm.Message{{Role: llm.RoleUser, Content: "climate policy"}}

	// 估算器：3 + ("Be brief." 2 + 4) + ("climate policy" 3 + 4)
	assert.Equal(t, 16, contextTokens("llama2", "Be brief.", msgs))
	assert.Equal(t, 10, contextTokens("llama2", "", msgs))
}
