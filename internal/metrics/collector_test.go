package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/BaSui01/duochat/agent/conversation"
	"github.com/BaSui01/duochat/testutil/mocks"
	"github.com/BaSui01/duochat/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCollector(t *testing.T) *Collector {
	t.Helper()
	return NewCollectorWithRegistry("duochat", prometheus.NewRegistry(), nil)
}

// =============================================================================
// 🧪 Collector 测试
// =============================================================================

func TestCollector_RecordHTTPRequest(t *testing.T) {
	c := newTestCollector(t)

	c.RecordHTTPRequest("GET", "/api/v1/models", 200, 100*time.Millisecond, 2048)
	c.RecordHTTPRequest("GET", "/api/v1/models", 204, 50*time.Millisecond, 0)
	c.RecordHTTPRequest("POST", "/api/v1/conversations", 503, time.Second, 64)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.httpRequestsTotal.WithLabelValues("GET", "/api/v1/models", "2xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.httpRequestsTotal.WithLabelValues("POST", "/api/v1/conversations", "5xx")))
}

func TestCollector_RecordTurn(t *testing.T) {
	c := newTestCollector(t)

	c.RecordTurn("llama2", OutcomeCommitted, 2*time.Second, 5, 12)
	c.RecordTurn("llama2", OutcomeEmpty, time.Second, 0, 0)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.turnsTotal.WithLabelValues("llama2", OutcomeCommitted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.turnsTotal.WithLabelValues("llama2", OutcomeEmpty)))
	assert.Equal(t, 5.0, testutil.ToFloat64(c.streamFragments.WithLabelValues("llama2")))
	assert.Equal(t, 12.0, testutil.ToFloat64(c.messageTokens.WithLabelValues("llama2")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.turnDuration))
}

func TestCollector_Conversations(t *testing.T) {
	c := newTestCollector(t)

	c.RecordConversationStarted()
	c.RecordConversationStarted()
	assert.Equal(t, 2.0, testutil.ToFloat64(c.conversationsActive))

	c.RecordConversationFinished("time_limit", time.Minute)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.conversationsActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.conversationsFinished.WithLabelValues("time_limit")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.conversationsStarted))
}

func TestCollector_BackendCacheAndDB(t *testing.T) {
	c := newTestCollector(t)

	c.RecordBackendProbe("ollama", true, 20*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.backendUp.WithLabelValues("ollama")))
	c.RecordBackendProbe("ollama", false, time.Second)
	assert.Equal(t, 0.0, testutil.ToFloat64(c.backendUp.WithLabelValues("ollama")))

	c.RecordCacheHit("models")
	c.RecordCacheMiss("models")
	c.RecordCacheMiss("models")
	assert.Equal(t, 1.0, testutil.ToFloat64(c.cacheHits.WithLabelValues("models")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.cacheMisses.WithLabelValues("models")))

	c.RecordDBConnections("archive", 4, 2)
	c.RecordDBQuery("archive", "save", 3*time.Millisecond)
	assert.Equal(t, 4.0, testutil.ToFloat64(c.dbConnectionsOpen.WithLabelValues("archive")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.dbConnectionsIdle.WithLabelValues("archive")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.dbQueryDuration))
}

func TestStatusCode(t *testing.T) {
	tests := map[int]string{200: "2xx", 301: "3xx", 404: "4xx", 502: "5xx", 100: "unknown"}
	for code, want := range tests {
		assert.Equal(t, want, statusCode(code))
	}
}

// =============================================================================
// 🧪 ConversationObserver 测试
// =============================================================================

func TestConversationObserver_RunToEmptyResponse(t *testing.T) {
	c := newTestCollector(t)
	state, err := conversation.New(conversation.Settings{Agent1Model: "llama2", Agent2Model: "mistral", Topic: "tea"})
	require.NoError(t, err)

	provider := mocks.NewMockProvider().WithFragments("Hello", " there").WithScripts(mocks.Script{})
	obs := NewConversationObserver(c, state)
	runner := conversation.NewRunner(state, conversation.NewTurnExecutor(provider, nil), conversation.RunnerConfig{}, obs, nil)

	res := runner.Run(context.Background())
	require.Equal(t, conversation.ReasonError, res.Reason)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.turnsTotal.WithLabelValues("llama2", OutcomeCommitted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.turnsTotal.WithLabelValues("mistral", OutcomeEmpty)))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.streamFragments.WithLabelValues("llama2")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.conversationsFinished.WithLabelValues("error")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.conversationsActive))
}

func TestConversationObserver_BackendFailure(t *testing.T) {
	c := newTestCollector(t)
	state, err := conversation.New(conversation.Settings{Agent1Model: "llama2", Agent2Model: "mistral", Topic: "tea"})
	require.NoError(t, err)

	obs := NewConversationObserver(c, state)
	obs.OnTurnStart(state.CurrentAgent(), 1)
	obs.OnTurnFailed(state.CurrentAgent(), conversation.NewBackendError("Agent 1 (llama2)", types.NewError(types.ErrUpstreamError, "reset")))
	obs.OnTurnFailed(state.CurrentAgent(), conversation.NewBackendError("Agent 1 (llama2)", context.Canceled))

	assert.Equal(t, 1.0, testutil.ToFloat64(c.turnsTotal.WithLabelValues("llama2", OutcomeBackendError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.turnsTotal.WithLabelValues("llama2", OutcomeCancelled)))
}
