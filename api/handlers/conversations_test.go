package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/BaSui01/duochat/agent/conversation"
	"github.com/BaSui01/duochat/api"
	"github.com/BaSui01/duochat/internal/archive"
	"github.com/BaSui01/duochat/internal/cache"
	"github.com/BaSui01/duochat/llm/catalog"
	"github.com/BaSui01/duochat/testutil/mocks"
	"github.com/BaSui01/duochat/types"
	"github.com/alicebob/miniredis/v2"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// =============================================================================
// 🧪 测试辅助
// =============================================================================

type envelope[T any] struct {
	Success bool       `json:"success"`
	Data    T          `json:"data"`
	Error   *ErrorInfo `json:"error"`
}

type testAPI struct {
	mux      *http.ServeMux
	sessions *SessionManager
	provider *mocks.MockProvider
}

func newTestAPI(t *testing.T, provider *mocks.MockProvider, cfg SessionConfig, opts ...ConversationOption) *testAPI {
	t.Helper()
	logger := zaptest.NewLogger(t)
	sessions := NewSessionManager(context.Background(), conversation.NewTurnExecutor(provider, logger), cfg, logger)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = sessions.Shutdown(ctx)
	})

	h := NewConversationHandler(sessions, catalog.New(provider, logger), ConversationDefaults{
		SystemPrompt: "be brief",
		TimeLimit:    10 * time.Minute,
		Agent1Name:   "Agent 1",
		Agent2Name:   "Agent 2",
	}, logger, opts...)

	mux := http.NewServeMux()
	h.Register(mux)
	return &testAPI{mux: mux, sessions: sessions, provider: provider}
}

func (a *testAPI) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		r.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	a.mux.ServeHTTP(w, r)
	return w
}

func (a *testAPI) create(t *testing.T, body string) string {
	t.Helper()
	w := a.do(t, http.MethodPost, "/api/v1/conversations", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp envelope[api.CreateConversationResponse]
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.NotEmpty(t, resp.Data.ID)
	assert.Equal(t, "/api/v1/conversations/"+resp.Data.ID+"/stream", resp.Data.StreamURL)
	return resp.Data.ID
}

func (a *testAPI) waitFinished(t *testing.T, id string) api.ConversationStatus {
	t.Helper()
	sess, ok := a.sessions.Get(id)
	require.True(t, ok)
	select {
	case <-sess.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("conversation did not finish")
	}
	w := a.do(t, http.MethodGet, "/api/v1/conversations/"+id, "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp envelope[api.ConversationStatus]
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return resp.Data
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) *ErrorInfo {
	t.Helper()
	var resp envelope[json.RawMessage]
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	return resp.Error
}

// =============================================================================
// 🧪 创建与校验
// =============================================================================

func TestConversationHandler_CreateValidation(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		status   int
		code     types.ErrorCode
		contains string
	}{
		{"missing topic", `{"agent1_model":"llama2","agent2_model":"mistral","topic":"  "}`, http.StatusBadRequest, types.ErrValidation, "topic"},
		{"same model", `{"agent1_model":"llama2","agent2_model":"llama2","topic":"tea"}`, http.StatusBadRequest, types.ErrValidation, "different models"},
		{"missing model", `{"agent1_model":"llama2","topic":"tea"}`, http.StatusBadRequest, types.ErrValidation, "backend model"},
		{"negative limit", `{"agent1_model":"llama2","agent2_model":"mistral","topic":"tea","time_limit_minutes":-1}`, http.StatusBadRequest, types.ErrValidation, "time_limit_minutes"},
		{"overflowing limit", `{"agent1_model":"llama2","agent2_model":"mistral","topic":"tea","time_limit_minutes":9223372036854775807}`, http.StatusBadRequest, types.ErrValidation, "time_limit_minutes"},
		{"negative turns", `{"agent1_model":"llama2","agent2_model":"mistral","topic":"tea","max_turns":-3}`, http.StatusBadRequest, types.ErrValidation, "max_turns"},
		{"unknown model", `{"agent1_model":"llama2","agent2_model":"gpt-x","topic":"tea"}`, http.StatusBadRequest, types.ErrValidation, "gpt-x"},
		{"unknown field", `{"agent1_model":"llama2","agent2_model":"mistral","topic":"tea","temperature":1}`, http.StatusBadRequest, types.ErrInvalidRequest, "invalid JSON"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestAPI(t, mocks.NewMockProvider(), SessionConfig{})
			w := a.do(t, http.MethodPost, "/api/v1/conversations", tt.body)

			assert.Equal(t, tt.status, w.Code)
			info := decodeError(t, w)
			assert.Equal(t, string(tt.code), info.Code)
			assert.Contains(t, info.Message, tt.contains)
			assert.Zero(t, a.provider.CallCount())
		})
	}
}

func TestConversationHandler_CreateRequiresJSON(t *testing.T) {
	a := newTestAPI(t, mocks.NewMockProvider(), SessionConfig{})
	r := httptest.NewRequest(http.MethodPost, "/api/v1/conversations", strings.NewReader("topic=tea"))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	a.mux.ServeHTTP(w, r)
	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
}

func TestConversationHandler_BackendDownOnCreate(t *testing.T) {
	provider := mocks.NewMockProvider().WithListError(types.NewError(types.ErrProviderUnavailable, "connection refused"))
	a := newTestAPI(t, provider, SessionConfig{})

	w := a.do(t, http.MethodPost, "/api/v1/conversations", `{"agent1_model":"llama2","agent2_model":"mistral","topic":"tea"}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, string(types.ErrProviderUnavailable), decodeError(t, w).Code)
}

// =============================================================================
// 🧪 生命周期
// =============================================================================

func TestConversationHandler_EmptyResponseStopsConversation(t *testing.T) {
	provider := mocks.NewMockProvider().
		WithFragments("Hello", " there").
		WithScripts(mocks.Script{Fragments: []string{"   "}})
	a := newTestAPI(t, provider, SessionConfig{})

	id := a.create(t, `{"agent1_model":"llama2","agent2_model":"mistral","topic":"tea"}`)
	status := a.waitFinished(t, id)

	assert.Equal(t, "finished", status.Status)
	assert.Equal(t, "error", status.FinishReason)
	assert.Equal(t, 1, status.MessageCount)
	assert.Contains(t, status.Error, "Agent 2 (mistral) failed to generate a response")
	assert.Nil(t, status.CurrentAgent)
	assert.Nil(t, status.NextAgent)
	require.NotNil(t, status.EndedAt)

	first, ok := provider.LastCall()
	require.True(t, ok)
	assert.Equal(t, "mistral", first.Model)
	assert.Equal(t, "be brief", first.SystemPrompt)
}

func TestConversationHandler_MaxTurnsAndExport(t *testing.T) {
	a := newTestAPI(t, mocks.NewMockProvider(), SessionConfig{})

	id := a.create(t, `{"agent1_model":"llama2","agent2_model":"mistral","topic":"tea","max_turns":2,"time_limit_minutes":0,"agent2_name":"Bob"}`)
	status := a.waitFinished(t, id)
	assert.Equal(t, "max_turns", status.FinishReason)
	assert.Equal(t, 2, status.Turns)
	assert.Equal(t, map[string]int{"agent1": 1, "agent2": 1}, status.PerAgent)
	assert.Nil(t, status.TimeRemainingSeconds)
	assert.Equal(t, "Bob", status.Agent2.Name)

	w := a.do(t, http.MethodGet, "/api/v1/conversations/"+id+"/export", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/markdown; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "chat_")
	md := w.Body.String()
	assert.True(t, strings.HasPrefix(md, "# Chat on Topic: tea\n"))
	assert.Contains(t, md, "**Turn Limit:** 0 minutes (unlimited)")
	assert.Contains(t, md, "**Bob** (")

	w = a.do(t, http.MethodGet, "/api/v1/conversations/"+id+"/export?format=json", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), ".json")
	doc, err := conversation.ParseDocument(w.Body.Bytes())
	require.NoError(t, err)
	assert.Equal(t, id, doc.ID)
	require.Len(t, doc.Messages, 2)
	assert.Equal(t, "Mock response", doc.Messages[0].Content)
	assert.Positive(t, doc.Messages[0].Tokens)

	w = a.do(t, http.MethodGet, "/api/v1/conversations/"+id+"/export?format=pdf", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestConversationHandler_Stop(t *testing.T) {
	provider := mocks.NewMockProvider().WithFallback(mocks.Script{Fragments: []string{"slow"}, Delay: 20 * time.Millisecond})
	a := newTestAPI(t, provider, SessionConfig{})

	id := a.create(t, `{"agent1_model":"llama2","agent2_model":"mistral","topic":"tea"}`)
	w := a.do(t, http.MethodPost, "/api/v1/conversations/"+id+"/stop", "")
	require.Equal(t, http.StatusAccepted, w.Code)
	var resp envelope[api.ConversationStatus]
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.True(t, resp.Data.StopRequested)

	status := a.waitFinished(t, id)
	assert.Equal(t, "stopped", status.FinishReason)
	assert.LessOrEqual(t, status.MessageCount, 1)
}

func TestConversationHandler_MaxSessions(t *testing.T) {
	provider := mocks.NewMockProvider().WithFallback(mocks.Script{Hang: true})
	a := newTestAPI(t, provider, SessionConfig{MaxSessions: 1})

	a.create(t, `{"agent1_model":"llama2","agent2_model":"mistral","topic":"tea"}`)
	w := a.do(t, http.MethodPost, "/api/v1/conversations", `{"agent1_model":"llama2","agent2_model":"mistral","topic":"coffee"}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	info := decodeError(t, w)
	assert.Equal(t, string(types.ErrServiceUnavailable), info.Code)
	assert.True(t, info.Retryable)

	w = a.do(t, http.MethodGet, "/api/v1/conversations", "")
	var list envelope[[]api.ConversationStatus]
	require.NoError(t, json.NewDecoder(w.Body).Decode(&list))
	require.Len(t, list.Data, 1)
	assert.Equal(t, "running", list.Data[0].Status)
	require.NotNil(t, list.Data[0].CurrentAgent)
	assert.Equal(t, "agent1", list.Data[0].CurrentAgent.Slot)
	require.NotNil(t, list.Data[0].NextAgent)
	assert.Equal(t, "agent2", list.Data[0].NextAgent.Slot)
}

func TestConversationHandler_NotFound(t *testing.T) {
	a := newTestAPI(t, mocks.NewMockProvider(), SessionConfig{})
	for _, req := range []struct{ method, path string }{
		{http.MethodGet, "/api/v1/conversations/nope"},
		{http.MethodPost, "/api/v1/conversations/nope/stop"},
		{http.MethodGet, "/api/v1/conversations/nope/export"},
		{http.MethodGet, "/api/v1/conversations/nope/stream"},
	} {
		w := a.do(t, req.method, req.path, "")
		assert.Equal(t, http.StatusNotFound, w.Code, req.path)
		assert.Equal(t, string(types.ErrNotFound), decodeError(t, w).Code)
	}
}

// =============================================================================
// 🧪 导出回退
// =============================================================================

func TestConversationHandler_ExportFromCacheAfterRestart(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := cache.DefaultConfig()
	cfg.Addr = mr.Addr()
	cfg.HealthCheckInterval = 0
	manager, err := cache.NewManager(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close() })

	first := newTestAPI(t, mocks.NewMockProvider(), SessionConfig{}, WithDocumentCache(manager, time.Minute))
	id := first.create(t, `{"agent1_model":"llama2","agent2_model":"mistral","topic":"tea","max_turns":1}`)
	first.waitFinished(t, id)
	assert.True(t, mr.Exists("duochat:conversation:"+id))

	second := newTestAPI(t, mocks.NewMockProvider(), SessionConfig{}, WithDocumentCache(manager, time.Minute))
	w := second.do(t, http.MethodGet, "/api/v1/conversations/"+id+"/export?format=json", "")
	require.Equal(t, http.StatusOK, w.Code)
	doc, err := conversation.ParseDocument(w.Body.Bytes())
	require.NoError(t, err)
	assert.Len(t, doc.Messages, 1)
}

func TestConversationHandler_CorruptCachedExportIgnored(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := cache.DefaultConfig()
	cfg.Addr = mr.Addr()
	cfg.HealthCheckInterval = 0
	manager, err := cache.NewManager(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close() })
	require.NoError(t, mr.Set("duochat:conversation:old", "{not json"))

	w := newTestAPI(t, mocks.NewMockProvider(), SessionConfig{}, WithDocumentCache(manager, time.Minute)).
		do(t, http.MethodGet, "/api/v1/conversations/old/export?format=json", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, string(types.ErrNotFound), decodeError(t, w).Code)
}

type fakeTranscripts struct {
	items map[string]*archive.Transcript
	err   error
}

func (f *fakeTranscripts) Get(_ context.Context, id string) (*archive.Transcript, error) {
	if f.err != nil {
		return nil, f.err
	}
	if t, ok := f.items[id]; ok {
		return t, nil
	}
	return nil, types.NewError(types.ErrNotFound, "transcript not found")
}

func (f *fakeTranscripts) List(_ context.Context, limit int) ([]archive.Transcript, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]archive.Transcript, 0, len(f.items))
	for _, t := range f.items {
		out = append(out, *t)
	}
	return out, nil
}

func TestConversationHandler_ExportFromArchive(t *testing.T) {
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	tr := &archive.Transcript{
		ID: "old", Topic: "tea", Agent1Name: "Agent 1", Agent1Model: "llama2",
		Agent2Name: "Agent 2", Agent2Model: "mistral", StartedAt: start,
		Messages: []archive.TranscriptMessage{{Seq: 0, Name: "Agent 1", Slot: 1, Content: "hi", Timestamp: start}},
	}
	a := newTestAPI(t, mocks.NewMockProvider(), SessionConfig{}, WithTranscripts(&fakeTranscripts{items: map[string]*archive.Transcript{"old": tr}}))

	w := a.do(t, http.MethodGet, "/api/v1/conversations/old/export", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "chat_20240501.md")
	assert.Contains(t, w.Body.String(), "**Agent 1** (10:00:00)\nhi\n")

	w = a.do(t, http.MethodGet, "/api/v1/conversations/missing/export", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	broken := newTestAPI(t, mocks.NewMockProvider(), SessionConfig{}, WithTranscripts(&fakeTranscripts{err: errors.New("db down")}))
	w = broken.do(t, http.MethodGet, "/api/v1/conversations/old/export", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

// =============================================================================
// 🧪 WebSocket 事件流
// =============================================================================

func readEvents(t *testing.T, srv *httptest.Server, id string) ([]api.StreamEvent, websocket.StatusCode) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/conversations/" + id + "/stream"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	var events []api.StreamEvent
	for {
		var ev api.StreamEvent
		if err := wsjson.Read(ctx, conn, &ev); err != nil {
			return events, websocket.CloseStatus(err)
		}
		events = append(events, ev)
	}
}

func messageIndexes(events []api.StreamEvent) []int {
	var out []int
	for _, ev := range events {
		if ev.Type == api.EventMessage {
			out = append(out, ev.Message.Index)
		}
	}
	return out
}

func TestConversationHandler_StreamLive(t *testing.T) {
	provider := mocks.NewMockProvider().WithFallback(mocks.Script{Fragments: []string{"a", "b", "c"}, Delay: 10 * time.Millisecond})
	a := newTestAPI(t, provider, SessionConfig{})
	srv := httptest.NewServer(a.mux)
	t.Cleanup(srv.Close)

	id := a.create(t, `{"agent1_model":"llama2","agent2_model":"mistral","topic":"tea","max_turns":3}`)
	events, code := readEvents(t, srv, id)

	assert.Equal(t, websocket.StatusNormalClosure, code)
	require.NotEmpty(t, events)
	assert.Equal(t, api.EventSnapshot, events[0].Type)
	assert.Equal(t, []int{0, 1, 2}, messageIndexes(events))

	last := events[len(events)-1]
	assert.Equal(t, api.EventFinished, last.Type)
	require.NotNil(t, last.Status)
	assert.Equal(t, "max_turns", last.Status.FinishReason)
}

func TestConversationHandler_StreamAfterFinish(t *testing.T) {
	a := newTestAPI(t, mocks.NewMockProvider(), SessionConfig{})
	srv := httptest.NewServer(a.mux)
	t.Cleanup(srv.Close)

	id := a.create(t, `{"agent1_model":"llama2","agent2_model":"mistral","topic":"tea","max_turns":2}`)
	a.waitFinished(t, id)

	events, code := readEvents(t, srv, id)
	assert.Equal(t, websocket.StatusNormalClosure, code)
	require.Len(t, events, 4)
	assert.Equal(t, api.EventSnapshot, events[0].Type)
	assert.Equal(t, "finished", events[0].Status.Status)
	assert.Equal(t, []int{0, 1}, messageIndexes(events))
	assert.Equal(t, api.EventFinished, events[3].Type)
}
