package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/BaSui01/duochat/api"
	"github.com/BaSui01/duochat/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return resp
}

func TestWriteSuccess_Envelope(t *testing.T) {
	w := httptest.NewRecorder()
	WriteSuccess(w, api.CreateConversationResponse{ID: "conv-1"})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))

	resp := decodeResponse(t, w)
	assert.True(t, resp.Success)
	assert.Nil(t, resp.Error)
	assert.False(t, resp.Timestamp.IsZero())
	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "conv-1", data["id"])
}

func TestWriteError_StatusAndCode(t *testing.T) {
	tests := []struct {
		name       string
		err        *types.Error
		wantStatus int
		retryable  bool
	}{
		{"same model twice", types.NewError(types.ErrValidation, "agent models must differ"), http.StatusBadRequest, false},
		{"unknown conversation", types.NewError(types.ErrNotFound, "conversation not found"), http.StatusNotFound, false},
		{"already finished", types.NewError(types.ErrConflict, "conversation already finished"), http.StatusConflict, false},
		{"empty response", types.NewError(types.ErrEmptyResponse, "Agent 1 (llama2) failed to generate a response"), http.StatusBadGateway, false},
		{"backend down", types.NewError(types.ErrProviderUnavailable, "ollama unreachable").WithRetryable(true), http.StatusServiceUnavailable, true},
		{"explicit status wins", types.NewError(types.ErrBackend, "too many sessions").WithHTTPStatus(http.StatusServiceUnavailable), http.StatusServiceUnavailable, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteError(w, tt.err, zap.NewNop())

			assert.Equal(t, tt.wantStatus, w.Code)
			resp := decodeResponse(t, w)
			assert.False(t, resp.Success)
			assert.Nil(t, resp.Data)
			require.NotNil(t, resp.Error)
			assert.Equal(t, string(tt.err.Code), resp.Error.Code)
			assert.Equal(t, tt.err.Message, resp.Error.Message)
			assert.Equal(t, tt.retryable, resp.Error.Retryable)
		})
	}
}

func TestMapErrorCodeToHTTPStatus(t *testing.T) {
	tests := map[types.ErrorCode]int{
		types.ErrInvalidRequest:      http.StatusBadRequest,
		types.ErrValidation:          http.StatusBadRequest,
		types.ErrAuthentication:      http.StatusUnauthorized,
		types.ErrUnauthorized:        http.StatusUnauthorized,
		types.ErrForbidden:           http.StatusForbidden,
		types.ErrModelNotFound:       http.StatusNotFound,
		types.ErrNotFound:            http.StatusNotFound,
		types.ErrConflict:            http.StatusConflict,
		types.ErrRateLimit:           http.StatusTooManyRequests,
		types.ErrUpstreamTimeout:     http.StatusGatewayTimeout,
		types.ErrBackend:             http.StatusBadGateway,
		types.ErrEmptyResponse:       http.StatusBadGateway,
		types.ErrProviderUnavailable: http.StatusServiceUnavailable,
		types.ErrServiceUnavailable:  http.StatusServiceUnavailable,
		types.ErrInternalError:       http.StatusInternalServerError,
		"UNKNOWN_CODE":               http.StatusInternalServerError,
	}
	for code, want := range tests {
		assert.Equal(t, want, mapErrorCodeToHTTPStatus(code), code)
	}
}

func TestDecodeJSONBody(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"valid", `{"agent1_model":"llama2","agent2_model":"mistral","topic":"tea","time_limit_minutes":5}`, false},
		{"trailing comma", `{"topic":"tea",}`, true},
		{"unknown field", `{"topic":"tea","temperature":0.7}`, true},
		{"oversized", `{"topic":"` + strings.Repeat("x", 2<<20) + `"}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodPost, "/api/v1/conversations", strings.NewReader(tt.body))

			var req api.CreateConversationRequest
			err := DecodeJSONBody(w, r, &req, zap.NewNop())
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, http.StatusBadRequest, w.Code)
				assert.Equal(t, string(types.ErrInvalidRequest), decodeResponse(t, w).Error.Code)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "llama2", req.Agent1Model)
			require.NotNil(t, req.TimeLimitMinutes)
			assert.Equal(t, 5, *req.TimeLimitMinutes)
		})
	}
}

func TestValidateContentType(t *testing.T) {
	tests := map[string]bool{
		"application/json":                 true,
		"application/json; charset=utf-8":  true,
		"application/json; charset=UTF-8":  true,
		"application/json;  charset=utf-8": true,
		"text/plain":                       false,
		"":                                 false,
	}
	for contentType, want := range tests {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/api/v1/conversations", nil)
		r.Header.Set("Content-Type", contentType)

		assert.Equal(t, want, ValidateContentType(w, r, zap.NewNop()), contentType)
		if !want {
			assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
		}
	}
}

func TestResponseWriter(t *testing.T) {
	w := httptest.NewRecorder()
	rw := NewResponseWriter(w)
	assert.Equal(t, http.StatusOK, rw.StatusCode)
	assert.False(t, rw.Written)

	rw.WriteHeader(http.StatusCreated)
	rw.WriteHeader(http.StatusBadRequest) // 第二次被忽略
	assert.Equal(t, http.StatusCreated, rw.StatusCode)

	n, err := rw.Write([]byte("test"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, int64(4), rw.BytesWritten)

	// ResponseRecorder 不支持 Hijack
	_, _, err = rw.Hijack()
	assert.Error(t, err)
	assert.Same(t, w, rw.Unwrap())
}

func TestToAPIError(t *testing.T) {
	typed := types.NewError(types.ErrConflict, "already running")
	assert.Same(t, typed, toAPIError(typed))

	plain := toAPIError(assert.AnError)
	assert.Equal(t, types.ErrInternalError, plain.Code)
	assert.ErrorIs(t, plain, assert.AnError)
}
