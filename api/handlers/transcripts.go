package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/BaSui01/duochat/api"
	"github.com/BaSui01/duochat/internal/archive"
	"github.com/BaSui01/duochat/types"
	"go.uber.org/zap"
)

// TranscriptStore 归档读取接口
type TranscriptStore interface {
	TranscriptReader
	List(ctx context.Context, limit int) ([]archive.Transcript, error)
}

// TranscriptHandler 归档查询处理器
type TranscriptHandler struct {
	store  TranscriptStore
	logger *zap.Logger
}

// NewTranscriptHandler 创建归档处理器
func NewTranscriptHandler(store TranscriptStore, logger *zap.Logger) *TranscriptHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TranscriptHandler{store: store, logger: logger.With(zap.String("component", "transcripts_api"))}
}

// Register 注册归档路由
func (h *TranscriptHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/transcripts", h.HandleList)
	mux.HandleFunc("GET /api/v1/transcripts/{id}", h.HandleGet)
}

// HandleList 列出归档摘要
// @Summary 归档列表
// @Tags 归档
// @Produce json
// @Param limit query int false "数量上限"
// @Success 200 {object} Response "归档摘要"
// @Router /api/v1/transcripts [get]
func (h *TranscriptHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "limit must be a non-negative integer", h.logger)
			return
		}
		limit = n
	}

	list, err := h.store.List(r.Context(), limit)
	if err != nil {
		WriteError(w, toAPIError(err), h.logger)
		return
	}
	out := make([]api.TranscriptSummary, 0, len(list))
	for _, t := range list {
		out = append(out, api.TranscriptSummary{
			ID:           t.ID,
			Topic:        t.Topic,
			Agent1Model:  t.Agent1Model,
			Agent2Model:  t.Agent2Model,
			StartedAt:    t.StartedAt,
			EndedAt:      t.EndedAt,
			FinishReason: t.FinishReason,
			MessageCount: t.MessageCount,
		})
	}
	WriteSuccess(w, out)
}

// HandleGet 返回一份归档，format=markdown 时返回 Markdown 文档
// @Summary 归档详情
// @Tags 归档
// @Produce json
// @Produce text/markdown
// @Param id path string true "对话 ID"
// @Param format query string false "json 或 markdown"
// @Success 200 {object} Response "归档"
// @Failure 404 {object} Response "归档不存在"
// @Router /api/v1/transcripts/{id} [get]
func (h *TranscriptHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	t, err := h.store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteError(w, toAPIError(err), h.logger)
		return
	}
	if r.URL.Query().Get("format") == "markdown" {
		writeDocument(w, t.Document(), "markdown")
		return
	}
	WriteSuccess(w, t)
}
