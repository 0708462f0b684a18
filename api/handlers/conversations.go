package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/BaSui01/duochat/agent/conversation"
	"github.com/BaSui01/duochat/api"
	"github.com/BaSui01/duochat/internal/archive"
	"github.com/BaSui01/duochat/types"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"
)

// =============================================================================
// 💬 对话接口 Handler
// =============================================================================

// ModelValidator 校验模型是否由后端提供
type ModelValidator interface {
	Validate(ctx context.Context, ids ...string) error
}

// DocumentCache 缓存已结束对话的导出文档
type DocumentCache interface {
	Get(ctx context.Context, key string) (string, error)
	SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// TranscriptReader 读取归档记录
type TranscriptReader interface {
	Get(ctx context.Context, id string) (*archive.Transcript, error)
}

// ConversationDefaults 请求未指定时使用的默认值
type ConversationDefaults struct {
	SystemPrompt string
	TimeLimit    time.Duration
	MaxTurns     int
	Agent1Name   string
	Agent2Name   string
}

// ConversationOption 配置 ConversationHandler
type ConversationOption func(*ConversationHandler)

// WithDocumentCache 结束后把导出文档写入缓存
func WithDocumentCache(c DocumentCache, ttl time.Duration) ConversationOption {
	return func(h *ConversationHandler) {
		h.cache = c
		h.cacheTTL = ttl
	}
}

// WithTranscripts 会话被淘汰后从归档读取导出
func WithTranscripts(r TranscriptReader) ConversationOption {
	return func(h *ConversationHandler) { h.transcripts = r }
}

// WithOriginPatterns 设置 WebSocket 允许的跨域来源
func WithOriginPatterns(patterns ...string) ConversationOption {
	return func(h *ConversationHandler) { h.originPatterns = patterns }
}

// ConversationHandler 对话接口处理器
type ConversationHandler struct {
	sessions       *SessionManager
	models         ModelValidator
	defaults       ConversationDefaults
	cache          DocumentCache
	cacheTTL       time.Duration
	transcripts    TranscriptReader
	originPatterns []string
	writeTimeout   time.Duration
	logger         *zap.Logger
}

// NewConversationHandler 创建对话处理器
func NewConversationHandler(sessions *SessionManager, models ModelValidator, defaults ConversationDefaults, logger *zap.Logger, opts ...ConversationOption) *ConversationHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &ConversationHandler{
		sessions:     sessions,
		models:       models,
		defaults:     defaults,
		cacheTTL:     time.Hour,
		writeTimeout: 10 * time.Second,
		logger:       logger.With(zap.String("component", "conversation_api")),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.cache != nil {
		sessions.OnFinish(h.cacheDocument)
	}
	return h
}

// Register 注册对话路由
func (h *ConversationHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/conversations", h.HandleCreate)
	mux.HandleFunc("GET /api/v1/conversations", h.HandleList)
	mux.HandleFunc("GET /api/v1/conversations/{id}", h.HandleGet)
	mux.HandleFunc("POST /api/v1/conversations/{id}/stop", h.HandleStop)
	mux.HandleFunc("GET /api/v1/conversations/{id}/export", h.HandleExport)
	mux.HandleFunc("GET /api/v1/conversations/{id}/stream", h.HandleStream)
}

func documentKey(id string) string {
	return "conversation:" + id
}

// cachedDocument 未命中或内容损坏时返回 false，由归档兜底
func (h *ConversationHandler) cachedDocument(ctx context.Context, id string) (conversation.Document, bool) {
	raw, err := h.cache.Get(ctx, documentKey(id))
	if err != nil {
		return conversation.Document{}, false
	}
	doc, err := conversation.ParseDocument([]byte(raw))
	if err != nil {
		h.logger.Warn("discarding corrupt cached export", zap.String("conversation_id", id), zap.Error(err))
		return conversation.Document{}, false
	}
	return doc, true
}

func (h *ConversationHandler) cacheDocument(ctx context.Context, doc conversation.Document, _ conversation.Result) {
	if err := h.cache.SetJSON(ctx, documentKey(doc.ID), doc, h.cacheTTL); err != nil {
		h.logger.Warn("cache export failed", zap.String("conversation_id", doc.ID), zap.Error(err))
	}
}

// =============================================================================
// 🎯 HTTP 处理程序
// =============================================================================

// HandleCreate 创建并启动对话
// @Summary 创建对话
// @Tags 对话
// @Accept json
// @Produce json
// @Param request body api.CreateConversationRequest true "对话设置"
// @Success 201 {object} Response "对话已启动"
// @Failure 400 {object} Response "无效请求"
// @Failure 503 {object} Response "运行中的对话过多"
// @Router /api/v1/conversations [post]
func (h *ConversationHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var req api.CreateConversationRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	settings, maxTurns, err := h.settingsFrom(req)
	if err != nil {
		WriteError(w, toAPIError(err), h.logger)
		return
	}
	if err := h.validateModels(r.Context(), settings); err != nil {
		WriteError(w, toAPIError(err), h.logger)
		return
	}

	sess, err := h.sessions.Start(settings, maxTurns)
	if err != nil {
		WriteError(w, toAPIError(err), h.logger)
		return
	}

	h.logger.Info("conversation started",
		zap.String("conversation_id", sess.ID()),
		zap.String("agent1_model", settings.Agent1Model),
		zap.String("agent2_model", settings.Agent2Model),
		zap.Duration("time_limit", settings.TimeLimit),
		zap.Int("max_turns", maxTurns),
	)

	WriteJSON(w, http.StatusCreated, Response{
		Success: true,
		Data: api.CreateConversationResponse{
			ID:        sess.ID(),
			StartedAt: sess.State().StartedAt(),
			StreamURL: fmt.Sprintf("/api/v1/conversations/%s/stream", sess.ID()),
		},
		Timestamp: time.Now(),
	})
}

func (h *ConversationHandler) settingsFrom(req api.CreateConversationRequest) (conversation.Settings, int, error) {
	settings := conversation.Settings{
		Agent1Model:  req.Agent1Model,
		Agent2Model:  req.Agent2Model,
		Topic:        req.Topic,
		SystemPrompt: h.defaults.SystemPrompt,
		TimeLimit:    h.defaults.TimeLimit,
		Agent1Name:   firstNonEmpty(req.Agent1Name, h.defaults.Agent1Name),
		Agent2Name:   firstNonEmpty(req.Agent2Name, h.defaults.Agent2Name),
	}
	if req.TimeLimitMinutes != nil {
		if *req.TimeLimitMinutes < 0 {
			return settings, 0, conversation.NewValidationError("time_limit_minutes must not be negative")
		}
		if int64(*req.TimeLimitMinutes) > conversation.MaxTimeLimitMinutes {
			return settings, 0, conversation.NewValidationError("time_limit_minutes is too large")
		}
		settings.TimeLimit = time.Duration(*req.TimeLimitMinutes) * time.Minute
	}
	if req.SystemPrompt != nil {
		settings.SystemPrompt = *req.SystemPrompt
	}

	maxTurns := h.defaults.MaxTurns
	if req.MaxTurns < 0 {
		return settings, 0, conversation.NewValidationError("max_turns must not be negative")
	}
	if req.MaxTurns > 0 {
		maxTurns = req.MaxTurns
	}
	return settings, maxTurns, settings.Validate()
}

// validateModels 把未知模型报告为校验错误，后端故障原样返回
func (h *ConversationHandler) validateModels(ctx context.Context, s conversation.Settings) error {
	if h.models == nil {
		return nil
	}
	err := h.models.Validate(ctx, s.Agent1Model, s.Agent2Model)
	if types.IsErrorCode(err, types.ErrModelNotFound) {
		e, _ := types.AsError(err)
		return conversation.NewValidationError(e.Message).WithCause(err)
	}
	return err
}

// HandleList 列出进程内的对话
// @Summary 对话列表
// @Tags 对话
// @Produce json
// @Success 200 {object} Response "对话状态列表"
// @Router /api/v1/conversations [get]
func (h *ConversationHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	sessions := h.sessions.List()
	out := make([]api.ConversationStatus, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Status())
	}
	WriteSuccess(w, out)
}

// HandleGet 查询对话状态
// @Summary 对话状态
// @Tags 对话
// @Produce json
// @Param id path string true "对话 ID"
// @Success 200 {object} Response "对话状态"
// @Failure 404 {object} Response "对话不存在"
// @Router /api/v1/conversations/{id} [get]
func (h *ConversationHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}
	WriteSuccess(w, sess.Status())
}

// HandleStop 请求停止对话，在下一个轮次边界生效
// @Summary 停止对话
// @Tags 对话
// @Produce json
// @Param id path string true "对话 ID"
// @Success 202 {object} Response "已请求停止"
// @Failure 404 {object} Response "对话不存在"
// @Router /api/v1/conversations/{id}/stop [post]
func (h *ConversationHandler) HandleStop(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}
	sess.Stop()
	h.logger.Info("stop requested", zap.String("conversation_id", sess.ID()))
	WriteJSON(w, http.StatusAccepted, Response{Success: true, Data: sess.Status(), Timestamp: time.Now()})
}

// HandleExport 导出对话
// @Summary 导出对话
// @Tags 对话
// @Produce text/markdown
// @Produce json
// @Param id path string true "对话 ID"
// @Param format query string false "markdown 或 json"
// @Success 200 {string} string "导出文档"
// @Failure 404 {object} Response "对话不存在"
// @Router /api/v1/conversations/{id}/export [get]
func (h *ConversationHandler) HandleExport(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "markdown"
	}
	if format != "markdown" && format != "json" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest,
			fmt.Sprintf("unsupported export format %q (markdown, json)", format), h.logger)
		return
	}

	doc, err := h.document(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteError(w, toAPIError(err), h.logger)
		return
	}
	writeDocument(w, doc, format)
}

func writeDocument(w http.ResponseWriter, doc conversation.Document, format string) {
	name := conversation.FileName(doc.StartedAt)
	if format == "json" {
		body, err := doc.JSON()
		if err != nil {
			WriteError(w, toAPIError(err), nil)
			return
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", strings.TrimSuffix(name, ".md")+".json"))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(body)
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(doc.Markdown()))
}

// document 依次从内存会话、缓存与归档中查找导出文档
func (h *ConversationHandler) document(ctx context.Context, id string) (conversation.Document, error) {
	if sess, ok := h.sessions.Get(id); ok {
		return conversation.BuildExport(sess.State(), conversation.WithTokenCounts()), nil
	}
	if h.cache != nil {
		if doc, ok := h.cachedDocument(ctx, id); ok {
			return doc, nil
		}
	}
	if h.transcripts != nil {
		t, err := h.transcripts.Get(ctx, id)
		if err == nil {
			return t.Document(), nil
		}
		if !types.IsErrorCode(err, types.ErrNotFound) {
			return conversation.Document{}, err
		}
	}
	return conversation.Document{}, notFound(id)
}

// HandleStream 通过 WebSocket 推送对话事件。
// 先发送状态快照与已提交消息，再转发实时事件，直到对话结束。
// @Summary 对话事件流
// @Tags 对话
// @Param id path string true "对话 ID"
// @Success 101 {string} string "WebSocket"
// @Failure 404 {object} Response "对话不存在"
// @Router /api/v1/conversations/{id}/stream [get]
func (h *ConversationHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}

	// 事件流是长连接，解除服务器的读写超时
	rc := http.NewResponseController(w)
	_ = rc.SetReadDeadline(time.Time{})
	_ = rc.SetWriteDeadline(time.Time{})

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.originPatterns})
	if err != nil {
		h.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	// 客户端只读；CloseRead 处理 ping/close 帧并在断开时取消 ctx
	ctx := conn.CloseRead(r.Context())

	snapshot, events, unsubscribe := sess.hub.subscribe()
	defer unsubscribe()

	status := sess.Status()
	if err := h.write(ctx, conn, api.StreamEvent{Type: api.EventSnapshot, Status: &status, Timestamp: time.Now()}); err != nil {
		return
	}
	for i, m := range snapshot {
		view := api.NewMessageView(i, m)
		if err := h.write(ctx, conn, api.StreamEvent{Type: api.EventMessage, Message: &view, Timestamp: m.Timestamp}); err != nil {
			return
		}
	}
	next := len(snapshot)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, open := <-events:
			if !open {
				if _, finished := sess.Result(); finished {
					conn.Close(websocket.StatusNormalClosure, "conversation finished")
				} else {
					conn.Close(websocket.StatusTryAgainLater, "subscriber too slow")
				}
				return
			}
			if ev.Type == api.EventMessage {
				if ev.Message.Index < next {
					continue
				}
				next = ev.Message.Index + 1
			}
			if err := h.write(ctx, conn, ev); err != nil {
				return
			}
		}
	}
}

func (h *ConversationHandler) write(ctx context.Context, conn *websocket.Conn, ev api.StreamEvent) error {
	ctx, cancel := context.WithTimeout(ctx, h.writeTimeout)
	defer cancel()
	if err := wsjson.Write(ctx, conn, ev); err != nil {
		h.logger.Debug("stream write failed", zap.String("event", string(ev.Type)), zap.Error(err))
		return err
	}
	return nil
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

func (h *ConversationHandler) lookup(w http.ResponseWriter, r *http.Request) (*Session, bool) {
	id := r.PathValue("id")
	sess, ok := h.sessions.Get(id)
	if !ok {
		WriteError(w, notFound(id), h.logger)
		return nil, false
	}
	return sess, true
}

func notFound(id string) *types.Error {
	return types.NewError(types.ErrNotFound, fmt.Sprintf("conversation %q not found", id)).
		WithHTTPStatus(http.StatusNotFound)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
