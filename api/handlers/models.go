package handlers

import (
	"context"
	"net/http"

	"github.com/BaSui01/duochat/api"
	"github.com/BaSui01/duochat/llm"
	"go.uber.org/zap"
)

// ModelLister 列出后端模型
type ModelLister interface {
	Models(ctx context.Context) ([]llm.Model, error)
	Refresh(ctx context.Context) ([]llm.Model, error)
}

// ModelsHandler 模型列表处理器
type ModelsHandler struct {
	provider string
	catalog  ModelLister
	logger   *zap.Logger
}

// NewModelsHandler 创建模型列表处理器
func NewModelsHandler(provider string, catalog ModelLister, logger *zap.Logger) *ModelsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ModelsHandler{
		provider: provider,
		catalog:  catalog,
		logger:   logger.With(zap.String("component", "models_api")),
	}
}

// Register 注册模型路由
func (h *ModelsHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/models", h.HandleList)
}

// HandleList 返回后端模型列表，refresh=true 时绕过缓存
// @Summary 模型列表
// @Tags 模型
// @Produce json
// @Param refresh query bool false "绕过缓存"
// @Success 200 {object} Response "模型列表"
// @Failure 502 {object} Response "后端不可用"
// @Router /api/v1/models [get]
func (h *ModelsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	list := h.catalog.Models
	if r.URL.Query().Get("refresh") == "true" {
		list = h.catalog.Refresh
	}

	models, err := list(r.Context())
	if err != nil {
		WriteError(w, toAPIError(err), h.logger)
		return
	}

	resp := api.ModelsResponse{Provider: h.provider, Models: make([]api.ModelView, 0, len(models))}
	for _, m := range models {
		resp.Models = append(resp.Models, api.ModelView{
			ID:         m.ID,
			Family:     m.Family,
			Size:       m.Size,
			ModifiedAt: m.ModifiedAt,
		})
	}
	WriteSuccess(w, resp)
}
