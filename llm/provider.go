package llm

import (
	"context"
	"time"

	"github.com/BaSui01/duochat/types"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message 是发送给后端的一条上下文消息。
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ChatRequest 描述一次流式对话请求。
// SystemPrompt 与消息列表分开传递，不混入历史。
type ChatRequest struct {
	Model        string    `json:"model"`
	Messages     []Message `json:"messages"`
	SystemPrompt string    `json:"system,omitempty"`
}

// StreamChunk 是流式响应中的一个增量片段。
// Err 非空表示流在此处失败，之后通道会被关闭。
type StreamChunk struct {
	Content string       `json:"content,omitempty"`
	Done    bool         `json:"done,omitempty"`
	Err     *types.Error `json:"error,omitempty"`
}

// Model 是后端可用的模型标识。
type Model struct {
	ID         string    `json:"id"`
	Family     string    `json:"family,omitempty"`
	Size       int64     `json:"size,omitempty"`
	ModifiedAt time.Time `json:"modified_at,omitempty"`
}

// HealthStatus 表示 Provider 健康检查结果。
type HealthStatus struct {
	Healthy bool          `json:"healthy"`
	Latency time.Duration `json:"latency"`
	Message string        `json:"message,omitempty"`
}

// Provider 是对话核心唯一依赖的后端能力：
// 给定模型标识、上下文和系统提示词，返回惰性的文本片段序列，或失败。
type Provider interface {
	// Stream 发起流式请求，返回增量响应通道。
	// 通道在成功结束或出现错误片段后关闭。
	Stream(ctx context.Context, req *ChatRequest) (<-chan StreamChunk, error)

	// ListModels 列出后端可用模型。
	ListModels(ctx context.Context) ([]Model, error)

	// HealthCheck 执行轻量级健康检查。
	HealthCheck(ctx context.Context) (*HealthStatus, error)

	// Name 返回 Provider 的唯一标识
	Name() string
}

// ModelIDs 提取模型标识列表，保持原有顺序。
func ModelIDs(models []Model) []string {
	ids := make([]string, 0, len(models))
	for _, m := range models {
		ids = append(ids, m.ID)
	}
	return ids
}
