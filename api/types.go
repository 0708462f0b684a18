package api

import (
	"time"

	"github.com/BaSui01/duochat/agent/conversation"
)

// =============================================================================
// 对话类型
// =============================================================================

// CreateConversationRequest 创建对话请求。
// @Description 启动一场两个模型之间的对话
type CreateConversationRequest struct {
	// 第一位发言者使用的模型
	Agent1Model string `json:"agent1_model" example:"llama2"`
	// 第二位发言者使用的模型，必须与 agent1_model 不同
	Agent2Model string `json:"agent2_model" example:"mistral"`
	// 话题，仅作为第一轮的输入
	Topic string `json:"topic" example:"the future of remote work"`
	// 时间限制（分钟），0 表示不限时，缺省使用服务端配置
	TimeLimitMinutes *int `json:"time_limit_minutes,omitempty" example:"10"`
	// 双方共享的系统提示词，缺省使用服务端配置
	SystemPrompt *string `json:"system_prompt,omitempty"`
	// 最大轮次，0 表示不限
	MaxTurns int `json:"max_turns,omitempty" example:"20"`
	// 显示名称
	Agent1Name string `json:"agent1_name,omitempty" example:"Agent 1"`
	Agent2Name string `json:"agent2_name,omitempty" example:"Agent 2"`
}

// CreateConversationResponse 创建对话响应
type CreateConversationResponse struct {
	ID        string    `json:"id" example:"5f0c6a0e-4d6f-4a8e-9d8f-0b9f3b6c2a11"`
	StartedAt time.Time `json:"started_at"`
	StreamURL string    `json:"stream_url" example:"/api/v1/conversations/5f0c.../stream"`
}

// AgentView 一位发言者
type AgentView struct {
	Slot  string `json:"slot" example:"agent1"`
	Name  string `json:"name" example:"Agent 1"`
	Model string `json:"model" example:"llama2"`
}

// ConversationStatus 对话状态。
// @Description 运行中或已结束对话的快照
type ConversationStatus struct {
	ID           string         `json:"id"`
	Topic        string         `json:"topic"`
	Status       string         `json:"status" example:"running"` // running, finished
	Agent1       AgentView      `json:"agent1"`
	Agent2       AgentView      `json:"agent2"`
	CurrentAgent *AgentView     `json:"current_agent,omitempty"`
	NextAgent    *AgentView     `json:"next_agent,omitempty"`
	MessageCount int            `json:"message_count"`
	PerAgent     map[string]int `json:"per_agent"`
	StartedAt    time.Time      `json:"started_at"`
	EndedAt      *time.Time     `json:"ended_at,omitempty"`
	// 已用时长（秒）
	ElapsedSeconds float64 `json:"elapsed_seconds"`
	// 剩余时长（秒），不限时为空
	TimeRemainingSeconds *float64 `json:"time_remaining_seconds,omitempty"`
	TimeLimitMinutes     int      `json:"time_limit_minutes"`
	StopRequested        bool     `json:"stop_requested"`
	FinishReason         string   `json:"finish_reason,omitempty"`
	Turns                int      `json:"turns,omitempty"`
	Error                string   `json:"error,omitempty"`
}

// MessageView 一条已提交的消息
type MessageView struct {
	Index     int       `json:"index"`
	Name      string    `json:"name"`
	Slot      string    `json:"slot"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// =============================================================================
// 流事件类型
// =============================================================================

// StreamEventType 流事件类型
type StreamEventType string

const (
	EventSnapshot   StreamEventType = "snapshot"
	EventTurnStart  StreamEventType = "turn_start"
	EventFragment   StreamEventType = "fragment"
	EventMessage    StreamEventType = "message"
	EventTurnFailed StreamEventType = "turn_failed"
	EventFinished   StreamEventType = "finished"
)

// StreamEvent 通过 WebSocket 推送给客户端的事件。
// fragment 事件的 content 是本轮累计文本，而不是增量。
type StreamEvent struct {
	Type      StreamEventType     `json:"type"`
	Agent     *AgentView          `json:"agent,omitempty"`
	Turn      int                 `json:"turn,omitempty"`
	Content   string              `json:"content,omitempty"`
	Message   *MessageView        `json:"message,omitempty"`
	Status    *ConversationStatus `json:"status,omitempty"`
	Error     string              `json:"error,omitempty"`
	Timestamp time.Time           `json:"timestamp"`
}

// =============================================================================
// 模型与归档类型
// =============================================================================

// ModelView 后端模型
type ModelView struct {
	ID         string    `json:"id" example:"llama2:latest"`
	Family     string    `json:"family,omitempty" example:"llama"`
	Size       int64     `json:"size,omitempty"`
	ModifiedAt time.Time `json:"modified_at,omitempty"`
}

// ModelsResponse 模型列表
type ModelsResponse struct {
	Provider string      `json:"provider" example:"ollama"`
	Models   []ModelView `json:"models"`
}

// TranscriptSummary 归档摘要
type TranscriptSummary struct {
	ID           string     `json:"id"`
	Topic        string     `json:"topic"`
	Agent1Model  string     `json:"agent1_model"`
	Agent2Model  string     `json:"agent2_model"`
	StartedAt    time.Time  `json:"started_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
	FinishReason string     `json:"finish_reason"`
	MessageCount int        `json:"message_count"`
}

// =============================================================================
// 转换函数
// =============================================================================

// NewAgentView 转换发言者
func NewAgentView(a conversation.AgentInfo) AgentView {
	return AgentView{Slot: a.Slot.String(), Name: a.Name, Model: a.Model}
}

// NewMessageView 转换消息
func NewMessageView(index int, m conversation.Message) MessageView {
	return MessageView{
		Index:     index,
		Name:      m.Name,
		Slot:      m.Slot.String(),
		Content:   m.Content,
		Timestamp: m.Timestamp,
	}
}

// NewConversationStatus 从状态快照生成响应；result 为空表示仍在运行
func NewConversationStatus(state *conversation.State, stopRequested bool, result *conversation.Result) ConversationStatus {
	stats := state.Stats()
	status := ConversationStatus{
		ID:               state.ID(),
		Topic:            state.Topic(),
		Status:           "running",
		Agent1:           NewAgentView(state.Agent(conversation.Agent1)),
		Agent2:           NewAgentView(state.Agent(conversation.Agent2)),
		MessageCount:     stats.MessageCount,
		PerAgent:         make(map[string]int, len(stats.PerAgent)),
		StartedAt:        state.StartedAt(),
		ElapsedSeconds:   stats.Elapsed.Seconds(),
		TimeLimitMinutes: int(state.TimeLimit() / time.Minute),
		StopRequested:    stopRequested,
	}
	for slot, n := range stats.PerAgent {
		status.PerAgent[slot.String()] = n
	}
	if end, ok := state.EndedAt(); ok {
		status.Status = "finished"
		status.EndedAt = &end
	} else {
		current, next := NewAgentView(state.CurrentAgent()), NewAgentView(state.NextAgent())
		status.CurrentAgent, status.NextAgent = &current, &next
	}
	if remaining, limited := state.TimeRemaining(); limited {
		secs := remaining.Seconds()
		status.TimeRemainingSeconds = &secs
	}
	if result != nil {
		status.FinishReason = string(result.Reason)
		status.Turns = result.Turns
		if result.Err != nil {
			status.Error = result.Err.Error()
		}
	}
	return status
}
