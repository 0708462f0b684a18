// MockProvider 的 LLM 提供商测试模拟实现。
//
// 支持按调用顺序编排流式片段、流中途错误注入与调用记录。
package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/BaSui01/duochat/llm"
	"github.com/BaSui01/duochat/types"
)

// --- Script 结构 ---

// Script 描述一次 Stream 调用的行为
type Script struct {
	// Fragments 按顺序发送的文本片段
	Fragments []string
	// Err 在全部片段之后发送的流内错误
	Err *types.Error
	// StreamErr 由 Stream 同步返回，不产生任何片段
	StreamErr error
	// NoDone 为 true 时关闭通道但不发送完成标记
	NoDone bool
	// Delay 每个片段之前的等待时间
	Delay time.Duration
	// Hang 为 true 时发送片段后阻塞直到 ctx 取消
	Hang bool
}

// --- MockProvider 结构 ---

// MockProvider 是 llm.Provider 的模拟实现
type MockProvider struct {
	mu sync.RWMutex

	name     string
	scripts  []Script
	fallback Script

	models    []llm.Model
	listErr   error
	health    *llm.HealthStatus
	healthErr error

	// 调用记录
	calls     []llm.ChatRequest
	listCalls int
}

// NewMockProvider 创建新的 MockProvider
func NewMockProvider() *MockProvider {
	return &MockProvider{
		name:     "mock",
		fallback: Script{Fragments: []string{"Mock response"}},
		models: []llm.Model{
			{ID: "llama2", Family: "llama"},
			{ID: "mistral", Family: "mistral"},
		},
		health: &llm.HealthStatus{Healthy: true, Latency: time.Millisecond},
	}
}

// --- Builder 方法 ---

// WithName 设置 Provider 名称
func (m *MockProvider) WithName(name string) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.name = name
	return m
}

// WithScripts 追加按调用顺序消费的脚本
func (m *MockProvider) WithScripts(scripts ...Script) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripts = append(m.scripts, scripts...)
	return m
}

// WithFragments 追加一次正常完成的流式响应
func (m *MockProvider) WithFragments(fragments ...string) *MockProvider {
	return m.WithScripts(Script{Fragments: fragments})
}

// WithFallback 设置脚本耗尽后的默认行为
func (m *MockProvider) WithFallback(s Script) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = s
	return m
}

// WithModels 设置 ListModels 返回的模型
func (m *MockProvider) WithModels(ids ...string) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.models = make([]llm.Model, 0, len(ids))
	for _, id := range ids {
		m.models = append(m.models, llm.Model{ID: id})
	}
	return m
}

// WithListError 设置 ListModels 返回的错误
func (m *MockProvider) WithListError(err error) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listErr = err
	return m
}

// WithHealth 设置健康检查结果
func (m *MockProvider) WithHealth(status *llm.HealthStatus, err error) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.health = status
	m.healthErr = err
	return m
}

// --- Provider 接口实现 ---

// Name 返回 Provider 名称
func (m *MockProvider) Name() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.name
}

// Stream 按脚本发送片段
func (m *MockProvider) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	m.mu.Lock()
	recorded := llm.ChatRequest{Model: req.Model, SystemPrompt: req.SystemPrompt}
	recorded.Messages = append([]llm.Message(nil), req.Messages...)
	m.calls = append(m.calls, recorded)

	script := m.fallback
	if len(m.scripts) > 0 {
		script = m.scripts[0]
		m.scripts = m.scripts[1:]
	}
	m.mu.Unlock()

	if script.StreamErr != nil {
		return nil, script.StreamErr
	}

	ch := make(chan llm.StreamChunk)
	go func() {
		defer close(ch)
		send := func(chunk llm.StreamChunk) bool {
			select {
			case ch <- chunk:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for _, f := range script.Fragments {
			if script.Delay > 0 {
				select {
				case <-time.After(script.Delay):
				case <-ctx.Done():
					return
				}
			}
			if !send(llm.StreamChunk{Content: f}) {
				return
			}
		}
		if script.Hang {
			<-ctx.Done()
			return
		}
		if script.Err != nil {
			send(llm.StreamChunk{Err: script.Err})
			return
		}
		if !script.NoDone {
			send(llm.StreamChunk{Done: true})
		}
	}()
	return ch, nil
}

// ListModels 返回可用模型列表
func (m *MockProvider) ListModels(ctx context.Context) ([]llm.Model, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.listErr != nil {
		return nil, m.listErr
	}
	return append([]llm.Model(nil), m.models...), nil
}

// HealthCheck 执行健康检查
func (m *MockProvider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.healthErr != nil {
		return nil, m.healthErr
	}
	return m.health, nil
}

// --- 调用记录 ---

// Calls 返回所有 Stream 调用的请求副本
func (m *MockProvider) Calls() []llm.ChatRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]llm.ChatRequest(nil), m.calls...)
}

// CallCount 返回 Stream 调用次数
func (m *MockProvider) CallCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.calls)
}

// LastCall 返回最近一次 Stream 请求
func (m *MockProvider) LastCall() (llm.ChatRequest, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.calls) == 0 {
		return llm.ChatRequest{}, false
	}
	return m.calls[len(m.calls)-1], true
}

// ListCallCount 返回 ListModels 调用次数
func (m *MockProvider) ListCallCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listCalls
}

// Reset 清空调用记录与剩余脚本
func (m *MockProvider) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.scripts = nil
	m.listCalls = 0
}

var _ llm.Provider = (*MockProvider)(nil)
