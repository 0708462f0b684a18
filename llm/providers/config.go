package providers

import "time"

// BaseProviderConfig 所有 Provider 共享的基础配置字段。
type BaseProviderConfig struct {
	APIKey  string        `json:"api_key" yaml:"api_key"`
	BaseURL string        `json:"base_url" yaml:"base_url"`
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// OllamaConfig Ollama Provider 配置
type OllamaConfig struct {
	BaseProviderConfig `yaml:",inline"`
	// ListTimeout 是 /api/tags 请求的超时
	ListTimeout time.Duration `json:"list_timeout,omitempty" yaml:"list_timeout,omitempty"`
	// IdleTimeout 是流式响应中两行之间允许的最长静默时间
	IdleTimeout time.Duration `json:"idle_timeout,omitempty" yaml:"idle_timeout,omitempty"`
}

// OpenAIConfig OpenAI 兼容 Provider 配置
type OpenAIConfig struct {
	BaseProviderConfig `yaml:",inline"`
	Organization       string `json:"organization,omitempty" yaml:"organization,omitempty"`
	// IdleTimeout 同 OllamaConfig.IdleTimeout，作用于 SSE 事件之间
	IdleTimeout time.Duration `json:"idle_timeout,omitempty" yaml:"idle_timeout,omitempty"`
}
