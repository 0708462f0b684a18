package factory

import (
	"fmt"
	"strings"
	"time"

	"github.com/BaSui01/duochat/llm"
	"github.com/BaSui01/duochat/llm/providers"
	"github.com/BaSui01/duochat/llm/providers/ollama"
	"github.com/BaSui01/duochat/llm/providers/openaicompat"
	"github.com/BaSui01/duochat/llm/tokenizer"
	"go.uber.org/zap"
)

// ProviderConfig is the generic configuration accepted by the factory function.
type ProviderConfig struct {
	APIKey       string        `json:"api_key" yaml:"api_key"`
	BaseURL      string        `json:"base_url" yaml:"base_url"`
	Timeout      time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	ListTimeout  time.Duration `json:"list_timeout,omitempty" yaml:"list_timeout,omitempty"`
	IdleTimeout  time.Duration `json:"idle_timeout,omitempty" yaml:"idle_timeout,omitempty"`
	Organization string        `json:"organization,omitempty" yaml:"organization,omitempty"`
}

// SupportedProviders lists the names accepted by NewProviderFromConfig.
var SupportedProviders = []string{"ollama", "openai"}

// NewProviderFromConfig creates a Provider instance based on the provider name.
//
// Supported names: ollama (default when empty), openai.
func NewProviderFromConfig(name string, cfg ProviderConfig, logger *zap.Logger) (llm.Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	base := providers.BaseProviderConfig{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		Timeout: cfg.Timeout,
	}

	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "ollama":
		return ollama.New(providers.OllamaConfig{
			BaseProviderConfig: base,
			ListTimeout:        cfg.ListTimeout,
			IdleTimeout:        cfg.IdleTimeout,
		}, logger), nil
	case "openai", "openai-compatible":
		if base.Timeout == 0 {
			base.Timeout = cfg.ListTimeout
		}
		// OpenAI 兼容后端上的 gpt-* 模型按 tiktoken 计数，其余模型仍走估算器
		tokenizer.RegisterOpenAITokenizers()
		return openaicompat.New(providers.OpenAIConfig{
			BaseProviderConfig: base,
			Organization:       cfg.Organization,
			IdleTimeout:        cfg.IdleTimeout,
		}, logger), nil
	default:
		return nil, fmt.Errorf("unsupported provider %q (supported: %s)", name, strings.Join(SupportedProviders, ", "))
	}
}
