package tokenizer

import (
	"fmt"
	"strings"
	"sync"
)

// Tokenizer 统一的 token 计数接口
type Tokenizer interface {
	CountTokens(text string) (int, error)
	// CountMessages 含每条消息的角色与分隔符开销
	CountMessages(messages []Message) (int, error)
	Name() string
}

// Message 只保留计数需要的字段，llm 包可以导入本包而不成环
type Message struct {
	Role    string
	Content string
}

// registry 模型名（或前缀）到分词器
type registry struct {
	mu     sync.RWMutex
	byName map[string]Tokenizer
}

func (r *registry) lookup(model string) (Tokenizer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if t, ok := r.byName[model]; ok {
		return t, true
	}
	var (
		best    Tokenizer
		bestLen int
	)
	for prefix, t := range r.byName {
		if len(prefix) > bestLen && strings.HasPrefix(model, prefix) {
			best, bestLen = t, len(prefix)
		}
	}
	return best, best != nil
}

var defaultRegistry = &registry{byName: make(map[string]Tokenizer)}

// RegisterTokenizer 注册模型名或模型名前缀，重复注册覆盖
func RegisterTokenizer(model string, t Tokenizer) {
	defaultRegistry.mu.Lock()
	defaultRegistry.byName[model] = t
	defaultRegistry.mu.Unlock()
}

// GetTokenizer 精确匹配优先，其次最长前缀（"gpt-4o" 匹配 "gpt-4o-mini"）
func GetTokenizer(model string) (Tokenizer, error) {
	if t, ok := defaultRegistry.lookup(model); ok {
		return t, nil
	}
	return nil, fmt.Errorf("no tokenizer registered for model: %s", model)
}

// GetTokenizerOrEstimator 未注册的模型（Ollama 本地模型通常如此）退回估算器
func GetTokenizerOrEstimator(model string) Tokenizer {
	if t, ok := defaultRegistry.lookup(model); ok {
		return t
	}
	return NewEstimatorTokenizer(model)
}

// CountOrEstimate 用 t 计数，t 为 nil 或出错（编码表无法加载）时用估算值
func CountOrEstimate(t Tokenizer, text string) int {
	if t != nil {
		if n, err := t.CountTokens(text); err == nil {
			return n
		}
	}
	n, _ := NewEstimatorTokenizer("").CountTokens(text)
	return n
}
