package openaicompat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/BaSui01/duochat/internal/tlsutil"
	"github.com/BaSui01/duochat/llm"
	"github.com/BaSui01/duochat/llm/providers"
	"github.com/BaSui01/duochat/types"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

const providerName = "openai"

// DefaultBaseURL 是 OpenAI 官方 API 地址
const DefaultBaseURL = "https://api.openai.com/v1"

// Provider 通过 OpenAI Chat Completions 协议访问模型。
type Provider struct {
	cfg    providers.OpenAIConfig
	client *openai.Client
	logger *zap.Logger
}

// New 创建 OpenAI 兼容 Provider。
func New(cfg providers.OpenAIConfig, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = providers.DefaultIdleTimeout
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = cfg.BaseURL
	clientCfg.OrgID = cfg.Organization
	// 流式响应不能设整体超时：列表请求由 ctx 限时，流式请求由 idle watchdog 限时
	clientCfg.HTTPClient = tlsutil.SecureHTTPClient(0)

	return &Provider{
		cfg:    cfg,
		client: openai.NewClientWithConfig(clientCfg),
		logger: logger.With(zap.String("component", "provider"), zap.String("provider", providerName)),
	}
}

func (p *Provider) Name() string { return providerName }

// ListModels 列出 /models 返回的模型。
func (p *Provider) ListModels(ctx context.Context) ([]llm.Model, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	list, err := p.client.ListModels(ctx)
	if err != nil {
		return nil, mapError(err)
	}
	models := make([]llm.Model, 0, len(list.Models))
	for _, m := range list.Models {
		models = append(models, llm.Model{
			ID:         m.ID,
			Family:     m.OwnedBy,
			ModifiedAt: time.Unix(m.CreatedAt, 0).UTC(),
		})
	}
	return models, nil
}

// HealthCheck 以模型列表请求作为探活。
func (p *Provider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	start := time.Now()
	_, err := p.ListModels(ctx)
	status := &llm.HealthStatus{Healthy: err == nil, Latency: time.Since(start)}
	return status, err
}

// Stream 发起流式 Chat Completions 请求。
// 超过 IdleTimeout 没有收到 SSE 事件时，流以 ErrUpstreamTimeout 结束。
func (p *Provider) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	if req == nil || req.Model == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "model is required").WithProvider(providerName)
	}

	streamCtx, watchdog, cancel := providers.WatchStream(ctx, p.cfg.IdleTimeout)
	stream, err := p.client.CreateChatCompletionStream(streamCtx, openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: toOpenAIMessages(req),
		Stream:   true,
	})
	if err != nil {
		watchdog.Stop()
		idle := providers.IsIdleTimeout(streamCtx)
		cancel(nil)
		if idle {
			return nil, providers.IdleTimeoutError(err, providerName)
		}
		return nil, mapError(err)
	}

	ch := make(chan llm.StreamChunk)
	go func() {
		defer close(ch)
		defer cancel(nil)
		defer watchdog.Stop()
		defer stream.Close()
		p.readStream(streamCtx, stream, watchdog, ch)
	}()
	return ch, nil
}

func (p *Provider) readStream(ctx context.Context, stream *openai.ChatCompletionStream, watchdog *providers.IdleWatchdog, ch chan<- llm.StreamChunk) {
	send := func(chunk llm.StreamChunk) bool {
		select {
		case <-ctx.Done():
			return false
		case ch <- chunk:
			return true
		}
	}
	// ctx 取消后消费者仍能在关闭前收到错误
	fail := func(e *types.Error) {
		select {
		case ch <- llm.StreamChunk{Err: e}:
		case <-time.After(time.Second):
		}
	}

	for {
		resp, err := stream.Recv()
		watchdog.Reset()
		switch {
		case errors.Is(err, io.EOF):
			send(llm.StreamChunk{Done: true})
			return
		case err != nil && ctx.Err() != nil:
			fail(providers.InterruptedError(ctx, providerName))
			return
		case err != nil:
			fail(mapError(err))
			return
		}
		for _, choice := range resp.Choices {
			if choice.Delta.Content == "" {
				continue
			}
			if !send(llm.StreamChunk{Content: choice.Delta.Content}) {
				fail(providers.InterruptedError(ctx, providerName))
				return
			}
		}
	}
}

func toOpenAIMessages(req *llm.ChatRequest) []openai.ChatCompletionMessage {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}
	for _, m := range req.Messages {
		role := openai.ChatMessageRoleAssistant
		switch m.Role {
		case llm.RoleUser:
			role = openai.ChatMessageRoleUser
		case llm.RoleSystem:
			role = openai.ChatMessageRoleSystem
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	return msgs
}

// mapError 将 go-openai 的错误类型映射为 types.Error
func mapError(err error) *types.Error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return providers.MapHTTPError(apiErr.HTTPStatusCode, apiErr.Message, providerName)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		msg := "request failed"
		if reqErr.Err != nil {
			msg = reqErr.Err.Error()
		}
		return providers.MapHTTPError(reqErr.HTTPStatusCode, msg, providerName)
	}
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) || errors.Is(err, openai.ErrTooManyEmptyStreamMessages) {
		return types.NewError(types.ErrMalformedStream, "malformed stream payload").
			WithCause(err).WithProvider(providerName)
	}
	return providers.MapTransportError(err, providerName)
}
