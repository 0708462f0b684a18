package ollama

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/BaSui01/duochat/internal/tlsutil"
	"github.com/BaSui01/duochat/llm"
	"github.com/BaSui01/duochat/llm/providers"
	"github.com/BaSui01/duochat/types"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const (
	// DefaultBaseURL 是本地 Ollama 的默认地址
	DefaultBaseURL = "http://localhost:11434"

	providerName = "ollama"
)

// Provider 通过 Ollama HTTP API 访问本地模型。
type Provider struct {
	cfg    providers.OllamaConfig
	client *resty.Client
	logger *zap.Logger
}

// New 创建 Ollama Provider，缺省字段使用默认值。
func New(cfg providers.OllamaConfig, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.ListTimeout <= 0 {
		cfg.ListTimeout = 10 * time.Second
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = providers.DefaultIdleTimeout
	}

	client := resty.New().
		SetTransport(tlsutil.SecureTransport()).
		SetBaseURL(cfg.BaseURL).
		SetHeader("User-Agent", "duochat").
		SetLogger(logger.Sugar())
	if cfg.Timeout > 0 {
		client.SetTimeout(cfg.Timeout)
	}
	if cfg.APIKey != "" {
		client.SetAuthToken(cfg.APIKey)
	}

	return &Provider{
		cfg:    cfg,
		client: client,
		logger: logger.With(zap.String("component", "provider"), zap.String("provider", providerName)),
	}
}

func (p *Provider) Name() string { return providerName }

// BaseURL 返回规范化后的服务地址
func (p *Provider) BaseURL() string { return p.cfg.BaseURL }

type tagsResponse struct {
	Models []struct {
		Name       string    `json:"name"`
		Size       int64     `json:"size"`
		ModifiedAt time.Time `json:"modified_at"`
		Details    struct {
			Family string `json:"family"`
		} `json:"details"`
	} `json:"models"`
}

// ListModels 调用 /api/tags 列出本地已拉取的模型。
func (p *Provider) ListModels(ctx context.Context) ([]llm.Model, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.ListTimeout)
	defer cancel()

	var tags tagsResponse
	resp, err := p.client.R().
		SetContext(ctx).
		ForceContentType("application/json").
		SetResult(&tags).
		Get("/api/tags")
	if err != nil {
		return nil, providers.MapTransportError(err, providerName)
	}
	if resp.IsError() {
		return nil, providers.MapHTTPError(resp.StatusCode(), providers.ErrorMessageFromBody(resp.Body()), providerName)
	}

	models := make([]llm.Model, 0, len(tags.Models))
	for _, m := range tags.Models {
		models = append(models, llm.Model{
			ID:         m.Name,
			Family:     m.Details.Family,
			Size:       m.Size,
			ModifiedAt: m.ModifiedAt,
		})
	}
	p.logger.Debug("listed models", zap.Int("count", len(models)))
	return models, nil
}

// HealthCheck 调用 /api/version 探测服务是否可达。
func (p *Provider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.ListTimeout)
	defer cancel()

	start := time.Now()
	var version struct {
		Version string `json:"version"`
	}
	resp, err := p.client.R().
		SetContext(ctx).
		ForceContentType("application/json").
		SetResult(&version).
		Get("/api/version")
	latency := time.Since(start)
	if err != nil {
		return &llm.HealthStatus{Healthy: false, Latency: latency}, providers.MapTransportError(err, providerName)
	}
	if resp.IsError() {
		return &llm.HealthStatus{Healthy: false, Latency: latency},
			providers.MapHTTPError(resp.StatusCode(), providers.ErrorMessageFromBody(resp.Body()), providerName)
	}
	return &llm.HealthStatus{Healthy: true, Latency: latency, Message: version.Version}, nil
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []llm.Message `json:"messages"`
	Stream   bool          `json:"stream"`
	System   string        `json:"system,omitempty"`
}

type chatLine struct {
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done       bool   `json:"done"`
	DoneReason string `json:"done_reason,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Stream 调用 /api/chat 并把 NDJSON 响应转换为片段通道。
func (p *Provider) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	if req == nil || req.Model == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "model is required").WithProvider(providerName)
	}

	streamCtx, watchdog, cancel := providers.WatchStream(ctx, p.cfg.IdleTimeout)

	resp, err := p.client.R().
		SetContext(streamCtx).
		SetHeader("Accept", "application/x-ndjson").
		SetBody(chatRequest{
			Model:    req.Model,
			Messages: req.Messages,
			Stream:   true,
			System:   req.SystemPrompt,
		}).
		SetDoNotParseResponse(true).
		Post("/api/chat")
	if err != nil {
		watchdog.Stop()
		idle := providers.IsIdleTimeout(streamCtx)
		cancel(nil)
		if idle {
			return nil, providers.IdleTimeoutError(err, providerName)
		}
		return nil, providers.MapTransportError(err, providerName)
	}

	body := resp.RawBody()
	if resp.StatusCode() < http.StatusOK || resp.StatusCode() >= http.StatusMultipleChoices {
		watchdog.Stop()
		msg := providers.ReadErrorMessage(body)
		body.Close()
		cancel(nil)
		return nil, providers.MapHTTPError(resp.StatusCode(), msg, providerName)
	}

	p.logger.Debug("stream opened", zap.String("model", req.Model), zap.Int("messages", len(req.Messages)))

	ch := make(chan llm.StreamChunk)
	go func() {
		defer close(ch)
		defer cancel(nil)
		defer watchdog.Stop()
		defer body.Close()
		p.readStream(streamCtx, body, watchdog, ch)
	}()
	return ch, nil
}

func (p *Provider) readStream(ctx context.Context, body io.Reader, watchdog *providers.IdleWatchdog, ch chan<- llm.StreamChunk) {
	send := func(chunk llm.StreamChunk) bool {
		select {
		case <-ctx.Done():
			return false
		case ch <- chunk:
			return true
		}
	}
	fail := func(e *types.Error) {
		// 使用独立的 select，保证 ctx 取消后消费者仍能在关闭前收到错误
		select {
		case ch <- llm.StreamChunk{Err: e}:
		case <-time.After(time.Second):
		}
	}

	reader := bufio.NewReader(body)
	for {
		line, err := reader.ReadBytes('\n')
		watchdog.Reset()

		if trimmed := strings.TrimSpace(string(line)); trimmed != "" {
			var parsed chatLine
			if jerr := json.Unmarshal([]byte(trimmed), &parsed); jerr != nil {
				p.logger.Warn("skipping undecodable stream line", zap.String("line", trimmed), zap.Error(jerr))
			} else {
				if parsed.Error != "" {
					fail(types.NewError(types.ErrMalformedStream, parsed.Error).WithProvider(providerName))
					return
				}
				if parsed.Message.Content != "" {
					if !send(llm.StreamChunk{Content: parsed.Message.Content}) {
						fail(providers.InterruptedError(ctx, providerName))
						return
					}
				}
				if parsed.Done {
					send(llm.StreamChunk{Done: true})
					return
				}
			}
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				fail(types.NewError(types.ErrMalformedStream, "stream ended before completion").WithProvider(providerName))
				return
			}
			if ctx.Err() != nil {
				fail(providers.InterruptedError(ctx, providerName))
				return
			}
			fail(types.NewError(types.ErrUpstreamError, "stream read failed").
				WithCause(err).WithRetryable(true).WithProvider(providerName))
			return
		}
	}
}
