package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/BaSui01/duochat/types"
)

// MapHTTPError 将 HTTP 状态码映射为带有合适重试标记的 types.Error
// 这是所有提供者使用的通用错误映射函数
func MapHTTPError(status int, msg string, provider string) *types.Error {
	e := types.NewError(types.ErrUpstreamError, msg).
		WithHTTPStatus(status).
		WithProvider(provider)

	switch status {
	case http.StatusUnauthorized:
		e.Code = types.ErrUnauthorized
	case http.StatusForbidden:
		e.Code = types.ErrForbidden
	case http.StatusNotFound:
		// Ollama 对未拉取的模型返回 404
		e.Code = types.ErrModelNotFound
	case http.StatusTooManyRequests:
		e.Code = types.ErrRateLimit
		e.Retryable = true
	case http.StatusBadRequest:
		e.Code = types.ErrInvalidRequest
	case http.StatusGatewayTimeout:
		e.Code = types.ErrUpstreamTimeout
		e.Retryable = true
	default:
		e.Retryable = status >= 500
	}
	return e
}

// MapTransportError 将连接层错误（拨号失败、超时、取消）映射为 types.Error
func MapTransportError(err error, provider string) *types.Error {
	if err == nil {
		return nil
	}
	if e, ok := types.AsError(err); ok {
		return e
	}

	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return types.NewError(types.ErrUpstreamTimeout, "request to backend timed out").
			WithCause(err).WithRetryable(true).WithProvider(provider)
	case errors.Is(err, context.Canceled):
		return types.NewError(types.ErrUpstreamError, "request to backend was cancelled").
			WithCause(err).WithProvider(provider)
	case errors.As(err, &netErr) && netErr.Timeout():
		return types.NewError(types.ErrUpstreamTimeout, "backend did not respond in time").
			WithCause(err).WithRetryable(true).WithProvider(provider)
	default:
		return types.NewError(types.ErrProviderUnavailable, "cannot reach backend").
			WithCause(err).WithRetryable(true).WithProvider(provider)
	}
}

// ReadErrorMessage 读取响应体中的错误消息
// 尝试解析 JSON 错误响应（OpenAI 风格的 error 对象，或 Ollama 风格的 error 字符串），失败则回退到原始文本
func ReadErrorMessage(body io.Reader) string {
	data, err := io.ReadAll(body)
	if err != nil {
		return "failed to read error response"
	}
	return ErrorMessageFromBody(data)
}

// ErrorMessageFromBody 从已读取的响应体中提取错误消息
func ErrorMessageFromBody(data []byte) string {
	var nested struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &nested); err == nil && nested.Error.Message != "" {
		if nested.Error.Type != "" {
			return fmt.Sprintf("%s (type: %s)", nested.Error.Message, nested.Error.Type)
		}
		return nested.Error.Message
	}

	var flat struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &flat); err == nil && flat.Error != "" {
		return flat.Error
	}

	if len(data) == 0 {
		return "empty error response"
	}
	return string(data)
}
