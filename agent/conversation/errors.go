package conversation

import (
	"fmt"
	"net/http"

	"github.com/BaSui01/duochat/types"
)

// NewValidationError reports invalid construction input.
func NewValidationError(msg string) *types.Error {
	return types.NewError(types.ErrValidation, msg).WithHTTPStatus(http.StatusBadRequest)
}

// NewEmptyResponseError reports a completed stream that produced no content.
// It is a hard stop for the conversation and is never retried.
func NewEmptyResponseError(who string) *types.Error {
	return types.NewError(types.ErrEmptyResponse,
		fmt.Sprintf("%s failed to generate a response. The conversation has been stopped.", who)).
		WithHTTPStatus(http.StatusBadGateway)
}

// NewBackendError wraps a connectivity, timeout or stream failure from the
// model backend. The retryable flag mirrors the cause but the core never retries.
func NewBackendError(who string, cause error) *types.Error {
	e := types.NewError(types.ErrBackend, fmt.Sprintf("%s: backend request failed", who)).
		WithCause(cause).
		WithHTTPStatus(http.StatusBadGateway)
	if inner, ok := types.AsError(cause); ok {
		e.Retryable = inner.Retryable
		e.Provider = inner.Provider
	}
	return e
}

func IsValidationError(err error) bool {
	return types.IsErrorCode(err, types.ErrValidation)
}

func IsEmptyResponse(err error) bool {
	return types.IsErrorCode(err, types.ErrEmptyResponse)
}

func IsBackendError(err error) bool {
	return types.IsErrorCode(err, types.ErrBackend)
}

// describe renders an agent as "Agent 1 (llama2)" for error messages.
func describe(agent AgentInfo) string {
	return fmt.Sprintf("%s (%s)", agent.Name, agent.Model)
}
