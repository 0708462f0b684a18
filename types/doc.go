// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 duochat 的全局共享类型定义。

types 是最底层的公共包，不依赖任何内部包。

  - Error / ErrorCode: 结构化错误体系，含 HTTP 状态码、Retryable、Provider 标记
  - AsError / IsErrorCode / GetErrorCode / IsRetryable: 基于 errors.As 的错误工具链
  - WithRequestID / WithUserID / WithConversationID 等: context 传值辅助

对话核心使用三种错误码：VALIDATION_ERROR（构造参数非法）、
EMPTY_RESPONSE（后端流结束但没有内容）、BACKEND_ERROR（连接、超时或流格式错误）。
*/
package types
