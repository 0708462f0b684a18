// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
# 概述

包 providers 是具体后端实现（ollama、openaicompat）的公共基础层，
负责配置结构与错误语义映射。

# 核心类型

  - BaseProviderConfig: 所有 Provider 共享的基础配置（APIKey、BaseURL、Timeout）
  - OllamaConfig: 增加模型列表超时与流式空闲超时
  - OpenAIConfig: 增加 Organization

# 核心函数

  - MapHTTPError: 将 HTTP 状态码映射为 types.Error（含 Retryable 标记）
  - MapTransportError: 将连接失败、超时与取消映射为 types.Error
  - ReadErrorMessage / ErrorMessageFromBody: 解析 OpenAI 嵌套与 Ollama 扁平两种错误体
*/
package providers
