// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
# 概述

包 openaicompat 提供 OpenAI 兼容后端的 Provider 实现，基于 go-openai 客户端。
适用于 OpenAI、vLLM、LM Studio、Ollama 的 /v1 兼容端点等。

# 接口映射

  - ListModels  → GET  {base}/models
  - Stream      → POST {base}/chat/completions（stream=true），系统提示词作为首条 system 消息发送
  - HealthCheck → 以 ListModels 的延迟与结果作为健康状态
*/
package openaicompat
