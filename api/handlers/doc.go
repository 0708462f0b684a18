// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 duochat HTTP API 的请求处理器实现。

# 概述

handlers 包实现了对话的创建、查询、停止、导出与 WebSocket 事件流，
以及模型列表、归档查询、健康检查和统一的响应/错误处理。
所有 Handler 均遵循标准 net/http 接口，通过 Register 挂到 http.ServeMux。

# 核心类型

  - SessionManager: 进程内对话注册表，后台运行 Runner 并广播事件
  - ConversationHandler: /api/v1/conversations 系列端点
  - ModelsHandler: /api/v1/models
  - TranscriptHandler: /api/v1/transcripts 归档查询
  - HealthHandler: /health, /healthz, /ready, /version
  - Response / ErrorInfo: 统一 JSON 响应结构

# 主要能力

  - 请求验证：DecodeJSONBody（1 MB 限制 + 严格模式）、ValidateContentType
  - ErrorCode 到 HTTP 状态码的自动映射
  - 导出回退：内存会话、Redis 缓存、数据库归档
  - 慢订阅者丢弃 fragment 事件，其余事件溢出时断开
*/
package handlers
