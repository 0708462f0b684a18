// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
# 概述

包 ollama 提供本地 Ollama 服务的 Provider 适配实现，HTTP 传输基于 resty。

# 接口映射

  - ListModels  → GET  {host}/api/tags，读取 models[].name
  - Stream      → POST {host}/api/chat，请求体 {model, messages, stream:true, system}，
    响应为逐行 JSON（NDJSON），每行的 message.content 是一个文本片段
  - HealthCheck → GET  {host}/api/version

# 流式语义

  - 无法解析为 JSON 的行会被跳过并记录警告
  - 带 error 字段的行、读取错误、未收到 done:true 就结束的流，都会产生错误片段
  - 两行之间超过 IdleTimeout 没有数据视为超时
*/
package ollama
