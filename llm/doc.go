// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 llm 提供对话核心所需的模型后端接入层。

# Provider 抽象

核心接口是 [Provider]：Stream / ListModels / HealthCheck / Name。
对话核心只关心"给定模型标识、上下文与系统提示词，产出文本片段序列或失败"，
传输细节由 providers 子包负责。

# 子包

  - providers/ollama：基于 resty 的 Ollama HTTP API（NDJSON 流）
  - providers/openaicompat：基于 go-openai 的 OpenAI 兼容后端
  - factory：按配置创建 Provider
  - catalog：模型列表查询（重试、合并并发请求、Redis 缓存）
  - retry：指数退避重试器（仅用于模型列表等调用方层面的重试）
  - tokenizer：Token 计数（tiktoken + 估算器）

所有失败都以 *types.Error 表示，流中的失败通过 [StreamChunk].Err 传递。
*/
package llm
