// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的指标采集，覆盖 HTTP、对话轮次、
对话生命周期、后端健康、缓存与数据库六个维度。

# 核心类型

  - Collector：指标收集器，通过 promauto.With 注册到指定 Registry，
    默认使用全局 Registry，测试中可传入独立 Registry。
  - ConversationObserver：实现 conversation.Observer，把轮次结果
    （committed / empty / backend_error / cancelled）、片段数、
    估算 Token 数与结束原因写入 Collector。

# 主要能力

  - HTTP 指标：请求总数、耗时、响应体大小，状态码归类为 2xx/3xx/4xx/5xx。
  - 轮次指标：按 model 与 outcome 分组的轮次计数、成功轮次耗时、流式片段数。
  - 对话指标：开始/结束计数、运行中对话数 Gauge、对话总时长。
  - 后端指标：backend_up Gauge 与探测延迟。
*/
package metrics
