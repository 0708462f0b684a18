// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 conversation 提供双智能体轮流对话的编排核心。

# 概述

两个独立配置的模型后端围绕同一话题轮流发言。本包负责对话状态、
每轮上下文构建、流式响应消费、时间限制判断以及失败后的停止语义，
保证后端中途失败时不会写入半截消息。

# 核心类型

  - State：对话唯一状态源，持有双方模型、话题、系统提示词、
    只追加的消息日志、当前发言方以及起止时间
  - TurnExecutor：执行一轮发言，构建上下文、消费流式片段、
    在流结束后一次性提交消息
  - Runner：驱动循环，在轮次边界检查停止标志、取消、时间限制与轮数上限
  - Observer：显示层回调（片段、轮次完成、失败、结束）
  - Document：导出快照，支持 Markdown 与 JSON

# 上下文规则

历史为空时，话题作为唯一的 user 消息；否则除最后一条外全部为
assistant，最后一条为 user。系统提示词单独传递，不进入消息列表。

# 失败语义

空响应（仅空白）返回 EMPTY_RESPONSE，流错误返回 BACKEND_ERROR，
两者都不会记录消息，Runner 随即标记对话结束，不做重试。
*/
package conversation
