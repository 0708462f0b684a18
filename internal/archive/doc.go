// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 archive 将已结束对话的导出文档持久化到关系数据库。

归档只是导出的记录，不会回灌到任何对话上下文。

# 核心类型

  - Transcript / TranscriptMessage：GORM 模型，通过 AutoMigrate 建表。
  - Store：基于 database.PoolManager 的存储，提供 Save/List/Get。
    Save 在事务中整体替换同 ID 记录，遇到锁冲突自动重试。
  - FromDocument / Transcript.Document：与 conversation.Document 互转，
    便于 history 命令直接渲染 Markdown。
*/
package archive
