// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 cache 提供基于 Redis 的共享缓存。

# 概述

Manager 封装 go-redis 客户端，负责连接初始化、后台健康检查与优雅关闭。
所有键自动加上 KeyPrefix，便于多个实例共用一个 Redis。

# 使用场景

  - 模型目录：llm/catalog 将 ListModels 结果按 Provider 缓存
  - 对话快照：服务端在对话结束后缓存导出文档，会话被回收后仍可导出

# 错误语义

未命中返回 ErrCacheMiss（IsCacheMiss 判断），管理器关闭后返回 ErrClosed。
*/
package cache
