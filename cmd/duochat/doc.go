// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供 DuoChat 命令行程序入口。

# 概述

cmd/duochat 让两个模型围绕同一话题轮流发言。同一套对话核心有三种界面：
run 在终端逐字输出，tui 提供 bubbletea 交互界面，serve 暴露 HTTP/WebSocket API。

# 核心类型

  - Server: serve 命令的装配结果：会话注册表、模型目录、归档、指标
  - Middleware: HTTP 中间件函数签名 func(http.Handler) http.Handler
  - terminalObserver: run 命令的增量输出
  - tuiModel: tui 命令的 bubbletea 模型

# 主要能力

  - 子命令：run、tui、serve、models、history、health、version
  - 中间件链：Recovery、RequestID、SecurityHeaders、RequestLogger、Metrics、
    OTelTracing、CORS、RateLimiter（基于 IP）、APIKeyAuth / JWTAuth
  - Metrics：独立端口或主端口 /metrics（Prometheus）
  - 中断：run 命令第一次 Ctrl-C 在当前轮结束后停止，第二次立即取消
  - 构建注入：BuildTime、GitCommit 通过 ldflags 设置
*/
package main
