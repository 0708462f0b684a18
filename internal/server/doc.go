// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 server 提供 HTTP 服务器生命周期管理，负责 API 与 metrics
两个监听的非阻塞启动与优雅关闭。

# 核心类型

  - Manager：命名的 HTTP 服务器，封装 http.Server 与 net.Listener，
    提供 Start/Shutdown/Errors/Addr 等方法。Addr 在启动后返回
    实际监听地址，便于随机端口测试。
  - Config：监听地址、读写超时、空闲超时、最大请求头与关闭超时。
    ForPort 从端口号生成配置，WriteTimeout 为 0 以支持长连接流式推送。
  - Group：同时运行多个 Manager，ctx 取消或任一服务器出错时
    统一关闭并返回第一个错误。
*/
package server
