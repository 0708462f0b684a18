// Package api 定义 duochat HTTP API 的请求、响应与事件流类型。
//
// # API Overview
//
//	POST /api/v1/conversations              创建并启动对话
//	GET  /api/v1/conversations              进程内对话列表
//	GET  /api/v1/conversations/{id}         对话状态
//	POST /api/v1/conversations/{id}/stop    在下一个轮次边界停止
//	GET  /api/v1/conversations/{id}/export  导出 Markdown 或 JSON
//	GET  /api/v1/conversations/{id}/stream  WebSocket 事件流
//	GET  /api/v1/models                     后端模型列表
//	GET  /api/v1/transcripts[/{id}]         归档记录
//
// # Authentication
//
// 配置了 API Key 时需携带请求头：
//
//	X-API-Key: your-api-key
//
// 配置了 JWT 密钥时也可以使用：
//
//	Authorization: Bearer <token>
//
// # Stream Events
//
// 事件流先发送 snapshot 与已提交的 message，随后依次推送
// turn_start、fragment、message、turn_failed，最后发送 finished 并正常关闭。
package api
