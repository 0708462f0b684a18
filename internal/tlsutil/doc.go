// Package tlsutil 集中提供 TLS 配置：模型后端 HTTP 客户端、HTTPS 监听与 Redis 连接
// 共用同一份加固设置（TLS 1.2+，仅 AEAD 密码套件）。
package tlsutil
