// Package factory 按名称（ollama、openai 兼容）创建后端 Provider，
// 配置层只需引用本包，不必依赖具体的 provider 子包。
package factory
