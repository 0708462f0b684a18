// Package config 提供 DuoChat 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → 兼容环境变量（OLLAMA_HOST、SYSTEM_PROMPT、
// LOG_LEVEL、LOG_FILE、DEFAULT_TURN_LIMIT_MINUTES）→ DUOCHAT_ 前缀环境变量
// 的顺序叠加，后者覆盖前者。
package config
