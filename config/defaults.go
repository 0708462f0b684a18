// =============================================================================
// 📦 DuoChat 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import (
	"time"

	"github.com/BaSui01/duochat/internal/cache"
)

// DefaultSystemPrompt 是双方共享的默认系统提示词
const DefaultSystemPrompt = "Chat like friends about any topic. Keep it casual, light, sometimes funny. Stay safe and respectful."

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:       DefaultServerConfig(),
		Backend:      DefaultBackendConfig(),
		Conversation: DefaultConversationConfig(),
		Cache:        cache.DefaultConfig(),
		Database:     DefaultDatabaseConfig(),
		Auth:         AuthConfig{},
		Log:          DefaultLogConfig(),
		Telemetry:    DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:           8080,
		MetricsPort:        9091,
		ReadTimeout:        30 * time.Second,
		WriteTimeout:       30 * time.Second,
		ShutdownTimeout:    15 * time.Second,
		RateLimitRPS:       20,
		RateLimitBurst:     40,
		CORSAllowedOrigins: []string{},
		MaxSessions:        32,
		SessionTTL:         time.Hour,
	}
}

// DefaultBackendConfig 返回默认后端配置
func DefaultBackendConfig() BackendConfig {
	return BackendConfig{
		Provider:       "ollama",
		BaseURL:        "http://localhost:11434",
		Timeout:        30 * time.Second,
		ListTimeout:    10 * time.Second,
		IdleTimeout:    120 * time.Second,
		HealthInterval: 30 * time.Second,
		ModelCacheTTL:  5 * time.Minute,
	}
}

// DefaultConversationConfig 返回默认对话配置
func DefaultConversationConfig() ConversationConfig {
	return ConversationConfig{
		Agent1Name:   "Agent 1",
		Agent2Name:   "Agent 2",
		SystemPrompt: DefaultSystemPrompt,
		TimeLimit:    10 * time.Minute,
		ExportDir:    ".",
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Enabled:         false,
		Driver:          "sqlite",
		Host:            "localhost",
		Port:            5432,
		User:            "duochat",
		Name:            "duochat.db",
		SSLMode:         "disable",
		MaxOpenConns:    10,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Hour,
		AutoMigrate:     true,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "console",
		OutputPaths:      []string{"stderr"},
		File:             "app.log",
		EnableCaller:     false,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "duochat",
		SampleRate:   0.1,
	}
}
