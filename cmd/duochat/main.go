// =============================================================================
// DuoChat 主入口
// =============================================================================
// 两个本地模型围绕一个话题轮流对话：终端、TUI 与 HTTP 服务三种界面
//
// 使用方法:
//
//	duochat run --agent1 llama2 --agent2 mistral --topic "climate policy"
//	duochat tui --agent1 llama2 --agent2 mistral --topic "tea"
//	duochat serve --config config.yaml
//	duochat models
//	duochat history list
//	duochat history show <id>
//	duochat migrate up
//	duochat health --addr http://localhost:8080
//	duochat version
// =============================================================================

// @title DuoChat API
// @version 1.0.0
// @description Two local language models talking to each other about a topic.

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8080
// @BasePath /
// @schemes http https

// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name X-API-Key

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/duochat/config"
	"github.com/BaSui01/duochat/internal/telemetry"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "run":
		err = runConversation(os.Args[2:])
	case "tui":
		err = runTUI(os.Args[2:])
	case "serve":
		err = runServe(os.Args[2:])
	case "models":
		err = runModels(os.Args[2:])
	case "history":
		err = runHistory(os.Args[2:])
	case "migrate":
		err = runMigrate(os.Args[2:])
	case "health":
		err = runHealthCheck(os.Args[2:])
	case "version":
		printVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig 加载并验证配置
func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader()
	if path != "" {
		loader = loader.WithConfigPath(path)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// =============================================================================
// 🏥 健康检查命令
// =============================================================================

func runHealthCheck(args []string) error {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:8080", "Server address")
	endpoint := fs.String("endpoint", "/health", "Health endpoint (/health or /ready)")
	_ = fs.Parse(args)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(strings.TrimRight(*addr, "/") + *endpoint)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed: status %d", resp.StatusCode)
	}

	fmt.Println("OK")
	return nil
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion() {
	fmt.Printf("DuoChat %s\n", telemetry.BuildVersion())
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`DuoChat - two models, one topic

Usage:
  duochat <command> [options]

Commands:
  run       Run a conversation in the terminal
  tui       Run a conversation in the interactive terminal UI
  serve     Start the HTTP API and metrics server
  models    List the models offered by the backend
  history   Browse archived transcripts (list | show <id>)
  migrate   Manage the archive database schema (up | down | status | ...)
  health    Check server health
  version   Show version information
  help      Show this help message

Common options:
  --config <path>   Path to configuration file (YAML)

Options for 'run' and 'tui':
  --agent1 <model>         Backend model for agent 1
  --agent2 <model>         Backend model for agent 2
  --topic <text>           Conversation topic
  --time-limit <minutes>   Time limit in minutes, 0 for unlimited
  --max-turns <n>          Stop after n turns, 0 for unlimited
  --system-prompt <text>   Shared system prompt
  --export <dir>           Directory for the Markdown export

Examples:
  duochat run --agent1 llama2 --agent2 mistral --topic "climate policy"
  duochat serve --config /etc/duochat/config.yaml
  duochat history show 2f6c0b9e-...
  duochat health --addr http://localhost:8080`)
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

// initLogger 按配置构建 logger。quiet 为 true 时丢弃 stdout/stderr 输出，只写日志文件。
func initLogger(cfg config.LogConfig, quiet bool) *zap.Logger {
	var level zapcore.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = zapcore.DebugLevel
	case "warn", "warning":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	if cfg.Format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := make([]string, 0, len(cfg.OutputPaths)+1)
	for _, p := range cfg.OutputPaths {
		if quiet && (p == "stdout" || p == "stderr") {
			continue
		}
		outputs = append(outputs, p)
	}
	if cfg.File != "" {
		outputs = append(outputs, cfg.File)
	}
	if len(outputs) == 0 {
		return zap.NewNop()
	}

	zapConfig := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       cfg.Format == "console",
		Encoding:          "json",
		EncoderConfig:     encoderConfig,
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{"stderr"},
		DisableCaller:     !cfg.EnableCaller,
		DisableStacktrace: !cfg.EnableStacktrace,
	}
	if cfg.Format == "console" {
		zapConfig.Encoding = "console"
	}
	if quiet {
		zapConfig.ErrorOutputPaths = outputs
	}

	logger, err := zapConfig.Build()
	if err != nil {
		if quiet {
			return zap.NewNop()
		}
		// 回退到基本 logger
		logger, _ = zap.NewProduction()
	}
	return logger
}

// watchInterrupts 第一次收到信号时调用 onFirst，第二次取消返回的 ctx
func watchInterrupts(ctx context.Context, signals <-chan os.Signal, onFirst func()) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		first := true
		for {
			select {
			case <-ctx.Done():
				return
			case <-signals:
				if first {
					first = false
					onFirst()
					continue
				}
				cancel()
				return
			}
		}
	}()
	return ctx, cancel
}
