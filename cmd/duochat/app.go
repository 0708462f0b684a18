package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/duochat/agent/conversation"
	"github.com/BaSui01/duochat/config"
	"github.com/BaSui01/duochat/internal/archive"
	"github.com/BaSui01/duochat/internal/cache"
	"github.com/BaSui01/duochat/internal/database"
	"github.com/BaSui01/duochat/internal/metrics"
	"github.com/BaSui01/duochat/llm"
	"github.com/BaSui01/duochat/llm/catalog"
	llmfactory "github.com/BaSui01/duochat/llm/factory"
)

// =============================================================================
// 🔌 后端与存储装配
// =============================================================================

// backend 模型后端及其模型目录
type backend struct {
	provider llm.Provider
	catalog  *catalog.Catalog
	cache    *cache.Manager
}

// openBackend 创建 Provider 与模型目录。Redis 不可用时退化为进程内缓存。
func openBackend(cfg *config.Config, collector *metrics.Collector, logger *zap.Logger) (*backend, error) {
	provider, err := newProvider(cfg.Backend, logger)
	if err != nil {
		return nil, err
	}
	return newBackend(provider, cfg, collector, logger), nil
}

// newProvider 按配置创建模型后端客户端
func newProvider(cfg config.BackendConfig, logger *zap.Logger) (llm.Provider, error) {
	provider, err := llmfactory.NewProviderFromConfig(cfg.Provider, llmfactory.ProviderConfig{
		APIKey:       cfg.APIKey,
		BaseURL:      cfg.BaseURL,
		Timeout:      cfg.Timeout,
		ListTimeout:  cfg.ListTimeout,
		IdleTimeout:  cfg.IdleTimeout,
		Organization: cfg.Organization,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create backend provider: %w", err)
	}
	return provider, nil
}

func newBackend(provider llm.Provider, cfg *config.Config, collector *metrics.Collector, logger *zap.Logger) *backend {
	b := &backend{provider: provider}

	var opts []catalog.Option
	if cfg.Cache.Enabled {
		mgr, err := cache.NewManager(cfg.Cache, logger)
		if err != nil {
			logger.Warn("Redis not available, model list cached in memory only", zap.Error(err))
		} else {
			b.cache = mgr
			opts = append(opts, catalog.WithCache(mgr, cfg.Backend.ModelCacheTTL))
		}
	}
	if collector != nil {
		opts = append(opts, catalog.WithLookupHook(func(hit bool) {
			if hit {
				collector.RecordCacheHit("models")
			} else {
				collector.RecordCacheMiss("models")
			}
		}))
	}
	b.catalog = catalog.New(provider, logger, opts...)
	return b
}

func (b *backend) Close() {
	if b.cache != nil {
		_ = b.cache.Close()
	}
}

// openArchive 打开归档数据库。未启用时三个返回值均为 nil。
func openArchive(ctx context.Context, cfg config.DatabaseConfig, collector *metrics.Collector, logger *zap.Logger) (*archive.Store, *database.PoolManager, error) {
	if !cfg.Enabled {
		return nil, nil, nil
	}
	pool, err := database.Open(cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	var opts []archive.StoreOption
	if collector != nil {
		opts = append(opts, archive.WithQueryObserver(func(op string, d time.Duration) {
			collector.RecordDBQuery(cfg.Driver, op, d)
		}))
		pool.OnStats(func(s sql.DBStats) {
			collector.RecordDBConnections(cfg.Driver, s.OpenConnections, s.Idle)
		})
	}

	store := archive.NewStore(pool, logger, opts...)
	if cfg.AutoMigrate {
		if err := store.Migrate(ctx); err != nil {
			_ = pool.Close()
			return nil, nil, err
		}
	}
	logger.Info("Transcript archive ready", zap.String("driver", cfg.Driver))
	return store, pool, nil
}

// =============================================================================
// 💬 run / tui 共用的对话参数
// =============================================================================

type conversationFlags struct {
	configPath   string
	agent1       string
	agent2       string
	topic        string
	systemPrompt string
	exportDir    string
	timeLimit    int
	maxTurns     int
}

func parseConversationFlags(name string, args []string) (*conversationFlags, error) {
	f := &conversationFlags{}
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.StringVar(&f.configPath, "config", "", "Path to config file")
	fs.StringVar(&f.agent1, "agent1", "", "Backend model for agent 1")
	fs.StringVar(&f.agent2, "agent2", "", "Backend model for agent 2")
	fs.StringVar(&f.topic, "topic", "", "Conversation topic")
	fs.StringVar(&f.systemPrompt, "system-prompt", "", "Shared system prompt (default from config)")
	fs.StringVar(&f.exportDir, "export", "", "Directory for the Markdown export (default from config)")
	fs.IntVar(&f.timeLimit, "time-limit", -1, "Time limit in minutes, 0 for unlimited (default from config)")
	fs.IntVar(&f.maxTurns, "max-turns", -1, "Stop after n turns, 0 for unlimited (default from config)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if f.topic == "" && fs.NArg() > 0 {
		f.topic = strings.Join(fs.Args(), " ")
	}
	if int64(f.timeLimit) > conversation.MaxTimeLimitMinutes {
		return nil, fmt.Errorf("-time-limit must be at most %d minutes", conversation.MaxTimeLimitMinutes)
	}
	return f, nil
}

// settings 合并命令行参数与配置默认值
func (f *conversationFlags) settings(cfg config.ConversationConfig) (conversation.Settings, int) {
	s := conversation.Settings{
		Agent1Model:  firstNonEmpty(f.agent1, cfg.Agent1Model),
		Agent2Model:  firstNonEmpty(f.agent2, cfg.Agent2Model),
		Topic:        f.topic,
		SystemPrompt: firstNonEmpty(f.systemPrompt, cfg.SystemPrompt),
		TimeLimit:    cfg.TimeLimit,
		Agent1Name:   cfg.Agent1Name,
		Agent2Name:   cfg.Agent2Name,
	}
	if f.timeLimit >= 0 {
		s.TimeLimit = time.Duration(f.timeLimit) * time.Minute
	}
	maxTurns := cfg.MaxTurns
	if f.maxTurns >= 0 {
		maxTurns = f.maxTurns
	}
	return s, maxTurns
}

func (f *conversationFlags) exportPath(cfg config.ConversationConfig) string {
	return firstNonEmpty(f.exportDir, cfg.ExportDir, ".")
}

// =============================================================================
// 📄 导出与归档
// =============================================================================

// writeExport 把 Markdown 导出写入 dir/chat_YYYYMMDD.md
func writeExport(dir string, doc conversation.Document) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create export dir: %w", err)
	}
	path := filepath.Join(dir, conversation.FileName(doc.StartedAt))
	if err := os.WriteFile(path, []byte(doc.Markdown()), 0o644); err != nil {
		return "", fmt.Errorf("failed to write export: %w", err)
	}
	return path, nil
}

// archiveDocument 保存到归档；store 为 nil 时跳过
func archiveDocument(store *archive.Store, doc conversation.Document, reason conversation.FinishReason, logger *zap.Logger) {
	if store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := store.Save(ctx, doc, reason); err != nil {
		logger.Warn("archive failed", zap.String("conversation_id", doc.ID), zap.Error(err))
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
