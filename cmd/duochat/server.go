package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/duochat/agent/conversation"
	"github.com/BaSui01/duochat/api/handlers"
	"github.com/BaSui01/duochat/config"
	"github.com/BaSui01/duochat/internal/archive"
	"github.com/BaSui01/duochat/internal/database"
	"github.com/BaSui01/duochat/internal/metrics"
	"github.com/BaSui01/duochat/internal/server"
	"github.com/BaSui01/duochat/internal/telemetry"
	"github.com/BaSui01/duochat/llm"
	"github.com/BaSui01/duochat/llm/catalog"
)

// =============================================================================
// 🖥️ serve 命令：HTTP API 服务器
// =============================================================================

// 不需要鉴权的路径
var publicPaths = []string{"/health", "/healthz", "/ready", "/readyz", "/version", "/metrics"}

// Server 持有 HTTP 服务的全部组件
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	registry  *prometheus.Registry
	collector *metrics.Collector
	backend   *backend
	monitor   *catalog.Monitor
	sessions  *handlers.SessionManager
	store     *archive.Store
	pool      *database.PoolManager

	handler        http.Handler
	metricsHandler http.Handler
	ctx            context.Context
	cancel         context.CancelFunc
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	logger := initLogger(cfg.Log, false)
	defer logger.Sync()

	providers, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		return fmt.Errorf("failed to init telemetry: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(ctx); err != nil {
			logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	provider, err := newProvider(cfg.Backend, logger)
	if err != nil {
		return err
	}
	srv, err := newServer(ctx, cfg, provider, logger)
	if err != nil {
		return err
	}
	defer srv.Close()

	logger.Info("Starting DuoChat server",
		zap.String("version", telemetry.BuildVersion()),
		zap.String("backend", cfg.Backend.Provider),
		zap.Int("http_port", cfg.Server.HTTPPort),
		zap.Int("metrics_port", cfg.Server.MetricsPort),
	)
	return srv.Run(ctx)
}

// newServer 装配处理器、中间件和后台任务。ctx 取消时运行中的对话随之取消。
func newServer(ctx context.Context, cfg *config.Config, provider llm.Provider, logger *zap.Logger) (*Server, error) {
	ctx, cancel := context.WithCancel(ctx)
	s := &Server{cfg: cfg, logger: logger, ctx: ctx, cancel: cancel}

	// 1. 指标
	s.registry = prometheus.NewRegistry()
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s.collector = metrics.NewCollectorWithRegistry("duochat", s.registry, logger)

	// 2. 后端与模型目录
	s.backend = newBackend(provider, cfg, s.collector, logger)
	s.monitor = catalog.NewMonitor(provider, cfg.Backend.HealthInterval, func(r catalog.ProbeResult) {
		s.collector.RecordBackendProbe(r.Provider, r.Healthy, r.Latency)
	}, logger)
	s.monitor.Start(ctx)

	// 3. 归档
	store, pool, err := openArchive(ctx, cfg.Database, s.collector, logger)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	s.store, s.pool = store, pool

	// 4. 会话
	s.sessions = handlers.NewSessionManager(ctx,
		conversation.NewTurnExecutor(provider, logger),
		handlers.SessionConfig{
			MaxSessions: cfg.Server.MaxSessions,
			TTL:         cfg.Server.SessionTTL,
			TurnDelay:   cfg.Conversation.TurnDelay,
		},
		logger,
	)
	s.sessions.AddObserver(func(state *conversation.State) conversation.Observer {
		return metrics.NewConversationObserver(s.collector, state)
	})
	if s.store != nil {
		s.sessions.OnFinish(func(ctx context.Context, doc conversation.Document, result conversation.Result) {
			if err := s.store.Save(ctx, doc, result.Reason); err != nil {
				logger.Warn("archive failed", zap.String("conversation_id", doc.ID), zap.Error(err))
			}
		})
	}

	s.handler = s.routes()
	s.metricsHandler = promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry})
	return s, nil
}

// routes 注册路由并构建中间件链
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	// 健康检查
	health := handlers.NewHealthHandler(s.logger)
	health.RegisterCheck(handlers.NewBackendHealthCheck(s.backend.provider))
	if s.backend.cache != nil {
		health.RegisterCheck(handlers.NewPingCheck("redis", s.backend.cache.Ping))
	}
	if s.store != nil {
		health.RegisterCheck(handlers.NewPingCheck(s.cfg.Database.Driver, s.store.Ping))
	}
	mux.HandleFunc("/health", health.HandleHealth)
	mux.HandleFunc("/healthz", health.HandleHealthz)
	mux.HandleFunc("/ready", health.HandleReady)
	mux.HandleFunc("/readyz", health.HandleReady)
	mux.HandleFunc("/version", health.HandleVersion(telemetry.BuildVersion(), BuildTime, GitCommit))

	// API
	conv := s.cfg.Conversation
	opts := []handlers.ConversationOption{handlers.WithOriginPatterns(s.cfg.Server.CORSAllowedOrigins...)}
	if s.backend.cache != nil {
		opts = append(opts, handlers.WithDocumentCache(s.backend.cache, s.cfg.Server.SessionTTL))
	}
	if s.store != nil {
		opts = append(opts, handlers.WithTranscripts(s.store))
	}
	handlers.NewConversationHandler(s.sessions, s.backend.catalog, handlers.ConversationDefaults{
		SystemPrompt: conv.SystemPrompt,
		TimeLimit:    conv.TimeLimit,
		MaxTurns:     conv.MaxTurns,
		Agent1Name:   conv.Agent1Name,
		Agent2Name:   conv.Agent2Name,
	}, s.logger, opts...).Register(mux)
	handlers.NewModelsHandler(s.backend.provider.Name(), s.backend.catalog, s.logger).Register(mux)
	if s.store != nil {
		handlers.NewTranscriptHandler(s.store, s.logger).Register(mux)
	}

	if s.cfg.Server.MetricsPort == 0 {
		mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry}))
	}

	chain := []Middleware{
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.collector),
		OTelTracing(),
		CORS(s.cfg.Server.CORSAllowedOrigins),
		RateLimiter(s.ctx, s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, s.logger),
	}
	chain = append(chain, authMiddlewares(s.cfg.Auth, publicPaths, s.logger)...)
	return Chain(mux, chain...)
}

// Handler 返回带中间件的 API 处理器
func (s *Server) Handler() http.Handler { return s.handler }

// Run 启动 HTTP 与 metrics 监听，阻塞到 ctx 取消
func (s *Server) Run(ctx context.Context) error {
	sc := s.cfg.Server
	httpCfg := server.ForPort(sc.HTTPPort, sc.ReadTimeout, sc.WriteTimeout, sc.ShutdownTimeout)
	httpCfg.CertFile, httpCfg.KeyFile = sc.TLSCertFile, sc.TLSKeyFile
	managers := []*server.Manager{
		server.NewManager("http", s.handler, httpCfg, s.logger),
	}
	if sc.MetricsPort != 0 {
		managers = append(managers, server.NewManager("metrics", s.metricsHandler,
			server.ForPort(sc.MetricsPort, sc.ReadTimeout, sc.WriteTimeout, sc.ShutdownTimeout), s.logger))
	}
	return server.NewGroup(s.logger, managers...).Run(ctx)
}

// Close 停止会话、探测与存储
func (s *Server) Close() {
	if s.sessions != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout())
		if err := s.sessions.Shutdown(ctx); err != nil {
			s.logger.Warn("sessions did not finish in time", zap.Error(err))
		}
		cancel()
	}
	if s.monitor != nil {
		s.monitor.Stop()
	}
	s.cancel()
	if s.pool != nil {
		_ = s.pool.Close()
	}
	if s.backend != nil {
		s.backend.Close()
	}
}

func (s *Server) shutdownTimeout() time.Duration {
	if s.cfg.Server.ShutdownTimeout > 0 {
		return s.cfg.Server.ShutdownTimeout
	}
	return 15 * time.Second
}
