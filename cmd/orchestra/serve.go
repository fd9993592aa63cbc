package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/orchestra"
	"github.com/BaSui01/orchestra/api/handlers"
	"github.com/BaSui01/orchestra/config"
	"github.com/BaSui01/orchestra/internal/database"
	"github.com/BaSui01/orchestra/internal/metrics"
	"github.com/BaSui01/orchestra/internal/migration"
	"github.com/BaSui01/orchestra/internal/server"
	"github.com/BaSui01/orchestra/internal/telemetry"
	"github.com/BaSui01/orchestra/internal/tlsutil"
)

// skipAuthPaths 免认证的探活路径
var skipAuthPaths = []string{"/health", "/healthz", "/ready", "/readyz", "/version"}

// reloadInterval 配置文件轮询间隔
const reloadInterval = 5 * time.Second

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the Orchestra server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}

			logger, level := initLogger(cfg.Log)
			defer func() { _ = logger.Sync() }()

			logger.Info("Starting Orchestra",
				zap.String("version", Version),
				zap.String("build_time", BuildTime),
				zap.String("git_commit", GitCommit),
			)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv, err := NewServer(cfg, *configPath, logger, level)
			if err != nil {
				return err
			}
			if err := srv.Run(ctx); err != nil {
				return err
			}
			logger.Info("Orchestra stopped")
			return nil
		},
	}
}

// =============================================================================
// 🖥️ Server
// =============================================================================

// Server 组装运行时、HTTP API 与 Metrics 两个端口
type Server struct {
	cfg        *config.Config
	configPath string
	logger     *zap.Logger
	level      zap.AtomicLevel

	providers *telemetry.Providers
	registry  *prometheus.Registry
	collector *metrics.Collector

	db      *gorm.DB
	pool    *database.PoolManager
	runtime *orchestra.Runtime

	// baseCtx 在关闭时取消，结束 WebSocket 流、异步工作流与限流器清理
	baseCtx    context.Context
	cancelBase context.CancelFunc

	handler        http.Handler
	httpManager    *server.Manager
	metricsManager *server.Manager
	reloader       *config.Reloader
}

// NewServer 构建全部组件但不监听端口
func NewServer(cfg *config.Config, configPath string, logger *zap.Logger, level zap.AtomicLevel) (*Server, error) {
	s := &Server{
		cfg:        cfg,
		configPath: configPath,
		logger:     logger,
		level:      level,
	}
	s.baseCtx, s.cancelBase = context.WithCancel(context.Background())

	if err := s.init(); err != nil {
		s.release()
		return nil, err
	}
	return s, nil
}

func (s *Server) init() error {
	providers, err := telemetry.Init(s.cfg.Telemetry, s.logger, telemetry.WithVersion(Version))
	if err != nil {
		s.logger.Warn("failed to initialize telemetry", zap.Error(err))
		providers = &telemetry.Providers{}
	}
	s.providers = providers

	s.registry = prometheus.NewRegistry()
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s.collector = metrics.NewCollectorWith("orchestra", s.registry, s.logger)

	if s.cfg.Store.Type == "sql" {
		if err := s.openDatabase(); err != nil {
			return err
		}
	}

	rt, err := orchestra.New(s.cfg, s.logger,
		orchestra.WithDB(s.db),
		orchestra.WithObserver(s.collector),
	)
	if err != nil {
		return fmt.Errorf("failed to build runtime: %w", err)
	}
	s.runtime = rt

	if err := registerBuiltinAgents(rt); err != nil {
		return err
	}

	s.collector.RegisterQueueDepth(rt.Bus().Pending)
	s.collector.RegisterActiveExecutions(func() int { return len(rt.Engine().Active()) })

	s.handler = s.buildHandler()
	return nil
}

// openDatabase 打开数据库连接池，按需执行迁移
func (s *Server) openDatabase() error {
	dbCfg := s.cfg.Database
	if dbCfg.AutoMigrate {
		if err := runMigrations(s.baseCtx, dbCfg, s.logger); err != nil {
			return err
		}
	}

	db, err := database.Open(dbCfg, s.logger)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	s.db = db

	pool, err := database.NewPoolManager(db, database.PoolConfigFrom(dbCfg), s.logger,
		database.WithStatsReporter(func(stats database.PoolStats) {
			s.collector.RecordDBConnections(dbCfg.Driver, stats.OpenConnections, stats.Idle)
		}),
	)
	if err != nil {
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			_ = sqlDB.Close()
		}
		return fmt.Errorf("failed to create database pool: %w", err)
	}
	s.pool = pool
	return nil
}

func runMigrations(ctx context.Context, dbCfg config.DatabaseConfig, logger *zap.Logger) error {
	m, err := migration.NewMigratorFromDatabaseConfig(dbCfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// buildHandler 注册路由并构建中间件链
func (s *Server) buildHandler() http.Handler {
	mux := http.NewServeMux()

	health := handlers.NewHealthHandler(s.logger)
	health.RegisterCheck(handlers.NewCheck("runtime", s.runtime.Ping))
	health.RegisterCheck(handlers.NewCheck("bus", func(context.Context) error {
		if !s.runtime.Bus().Running() {
			return errors.New("message bus is not running")
		}
		return nil
	}))
	if s.pool != nil {
		health.RegisterCheck(handlers.NewCheck("database", s.pool.Ping))
	}

	mux.HandleFunc("GET /health", health.HandleHealth)
	mux.HandleFunc("GET /healthz", health.HandleHealth)
	mux.HandleFunc("GET /ready", health.HandleReady)
	mux.HandleFunc("GET /readyz", health.HandleReady)
	mux.HandleFunc("GET /version", health.HandleVersion(Version, BuildTime, GitCommit))

	handlers.NewAgentHandler(s.runtime.Registry(), s.logger).Register(mux)
	handlers.NewWorkflowHandler(s.baseCtx, s.runtime.Engine(), s.logger).Register(mux)
	handlers.NewMessageHandler(s.baseCtx, s.runtime.Bus(), s.logger, s.cfg.Server.CORSAllowedOrigins).
		WithArchive(s.runtime.Messages()).
		Register(mux)
	handlers.NewStatsHandler(s.runtime, s.logger).Register(mux)

	sc := s.cfg.Server
	chain := []Middleware{
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		OTelTracing(),
		MetricsMiddleware(s.collector),
		RequestLogger(s.logger),
		CORS(sc.CORSAllowedOrigins),
	}
	switch {
	case s.cfg.JWT.Enabled():
		chain = append(chain, JWTAuth(s.cfg.JWT, skipAuthPaths, s.logger))
		if sc.RateLimitRPS > 0 {
			chain = append(chain, TenantRateLimiter(s.baseCtx, sc.RateLimitRPS, sc.RateLimitBurst, s.logger))
		}
	default:
		if sc.RateLimitRPS > 0 {
			chain = append(chain, RateLimiter(s.baseCtx, sc.RateLimitRPS, sc.RateLimitBurst, s.logger))
		}
		if len(sc.APIKeys) > 0 {
			chain = append(chain, APIKeyAuth(sc.APIKeys, skipAuthPaths, s.logger))
		}
	}
	return Chain(mux, chain...)
}

// Handler 返回带中间件的 API handler
func (s *Server) Handler() http.Handler { return s.handler }

// Start 启动运行时、配置热更新与两个 HTTP 端口（非阻塞）
func (s *Server) Start(ctx context.Context) error {
	if err := s.runtime.Start(ctx); err != nil {
		return fmt.Errorf("failed to start runtime: %w", err)
	}

	if s.configPath != "" {
		s.reloader = config.NewReloader(config.NewLoader(), s.configPath, s.cfg, reloadInterval, s.logger)
		s.reloader.OnReload(s.applyReload)
		s.reloader.Start(s.baseCtx)
	}

	sc := s.cfg.Server
	apiConfig := server.Config{
		Name:            "api",
		Addr:            fmt.Sprintf(":%d", sc.HTTPPort),
		ReadTimeout:     sc.ReadTimeout,
		WriteTimeout:    sc.WriteTimeout,
		IdleTimeout:     2 * sc.ReadTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: sc.ShutdownTimeout,
	}
	if sc.TLSEnabled() {
		tlsConfig, err := tlsutil.ServerTLSConfig(sc.TLSCertFile, sc.TLSKeyFile)
		if err != nil {
			return fmt.Errorf("failed to load TLS certificate: %w", err)
		}
		apiConfig.TLS = tlsConfig
	}
	s.httpManager = server.NewManager(s.handler, apiConfig, s.logger)
	if err := s.httpManager.Start(); err != nil {
		return err
	}
	s.logger.Info("HTTP server started",
		zap.String("addr", s.httpManager.ListenAddr()),
		zap.Bool("tls", apiConfig.TLS != nil),
	)

	if sc.MetricsPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry}))
		s.metricsManager = server.NewManager(mux, server.Config{
			Name:            "metrics",
			Addr:            fmt.Sprintf(":%d", sc.MetricsPort),
			ReadTimeout:     sc.ReadTimeout,
			WriteTimeout:    sc.WriteTimeout,
			ShutdownTimeout: sc.ShutdownTimeout,
		}, s.logger)
		if err := s.metricsManager.Start(); err != nil {
			return err
		}
		s.logger.Info("Metrics server started", zap.String("addr", s.metricsManager.ListenAddr()))
	}
	return nil
}

// applyReload 热更新仅作用于日志级别，其余配置需重启生效
func (s *Server) applyReload(oldConfig, newConfig *config.Config) {
	if oldConfig.Log.Level != newConfig.Log.Level {
		s.level.SetLevel(parseLevel(newConfig.Log.Level))
		s.logger.Info("log level updated",
			zap.String("from", oldConfig.Log.Level),
			zap.String("to", newConfig.Log.Level),
		)
	}
}

// Run 启动并阻塞，直到 ctx 取消或任一端口异常退出
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		s.Shutdown()
		return err
	}

	var serveErr error
	var metricsErrs <-chan error
	if s.metricsManager != nil {
		metricsErrs = s.metricsManager.Errors()
	}
	select {
	case <-ctx.Done():
		s.logger.Info("shutdown requested")
	case serveErr = <-s.httpManager.Errors():
		s.logger.Error("HTTP server exited unexpectedly", zap.Error(serveErr))
	case serveErr = <-metricsErrs:
		s.logger.Error("Metrics server exited unexpectedly", zap.Error(serveErr))
	}

	s.Shutdown()
	return serveErr
}

// Shutdown 优雅关闭：停止接收请求 → 结束长连接 → 停止运行时 → 释放资源
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")
	ctx := context.Background()

	// 先取消 baseCtx，WebSocket 流不会阻塞 HTTP 关闭
	s.cancelBase()
	if s.reloader != nil {
		s.reloader.Stop()
	}

	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("Metrics server shutdown error", zap.Error(err))
		}
	}

	s.release()
	s.logger.Info("Graceful shutdown completed")
}

// release 释放运行时、连接池与遥测资源，可重复调用
func (s *Server) release() {
	s.cancelBase()
	if s.runtime != nil {
		if err := s.runtime.Stop(); err != nil {
			s.logger.Error("Runtime shutdown error", zap.Error(err))
		}
	}
	if s.pool != nil {
		if err := s.pool.Close(); err != nil {
			s.logger.Error("Database pool close error", zap.Error(err))
		}
		s.pool = nil
	}
	if s.providers != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.providers.Shutdown(ctx); err != nil {
			s.logger.Error("Telemetry shutdown error", zap.Error(err))
		}
		s.providers = nil
	}
}
