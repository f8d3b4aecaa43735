package main

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/tensorgate/relaypool/api/handlers"
	"github.com/tensorgate/relaypool/config"
	"github.com/tensorgate/relaypool/internal/cache"
	"github.com/tensorgate/relaypool/internal/database"
	"github.com/tensorgate/relaypool/internal/metrics"
	"github.com/tensorgate/relaypool/internal/server"
	"github.com/tensorgate/relaypool/internal/telemetry"
	"github.com/tensorgate/relaypool/scheduler"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// =============================================================================
// 🖥️ Server 装配
// =============================================================================

// Server 把调度服务的全部运行组件攒在一起：
// 两个监听端口、存储、调度器与各路 handler。
// 字段在 Start 里按依赖顺序填充，Shutdown 按倒序拆除。
type Server struct {
	cfg        *config.Config
	configPath string
	logger     *zap.Logger

	otelProviders *telemetry.Providers

	httpManager    *server.Manager
	metricsManager *server.Manager

	db           *gorm.DB
	pool         *database.PoolManager
	cacheManager *cache.Manager

	service *scheduler.Service

	healthHandler    *handlers.HealthHandler
	schedulerHandler *handlers.SchedulerHandler
	rateLimitHandler *handlers.RateLimitHandler
	statsHandler     *handlers.StatsHandler

	collector *metrics.Collector

	// 限流访客表的清理 goroutine 随此 cancel 退出
	rateLimiterCancel context.CancelFunc

	wg sync.WaitGroup
}

// NewServer 只记下外部依赖，真正的装配推迟到 Start
func NewServer(cfg *config.Config, configPath string, logger *zap.Logger, otelProviders *telemetry.Providers, db *gorm.DB) *Server {
	return &Server{
		cfg:           cfg,
		configPath:    configPath,
		logger:        logger,
		otelProviders: otelProviders,
		db:            db,
	}
}

// =============================================================================
// 🚀 启动
// =============================================================================

// Start 按依赖顺序装配并拉起两个监听端口，任何一步失败都让启动失败
func (s *Server) Start() error {
	s.collector = metrics.NewCollector("relaypool", s.logger)

	if err := s.initStores(); err != nil {
		return fmt.Errorf("init stores: %w", err)
	}
	if err := s.initScheduler(); err != nil {
		return fmt.Errorf("init scheduler: %w", err)
	}
	if err := s.initHandlers(); err != nil {
		return fmt.Errorf("init handlers: %w", err)
	}
	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("start http server: %w", err)
	}
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("start metrics server: %w", err)
	}

	s.logger.Info("relaypool listening",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.Bool("strict_dedicated_binding", s.cfg.Scheduler.StrictDedicatedBinding),
	)
	return nil
}

// initStores 装配数据库连接池与 Redis 客户端
func (s *Server) initStores() error {
	if s.db == nil {
		return fmt.Errorf("database connection is required")
	}

	// 用户只覆盖容量三项，健康检查间隔等沿用默认
	poolCfg := database.DefaultPoolConfig()
	poolCfg.MaxIdleConns = s.cfg.Database.MaxIdleConns
	poolCfg.MaxOpenConns = s.cfg.Database.MaxOpenConns
	poolCfg.ConnMaxLifetime = s.cfg.Database.ConnMaxLifetime

	pool, err := database.NewPoolManager(s.db, poolCfg, s.logger)
	if err != nil {
		return fmt.Errorf("create pool manager: %w", err)
	}
	s.pool = pool

	cacheManager, err := cache.NewManager(cache.Config{
		Addr:         s.cfg.Redis.Addr,
		Password:     s.cfg.Redis.Password,
		DB:           s.cfg.Redis.DB,
		PoolSize:     s.cfg.Redis.PoolSize,
		MinIdleConns: s.cfg.Redis.MinIdleConns,
		TLSEnabled:   s.cfg.Redis.TLSEnabled,
	}, s.logger)
	if err != nil {
		return fmt.Errorf("create cache manager: %w", err)
	}
	s.cacheManager = cacheManager

	s.logger.Info("stores ready",
		zap.String("redis_addr", s.cfg.Redis.Addr),
		zap.String("db_driver", s.cfg.Database.Driver),
	)
	return nil
}

// initScheduler 组装存储集合并创建调度服务
func (s *Server) initScheduler() error {
	// GormStore 同时承担账户与分组两类存储
	gormStore := scheduler.NewGormStore(s.db, s.logger)
	stores := scheduler.Stores{
		Accounts: gormStore,
		Groups:   gormStore,
		Sessions: scheduler.NewRedisSessionStore(s.cacheManager, s.logger),
		Cursors:  scheduler.NewRedisCursorStore(s.cacheManager, s.logger),
		Usage:    scheduler.NewRedisUsageStore(s.cacheManager, s.logger),
	}

	svc, err := scheduler.NewService(stores,
		scheduler.WithLogger(s.logger),
		scheduler.WithMetrics(s.collector),
		scheduler.WithStrictDedicatedBinding(s.cfg.Scheduler.StrictDedicatedBinding),
		scheduler.WithSelectionTimeout(s.cfg.Scheduler.SelectionTimeout),
	)
	if err != nil {
		return fmt.Errorf("create scheduler service: %w", err)
	}
	s.service = svc
	return nil
}

func (s *Server) initHandlers() error {
	// 就绪探测盯数据库和 Redis 两个硬依赖
	s.healthHandler = handlers.NewHealthHandler(s.logger)
	s.healthHandler.RegisterCheck(handlers.NewPingCheck("database", s.pool.Ping))
	s.healthHandler.RegisterCheck(handlers.NewPingCheck("redis", s.cacheManager.Ping))

	s.schedulerHandler = handlers.NewSchedulerHandler(s.service, s.logger)
	s.rateLimitHandler = handlers.NewRateLimitHandler(s.service, s.logger)
	s.statsHandler = handlers.NewStatsHandler(s.service, s.pool, s.collector, s.logger)
	return nil
}

// =============================================================================
// 🌐 业务端口
// =============================================================================

// startHTTPServer 注册路由、套上中间件链并拉起业务端口
func (s *Server) startHTTPServer() error {
	mux := http.NewServeMux()

	rateLimiterCtx, rateLimiterCancel := context.WithCancel(context.Background())
	s.rateLimiterCancel = rateLimiterCancel

	// 探活与版本端点不设认证
	mux.HandleFunc("/health", s.healthHandler.HandleHealth)
	mux.HandleFunc("/healthz", s.healthHandler.HandleHealthz)
	mux.HandleFunc("/ready", s.healthHandler.HandleReady)
	mux.HandleFunc("/readyz", s.healthHandler.HandleReady)
	mux.HandleFunc("/version", s.healthHandler.HandleVersion(Version, BuildTime, GitCommit))

	// 认证显式包在各路由上，不靠全局链的顺序：
	// 调度与上报端点由中继凭服务令牌回调；
	// 解除限流属敏感运维操作，要求 JWT 且按操作者限流。
	serviceAuth := ServiceTokenAuth(s.cfg.Server.ServiceTokens, s.logger)
	adminAuth := JWTAuth(s.cfg.JWT, s.logger)
	operatorLimit := OperatorRateLimiter(rateLimiterCtx,
		float64(s.cfg.Server.RateLimitRPS), s.cfg.Server.RateLimitBurst, s.logger)

	mux.Handle("POST /api/v1/scheduler/select",
		serviceAuth(http.HandlerFunc(s.schedulerHandler.HandleSelect)))
	mux.Handle("GET /api/v1/scheduler/stats",
		serviceAuth(http.HandlerFunc(s.statsHandler.HandleStats)))
	mux.Handle("POST /api/v1/accounts/{id}/rate-limit",
		serviceAuth(http.HandlerFunc(s.rateLimitHandler.HandleMark)))
	mux.Handle("DELETE /api/v1/accounts/{id}/rate-limit",
		Chain(http.HandlerFunc(s.rateLimitHandler.HandleClear), adminAuth, operatorLimit))

	// 外层链，越靠前越早接到请求
	middlewares := []Middleware{
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.collector),
	}
	if s.cfg.Telemetry.Enabled {
		middlewares = append(middlewares, OTelTracing())
	}
	middlewares = append(middlewares,
		CORS(s.cfg.Server.CORSAllowedOrigins),
		RateLimiter(rateLimiterCtx, float64(s.cfg.Server.RateLimitRPS), s.cfg.Server.RateLimitBurst, s.logger),
	)
	handler := Chain(mux, middlewares...)

	httpCfg := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}
	s.httpManager = server.NewManager(handler, httpCfg, s.logger)

	// TLS 开启时证书在这里加载，配置不对就当场失败
	if s.cfg.Server.TLSEnabled {
		if err := s.httpManager.StartTLS(s.cfg.Server.TLSCertFile, s.cfg.Server.TLSKeyFile); err != nil {
			return err
		}
	} else {
		if err := s.httpManager.Start(); err != nil {
			return err
		}
	}

	s.logger.Info("http server up",
		zap.Int("port", s.cfg.Server.HTTPPort),
		zap.Bool("tls", s.cfg.Server.TLSEnabled),
	)
	return nil
}

// =============================================================================
// 📊 指标端口
// =============================================================================

// startMetricsServer 在独立端口暴露 /metrics，与业务流量隔离
func (s *Server) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	metricsCfg := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}
	s.metricsManager = server.NewManager(mux, metricsCfg, s.logger)

	if err := s.metricsManager.Start(); err != nil {
		return err
	}

	s.logger.Info("metrics server up", zap.Int("port", s.cfg.Server.MetricsPort))
	return nil
}

// =============================================================================
// 🛑 收尾
// =============================================================================

// WaitForShutdown 阻塞到退出信号出现，然后走完整的拆除流程
func (s *Server) WaitForShutdown() {
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown()
	}
	s.Shutdown()
}

// Shutdown 按依赖倒序拆除：先停流量入口，再排空调度器的
// 异步写入，最后才轮到存储与遥测
func (s *Server) Shutdown() {
	s.logger.Info("shutting down")

	ctx := context.Background()

	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}

	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("http server shutdown", zap.Error(err))
		}
	}
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("metrics server shutdown", zap.Error(err))
		}
	}

	if s.service != nil {
		if err := s.service.Close(); err != nil {
			s.logger.Error("scheduler close", zap.Error(err))
		}
	}

	if s.cacheManager != nil {
		if err := s.cacheManager.Close(); err != nil {
			s.logger.Error("redis close", zap.Error(err))
		}
	}
	if s.pool != nil {
		if err := s.pool.Close(); err != nil {
			s.logger.Error("db pool close", zap.Error(err))
		}
	}

	if s.otelProviders != nil {
		flushCtx, cancel := context.WithTimeout(ctx, s.cfg.Server.ShutdownTimeout)
		if err := s.otelProviders.Shutdown(flushCtx); err != nil {
			s.logger.Error("telemetry flush", zap.Error(err))
		}
		cancel()
	}

	s.wg.Wait()
	s.logger.Info("shutdown complete")
}
