package main

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/infergate/backend"
	"github.com/BaSui01/infergate/broker"
	"github.com/BaSui01/infergate/config"
	"github.com/BaSui01/infergate/internal/metrics"
	"github.com/BaSui01/infergate/internal/server"
	"github.com/BaSui01/infergate/internal/telemetry"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 是 infergate 的主服务器
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	// 服务器管理器
	httpManager *server.Manager

	// 核心组件
	broker        *broker.Broker
	brokerHandler *BrokerHandler

	// 指标收集器
	metricsCollector *metrics.Collector

	// 遥测提供者
	otelProviders *telemetry.Providers

	// Rate limiter 生命周期管理
	rateLimiterCancel context.CancelFunc

	wg sync.WaitGroup
}

// NewServer 创建新的服务器实例
func NewServer(cfg *config.Config, logger *zap.Logger, otelProviders *telemetry.Providers) *Server {
	return &Server{
		cfg:           cfg,
		logger:        logger,
		otelProviders: otelProviders,
	}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 启动所有服务
func (s *Server) Start() error {
	// 1. 初始化指标收集器
	s.metricsCollector = metrics.NewCollector("infergate", nil, s.logger)

	// 2. 初始化 broker 与后端
	if err := s.initBroker(); err != nil {
		return fmt.Errorf("failed to init broker: %w", err)
	}

	// 3. 启动 HTTP 服务器
	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	s.logger.Info("All servers started",
		zap.String("addr", s.httpManager.Addr()),
		zap.Int("workload_classes", len(s.cfg.Classes)),
	)

	return nil
}

// =============================================================================
// 🔧 初始化方法
// =============================================================================

// initBroker 构建后端调用器与 broker 实例
func (s *Server) initBroker() error {
	routes := make(map[string]backend.Route, len(s.cfg.Backend.Routes))
	for class, endpoint := range s.cfg.Backend.Routes {
		routes[class] = backend.Route(endpoint)
	}

	invoker := backend.NewHTTPInvoker(backend.HTTPConfig{
		BaseURL:         s.cfg.Backend.BaseURL,
		APIKey:          s.cfg.Backend.APIKey,
		CompletionModel: s.cfg.Backend.CompletionModel,
		EmbeddingModel:  s.cfg.Backend.EmbeddingModel,
		Timeout:         s.cfg.Backend.Timeout.Std(),
		Routes:          routes,
	}, s.logger)

	cost := backend.NewTiktokenCost(s.cfg.Backend.TokenEncoding)

	b, err := broker.New(s.cfg, invoker,
		broker.WithLogger(s.logger),
		broker.WithCostFunc(cost.Cost),
	)
	if err != nil {
		return err
	}
	s.broker = b
	s.brokerHandler = NewBrokerHandler(b, s.logger)

	s.logger.Info("Broker initialized",
		zap.String("backend", s.cfg.Backend.BaseURL))
	return nil
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

// startHTTPServer 启动 HTTP 服务器
func (s *Server) startHTTPServer() error {
	mux := http.NewServeMux()

	// 健康检查端点
	mux.HandleFunc("/healthz", s.brokerHandler.HandleHealthz)
	mux.HandleFunc("/version", s.brokerHandler.HandleVersion(Version, BuildTime, GitCommit))

	// 代理 API
	mux.HandleFunc("/v1/requests", s.brokerHandler.HandleRequests)
	mux.HandleFunc("/v1/requests/", s.brokerHandler.HandleRequestByID)
	mux.HandleFunc("/v1/snapshot", s.brokerHandler.HandleSnapshot)

	// Prometheus 指标
	mux.Handle("/metrics", promhttp.Handler())

	// 构建中间件链
	rateLimiterCtx, rateLimiterCancel := context.WithCancel(context.Background())
	s.rateLimiterCancel = rateLimiterCancel
	handler := Chain(mux,
		Recovery(s.logger),
		RequestID(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.metricsCollector),
		RateLimiter(rateLimiterCtx, s.cfg.Server.RateLimit, s.cfg.Server.RateBurst, s.logger),
	)

	serverConfig := server.DefaultConfig()
	serverConfig.Addr = s.cfg.Server.Addr
	serverConfig.ShutdownTimeout = s.cfg.Server.ShutdownTimeout.Std()

	s.httpManager = server.NewManager(handler, serverConfig, s.logger)
	if err := s.httpManager.Start(); err != nil {
		return err
	}

	s.logger.Info("HTTP server started", zap.String("addr", s.httpManager.Addr()))
	return nil
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// WaitForShutdown 等待关闭信号并优雅关闭
func (s *Server) WaitForShutdown() {
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown()
	}
	s.Shutdown()
}

// Shutdown 优雅关闭所有服务
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout.Std())
	defer cancel()

	// 0. 停止 rate limiter 清理 goroutine
	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}

	// 1. 关闭 HTTP 服务器（停止接收新请求）
	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}

	// 2. 关闭 broker（快速失败积压，等待在途后端调用）
	if s.broker != nil {
		if err := s.broker.Close(ctx); err != nil {
			s.logger.Error("Broker shutdown error", zap.Error(err))
		}
	}

	// 3. 关闭遥测
	if s.otelProviders != nil {
		if err := s.otelProviders.Shutdown(ctx); err != nil {
			s.logger.Error("Telemetry shutdown error", zap.Error(err))
		}
	}

	s.wg.Wait()
	s.logger.Info("Graceful shutdown completed")
}
