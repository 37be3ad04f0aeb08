package main

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/jhlu2019/GustoBot-sub000/config"
	"github.com/jhlu2019/GustoBot-sub000/internal/metrics"
	"github.com/jhlu2019/GustoBot-sub000/internal/server"
	"github.com/jhlu2019/GustoBot-sub000/internal/telemetry"
)

// 不需要认证与限流的路径
var publicPaths = []string{"/health", "/healthz", "/ready", "/readyz", "/version"}

// Server 管理 API 与 Metrics 两个 HTTP 服务
type Server struct {
	cfg       *config.Config
	logger    *zap.Logger
	app       *App
	metrics   *metrics.Collector
	telemetry *telemetry.Providers

	servers *server.Group

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer 创建服务器
func NewServer(cfg *config.Config, app *App, collector *metrics.Collector, tp *telemetry.Providers, logger *zap.Logger) *Server {
	return &Server{cfg: cfg, app: app, metrics: collector, telemetry: tp, logger: logger}
}

// Start 启动所有服务（非阻塞）
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.servers = server.NewGroup(s.logger)
	s.servers.Add("api", s.Handler(ctx), server.APIConfig(s.cfg.Server))
	if s.cfg.Server.MetricsPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.metrics.Gatherer(), promhttp.HandlerOpts{}))
		s.servers.Add("metrics", mux, server.MetricsConfig(s.cfg.Server.MetricsPort))
	}
	if err := s.servers.Start(); err != nil {
		return err
	}

	if s.app.db != nil || s.app.redis != nil {
		s.wg.Add(1)
		go s.reportBackendStats(ctx, 15*time.Second)
	}

	s.logger.Info("all servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
	)
	return nil
}

// Handler 构建路由与中间件链
func (s *Server) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	h := s.app.health
	mux.HandleFunc("GET /health", h.HandleHealth)
	mux.HandleFunc("GET /healthz", h.HandleHealthz)
	mux.HandleFunc("GET /ready", h.HandleReady)
	mux.HandleFunc("GET /readyz", h.HandleReady)
	mux.HandleFunc("GET /version", h.HandleVersion(Version, BuildTime, GitCommit))

	chat := s.app.chat
	mux.HandleFunc("POST /chat", chat.HandleChat)
	mux.HandleFunc("POST /chat/stream", chat.HandleStream)
	mux.HandleFunc("GET /chat/ws", chat.HandleWebSocket)
	mux.HandleFunc("GET /chat/history/{session_id}", chat.HandleHistory)
	mux.HandleFunc("DELETE /chat/session/{session_id}", chat.HandleDeleteSession)
	mux.HandleFunc("GET /chat/sessions", chat.HandleListSessions)
	mux.HandleFunc("GET /chat/routes", chat.HandleRoutes)

	mux.HandleFunc("POST /upload/file", s.app.upload.HandleFile)
	mux.HandleFunc("POST /upload/image", s.app.upload.HandleImage)
	if prefix := uploadPrefix(s.cfg.Upload.PublicBaseURL); prefix != "" {
		mux.Handle("GET "+prefix, http.StripPrefix(prefix, http.FileServer(http.Dir(s.cfg.Upload.Dir))))
	}

	if s.app.knowledge != nil {
		mux.HandleFunc("POST /knowledge/search", s.app.knowledge.HandleSearch)
	}

	return Chain(mux,
		Recovery(s.logger),
		RequestID(),
		Observe(s.logger, s.metrics),
		SecurityHeaders(),
		CORS(s.cfg.Server.CORSAllowedOrigins),
		RateLimiter(ctx, s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, publicPaths, s.logger),
		APIKeyAuth(s.cfg.Auth.APIKeys, publicPaths, s.logger),
		JWTAuth(s.cfg.Auth.JWTSecret, s.logger),
	)
}

// uploadPrefix 只有相对路径前缀由本进程提供静态文件
func uploadPrefix(base string) string {
	if base == "" || !strings.HasPrefix(base, "/") {
		return ""
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return base
}

// reportBackendStats 周期导出会话库连接池与 Redis 服务端统计
func (s *Server) reportBackendStats(ctx context.Context, every time.Duration) {
	defer s.wg.Done()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.collectBackendStats(ctx)
		}
	}
}

func (s *Server) collectBackendStats(ctx context.Context) {
	if s.app.db != nil {
		st := s.app.db.Stats()
		s.metrics.RecordDBConnections(s.cfg.Database.Driver, st.OpenConnections, st.Idle)
	}
	if s.app.redis != nil {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		st, err := s.app.redis.GetStats(ctx)
		if err != nil {
			s.logger.Debug("redis stats unavailable", zap.Error(err))
			return
		}
		s.metrics.RecordRedisStats(st.Keys, st.UsedMemory, st.Connections)
	}
}

// WaitForShutdown 阻塞到收到信号，然后优雅关闭
func (s *Server) WaitForShutdown() {
	if err := s.servers.Wait(context.Background()); err != nil {
		s.logger.Error("server stopped with error", zap.Error(err))
	}
	s.Shutdown()
}

// Shutdown 依次关闭 HTTP 服务、后台任务、外部连接与遥测
func (s *Server) Shutdown() {
	s.logger.Info("starting graceful shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	if s.servers != nil {
		if err := s.servers.Shutdown(ctx); err != nil {
			s.logger.Error("http shutdown error", zap.Error(err))
		}
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()

	s.app.Close(ctx)
	if s.telemetry != nil {
		if err := s.telemetry.Shutdown(ctx); err != nil {
			s.logger.Warn("telemetry shutdown error", zap.Error(err))
		}
	}
	s.logger.Info("graceful shutdown completed")
}
