// Package server 运行 GustoBot 的 HTTP 监听端口。
//
// API 端口与可选的 /metrics 端口放在同一个 Group 里：Start 先绑定全部端口，
// 任何一个失败就释放已绑定的；Wait 在收到 SIGINT/SIGTERM、任一端口异常退出
// 或 ctx 结束时返回，随后由 Shutdown 并行关闭所有端口。
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jhlu2019/GustoBot-sub000/config"
)

// Config 单个监听端口的参数
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// APIConfig API 端口；SSE 与 websocket 长连接需要较长的写超时
func APIConfig(sc config.ServerConfig) Config {
	c := Config{
		Addr:         ":8000",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 3 * time.Minute,
		IdleTimeout:  2 * time.Minute,
	}
	if sc.HTTPPort > 0 {
		c.Addr = fmt.Sprintf(":%d", sc.HTTPPort)
	}
	if sc.ReadTimeout > 0 {
		c.ReadTimeout = sc.ReadTimeout
	}
	if sc.WriteTimeout > 0 {
		c.WriteTimeout = sc.WriteTimeout
	}
	return c
}

// MetricsConfig Prometheus 抓取端口
func MetricsConfig(port int) Config {
	return Config{
		Addr:         fmt.Sprintf(":%d", port),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  time.Minute,
	}
}

type endpoint struct {
	name string
	srv  *http.Server
	ln   net.Listener
}

// Group 一组共同启停的 HTTP 服务
type Group struct {
	logger *zap.Logger

	mu        sync.Mutex
	endpoints []*endpoint
	started   bool
	closed    bool
	errCh     chan error
}

func NewGroup(logger *zap.Logger) *Group {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Group{logger: logger.With(zap.String("component", "http_server"))}
}

// Add 注册端口，必须在 Start 之前调用
func (g *Group) Add(name string, h http.Handler, cfg Config) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.endpoints = append(g.endpoints, &endpoint{
		name: name,
		srv: &http.Server{
			Addr:              cfg.Addr,
			Handler:           h,
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      cfg.WriteTimeout,
			IdleTimeout:       cfg.IdleTimeout,
			MaxHeaderBytes:    1 << 20,
		},
	})
}

// Start 绑定全部端口并在后台服务
func (g *Group) Start() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	switch {
	case g.closed:
		return errors.New("server group is closed")
	case g.started:
		return errors.New("server group already started")
	}

	for i, ep := range g.endpoints {
		ln, err := net.Listen("tcp", ep.srv.Addr)
		if err != nil {
			for _, bound := range g.endpoints[:i] {
				_ = bound.ln.Close()
				bound.ln = nil
			}
			return fmt.Errorf("listen %s on %s: %w", ep.name, ep.srv.Addr, err)
		}
		ep.ln = ln
	}

	g.errCh = make(chan error, len(g.endpoints))
	for _, ep := range g.endpoints {
		g.logger.Info("listening", zap.String("server", ep.name), zap.String("addr", ep.ln.Addr().String()))
		go func(ep *endpoint) {
			if err := ep.srv.Serve(ep.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				g.errCh <- fmt.Errorf("%s server: %w", ep.name, err)
			}
		}(ep)
	}
	g.started = true
	return nil
}

// Wait 阻塞到收到终止信号、某个端口异常退出或 ctx 结束。
// 返回值只反映端口异常；信号与 ctx 结束视为正常退出。
func (g *Group) Wait(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g.mu.Lock()
	errCh := g.errCh
	g.mu.Unlock()
	if errCh == nil {
		return errors.New("server group not started")
	}

	select {
	case err := <-errCh:
		g.logger.Error("server exited unexpectedly", zap.Error(err))
		return err
	case <-ctx.Done():
		g.logger.Info("shutdown requested", zap.NamedError("cause", context.Cause(ctx)))
		return nil
	}
}

// Shutdown 并行关闭所有端口，可重复调用
func (g *Group) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	endpoints := g.endpoints
	g.mu.Unlock()

	var eg errgroup.Group
	for _, ep := range endpoints {
		if ep.ln == nil {
			continue
		}
		eg.Go(func() error {
			if err := ep.srv.Shutdown(ctx); err != nil {
				return fmt.Errorf("shutdown %s server: %w", ep.name, err)
			}
			g.logger.Info("stopped", zap.String("server", ep.name))
			return nil
		})
	}
	return eg.Wait()
}

// Addr 已绑定端口的实际地址，未知名称或未启动时返回空串
func (g *Group) Addr(name string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, ep := range g.endpoints {
		if ep.name == name && ep.ln != nil {
			return ep.ln.Addr().String()
		}
	}
	return ""
}

// Running 已启动且未关闭
func (g *Group) Running() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.started && !g.closed
}
