package handlers

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// 🏥 健康检查 Handler
// =============================================================================

// CheckFunc 单个依赖的探活函数
type CheckFunc func(ctx context.Context) error

type healthCheck struct {
	name     string
	critical bool
	fn       CheckFunc
}

// HealthHandler 健康检查处理器
type HealthHandler struct {
	logger  *zap.Logger
	timeout time.Duration
	mu      sync.RWMutex
	checks  []healthCheck
}

// HealthStatus 健康状态响应
type HealthStatus struct {
	Status    string                 `json:"status"` // healthy / degraded / unhealthy
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult 单个检查结果
type CheckResult struct {
	Status   string `json:"status"` // pass / fail
	Critical bool   `json:"critical"`
	Message  string `json:"message,omitempty"`
	Latency  string `json:"latency,omitempty"`
}

// NewHealthHandler 创建健康检查处理器
func NewHealthHandler(logger *zap.Logger) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{logger: logger, timeout: 5 * time.Second}
}

// RegisterCheck 注册依赖检查。critical 的检查失败时 /ready 返回 503，
// 其余失败只把状态降为 degraded（例如图谱 RAG、外部搜索）。
func (h *HealthHandler) RegisterCheck(name string, critical bool, fn CheckFunc) {
	if fn == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, healthCheck{name: name, critical: critical, fn: fn})
}

// Checks 返回已注册的检查名（排序后）
func (h *HealthHandler) Checks() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.checks))
	for _, c := range h.checks {
		names = append(names, c.name)
	}
	sort.Strings(names)
	return names
}

// HandleHealth GET /health，只说明进程存活
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, HealthStatus{Status: "healthy", Timestamp: time.Now()})
}

// HandleHealthz GET /healthz，Kubernetes liveness
func (h *HealthHandler) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	h.HandleHealth(w, r)
}

// HandleReady GET /ready，并发执行所有依赖检查
func (h *HealthHandler) HandleReady(w http.ResponseWriter, r *http.Request) {
	status := h.Evaluate(r.Context())
	code := http.StatusOK
	if status.Status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	WriteJSON(w, code, status)
}

// Evaluate 执行检查并汇总状态
func (h *HealthHandler) Evaluate(ctx context.Context) HealthStatus {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	h.mu.RLock()
	checks := make([]healthCheck, len(h.checks))
	copy(checks, h.checks)
	h.mu.RUnlock()

	results := make([]CheckResult, len(checks))
	var g errgroup.Group
	for i, c := range checks {
		g.Go(func() error {
			start := time.Now()
			err := c.fn(ctx)
			latency := time.Since(start)
			res := CheckResult{Status: "pass", Critical: c.critical, Latency: latency.String()}
			if err != nil {
				res.Status = "fail"
				res.Message = err.Error()
				h.logger.Warn("health check failed",
					zap.String("check", c.name),
					zap.Bool("critical", c.critical),
					zap.Error(err),
					zap.Duration("latency", latency),
				)
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	status := HealthStatus{Status: "healthy", Timestamp: time.Now(), Checks: make(map[string]CheckResult, len(checks))}
	for i, c := range checks {
		res := results[i]
		status.Checks[c.name] = res
		if res.Status == "pass" {
			continue
		}
		if c.critical {
			status.Status = "unhealthy"
		} else if status.Status == "healthy" {
			status.Status = "degraded"
		}
	}
	return status
}

// HandleVersion GET /version
func (h *HealthHandler) HandleVersion(version, buildTime, gitCommit string) http.HandlerFunc {
	info := map[string]string{
		"version":    version,
		"build_time": buildTime,
		"git_commit": gitCommit,
	}
	return func(w http.ResponseWriter, _ *http.Request) {
		WriteSuccess(w, info)
	}
}
