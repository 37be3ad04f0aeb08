// Package metrics 暴露 GustoBot 的 Prometheus 指标。
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器。所有 Record 方法对 nil 接收者安全，组件可不注入。
type Collector struct {
	registry prometheus.Gatherer

	// HTTP
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// 路由与守卫
	routeDecisions     *prometheus.CounterVec
	guardrailDecisions *prometheus.CounterVec
	turnDuration       *prometheus.HistogramVec

	// 检索
	retrievalCalls     *prometheus.CounterVec
	retrievalDuration  *prometheus.HistogramVec
	retrievalDocuments *prometheus.HistogramVec

	// LLM
	llmRequestsTotal   *prometheus.CounterVec
	llmRequestDuration *prometheus.HistogramVec

	// 缓存
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	// 会话库连接池
	dbConnectionsOpen *prometheus.GaugeVec
	dbConnectionsIdle *prometheus.GaugeVec

	// 远程依赖熔断状态
	breakerState *prometheus.GaugeVec

	// Redis 服务端（INFO / DBSIZE）
	redisKeys        prometheus.Gauge
	redisUsedMemory  prometheus.Gauge
	redisConnections prometheus.Gauge

	logger *zap.Logger
}

// NewCollector 在默认注册表上创建收集器
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	return NewCollectorWithRegistry(namespace, prometheus.DefaultRegisterer, prometheus.DefaultGatherer, logger)
}

// NewCollectorWithRegistry 在指定注册表上创建收集器（测试使用独立注册表）
func NewCollectorWithRegistry(namespace string, reg prometheus.Registerer, gatherer prometheus.Gatherer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	f := promauto.With(reg)
	c := &Collector{
		registry: gatherer,
		logger:   logger.With(zap.String("component", "metrics")),
	}

	c.httpRequestsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	c.httpRequestDuration = f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds",
		Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
	}, []string{"method", "path"})

	c.httpResponseSize = f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_response_size_bytes",
		Help:      "HTTP response size in bytes",
		Buckets:   prometheus.ExponentialBuckets(100, 10, 7),
	}, []string{"method", "path"})

	c.routeDecisions = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "route_decisions_total",
		Help:      "Router decisions by route and decision source (llm, heuristic, override, cache)",
	}, []string{"route", "source"})

	c.guardrailDecisions = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "guardrail_decisions_total",
		Help:      "Guardrail outcomes by caller graph and decision",
	}, []string{"graph", "decision"})

	c.turnDuration = f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "turn_duration_seconds",
		Help:      "End-to-end duration of one conversation turn",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
	}, []string{"route"})

	c.retrievalCalls = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "retrieval_calls_total",
		Help:      "Retrieval calls per tool (sv, mv, external, kg, graphrag, sql)",
	}, []string{"tool", "status"})

	c.retrievalDuration = f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "retrieval_duration_seconds",
		Help:      "Retrieval call duration in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"tool"})

	c.retrievalDocuments = f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "retrieval_documents",
		Help:      "Documents returned per retrieval call",
		Buckets:   []float64{0, 1, 2, 5, 10, 20, 50},
	}, []string{"tool"})

	c.llmRequestsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "llm_requests_total",
		Help:      "LLM requests by call site (router, chat, guardrails, vision, ...)",
	}, []string{"call", "status"})

	c.llmRequestDuration = f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "llm_request_duration_seconds",
		Help:      "LLM request duration in seconds",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"call"})

	c.cacheHits = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_hits_total",
		Help:      "Total number of cache hits",
	}, []string{"cache_type"})

	c.cacheMisses = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_misses_total",
		Help:      "Total number of cache misses",
	}, []string{"cache_type"})

	c.dbConnectionsOpen = f.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "db_connections_open",
		Help:      "Number of open database connections",
	}, []string{"database"})

	c.dbConnectionsIdle = f.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "db_connections_idle",
		Help:      "Number of idle database connections",
	}, []string{"database"})

	c.breakerState = f.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "breaker_state",
		Help:      "Circuit breaker state per remote dependency (0=closed, 1=open, 2=half-open)",
	}, []string{"name"})

	c.redisKeys = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "redis_keys",
		Help:      "Number of keys in the Redis database used for history and cache",
	})

	c.redisUsedMemory = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "redis_used_memory_bytes",
		Help:      "Memory reported by Redis INFO",
	})

	c.redisConnections = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "redis_connected_clients",
		Help:      "Connected clients reported by Redis INFO",
	})

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))
	return c
}

// Gatherer 供 /metrics 处理器使用
func (c *Collector) Gatherer() prometheus.Gatherer {
	if c == nil || c.registry == nil {
		return prometheus.DefaultGatherer
	}
	return c.registry
}

// =============================================================================
// 🎯 记录方法
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, responseSize int64) {
	if c == nil {
		return
	}
	c.httpRequestsTotal.WithLabelValues(method, path, statusClass(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// RecordRoute 记录一次路由决策
func (c *Collector) RecordRoute(route, source string) {
	if c == nil {
		return
	}
	c.routeDecisions.WithLabelValues(route, source).Inc()
}

// RecordGuardrail 记录守卫结果
func (c *Collector) RecordGuardrail(graph, decision string) {
	if c == nil {
		return
	}
	c.guardrailDecisions.WithLabelValues(graph, decision).Inc()
}

// RecordTurn 记录一轮对话耗时
func (c *Collector) RecordTurn(route string, duration time.Duration) {
	if c == nil {
		return
	}
	c.turnDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordRetrieval 记录一次检索调用
func (c *Collector) RecordRetrieval(tool string, err error, duration time.Duration, docs int) {
	if c == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.retrievalCalls.WithLabelValues(tool, status).Inc()
	c.retrievalDuration.WithLabelValues(tool).Observe(duration.Seconds())
	if err == nil {
		c.retrievalDocuments.WithLabelValues(tool).Observe(float64(docs))
	}
}

// RecordLLMRequest 按调用点记录 LLM 请求
func (c *Collector) RecordLLMRequest(call string, err error, duration time.Duration) {
	if c == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.llmRequestsTotal.WithLabelValues(call, status).Inc()
	c.llmRequestDuration.WithLabelValues(call).Observe(duration.Seconds())
}

// RecordCacheHit 记录缓存命中
func (c *Collector) RecordCacheHit(cacheType string) {
	if c == nil {
		return
	}
	c.cacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss 记录缓存未命中
func (c *Collector) RecordCacheMiss(cacheType string) {
	if c == nil {
		return
	}
	c.cacheMisses.WithLabelValues(cacheType).Inc()
}

// RecordDBConnections 记录连接池状态
func (c *Collector) RecordDBConnections(database string, open, idle int) {
	if c == nil {
		return
	}
	c.dbConnectionsOpen.WithLabelValues(database).Set(float64(open))
	c.dbConnectionsIdle.WithLabelValues(database).Set(float64(idle))
}

// RecordRedisStats 记录 Redis 服务端统计
func (c *Collector) RecordRedisStats(keys, usedMemory int64, connections int) {
	if c == nil {
		return
	}
	c.redisKeys.Set(float64(keys))
	c.redisUsedMemory.Set(float64(usedMemory))
	c.redisConnections.Set(float64(connections))
}

// RecordBreakerState 记录熔断器状态
func (c *Collector) RecordBreakerState(name string, state int) {
	if c == nil {
		return
	}
	c.breakerState.WithLabelValues(name).Set(float64(state))
}

func statusClass(code int) string {
	if code < 100 || code > 599 {
		return "unknown"
	}
	return strconv.Itoa(code/100) + "xx"
}
