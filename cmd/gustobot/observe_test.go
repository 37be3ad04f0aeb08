package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/jhlu2019/GustoBot-sub000/internal/metrics"
)

func TestObserve(t *testing.T) {
	orig := otel.GetTracerProvider()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(orig)
		_ = tp.Shutdown(context.Background())
	})

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollectorWithRegistry("gustobot", reg, reg, nil)
	core, logs := observer.New(zapcore.DebugLevel)

	handler := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/chat/history/") {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}), RequestID(), Observe(zap.New(core), collector))

	for _, path := range []string{"/chat/history/3f2a9c1e-aaaa-bbbb-cccc-1234567890ab", "/health"} {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	spans := rec.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "GET /chat/history/:id", spans[0].Name())
	assert.Equal(t, "Error", spans[0].Status().Code.String())

	n, err := promtest.GatherAndCount(reg, "gustobot_http_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, int64(http.StatusBadGateway), entries[0].ContextMap()["status"])
	assert.NotEmpty(t, entries[0].ContextMap()["request_id"])
	assert.NotEmpty(t, entries[0].ContextMap()["trace_id"])
	// 探针降级到 debug
	assert.Equal(t, zapcore.DebugLevel, entries[1].Level)
}

func TestIPLimiter_RetryAfter(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := newIPLimiter(0.5, 1)
	l.now = func() time.Time { return now }

	assert.Zero(t, l.reserve("1.1.1.1"))
	wait := l.reserve("1.1.1.1")
	assert.InDelta(t, 2*time.Second, wait, float64(10*time.Millisecond))

	// 被拒绝的请求不消耗令牌：2 秒后恰好可用
	now = now.Add(2 * time.Second)
	assert.Zero(t, l.reserve("1.1.1.1"))

	assert.Equal(t, 1, l.size())
	now = now.Add(visitorTTL + time.Second)
	l.sweep()
	assert.Zero(t, l.size())
}

func TestNewIPLimiter_DefaultBurst(t *testing.T) {
	assert.Equal(t, 3, newIPLimiter(2.5, 0).burst)
	assert.Equal(t, 1, newIPLimiter(0.2, 0).burst)
}

func TestMatchKey(t *testing.T) {
	secrets := [][]byte{[]byte("k1"), []byte("k2")}
	assert.True(t, matchKey(secrets, "k1"))
	assert.True(t, matchKey(secrets, "k2"))
	assert.False(t, matchKey(secrets, "k3"))
	assert.False(t, matchKey(secrets, ""))
	assert.False(t, matchKey(nil, "k1"))
}
