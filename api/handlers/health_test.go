package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func pass(context.Context) error { return nil }

func failWith(msg string) CheckFunc {
	return func(context.Context) error { return errors.New(msg) }
}

func TestHealthHandler_HandleHealth(t *testing.T) {
	handler := NewHealthHandler(zap.NewNop())
	// liveness 不跑依赖检查
	handler.RegisterCheck("redis", true, failWith("down"))

	for _, path := range []string{"/health", "/healthz"} {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, path, nil)
		if path == "/health" {
			handler.HandleHealth(w, r)
		} else {
			handler.HandleHealthz(w, r)
		}

		assert.Equal(t, http.StatusOK, w.Code, path)
		var status HealthStatus
		require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
		assert.Equal(t, "healthy", status.Status)
		assert.False(t, status.Timestamp.IsZero())
	}
}

func TestHealthHandler_HandleReady(t *testing.T) {
	tests := []struct {
		name           string
		setup          func(*HealthHandler)
		expectedStatus int
		check          func(*testing.T, *HealthStatus)
	}{
		{
			name:           "no checks",
			setup:          func(*HealthHandler) {},
			expectedStatus: http.StatusOK,
			check: func(t *testing.T, s *HealthStatus) {
				assert.Equal(t, "healthy", s.Status)
			},
		},
		{
			name: "all pass",
			setup: func(h *HealthHandler) {
				h.RegisterCheck("redis", true, pass)
				h.RegisterCheck("database", true, pass)
			},
			expectedStatus: http.StatusOK,
			check: func(t *testing.T, s *HealthStatus) {
				assert.Equal(t, "healthy", s.Status)
				assert.Len(t, s.Checks, 2)
				assert.Equal(t, "pass", s.Checks["redis"].Status)
			},
		},
		{
			name: "optional failure degrades",
			setup: func(h *HealthHandler) {
				h.RegisterCheck("redis", true, pass)
				h.RegisterCheck("graphrag", false, failWith("connection refused"))
			},
			expectedStatus: http.StatusOK,
			check: func(t *testing.T, s *HealthStatus) {
				assert.Equal(t, "degraded", s.Status)
				assert.Equal(t, "fail", s.Checks["graphrag"].Status)
				assert.Equal(t, "connection refused", s.Checks["graphrag"].Message)
				assert.False(t, s.Checks["graphrag"].Critical)
			},
		},
		{
			name: "critical failure",
			setup: func(h *HealthHandler) {
				h.RegisterCheck("neo4j", false, failWith("x"))
				h.RegisterCheck("database", true, failWith("check failed"))
			},
			expectedStatus: http.StatusServiceUnavailable,
			check: func(t *testing.T, s *HealthStatus) {
				assert.Equal(t, "unhealthy", s.Status)
				assert.Equal(t, "check failed", s.Checks["database"].Message)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(zap.NewNop())
			tt.setup(h)

			w := httptest.NewRecorder()
			h.HandleReady(w, httptest.NewRequest(http.MethodGet, "/ready", nil))

			assert.Equal(t, tt.expectedStatus, w.Code)
			var status HealthStatus
			require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
			tt.check(t, &status)
		})
	}
}

func TestHealthHandler_ChecksRunConcurrently(t *testing.T) {
	h := NewHealthHandler(zap.NewNop())
	var wg sync.WaitGroup
	wg.Add(3)
	for _, name := range []string{"a", "b", "c"} {
		h.RegisterCheck(name, true, func(ctx context.Context) error {
			// 三个检查互相等待，串行执行会超时
			wg.Done()
			done := make(chan struct{})
			go func() { wg.Wait(); close(done) }()
			select {
			case <-done:
				return nil
			case <-time.After(2 * time.Second):
				return errors.New("not concurrent")
			}
		})
	}

	status := h.Evaluate(context.Background())
	assert.Equal(t, "healthy", status.Status)
	assert.Equal(t, []string{"a", "b", "c"}, h.Checks())
}

func TestHealthHandler_NilCheckIgnored(t *testing.T) {
	h := NewHealthHandler(nil)
	h.RegisterCheck("noop", true, nil)
	assert.Empty(t, h.Checks())
}

func TestHealthHandler_HandleVersion(t *testing.T) {
	handler := NewHealthHandler(zap.NewNop())

	w := httptest.NewRecorder()
	handler.HandleVersion("1.0.0", "2026-01-01T00:00:00Z", "abc123")(w, httptest.NewRequest(http.MethodGet, "/version", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.True(t, resp.Success)
	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "1.0.0", data["version"])
	assert.Equal(t, "abc123", data["git_commit"])
}
