package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jhlu2019/GustoBot-sub000/internal/ctxkeys"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestSecurityHeaders(t *testing.T) {
	handler := SecurityHeaders()(okHandler())

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	handler.ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "strict-origin-when-cross-origin", w.Header().Get("Referrer-Policy"))
}

func TestSecurityHeaders_ChainedWithRequestID(t *testing.T) {
	var seen string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = ctxkeys.RequestID(r.Context())
		w.Write([]byte("ok"))
	})

	handler := Chain(inner, SecurityHeaders(), RequestID())

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/chat", nil)
	handler.ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	assert.Equal(t, w.Header().Get("X-Request-ID"), seen)
}

func TestRequestID_PassesThroughClientValue(t *testing.T) {
	handler := RequestID()(okHandler())

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Request-ID", "req-123")
	handler.ServeHTTP(w, r)

	assert.Equal(t, "req-123", w.Header().Get("X-Request-ID"))
}

func TestRecovery(t *testing.T) {
	panicking := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})
	handler := Recovery(zap.NewNop())(panicking)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/chat", nil)
	require.NotPanics(t, func() { handler.ServeHTTP(w, r) })

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "INTERNAL_ERROR")
}

func TestRateLimiter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handler := RateLimiter(ctx, 1, 2, []string{"/health"}, zap.NewNop())(okHandler())

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/chat/sessions", nil)
		r.RemoteAddr = "10.0.0.1:5555"
		handler.ServeHTTP(w, r)
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	// 探针不受限
	w0 := httptest.NewRecorder()
	r0 := httptest.NewRequest(http.MethodGet, "/health", nil)
	r0.RemoteAddr = "10.0.0.1:5555"
	handler.ServeHTTP(w0, r0)
	assert.Equal(t, http.StatusOK, w0.Code)

	// 不同 IP 有独立的令牌桶
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/chat/sessions", nil)
	r.RemoteAddr = "10.0.0.2:5555"
	handler.ServeHTTP(w, r)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimiter_DisabledWhenZero(t *testing.T) {
	handler := RateLimiter(context.Background(), 0, 0, nil, zap.NewNop())(okHandler())
	for i := 0; i < 10; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	}
}

func TestAPIKeyAuth(t *testing.T) {
	handler := APIKeyAuth([]string{"k1", "k2"}, []string{"/health"}, zap.NewNop())(okHandler())

	tests := []struct {
		name string
		path string
		key  string
		want int
	}{
		{"valid key", "/chat", "k2", http.StatusOK},
		{"missing key", "/chat", "", http.StatusUnauthorized},
		{"wrong key", "/chat", "nope", http.StatusUnauthorized},
		{"public path", "/health", "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodPost, tt.path, nil)
			if tt.key != "" {
				r.Header.Set("X-API-Key", tt.key)
			}
			handler.ServeHTTP(w, r)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestAPIKeyAuth_NoKeysConfigured(t *testing.T) {
	handler := APIKeyAuth(nil, nil, zap.NewNop())(okHandler())
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/chat", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func TestJWTAuth(t *testing.T) {
	const secret = "test-secret"
	var gotUser string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, _ = ctxkeys.UserID(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	handler := JWTAuth(secret, zap.NewNop())(inner)

	tests := []struct {
		name     string
		header   string
		wantCode int
		wantUser string
	}{
		{
			name:     "user_id claim",
			header:   "Bearer " + signToken(t, secret, jwt.MapClaims{"user_id": "u-1", "exp": time.Now().Add(time.Hour).Unix()}),
			wantCode: http.StatusOK,
			wantUser: "u-1",
		},
		{
			name:     "sub fallback",
			header:   "Bearer " + signToken(t, secret, jwt.MapClaims{"sub": "u-2"}),
			wantCode: http.StatusOK,
			wantUser: "u-2",
		},
		{
			name:     "no header passes anonymously",
			wantCode: http.StatusOK,
		},
		{
			name:     "wrong secret",
			header:   "Bearer " + signToken(t, "other", jwt.MapClaims{"user_id": "u-1"}),
			wantCode: http.StatusUnauthorized,
		},
		{
			name:     "expired",
			header:   "Bearer " + signToken(t, secret, jwt.MapClaims{"user_id": "u-1", "exp": time.Now().Add(-time.Hour).Unix()}),
			wantCode: http.StatusUnauthorized,
		},
		{
			name:     "not bearer",
			header:   "Basic abc",
			wantCode: http.StatusUnauthorized,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotUser = ""
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodPost, "/chat", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			handler.ServeHTTP(w, r)
			assert.Equal(t, tt.wantCode, w.Code)
			assert.Equal(t, tt.wantUser, gotUser)
		})
	}
}

func TestCORS(t *testing.T) {
	t.Run("any origin when unconfigured", func(t *testing.T) {
		handler := CORS(nil)(okHandler())
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/chat/sessions", nil)
		r.Header.Set("Origin", "http://example.com")
		handler.ServeHTTP(w, r)
		assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("preflight allowed origin", func(t *testing.T) {
		handler := CORS([]string{"http://app.local"})(okHandler())
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodOptions, "/chat", nil)
		r.Header.Set("Origin", "http://app.local")
		r.Header.Set("Access-Control-Request-Method", "POST")
		handler.ServeHTTP(w, r)
		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, "http://app.local", w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("preflight rejected origin", func(t *testing.T) {
		handler := CORS([]string{"http://app.local"})(okHandler())
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodOptions, "/chat", nil)
		r.Header.Set("Origin", "http://evil.local")
		r.Header.Set("Access-Control-Request-Method", "POST")
		handler.ServeHTTP(w, r)
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/chat", "/chat"},
		{"/chat/history/3f2a9c1e-1b2c-4d5e-8f90-abcdef012345", "/chat/history/:id"},
		{"/chat/session/my-session", "/chat/session/:id"},
		{"/uploads/2026/10/dish.png", "/uploads/:id"},
		{"/knowledge/12345", "/knowledge/:id"},
		{"/chat/history/", "/chat/history/"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizePath(tt.in), tt.in)
	}
}

func TestUploadPrefix(t *testing.T) {
	assert.Equal(t, "/uploads/", uploadPrefix("/uploads"))
	assert.Equal(t, "/static/img/", uploadPrefix("/static/img/"))
	assert.Empty(t, uploadPrefix("https://cdn.example.com/uploads"))
	assert.Empty(t, uploadPrefix(""))
}
