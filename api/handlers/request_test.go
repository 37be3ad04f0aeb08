package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		Message string `json:"message"`
	}

	tests := []struct {
		name       string
		ctype      string
		body       string
		wantStatus int
	}{
		{"valid", "application/json", `{"message":"你好"}`, 0},
		{"charset param", "application/json; charset=UTF-8", `{"message":"你好"}`, 0},
		{"wrong content type", "text/plain", `{"message":"你好"}`, http.StatusBadRequest},
		{"missing content type", "", `{"message":"你好"}`, http.StatusBadRequest},
		{"unknown field", "application/json", `{"message":"x","model":"gpt"}`, http.StatusBadRequest},
		{"malformed", "application/json", `{"message":`, http.StatusBadRequest},
		{"empty", "application/json", ``, http.StatusBadRequest},
		{"too large", "application/json", `{"message":"` + strings.Repeat("a", maxJSONBody) + `"}`, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(tt.body))
			if tt.ctype != "" {
				r.Header.Set("Content-Type", tt.ctype)
			}
			w := httptest.NewRecorder()
			var p payload
			ok := DecodeJSON(w, r, &p, zap.NewNop())
			if tt.wantStatus != 0 {
				require.False(t, ok)
				assert.Equal(t, tt.wantStatus, w.Code)
				return
			}
			require.True(t, ok)
			assert.Equal(t, "你好", p.Message)
		})
	}
}

func TestQueryInt(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/x?limit=20&offset=-3&bad=abc", nil)
	assert.Equal(t, 20, queryInt(r, "limit", 50))
	assert.Equal(t, 0, queryInt(r, "offset", 0))
	assert.Equal(t, 7, queryInt(r, "bad", 7))
	assert.Equal(t, 9, queryInt(r, "missing", 9))
}
