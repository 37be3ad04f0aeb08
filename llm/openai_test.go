package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jhlu2019/GustoBot-sub000/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chatServer(t *testing.T, handler func(w http.ResponseWriter, body map[string]any)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		handler(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeCompletion(w http.ResponseWriter, content string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":     "chatcmpl-1",
		"object": "chat.completion",
		"model":  "test-model",
		"choices": []map[string]any{{
			"index":         0,
			"finish_reason": "stop",
			"message":       map[string]any{"role": "assistant", "content": content},
		}},
	})
}

func TestOpenAIClient_Complete(t *testing.T) {
	var gotBody map[string]any
	srv := chatServer(t, func(w http.ResponseWriter, body map[string]any) {
		gotBody = body
		writeCompletion(w, "你好！")
	})

	c, err := NewOpenAIClient(OpenAIConfig{APIKey: "k", BaseURL: srv.URL, Model: "test-model", Temperature: 0.3}, zap.NewNop())
	require.NoError(t, err)

	out, err := c.Complete(context.Background(), []types.Message{
		types.NewSystemMessage("sys"),
		types.NewUserMessage("hi"),
	}, WithJSONMode())
	require.NoError(t, err)
	assert.Equal(t, "你好！", out)

	assert.Equal(t, "test-model", gotBody["model"])
	rf, ok := gotBody["response_format"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "json_object", rf["type"])
	msgs := gotBody["messages"].([]any)
	assert.Len(t, msgs, 2)
}

func TestOpenAIClient_RetriesOn5xx(t *testing.T) {
	var calls atomic.Int32
	srv := chatServer(t, func(w http.ResponseWriter, _ map[string]any) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
			return
		}
		writeCompletion(w, "ok")
	})

	c, err := NewOpenAIClient(OpenAIConfig{APIKey: "k", BaseURL: srv.URL, Model: "m", MaxRetries: 3, Timeout: 5 * time.Second}, nil)
	require.NoError(t, err)

	out, err := c.Complete(context.Background(), []types.Message{types.NewUserMessage("x")})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, int32(2), calls.Load())
}

func TestOpenAIClient_AuthErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := chatServer(t, func(w http.ResponseWriter, _ map[string]any) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
	})

	c, err := NewOpenAIClient(OpenAIConfig{APIKey: "k", BaseURL: srv.URL, Model: "m"}, nil)
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), []types.Message{types.NewUserMessage("x")})
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrUnauthorized))
	assert.Equal(t, int32(1), calls.Load())
}

func TestOpenAIClient_MultimodalMessage(t *testing.T) {
	var gotBody map[string]any
	srv := chatServer(t, func(w http.ResponseWriter, body map[string]any) {
		gotBody = body
		writeCompletion(w, "这是一盘红烧肉")
	})

	c, err := NewOpenAIClient(OpenAIConfig{APIKey: "k", BaseURL: srv.URL, Model: "m"}, nil)
	require.NoError(t, err)

	msg := types.NewUserMessage("这是什么菜？").WithImages([]types.ImageContent{{Type: "url", URL: "http://img/1.jpg"}})
	_, err = c.Complete(context.Background(), []types.Message{msg})
	require.NoError(t, err)

	first := gotBody["messages"].([]any)[0].(map[string]any)
	parts, ok := first["content"].([]any)
	require.True(t, ok, "multimodal content should be an array of parts")
	assert.Len(t, parts, 2)
}

func TestNewOpenAIClient_RequiresModel(t *testing.T) {
	_, err := NewOpenAIClient(OpenAIConfig{}, nil)
	assert.Error(t, err)
}

func TestClassifyStatus(t *testing.T) {
	assert.Equal(t, types.ErrRateLimit, ClassifyStatus("p", 429, "m", nil).Code)
	assert.True(t, ClassifyStatus("p", 502, "m", nil).Retryable)
	assert.False(t, ClassifyStatus("p", 400, "m", nil).Retryable)
	assert.Equal(t, types.ErrForbidden, ClassifyStatus("p", 403, "m", nil).Code)
}
