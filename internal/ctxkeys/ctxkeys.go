// Package ctxkeys 定义请求级 context 键：请求 ID、用户 ID、会话 ID。
package ctxkeys

import "context"

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	userIDKey    contextKey = "user_id"
	sessionIDKey contextKey = "session_id"
)

func with(ctx context.Context, k contextKey, v string) context.Context {
	return context.WithValue(ctx, k, v)
}

func get(ctx context.Context, k contextKey) (string, bool) {
	v, ok := ctx.Value(k).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WithRequestID 设置请求 ID（X-Request-ID）
func WithRequestID(ctx context.Context, id string) context.Context {
	return with(ctx, requestIDKey, id)
}

// RequestID 获取请求 ID
func RequestID(ctx context.Context) (string, bool) { return get(ctx, requestIDKey) }

// WithUserID 设置 JWT 解析出的用户 ID
func WithUserID(ctx context.Context, id string) context.Context { return with(ctx, userIDKey, id) }

// UserID 获取用户 ID
func UserID(ctx context.Context) (string, bool) { return get(ctx, userIDKey) }

// WithSessionID 设置会话 ID，供日志字段使用
func WithSessionID(ctx context.Context, id string) context.Context {
	return with(ctx, sessionIDKey, id)
}

// SessionID 获取会话 ID
func SessionID(ctx context.Context) (string, bool) { return get(ctx, sessionIDKey) }
