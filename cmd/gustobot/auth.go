package main

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/jhlu2019/GustoBot-sub000/api/handlers"
	"github.com/jhlu2019/GustoBot-sub000/internal/ctxkeys"
	"github.com/jhlu2019/GustoBot-sub000/types"
)

// APIKeyAuth 配置了 API Key 时要求 X-API-Key。公开路径与 CORS 预检不检查。
func APIKeyAuth(keys []string, public []string, logger *zap.Logger) Middleware {
	if len(keys) == 0 {
		return passthrough
	}
	secrets := make([][]byte, len(keys))
	for i, k := range keys {
		secrets[i] = []byte(k)
	}
	open := make(map[string]bool, len(public))
	for _, p := range public {
		open[p] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if open[r.URL.Path] || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			if !matchKey(secrets, r.Header.Get("X-API-Key")) {
				logger.Debug("api key rejected", zap.String("path", r.URL.Path), zap.String("ip", clientIP(r)))
				handlers.WriteError(w, types.NewError(types.ErrUnauthorized, "invalid or missing API key"), nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// matchKey 逐个做常量时间比较，不在首个匹配处提前返回
func matchKey(secrets [][]byte, got string) bool {
	if got == "" {
		return false
	}
	g := []byte(got)
	found := 0
	for _, s := range secrets {
		found |= subtle.ConstantTimeCompare(s, g)
	}
	return found == 1
}

// userClaims GustoBot 前端签发的 token；user_id 缺省时退回 sub
type userClaims struct {
	UserID string `json:"user_id,omitempty"`
	jwt.RegisteredClaims
}

func (c *userClaims) user() string {
	if c.UserID != "" {
		return c.UserID
	}
	return c.Subject
}

// JWTAuth 解析可选的 HS256 Bearer token，把用户 ID 写入 context 供会话归属使用。
// 没有 Authorization 头的请求直接放行；带了无效 token 的请求返回 401。
func JWTAuth(secret string, logger *zap.Logger) Middleware {
	if secret == "" {
		return passthrough
	}
	key := []byte(secret)
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	keyFunc := func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %s", t.Method.Alg())
		}
		return key, nil
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}
			raw, ok := strings.CutPrefix(header, "Bearer ")
			if !ok {
				handlers.WriteError(w, types.NewError(types.ErrUnauthorized, "malformed Authorization header"), nil)
				return
			}

			var claims userClaims
			if _, err := parser.ParseWithClaims(raw, &claims, keyFunc); err != nil {
				logger.Debug("jwt rejected", zap.Error(err))
				handlers.WriteError(w, types.NewError(types.ErrUnauthorized, "invalid or expired token"), nil)
				return
			}

			ctx := r.Context()
			if uid := claims.user(); uid != "" {
				ctx = ctxkeys.WithUserID(ctx, uid)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
