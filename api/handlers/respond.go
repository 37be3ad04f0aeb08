package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/jhlu2019/GustoBot-sub000/types"
)

// Response 非流式接口的统一外壳
type Response struct {
	Success   bool       `json:"success"`
	Data      any        `json:"data,omitempty"`
	Error     *ErrorInfo `json:"error,omitempty"`
	RequestID string     `json:"request_id,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// ErrorInfo 前端据 retryable 决定是否提示“稍后重试”，因此该字段总是输出
type ErrorInfo struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// codeStatus 未显式设置 HTTPStatus 的错误按错误码取状态码，缺省 500
var codeStatus = map[types.ErrorCode]int{
	types.ErrInvalidRequest:     http.StatusBadRequest,
	types.ErrUnsafeStatement:    http.StatusBadRequest,
	types.ErrUnauthorized:       http.StatusUnauthorized,
	types.ErrForbidden:          http.StatusForbidden,
	types.ErrGuardrailsViolated: http.StatusForbidden,
	types.ErrNotFound:           http.StatusNotFound,
	types.ErrPayloadTooLarge:    http.StatusRequestEntityTooLarge,
	types.ErrRateLimit:          http.StatusTooManyRequests,
	types.ErrUpstreamError:      http.StatusBadGateway,
	types.ErrServiceUnavailable: http.StatusServiceUnavailable,
	types.ErrUpstreamTimeout:    http.StatusGatewayTimeout,
}

func statusOf(e *types.Error) int {
	if e.HTTPStatus != 0 {
		return e.HTTPStatus
	}
	if s, ok := codeStatus[e.Code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// WriteJSON 头部写出后编码失败已无法改状态码，错误被丢弃
func WriteJSON(w http.ResponseWriter, status int, v any) {
	h := w.Header()
	h.Set("Content-Type", "application/json; charset=utf-8")
	h.Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteSuccess 200 + 外壳
func WriteSuccess(w http.ResponseWriter, data any) {
	WriteJSON(w, http.StatusOK, Response{
		Success:   true,
		Data:      data,
		RequestID: w.Header().Get("X-Request-ID"),
		Timestamp: time.Now().UTC(),
	})
}

// WriteError 5xx 记 error 日志，其余记 debug；logger 可为 nil
func WriteError(w http.ResponseWriter, e *types.Error, logger *zap.Logger) {
	status := statusOf(e)
	reqID := w.Header().Get("X-Request-ID")
	if logger != nil {
		log := logger.Debug
		if status >= http.StatusInternalServerError {
			log = logger.Error
		}
		log("request failed",
			zap.String("request_id", reqID),
			zap.String("code", string(e.Code)),
			zap.Int("status", status),
			zap.String("message", e.Message),
			zap.NamedError("cause", e.Cause),
		)
	}
	WriteJSON(w, status, Response{
		Error:     &ErrorInfo{Code: string(e.Code), Message: e.Message, Retryable: e.Retryable},
		RequestID: reqID,
		Timestamp: time.Now().UTC(),
	})
}

// WriteAnyError 非 *types.Error 的错误不向客户端暴露细节
func WriteAnyError(w http.ResponseWriter, err error, logger *zap.Logger) {
	var e *types.Error
	if !errors.As(err, &e) {
		e = types.NewInternalError("internal error").WithCause(err)
	}
	WriteError(w, e, logger)
}
