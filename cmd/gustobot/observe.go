package main

import (
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/jhlu2019/GustoBot-sub000/api/handlers"
	"github.com/jhlu2019/GustoBot-sub000/internal/ctxkeys"
	"github.com/jhlu2019/GustoBot-sub000/internal/metrics"
	"github.com/jhlu2019/GustoBot-sub000/internal/telemetry"
)

// quietPaths 探针请求只在 debug 级别记录
var quietPaths = map[string]bool{"/health": true, "/healthz": true, "/ready": true, "/readyz": true}

// Observe 服务端 span、访问日志与 HTTP 指标共用一次响应包装。
// span 名与指标标签使用归一化路径，会话 ID 不会放大基数。
func Observe(logger *zap.Logger, collector *metrics.Collector) Middleware {
	tracer := telemetry.Tracer("http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			route := normalizePath(r.URL.Path)

			ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := tracer.Start(ctx, r.Method+" "+route,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.HTTPRoute(route),
					semconv.URLPath(r.URL.Path),
				),
			)
			defer span.End()

			rw := handlers.NewResponseWriter(w)
			next.ServeHTTP(rw, r.WithContext(ctx))
			elapsed := time.Since(start)

			span.SetAttributes(attribute.Int("http.response.status_code", rw.StatusCode))
			if rw.StatusCode >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(rw.StatusCode))
			}
			if collector != nil {
				collector.RecordHTTPRequest(r.Method, route, rw.StatusCode, elapsed, rw.Size)
			}

			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rw.StatusCode),
				zap.Int64("size", rw.Size),
				zap.Duration("duration", elapsed),
				zap.String("remote_addr", clientIP(r)),
			}
			if id, ok := ctxkeys.RequestID(r.Context()); ok {
				fields = append(fields, zap.String("request_id", id))
			}
			if sc := span.SpanContext(); sc.IsSampled() {
				fields = append(fields, zap.String("trace_id", sc.TraceID().String()))
			}
			if quietPaths[r.URL.Path] {
				logger.Debug("request", fields...)
			} else {
				logger.Info("request", fields...)
			}
		})
	}
}
