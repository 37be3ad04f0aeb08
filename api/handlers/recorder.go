package handlers

import "net/http"

// ResponseWriter 记录状态码与响应字节数，供访问日志、指标与 tracing 中间件读取。
// 只有第一次 WriteHeader 生效。
type ResponseWriter struct {
	http.ResponseWriter
	StatusCode int
	Written    bool
	Size       int64
}

func NewResponseWriter(w http.ResponseWriter) *ResponseWriter {
	return &ResponseWriter{ResponseWriter: w, StatusCode: http.StatusOK}
}

func (rw *ResponseWriter) WriteHeader(code int) {
	if rw.Written {
		return
	}
	rw.StatusCode, rw.Written = code, true
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *ResponseWriter) Write(b []byte) (int, error) {
	rw.WriteHeader(http.StatusOK)
	n, err := rw.ResponseWriter.Write(b)
	rw.Size += int64(n)
	return n, err
}

// Flush SSE 逐帧推送需要
func (rw *ResponseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap 让 http.ResponseController 与 websocket 握手拿到底层连接
func (rw *ResponseWriter) Unwrap() http.ResponseWriter { return rw.ResponseWriter }
