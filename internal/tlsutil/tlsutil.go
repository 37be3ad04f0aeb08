// Package tlsutil 构造 GustoBot 的出站 HTTP 客户端。
//
// 所有外部调用（LLM、embedding、rerank、检索服务、Milvus 代理）共用一个加固的 Transport：
// TLS 1.2 起步，1.2 下只协商 ECDHE + AEAD 套件。请求会带上当前 span 的
// traceparent，检索服务和 GustoBot 的链路能在同一个 trace 里看到。
package tlsutil

import (
	"crypto/tls"
	"net"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// UserAgent 出站请求默认 UA，cmd 启动时可覆盖为带版本号的值
var UserAgent = "GustoBot"

var aeadSuites = []uint16{
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
	tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
}

// TLSConfig 每次返回新副本，调用方可以自行追加 RootCAs
func TLSConfig() *tls.Config {
	return &tls.Config{
		MinVersion:   tls.VersionTLS12,
		CipherSuites: append([]uint16(nil), aeadSuites...),
	}
}

var (
	sharedOnce      sync.Once
	sharedTransport *http.Transport
)

// Transport 进程内共享，连接池跨客户端复用。
// 检索服务通常部署在同一内网主机上，单主机空闲连接数放宽到 32。
func Transport() *http.Transport {
	sharedOnce.Do(func() {
		sharedTransport = &http.Transport{
			Proxy:           http.ProxyFromEnvironment,
			TLSClientConfig: TLSConfig(),
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          128,
			MaxIdleConnsPerHost:   32,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: time.Second,
		}
	})
	return sharedTransport
}

// propagatingTransport 注入 trace 上下文与 UA
type propagatingTransport struct {
	base      http.RoundTripper
	userAgent string
}

func (t *propagatingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// RoundTripper 不得修改入参
	out := req.Clone(req.Context())
	otel.GetTextMapPropagator().Inject(out.Context(), propagation.HeaderCarrier(out.Header))
	if out.Header.Get("User-Agent") == "" {
		out.Header.Set("User-Agent", t.userAgent)
	}
	return t.base.RoundTrip(out)
}

// SecureHTTPClient 返回出站客户端。
// timeout <= 0 表示不设整体超时，由调用方的 context 控制（流式接口使用）。
func SecureHTTPClient(timeout time.Duration) *http.Client {
	return newClient(Transport(), timeout)
}

func newClient(base http.RoundTripper, timeout time.Duration) *http.Client {
	if timeout < 0 {
		timeout = 0
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: &propagatingTransport{base: base, userAgent: UserAgent},
	}
}
