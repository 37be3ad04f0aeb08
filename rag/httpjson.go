package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jhlu2019/GustoBot-sub000/internal/tlsutil"
	"github.com/jhlu2019/GustoBot-sub000/llm/retry"
	"github.com/jhlu2019/GustoBot-sub000/types"
)

// jsonClient 检索服务共享的 JSON-over-HTTP 调用
type jsonClient struct {
	name    string
	client  *http.Client
	timeout time.Duration
	retryer *retry.Retryer
	headers map[string]string
}

func newJSONClient(name string, timeout time.Duration, retryer *retry.Retryer) *jsonClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &jsonClient{
		name:    name,
		client:  tlsutil.SecureHTTPClient(timeout),
		timeout: timeout,
		retryer: retryer,
		headers: map[string]string{},
	}
}

// post 发送 JSON 请求并把响应体原样交给 decode
func (c *jsonClient) post(ctx context.Context, url string, body any, decode func(io.Reader) error) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", c.name, err)
	}

	call := func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range c.headers {
			req.Header.Set(k, v)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return types.NewUpstreamError(c.name, 0, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			data, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
			return types.NewUpstreamError(c.name, resp.StatusCode,
				fmt.Errorf("status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(data))))
		}
		return decode(resp.Body)
	}

	if c.retryer == nil {
		return call(ctx)
	}
	return c.retryer.Do(ctx, call)
}

func (c *jsonClient) postJSON(ctx context.Context, url string, body, out any) error {
	return c.post(ctx, url, body, func(r io.Reader) error {
		if err := json.NewDecoder(r).Decode(out); err != nil {
			return fmt.Errorf("decode %s response: %w", c.name, err)
		}
		return nil
	})
}
