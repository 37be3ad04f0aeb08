package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jhlu2019/GustoBot-sub000/internal/tlsutil"
	"github.com/jhlu2019/GustoBot-sub000/llm/retry"
	"github.com/jhlu2019/GustoBot-sub000/types"
)

// httpProvider 各适配器共享的 HTTP 调用逻辑
type httpProvider struct {
	cfg     Config
	client  *http.Client
	retryer *retry.Retryer
}

func newHTTPProvider(cfg Config) *httpProvider {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = tlsutil.SecureHTTPClient(timeout)
	}
	policy := retry.DefaultRetryPolicy()
	if cfg.MaxRetries > 0 {
		policy.MaxRetries = cfg.MaxRetries
	}
	// 只对限流与 5xx 重试
	policy.Classifier = retry.IsTransient

	return &httpProvider{cfg: cfg, client: client, retryer: retry.NewRetryer(policy, nil)}
}

func (p *httpProvider) model(req *RerankRequest) string {
	if req.Model != "" {
		return req.Model
	}
	return p.cfg.Model
}

// postJSON 发送请求并解码响应；429 转为 RetryAfterError 以触发退避。
func (p *httpProvider) postJSON(ctx context.Context, name, url string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", name, err)
	}

	return p.retryer.Do(ctx, func(ctx context.Context) error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		if p.cfg.APIKey != "" {
			httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
		}

		resp, err := p.client.Do(httpReq)
		if err != nil {
			return types.NewUpstreamError(name, 0, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests {
			return &retry.RetryAfterError{
				Err:   types.NewRateLimitError(name + " rerank rate limited").WithProvider(name),
				After: parseRetryAfter(resp.Header.Get("Retry-After")),
			}
		}
		if resp.StatusCode >= 400 {
			data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return types.NewUpstreamError(name, resp.StatusCode,
				fmt.Errorf("status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(data))))
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode %s response: %w", name, err)
		}
		return nil
	})
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		return time.Until(t)
	}
	return 0
}

// normalizeResults 丢弃越界下标、去重并按分数降序
func normalizeResults(results []RerankResult, n int) []RerankResult {
	seen := make(map[int]bool, len(results))
	out := make([]RerankResult, 0, len(results))
	for _, r := range results {
		if r.Index < 0 || r.Index >= n || seen[r.Index] {
			continue
		}
		seen[r.Index] = true
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].RelevanceScore > out[j].RelevanceScore })
	return out
}
