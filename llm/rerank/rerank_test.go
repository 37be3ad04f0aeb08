package rerank

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/jhlu2019/GustoBot-sub000/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newServer(t *testing.T, fn http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(fn)
	t.Cleanup(srv.Close)
	return srv
}

func TestNewProvider(t *testing.T) {
	for _, name := range []string{"cohere", "jina", "voyage"} {
		p, err := NewProvider(Config{Provider: name})
		require.NoError(t, err, name)
		assert.Equal(t, name, p.Name())
	}

	_, err := NewProvider(Config{Provider: "custom"})
	assert.Error(t, err, "custom requires base_url")

	_, err = NewProvider(Config{Provider: "unknown", BaseURL: "http://x"})
	assert.Error(t, err)
}

func TestCohereProvider_Rerank(t *testing.T) {
	var got map[string]any
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/rerank", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"id":"x","results":[{"index":1,"relevance_score":0.9},{"index":0,"relevance_score":0.2},{"index":7,"relevance_score":0.99}]}`))
	})

	p, err := NewProvider(Config{Provider: "cohere", BaseURL: srv.URL, APIKey: "key"})
	require.NoError(t, err)

	resp, err := p.Rerank(context.Background(), &RerankRequest{Query: "q", Documents: []string{"a", "b"}, TopN: 2})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2, "out-of-range index is dropped")
	assert.Equal(t, 1, resp.Results[0].Index)
	assert.Equal(t, "rerank-v3.5", got["model"])
	assert.EqualValues(t, 2, got["top_n"])
}

func TestVoyageProvider_UsesTopK(t *testing.T) {
	var got map[string]any
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"data":[{"index":0,"relevance_score":0.5}]}`))
	})
	p, err := NewProvider(Config{Provider: "voyage", BaseURL: srv.URL})
	require.NoError(t, err)

	resp, err := p.Rerank(context.Background(), &RerankRequest{Query: "q", Documents: []string{"a"}, TopN: 3})
	require.NoError(t, err)
	assert.Len(t, resp.Results, 1)
	assert.EqualValues(t, 3, got["top_k"])
	assert.NotContains(t, got, "top_n")
}

func TestCustomProvider_ScoreField(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rerank", r.URL.Path)
		_, _ = w.Write([]byte(`{"results":[{"index":0,"score":0.1},{"index":1,"score":0.8}]}`))
	})
	p, err := NewProvider(Config{Provider: "custom", BaseURL: srv.URL + "/rerank"})
	require.NoError(t, err)

	resp, err := p.Rerank(context.Background(), &RerankRequest{Query: "q", Documents: []string{"a", "b"}})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, 1, resp.Results[0].Index)
	assert.InDelta(t, 0.8, resp.Results[0].RelevanceScore, 1e-9)
}

func TestProvider_RetriesOnRateLimit(t *testing.T) {
	var calls int32
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"results":[{"index":0,"relevance_score":0.7}]}`))
	})
	p, err := NewProvider(Config{Provider: "jina", BaseURL: srv.URL})
	require.NoError(t, err)

	resp, err := p.Rerank(context.Background(), &RerankRequest{Query: "q", Documents: []string{"a"}})
	require.NoError(t, err)
	assert.Len(t, resp.Results, 1)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestProvider_ClientErrorNotRetried(t *testing.T) {
	var calls int32
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	})
	p, err := NewProvider(Config{Provider: "cohere", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = p.Rerank(context.Background(), &RerankRequest{Query: "q", Documents: []string{"a"}})
	require.Error(t, err)
	assert.Equal(t, types.ErrUpstreamError, types.GetErrorCode(err))
	assert.False(t, types.IsRetryable(err))
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

// stubProvider 按给定顺序返回结果
type stubProvider struct {
	results []RerankResult
	err     error
}

func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) Rerank(_ context.Context, req *RerankRequest) (*RerankResponse, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &RerankResponse{Provider: "stub", Results: normalizeResults(s.results, len(req.Documents))}, nil
}

func docs(scores ...float64) []types.Document {
	out := make([]types.Document, len(scores))
	for i, s := range scores {
		out[i] = types.Document{ID: string(rune('a' + i)), Content: string(rune('a' + i)), Score: s, Tool: types.ToolSV}
	}
	return out
}

func TestReranker_AppendsUncoveredInOriginalOrder(t *testing.T) {
	p := &stubProvider{results: []RerankResult{{Index: 2, RelevanceScore: 0.9}, {Index: 0, RelevanceScore: 0.4}}}
	r := NewReranker(p, RerankerOptions{}, zap.NewNop())

	out, err := r.Rerank(context.Background(), "q", docs(0.1, 0.2, 0.3, 0.4), 0)
	require.NoError(t, err)
	ids := make([]string, len(out))
	for i, d := range out {
		ids[i] = d.ID
	}
	assert.Equal(t, []string{"c", "a", "b", "d"}, ids)
	require.NotNil(t, out[0].RerankScore)
	assert.InDelta(t, 0.9, *out[0].RerankScore, 1e-9)
	assert.Nil(t, out[2].RerankScore)
}

func TestReranker_TopN(t *testing.T) {
	p := &stubProvider{results: []RerankResult{{Index: 1, RelevanceScore: 0.9}, {Index: 0, RelevanceScore: 0.8}}}
	r := NewReranker(p, RerankerOptions{TopN: 1}, nil)

	out, err := r.Rerank(context.Background(), "q", docs(0.5, 0.5), 0)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "b", out[0].ID)
}

func TestReranker_InputNotMutated(t *testing.T) {
	p := &stubProvider{results: []RerankResult{{Index: 0, RelevanceScore: 0.9}}}
	r := NewReranker(p, RerankerOptions{}, nil)
	in := docs(0.5)

	_, err := r.Rerank(context.Background(), "q", in, 0)
	require.NoError(t, err)
	assert.Nil(t, in[0].RerankScore)
}

func TestReranker_Fusion(t *testing.T) {
	// rerank 更偏好 b，但 a 的相似度远高；alpha=1 时只看相似度
	p := &stubProvider{results: []RerankResult{{Index: 1, RelevanceScore: 0.9}, {Index: 0, RelevanceScore: 0.1}}}
	r := NewReranker(p, RerankerOptions{FusionEnabled: true, FusionAlpha: 1}, nil)

	out, err := r.Rerank(context.Background(), "q", docs(0.95, 0.2), 0)
	require.NoError(t, err)
	assert.Equal(t, "a", out[0].ID)
}

func TestReranker_ProviderError(t *testing.T) {
	r := NewReranker(&stubProvider{err: assert.AnError}, RerankerOptions{}, nil)
	_, err := r.Rerank(context.Background(), "q", docs(0.5), 0)
	assert.ErrorIs(t, err, assert.AnError)
}
