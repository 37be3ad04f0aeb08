package rag

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/jhlu2019/GustoBot-sub000/llm/embedding"
	"github.com/jhlu2019/GustoBot-sub000/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func jsonServer(t *testing.T, fn func(w http.ResponseWriter, r *http.Request, body map[string]any)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		fn(w, r, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func ptr(f float64) *float64 { return &f }

func TestSVClient_Search(t *testing.T) {
	var got map[string]any
	srv := jsonServer(t, func(w http.ResponseWriter, _ *http.Request, body map[string]any) {
		got = body
		_, _ = w.Write([]byte(`{"results":[
			{"id": 12, "content": "宫保鸡丁起源于清朝丁宝桢", "similarity": 0.83, "metadata": {"title": "宫保鸡丁"}, "source_table": "recipes"},
			{"id": "x", "content": "   ", "similarity": 0.9}
		]}`))
	})

	c := NewSVClient(srv.URL, 0, zap.NewNop())
	docs, err := c.Search(context.Background(), SearchRequest{Query: "宫保鸡丁的历史", TopK: 10, Threshold: ptr(0.5)})
	require.NoError(t, err)
	require.Len(t, docs, 1, "blank content dropped")

	d := docs[0]
	assert.Equal(t, "12", d.ID)
	assert.Equal(t, types.ToolSV, d.Tool)
	assert.Equal(t, "宫保鸡丁", d.Source)
	assert.Equal(t, "recipes", d.SourceTable)
	assert.InDelta(t, 0.83, d.Score, 1e-9)

	assert.Equal(t, "宫保鸡丁的历史", got["query"])
	assert.EqualValues(t, 10, got["top_k"])
	assert.EqualValues(t, 0.5, got["threshold"])
}

func TestSVClient_UpstreamError(t *testing.T) {
	srv := jsonServer(t, func(w http.ResponseWriter, _ *http.Request, _ map[string]any) {
		w.WriteHeader(http.StatusBadRequest)
	})
	_, err := NewSVClient(srv.URL, 0, nil).Search(context.Background(), SearchRequest{Query: "q", TopK: 1})
	require.Error(t, err)
	assert.Equal(t, types.ErrUpstreamError, types.GetErrorCode(err))
}

func TestExternalSearch_AcceptsOnlyResultsEnvelope(t *testing.T) {
	var calls int32
	srv := jsonServer(t, func(w http.ResponseWriter, r *http.Request, _ map[string]any) {
		atomic.AddInt32(&calls, 1)
		if r.URL.Path == "/bare" {
			_, _ = w.Write([]byte(`[{"content": "x"}]`))
			return
		}
		if r.URL.Path == "/other" {
			_, _ = w.Write([]byte(`{"items": [{"content": "x"}]}`))
			return
		}
		_, _ = w.Write([]byte(`{"results": [{"title": "<b>烤鸭</b>", "snippet": "<p>北京烤鸭<script>x()</script> 工艺</p>", "url": "https://a.example/duck", "score": 0.7}]}`))
	})

	ext := NewExternalSearch(srv.URL+"/ok", 0, nil)
	docs, err := ext.Search(context.Background(), SearchRequest{Query: "烤鸭", TopK: 3})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "烤鸭\n北京烤鸭 工艺", docs[0].Content)
	assert.Equal(t, "https://a.example/duck", docs[0].Source)
	assert.Equal(t, types.ToolExternal, docs[0].Tool)
	assert.Equal(t, "ext-1", docs[0].ID)

	_, err = NewExternalSearch(srv.URL+"/other", 0, nil).Search(context.Background(), SearchRequest{Query: "q"})
	assert.True(t, types.IsErrorCode(err, types.ErrMalformedOutput))

	_, err = NewExternalSearch(srv.URL+"/bare", 0, nil).Search(context.Background(), SearchRequest{Query: "q"})
	assert.Error(t, err)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls), "external search is never retried")
}

func TestExternalSearch_FailureNotRetried(t *testing.T) {
	var calls int32
	srv := jsonServer(t, func(w http.ResponseWriter, _ *http.Request, _ map[string]any) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	_, err := NewExternalSearch(srv.URL, 0, nil).Search(context.Background(), SearchRequest{Query: "q"})
	require.Error(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestStripHTML(t *testing.T) {
	assert.Equal(t, "plain", StripHTML("  plain "))
	assert.Equal(t, "a b", StripHTML("<div>a</div><style>.x{}</style><span>b</span>"))
	assert.Equal(t, "鱼 & 肉", StripHTML("鱼 &amp; 肉"))
}

func TestFlexID(t *testing.T) {
	var r struct {
		A FlexID `json:"a"`
		B FlexID `json:"b"`
		C FlexID `json:"c"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a": 42, "b": "k-1", "c": null}`), &r))
	assert.Equal(t, FlexID("42"), r.A)
	assert.Equal(t, FlexID("k-1"), r.B)
	assert.Equal(t, FlexID(""), r.C)
}

func TestFormatBlocks(t *testing.T) {
	docs := []types.Document{
		{ID: "1", Content: "红烧肉需要五花肉", Source: "菜谱A"},
		{ID: "2", Content: "冰糖炒色", SourceTable: "steps"},
	}
	out := FormatBlocks("SV", docs, func(s string) string { return strings.TrimSuffix(s, "五花肉") })
	assert.Equal(t, "[SV#1] 红烧肉需要\n来源：菜谱A\n\n[SV#2] 冰糖炒色\n来源：steps:2", out)
	assert.Empty(t, FormatBlocks("MV", nil, nil))
}

func TestGraphRAGClient_Query(t *testing.T) {
	srv := jsonServer(t, func(w http.ResponseWriter, r *http.Request, body map[string]any) {
		switch r.URL.Path {
		case "/query":
			assert.Equal(t, "global", body["mode"])
			assert.Equal(t, false, body["stream"])
			assert.Equal(t, "recipes", r.Header.Get("LIGHTRAG-WORKSPACE"))
			_, _ = w.Write([]byte(`{"response": " 川菜以麻辣著称 "}`))
		case "/query/stream":
			assert.Equal(t, true, body["stream"])
			_, _ = w.Write([]byte("{\"response\": \"川菜\"}\n\n{\"response\": \"麻辣\"}\n"))
		}
	})

	c := NewGraphRAGClient(GraphRAGConfig{URL: srv.URL + "/", WorkingDir: "/data/recipes", Mode: ModeGlobal}, nil)
	out, err := c.Query(context.Background(), "川菜特色", "")
	require.NoError(t, err)
	assert.Equal(t, "川菜以麻辣著称", out)

	var chunks []string
	err = c.QueryStream(context.Background(), "川菜特色", ModeHybrid, func(s string) error {
		chunks = append(chunks, s)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"川菜", "麻辣"}, chunks)

	docs, err := c.Search(context.Background(), SearchRequest{Query: "川菜"})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, types.ToolGraphRAG, docs[0].Tool)

	require.NoError(t, c.Close())
	_, err = c.Query(context.Background(), "x", "")
	assert.ErrorIs(t, err, ErrGraphRAGClosed)
}

func TestParseGraphRAGMode(t *testing.T) {
	for _, m := range []string{"naive", "local", "global", "hybrid", "mix", "bypass", " MIX "} {
		_, ok := ParseGraphRAGMode(m)
		assert.True(t, ok, m)
	}
	m, ok := ParseGraphRAGMode("deep")
	assert.False(t, ok)
	assert.Equal(t, ModeHybrid, m)
}

func fixedEmbedder(vec []float32) embedding.Embedder {
	return embedding.Func(func(_ context.Context, texts []string) ([][]float32, error) {
		out := make([][]float32, len(texts))
		for i := range texts {
			out[i] = vec
		}
		return out, nil
	})
}

func TestMilvusStore_SearchAndRetriever(t *testing.T) {
	srv := jsonServer(t, func(w http.ResponseWriter, r *http.Request, body map[string]any) {
		require.Equal(t, "/v2/vectordb/entities/search", r.URL.Path)
		assert.Equal(t, "recipes", body["collectionName"])
		assert.Equal(t, `category == "川菜"`, body["filter"])
		_, _ = w.Write([]byte(`{"code":0,"data":[
			{"id":"p1","doc_id":"d1","distance":0.91,"content":"北京烤鸭选用填鸭","source":"烤鸭.md","metadata":{"chunk":1}},
			{"id":"p2","doc_id":"d2","distance":0.31,"content":"无关","metadata":{"title":"t2"}}
		]}`))
	})

	store := NewMilvusStore(MilvusConfig{BaseURL: srv.URL, Collection: "recipes", Dim: 2}, zap.NewNop())
	docs, err := store.Search(context.Background(), []float32{0.1, 0.2}, 5, `category == "川菜"`)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "d1", docs[0].ID)
	assert.Equal(t, "烤鸭.md", docs[0].Source)
	assert.Equal(t, "t2", docs[1].Source)
	assert.Equal(t, types.ToolMV, docs[0].Tool)

	r := NewMVRetriever(store, fixedEmbedder([]float32{0.1, 0.2}), 0.5, nil)
	kept, err := r.Search(context.Background(), SearchRequest{Query: "烤鸭", TopK: 5, Filter: `category == "川菜"`})
	require.NoError(t, err)
	require.Len(t, kept, 1)
	assert.Equal(t, "d1", kept[0].ID)
}

func TestMilvusStore_DimensionMismatch(t *testing.T) {
	store := NewMilvusStore(MilvusConfig{BaseURL: "http://127.0.0.1:1", Collection: "c", Dim: 3}, nil)
	_, err := store.Search(context.Background(), []float32{1}, 5, "")
	assert.True(t, types.IsErrorCode(err, types.ErrIntegrity))
}

func TestMilvusStore_ErrorCodeInBody(t *testing.T) {
	srv := jsonServer(t, func(w http.ResponseWriter, _ *http.Request, _ map[string]any) {
		_, _ = w.Write([]byte(`{"code":1100,"message":"collection not found"}`))
	})
	store := NewMilvusStore(MilvusConfig{BaseURL: srv.URL, Collection: "c"}, nil)
	_, err := store.Search(context.Background(), []float32{1}, 5, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "collection not found")
}

func TestMilvusStore_Count(t *testing.T) {
	srv := jsonServer(t, func(w http.ResponseWriter, r *http.Request, body map[string]any) {
		assert.Equal(t, "/v2/vectordb/collections/get_stats", r.URL.Path)
		assert.Equal(t, "recipes", body["collectionName"])
		assert.Equal(t, "default", body["dbName"])
		_, _ = w.Write([]byte(`{"code":0,"data":{"rowCount":128}}`))
	})

	store := NewMilvusStore(MilvusConfig{BaseURL: srv.URL, Collection: "recipes"}, nil)
	n, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 128, n)
}

func TestMilvusStore_DistanceToScore(t *testing.T) {
	l2 := NewMilvusStore(MilvusConfig{MetricType: "l2"}, nil)
	assert.InDelta(t, 0.5, l2.distanceToScore(1), 1e-9)
	cos := NewMilvusStore(MilvusConfig{}, nil)
	assert.InDelta(t, 1.0, cos.distanceToScore(1.2), 1e-9)
}

func TestVectorLiteral(t *testing.T) {
	assert.Equal(t, "[]", VectorLiteral(nil))
	assert.Equal(t, "[0.5,-1,0.25]", VectorLiteral([]float32{0.5, -1, 0.25}))
}

func TestPGVectorStore_SearchSQL(t *testing.T) {
	s, err := newPGVectorStore(nil, "", "cosine", nil)
	require.NoError(t, err)
	q := s.searchSQL(true)
	assert.Contains(t, q, "1 - (embedding <=> $1::vector) AS similarity")
	assert.Contains(t, q, "FROM searchable_documents WHERE source_table = $3")
	assert.Contains(t, q, "ORDER BY embedding <=> $1::vector LIMIT $2")

	l2, err := newPGVectorStore(nil, "docs", "L2", nil)
	require.NoError(t, err)
	assert.Contains(t, l2.searchSQL(false), "ORDER BY embedding <-> $1::vector")
	assert.NotContains(t, l2.searchSQL(false), "WHERE")

	_, err = newPGVectorStore(nil, "docs; drop table x", "cosine", nil)
	assert.Error(t, err)
	_, err = newPGVectorStore(nil, "docs", "dot", nil)
	assert.Error(t, err)
}

type fakeVectorSearcher struct {
	gotTopK int
	gotVec  []float32
	results []KnowledgeResult
}

func (f *fakeVectorSearcher) Search(_ context.Context, vec []float32, topK int, _ *float64, _ string) ([]KnowledgeResult, error) {
	f.gotVec, f.gotTopK = vec, topK
	return f.results, nil
}

func TestKnowledgeService_Search(t *testing.T) {
	store := &fakeVectorSearcher{results: []KnowledgeResult{{ID: "1", Content: "c", Similarity: 0.9}}}
	svc := NewKnowledgeService(store, fixedEmbedder([]float32{1, 2}), nil)

	resp, err := svc.Search(context.Background(), KnowledgeSearchRequest{Query: "红烧肉", TopK: 500})
	require.NoError(t, err)
	assert.Len(t, resp.Results, 1)
	assert.Equal(t, 100, store.gotTopK, "top_k is capped")
	assert.Equal(t, []float32{1, 2}, store.gotVec)

	_, err = svc.Search(context.Background(), KnowledgeSearchRequest{Query: " "})
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))

	_, err = svc.Search(context.Background(), KnowledgeSearchRequest{Query: "q", Threshold: ptr(1.5)})
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))
}

func TestFilterByScore(t *testing.T) {
	docs := []types.Document{{ID: "a", Score: 0.2}, {ID: "b", Score: 0.6}}
	out := FilterByScore(docs, 0.5)
	require.Len(t, out, 1)
	assert.Equal(t, "b", out[0].ID)
}
