package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jhlu2019/GustoBot-sub000/rag"
	"github.com/jhlu2019/GustoBot-sub000/types"
)

type fakeSearcher struct {
	got  rag.KnowledgeSearchRequest
	resp *rag.KnowledgeSearchResponse
	err  error
}

func (f *fakeSearcher) Search(_ context.Context, req rag.KnowledgeSearchRequest) (*rag.KnowledgeSearchResponse, error) {
	f.got = req
	return f.resp, f.err
}

func postKnowledge(h *KnowledgeHandler, body string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodPost, "/knowledge/search", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.HandleSearch(w, r)
	return w
}

func TestKnowledgeHandler_HandleSearch(t *testing.T) {
	svc := &fakeSearcher{resp: &rag.KnowledgeSearchResponse{Results: []rag.KnowledgeResult{
		{ID: "42", Content: "宫保鸡丁源自贵州", Similarity: 0.91, Metadata: map[string]any{"dish": "宫保鸡丁"}, Source: "川菜志"},
	}}}
	h := NewKnowledgeHandler(svc, zap.NewNop())

	w := postKnowledge(h, `{"query":"宫保鸡丁的历史","top_k":3,"threshold":0.5}`)
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, "宫保鸡丁的历史", svc.got.Query)
	assert.Equal(t, 3, svc.got.TopK)
	require.NotNil(t, svc.got.Threshold)
	assert.InDelta(t, 0.5, *svc.got.Threshold, 1e-9)

	var body map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	results := body["results"].([]any)
	require.Len(t, results, 1)
	first := results[0].(map[string]any)
	assert.Equal(t, "42", first["id"])
	assert.Equal(t, "川菜志", first["source"])
}

func TestKnowledgeHandler_EmptyResultsSerializeAsArray(t *testing.T) {
	h := NewKnowledgeHandler(&fakeSearcher{resp: &rag.KnowledgeSearchResponse{}}, nil)
	w := postKnowledge(h, `{"query":"无结果","top_k":5}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"results":[]}`, w.Body.String())
}

func TestKnowledgeHandler_Errors(t *testing.T) {
	h := NewKnowledgeHandler(&fakeSearcher{err: types.NewInvalidRequestError("query is required")}, zap.NewNop())
	w := postKnowledge(h, `{"query":"","top_k":5}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	h = NewKnowledgeHandler(&fakeSearcher{err: assert.AnError}, zap.NewNop())
	w = postKnowledge(h, `{"query":"x"}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, string(types.ErrInternalError), decodeErr(t, w).Code)
}
