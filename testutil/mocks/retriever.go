package mocks

import (
	"context"
	"sync"

	"github.com/jhlu2019/GustoBot-sub000/rag"
	"github.com/jhlu2019/GustoBot-sub000/types"
)

// MockRetriever 返回固定文档并记录调用
type MockRetriever struct {
	ToolName string
	Docs     []types.Document
	Err      error
	URLValue string

	mu       sync.Mutex
	requests []rag.SearchRequest
}

// NewMockRetriever creates a retriever stamping docs with tool.
func NewMockRetriever(tool string, docs ...types.Document) *MockRetriever {
	stamped := make([]types.Document, len(docs))
	for i, d := range docs {
		stamped[i] = d.WithTool(tool)
	}
	return &MockRetriever{ToolName: tool, Docs: stamped}
}

func (r *MockRetriever) Name() string { return r.ToolName }

// URL 供 KB 比较 SV 与外部检索地址
func (r *MockRetriever) URL() string { return r.URLValue }

func (r *MockRetriever) Search(ctx context.Context, req rag.SearchRequest) ([]types.Document, error) {
	r.mu.Lock()
	r.requests = append(r.requests, req)
	r.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.Err != nil {
		return nil, r.Err
	}
	return append([]types.Document(nil), r.Docs...), nil
}

// Calls 调用次数
func (r *MockRetriever) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.requests)
}

// Requests 请求记录
func (r *MockRetriever) Requests() []rag.SearchRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]rag.SearchRequest(nil), r.requests...)
}
