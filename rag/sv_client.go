package rag

import (
	"context"
	"strings"
	"time"

	"github.com/jhlu2019/GustoBot-sub000/llm/retry"
	"github.com/jhlu2019/GustoBot-sub000/types"
	"go.uber.org/zap"
)

// SVClient 结构化向量库检索客户端
type SVClient struct {
	url    string
	http   *jsonClient
	logger *zap.Logger
}

// NewSVClient url 为完整检索端点，例如 http://ingest:8100/knowledge/search
func NewSVClient(url string, timeout time.Duration, logger *zap.Logger) *SVClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SVClient{
		url:    strings.TrimSpace(url),
		http:   newJSONClient(types.ToolSV, timeout, retry.NewRetryer(retry.DefaultRetryPolicy(), logger)),
		logger: logger.With(zap.String("component", "sv_client")),
	}
}

func (c *SVClient) Name() string { return types.ToolSV }

// URL 返回检索端点，用于与外部检索地址比较
func (c *SVClient) URL() string { return c.url }

// Search 调用 SV 检索服务，结果打上 tool=sv
func (c *SVClient) Search(ctx context.Context, req SearchRequest) ([]types.Document, error) {
	body := KnowledgeSearchRequest{
		Query:       req.Query,
		TopK:        req.TopK,
		Threshold:   req.Threshold,
		SourceTable: req.SourceTable,
	}

	var resp KnowledgeSearchResponse
	if err := c.http.postJSON(ctx, c.url, body, &resp); err != nil {
		return nil, err
	}

	docs := make([]types.Document, 0, len(resp.Results))
	for _, r := range resp.Results {
		if strings.TrimSpace(r.Content) == "" {
			continue
		}
		docs = append(docs, r.ToDocument(types.ToolSV))
	}
	c.logger.Debug("sv search", zap.Int("top_k", req.TopK), zap.Int("results", len(docs)))
	return docs, nil
}
