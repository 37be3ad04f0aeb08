package rerank

import (
	"context"
	"strings"
)

// JinaProvider Jina AI Reranker，默认多语言模型
type JinaProvider struct {
	*httpProvider
}

type jinaRequest struct {
	Model           string   `json:"model"`
	Query           string   `json:"query"`
	Documents       []string `json:"documents"`
	TopN            int      `json:"top_n,omitempty"`
	ReturnDocuments bool     `json:"return_documents"`
}

type jinaResponse struct {
	Model   string `json:"model"`
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

func (p *JinaProvider) Name() string { return "jina" }

func (p *JinaProvider) Rerank(ctx context.Context, req *RerankRequest) (*RerankResponse, error) {
	body := jinaRequest{Model: p.model(req), Query: req.Query, Documents: req.Documents, TopN: req.TopN}

	var resp jinaResponse
	url := strings.TrimRight(p.cfg.BaseURL, "/") + "/v1/rerank"
	if err := p.postJSON(ctx, p.Name(), url, body, &resp); err != nil {
		return nil, err
	}

	results := make([]RerankResult, 0, len(resp.Results))
	for _, r := range resp.Results {
		results = append(results, RerankResult{Index: r.Index, RelevanceScore: r.RelevanceScore})
	}
	model := resp.Model
	if model == "" {
		model = body.Model
	}
	return &RerankResponse{Provider: p.Name(), Model: model, Results: normalizeResults(results, len(req.Documents))}, nil
}
