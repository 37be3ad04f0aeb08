package rerank

import (
	"context"
	"strings"
)

// VoyageProvider Voyage AI Rerank；请求使用 top_k，响应字段为 data
type VoyageProvider struct {
	*httpProvider
}

type voyageRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	Model     string   `json:"model"`
	TopK      int      `json:"top_k,omitempty"`
}

type voyageResponse struct {
	Data []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"data"`
	Model string `json:"model"`
}

func (p *VoyageProvider) Name() string { return "voyage" }

func (p *VoyageProvider) Rerank(ctx context.Context, req *RerankRequest) (*RerankResponse, error) {
	body := voyageRequest{Query: req.Query, Documents: req.Documents, Model: p.model(req), TopK: req.TopN}

	var resp voyageResponse
	url := strings.TrimRight(p.cfg.BaseURL, "/") + "/v1/rerank"
	if err := p.postJSON(ctx, p.Name(), url, body, &resp); err != nil {
		return nil, err
	}

	results := make([]RerankResult, 0, len(resp.Data))
	for _, r := range resp.Data {
		results = append(results, RerankResult{Index: r.Index, RelevanceScore: r.RelevanceScore})
	}
	return &RerankResponse{Provider: p.Name(), Model: body.Model, Results: normalizeResults(results, len(req.Documents))}, nil
}
