package rerank

import (
	"context"
	"strings"
)

// CohereProvider Cohere Rerank v2
type CohereProvider struct {
	*httpProvider
}

type cohereRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	Model     string   `json:"model"`
	TopN      int      `json:"top_n,omitempty"`
}

type cohereResponse struct {
	ID      string `json:"id"`
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

func (p *CohereProvider) Name() string { return "cohere" }

func (p *CohereProvider) Rerank(ctx context.Context, req *RerankRequest) (*RerankResponse, error) {
	body := cohereRequest{Query: req.Query, Documents: req.Documents, Model: p.model(req), TopN: req.TopN}

	var resp cohereResponse
	url := strings.TrimRight(p.cfg.BaseURL, "/") + "/v2/rerank"
	if err := p.postJSON(ctx, p.Name(), url, body, &resp); err != nil {
		return nil, err
	}

	results := make([]RerankResult, 0, len(resp.Results))
	for _, r := range resp.Results {
		results = append(results, RerankResult{Index: r.Index, RelevanceScore: r.RelevanceScore})
	}
	return &RerankResponse{
		Provider: p.Name(),
		Model:    body.Model,
		Results:  normalizeResults(results, len(req.Documents)),
	}, nil
}
