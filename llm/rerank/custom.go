package rerank

import (
	"context"
	"encoding/json"
)

// CustomProvider 自建重排序服务：BaseURL 即完整端点。
// 响应可为 {"results": [...]} 或 {"data": [...]}，分数字段为 relevance_score 或 score。
type CustomProvider struct {
	*httpProvider
}

type customRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n,omitempty"`
	Model     string   `json:"model,omitempty"`
}

type customItem struct {
	Index          int      `json:"index"`
	RelevanceScore *float64 `json:"relevance_score"`
	Score          *float64 `json:"score"`
}

type customResponse struct {
	Results []customItem `json:"results"`
	Data    []customItem `json:"data"`
}

func (p *CustomProvider) Name() string { return "custom" }

func (p *CustomProvider) Rerank(ctx context.Context, req *RerankRequest) (*RerankResponse, error) {
	body := customRequest{Query: req.Query, Documents: req.Documents, TopN: req.TopN, Model: p.model(req)}

	var raw json.RawMessage
	if err := p.postJSON(ctx, p.Name(), p.cfg.BaseURL, body, &raw); err != nil {
		return nil, err
	}

	var resp customResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		// 部分服务直接返回数组
		if err := json.Unmarshal(raw, &resp.Results); err != nil {
			return nil, err
		}
	}
	items := resp.Results
	if len(items) == 0 {
		items = resp.Data
	}

	results := make([]RerankResult, 0, len(items))
	for _, it := range items {
		var score float64
		switch {
		case it.RelevanceScore != nil:
			score = *it.RelevanceScore
		case it.Score != nil:
			score = *it.Score
		}
		results = append(results, RerankResult{Index: it.Index, RelevanceScore: score})
	}
	return &RerankResponse{Provider: p.Name(), Model: body.Model, Results: normalizeResults(results, len(req.Documents))}, nil
}
