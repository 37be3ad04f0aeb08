package rerank

import "context"

// RerankRequest 重排序请求
type RerankRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	Model     string   `json:"model,omitempty"`
	TopN      int      `json:"top_n,omitempty"`
}

// RerankResult 单条结果：原始下标与归一化分数
type RerankResult struct {
	Index          int     `json:"index"`
	RelevanceScore float64 `json:"relevance_score"`
}

// RerankResponse 重排序响应，Results 按分数降序
type RerankResponse struct {
	Provider string         `json:"provider"`
	Model    string         `json:"model"`
	Results  []RerankResult `json:"results"`
}

// Provider 统一的重排序服务商接口
type Provider interface {
	Rerank(ctx context.Context, req *RerankRequest) (*RerankResponse, error)
	Name() string
}
