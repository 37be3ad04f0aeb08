package rerank

import (
	"context"
	"time"

	"github.com/jhlu2019/GustoBot-sub000/types"
	"go.uber.org/zap"
)

// RerankerOptions 文档级重排序参数
type RerankerOptions struct {
	TopN          int
	MaxCandidates int
	FusionEnabled bool
	FusionAlpha   float64
}

// Reranker 在 Provider 之上对检索文档重排并写回 RerankScore
type Reranker struct {
	provider Provider
	opts     RerankerOptions
	logger   *zap.Logger
	observe  func(provider string, d time.Duration, err error)
}

// NewReranker 创建文档级重排序器
func NewReranker(provider Provider, opts RerankerOptions, logger *zap.Logger) *Reranker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxCandidates <= 0 {
		opts.MaxCandidates = 50
	}
	return &Reranker{
		provider: provider,
		opts:     opts,
		logger:   logger.With(zap.String("component", "reranker"), zap.String("provider", provider.Name())),
	}
}

// WithObserver 注册调用观测回调（用于指标）
func (r *Reranker) WithObserver(fn func(provider string, d time.Duration, err error)) *Reranker {
	r.observe = fn
	return r
}

// Rerank 对 docs 重排：结果覆盖的文档按相关性在前，未覆盖的按原始顺序追加。
// topN <= 0 时使用默认 TopN；仍为 0 则返回全部。
func (r *Reranker) Rerank(ctx context.Context, query string, docs []types.Document, topN int) ([]types.Document, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	if topN <= 0 {
		topN = r.opts.TopN
	}

	candidates := docs
	if len(candidates) > r.opts.MaxCandidates {
		candidates = candidates[:r.opts.MaxCandidates]
	}
	texts := make([]string, len(candidates))
	for i, d := range candidates {
		texts[i] = d.Content
	}

	start := time.Now()
	resp, err := r.provider.Rerank(ctx, &RerankRequest{Query: query, Documents: texts, TopN: len(candidates)})
	if r.observe != nil {
		r.observe(r.provider.Name(), time.Since(start), err)
	}
	if err != nil {
		r.logger.Warn("rerank failed", zap.Error(err), zap.Int("candidates", len(candidates)))
		return nil, err
	}

	covered := make(map[int]bool, len(resp.Results))
	ranked := make([]types.Document, 0, len(docs))
	for _, res := range resp.Results {
		covered[res.Index] = true
		ranked = append(ranked, candidates[res.Index].WithRerankScore(res.RelevanceScore))
	}

	if r.opts.FusionEnabled && len(ranked) > 1 {
		ranked = fuse(ranked, r.opts.FusionAlpha)
	}

	for i, d := range docs {
		if i < len(candidates) && covered[i] {
			continue
		}
		ranked = append(ranked, d)
	}

	if topN > 0 && len(ranked) > topN {
		ranked = ranked[:topN]
	}
	r.logger.Debug("rerank done",
		zap.Int("input", len(docs)),
		zap.Int("covered", len(covered)),
		zap.Duration("latency", time.Since(start)),
	)
	return ranked, nil
}

func fuse(ranked []types.Document, alpha float64) []types.Document {
	sims := make([]float64, len(ranked))
	rrs := make([]float64, len(ranked))
	for i, d := range ranked {
		sims[i] = d.Score
		rrs[i] = *d.RerankScore
	}
	order, _ := ZScoreFuse(sims, rrs, alpha)
	out := make([]types.Document, len(order))
	for i, idx := range order {
		out[i] = ranked[idx]
	}
	return out
}
