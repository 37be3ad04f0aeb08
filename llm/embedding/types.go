package embedding

import "context"

// Embedder 文本向量化接口
type Embedder interface {
	// Embed 按输入顺序返回向量
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// EmbedQuery 向量化单条查询
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	// Dimensions 期望的向量维度；0 表示不校验
	Dimensions() int
}

// Func adapts a function to Embedder. 维度固定为 0。
type Func func(ctx context.Context, texts []string) ([][]float32, error)

func (f Func) Embed(ctx context.Context, texts []string) ([][]float32, error) { return f(ctx, texts) }

func (f Func) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := f(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, nil
	}
	return vecs[0], nil
}

func (f Func) Dimensions() int { return 0 }
