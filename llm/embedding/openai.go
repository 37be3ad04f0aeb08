package embedding

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jhlu2019/GustoBot-sub000/llm"
	"github.com/jhlu2019/GustoBot-sub000/llm/retry"
	"github.com/jhlu2019/GustoBot-sub000/types"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// OpenAIConfig OpenAI 兼容嵌入服务配置
type OpenAIConfig struct {
	Provider   string
	APIKey     string
	BaseURL    string
	Model      string
	Dimension  int
	Timeout    time.Duration
	BatchSize  int
	MaxRetries int
	HTTPClient *http.Client
}

// OpenAIEmbedder implements Embedder using go-openai.
type OpenAIEmbedder struct {
	client  *openai.Client
	cfg     OpenAIConfig
	retryer *retry.Retryer
	logger  *zap.Logger
}

// NewOpenAIEmbedder creates an embedder.
func NewOpenAIEmbedder(cfg OpenAIConfig, logger *zap.Logger) (*OpenAIEmbedder, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("embedding model is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 64
	}
	if cfg.Provider == "" {
		cfg.Provider = "openai"
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.HTTPClient != nil {
		oc.HTTPClient = cfg.HTTPClient
	}

	policy := retry.DefaultRetryPolicy()
	if cfg.MaxRetries > 0 {
		policy.MaxRetries = cfg.MaxRetries - 1
	}

	return &OpenAIEmbedder{
		client:  openai.NewClientWithConfig(oc),
		cfg:     cfg,
		retryer: retry.NewRetryer(policy, logger),
		logger:  logger.With(zap.String("component", "embedding"), zap.String("model", cfg.Model)),
	}, nil
}

func (e *OpenAIEmbedder) Dimensions() int { return e.cfg.Dimension }

// Embed 分批请求，结果按 Index 放回原位
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for start := 0; start < len(texts); start += e.cfg.BatchSize {
		end := start + e.cfg.BatchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[start:end]

		resp, err := retry.Do(ctx, e.retryer, func(ctx context.Context) (openai.EmbeddingResponse, error) {
			callCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
			defer cancel()
			resp, err := e.client.CreateEmbeddings(callCtx, openai.EmbeddingRequestStrings{
				Input: batch,
				Model: openai.EmbeddingModel(e.cfg.Model),
			})
			return resp, llm.ClassifyOpenAIError(e.cfg.Provider, err)
		})
		if err != nil {
			e.logger.Warn("embedding failed", zap.Int("batch", len(batch)), zap.Error(err))
			return nil, err
		}
		if len(resp.Data) != len(batch) {
			return nil, types.NewError(types.ErrUpstreamError,
				fmt.Sprintf("embedding count mismatch: got %d want %d", len(resp.Data), len(batch))).
				WithProvider(e.cfg.Provider)
		}

		for i, d := range resp.Data {
			idx := d.Index
			if idx < 0 || idx >= len(batch) {
				idx = i
			}
			if err := e.checkDim(d.Embedding); err != nil {
				return nil, err
			}
			out[start+idx] = d.Embedding
		}
	}
	return out, nil
}

func (e *OpenAIEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *OpenAIEmbedder) checkDim(v []float32) error {
	if e.cfg.Dimension > 0 && len(v) != e.cfg.Dimension {
		return types.NewError(types.ErrIntegrity,
			fmt.Sprintf("embedding dimension mismatch: got %d want %d", len(v), e.cfg.Dimension)).
			WithProvider(e.cfg.Provider)
	}
	return nil
}
