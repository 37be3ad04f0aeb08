package rerank

import (
	"fmt"
	"net/http"
	"time"
)

// Config 重排序服务商配置
type Config struct {
	// custom | cohere | jina | voyage
	Provider string        `json:"provider" yaml:"provider"`
	APIKey   string        `json:"api_key" yaml:"api_key"`
	BaseURL  string        `json:"base_url" yaml:"base_url"`
	Model    string        `json:"model,omitempty" yaml:"model,omitempty"`
	Timeout  time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	// 429 时的最大重试次数
	MaxRetries int          `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`
	HTTPClient *http.Client `json:"-" yaml:"-"`
}

var defaults = map[string]struct{ baseURL, model string }{
	"cohere": {"https://api.cohere.ai", "rerank-v3.5"},
	"jina":   {"https://api.jina.ai", "jina-reranker-v2-base-multilingual"},
	"voyage": {"https://api.voyageai.com", "rerank-2"},
	"custom": {"", ""},
}

// NewProvider 按配置创建服务商适配器
func NewProvider(cfg Config) (Provider, error) {
	d, ok := defaults[cfg.Provider]
	if !ok {
		return nil, fmt.Errorf("unknown rerank provider: %q", cfg.Provider)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = d.baseURL
	}
	if cfg.Model == "" {
		cfg.Model = d.model
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("rerank provider %s requires base_url", cfg.Provider)
	}

	base := newHTTPProvider(cfg)
	switch cfg.Provider {
	case "cohere":
		return &CohereProvider{base}, nil
	case "jina":
		return &JinaProvider{base}, nil
	case "voyage":
		return &VoyageProvider{base}, nil
	default:
		return &CustomProvider{base}, nil
	}
}
