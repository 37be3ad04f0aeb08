package tokenizer

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"
)

// modelEncodings 模型名到 tiktoken 编码
var modelEncodings = map[string]string{
	"gpt-4o":                 "o200k_base",
	"gpt-4o-mini":            "o200k_base",
	"gpt-4.1":                "o200k_base",
	"gpt-4-turbo":            "cl100k_base",
	"gpt-4":                  "cl100k_base",
	"gpt-3.5-turbo":          "cl100k_base",
	"text-embedding-3-large": "cl100k_base",
	"text-embedding-3-small": "cl100k_base",
}

// EncodingForModel 精确匹配优先，其次最长前缀，默认 cl100k_base
func EncodingForModel(model string) string {
	if enc, ok := modelEncodings[model]; ok {
		return enc
	}
	best, enc := "", "cl100k_base"
	for prefix, e := range modelEncodings {
		if strings.HasPrefix(model, prefix) && len(prefix) > len(best) {
			best, enc = prefix, e
		}
	}
	return enc
}

// TiktokenTokenizer 使用 tiktoken 精确计数；编码初始化失败时退回估算器。
type TiktokenTokenizer struct {
	encoding string
	enc      *tiktoken.Tiktoken
	once     sync.Once
	initErr  error
	fallback *EstimatorTokenizer
	logger   *zap.Logger
}

// NewTiktokenTokenizer 为模型创建分词器；编码数据在首次使用时加载（可能需要下载）。
func NewTiktokenTokenizer(model string, logger *zap.Logger) *TiktokenTokenizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TiktokenTokenizer{
		encoding: EncodingForModel(model),
		fallback: NewEstimatorTokenizer(),
		logger:   logger.With(zap.String("component", "tokenizer")),
	}
}

func (t *TiktokenTokenizer) init() error {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err != nil {
			t.initErr = fmt.Errorf("init tiktoken encoding %s: %w", t.encoding, err)
			t.logger.Warn("tiktoken unavailable, using estimator", zap.Error(t.initErr))
			return
		}
		t.enc = enc
	})
	return t.initErr
}

func (t *TiktokenTokenizer) Name() string {
	if t.init() != nil {
		return t.fallback.Name()
	}
	return "tiktoken[" + t.encoding + "]"
}

func (t *TiktokenTokenizer) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	if t.init() != nil {
		return t.fallback.CountTokens(text)
	}
	return len(t.enc.Encode(text, nil, nil))
}

// Clip 在 token 边界截断。解码可能在多字节字符中间断开，去掉末尾的替换字符。
func (t *TiktokenTokenizer) Clip(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return text
	}
	if t.init() != nil {
		return t.fallback.Clip(text, maxTokens)
	}
	tokens := t.enc.Encode(text, nil, nil)
	if len(tokens) <= maxTokens {
		return text
	}
	out := t.enc.Decode(tokens[:maxTokens])
	out = strings.TrimRight(out, "�")
	return out + ClipSuffix
}
