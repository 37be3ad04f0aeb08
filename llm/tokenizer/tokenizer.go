package tokenizer

import (
	"unicode/utf8"
)

// Tokenizer 统一的计数与截断接口
type Tokenizer interface {
	CountTokens(text string) int
	// Clip 截断到不超过 maxTokens 个 token；maxTokens <= 0 时原样返回
	Clip(text string, maxTokens int) string
	Name() string
}

// ClipSuffix 被截断的文本追加的省略标记
const ClipSuffix = "…"

// 估算成本：CJK 约 1.5 字/token，其余约 4 字符/token
const (
	cjkCost   = 1 / 1.5
	otherCost = 0.25
)

// EstimatorTokenizer tiktoken 编码表不可用时的字符估算器
type EstimatorTokenizer struct{}

func NewEstimatorTokenizer() *EstimatorTokenizer { return &EstimatorTokenizer{} }

func (e *EstimatorTokenizer) Name() string { return "estimator" }

// CountTokens 非空文本至少计 1
func (e *EstimatorTokenizer) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	var cost float64
	for _, r := range text {
		cost += runeCost(r)
	}
	return max(int(cost), 1)
}

// Clip 按估算成本逐 rune 累加，超出预算即截断
func (e *EstimatorTokenizer) Clip(text string, maxTokens int) string {
	if maxTokens <= 0 || e.CountTokens(text) <= maxTokens {
		return text
	}
	budget := float64(maxTokens)
	var used float64
	for i, r := range text {
		cost := runeCost(r)
		if used+cost > budget {
			return text[:i] + ClipSuffix
		}
		used += cost
	}
	return text
}

func runeCost(r rune) float64 {
	if isCJK(r) {
		return cjkCost
	}
	return otherCost
}

func isCJK(r rune) bool {
	return (r >= 0x4E00 && r <= 0x9FFF) || (r >= 0x3400 && r <= 0x4DBF) ||
		(r >= 0x3000 && r <= 0x303F) || (r >= 0xFF00 && r <= 0xFFEF)
}

// ClipRunes 按字符数截断，用于不需要 token 精度的场景（日志、标题）
func ClipRunes(text string, n int) string {
	if n <= 0 || utf8.RuneCountInString(text) <= n {
		return text
	}
	runes := []rune(text)
	return string(runes[:n]) + ClipSuffix
}
