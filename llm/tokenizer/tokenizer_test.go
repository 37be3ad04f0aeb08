package tokenizer

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestEncodingForModel(t *testing.T) {
	assert.Equal(t, "o200k_base", EncodingForModel("gpt-4o-mini"))
	assert.Equal(t, "o200k_base", EncodingForModel("gpt-4o-2024-08-06"))
	assert.Equal(t, "cl100k_base", EncodingForModel("gpt-4-0613"))
	assert.Equal(t, "cl100k_base", EncodingForModel("qwen-plus"))
}

func TestEstimatorTokenizer_Count(t *testing.T) {
	e := NewEstimatorTokenizer()
	assert.Zero(t, e.CountTokens(""))
	assert.Equal(t, 1, e.CountTokens("a"))
	assert.Equal(t, 2, e.CountTokens("宫保鸡丁"))
	assert.Equal(t, 3, e.CountTokens("hello world!"))
	assert.Greater(t, e.CountTokens("宫保鸡丁的做法"), 0)
	assert.Greater(t, e.CountTokens(strings.Repeat("鸡", 30)), e.CountTokens(strings.Repeat("a", 30)))
}

func TestEstimatorTokenizer_Clip(t *testing.T) {
	e := NewEstimatorTokenizer()
	text := strings.Repeat("红烧肉", 100)

	clipped := e.Clip(text, 10)
	assert.True(t, strings.HasSuffix(clipped, ClipSuffix))
	assert.Less(t, utf8.RuneCountInString(clipped), utf8.RuneCountInString(text))

	assert.Equal(t, "短文本", e.Clip("短文本", 100))
	assert.Equal(t, text, e.Clip(text, 0))
}

func TestEstimatorTokenizer_ClipIsPrefix(t *testing.T) {
	e := NewEstimatorTokenizer()
	rapid.Check(t, func(t *rapid.T) {
		text := rapid.StringMatching(`[a-z红烧肉鸡丁 ]{0,200}`).Draw(t, "text")
		n := rapid.IntRange(1, 50).Draw(t, "n")

		out := e.Clip(text, n)
		if !utf8.ValidString(out) {
			t.Fatalf("invalid utf8: %q", out)
		}
		if !strings.HasPrefix(text, strings.TrimSuffix(out, ClipSuffix)) {
			t.Fatalf("clip is not a prefix: %q of %q", out, text)
		}
	})
}

func TestClipRunes(t *testing.T) {
	assert.Equal(t, "宫保"+ClipSuffix, ClipRunes("宫保鸡丁", 2))
	assert.Equal(t, "宫保鸡丁", ClipRunes("宫保鸡丁", 10))
}
