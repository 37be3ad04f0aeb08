package cache

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"

	"github.com/jhlu2019/GustoBot-sub000/testutil/mocks"
)

// tableEmbedder 按表返回固定向量，未登记的文本退回哈希向量
type tableEmbedder struct {
	vecs  map[string][]float32
	err   error
	calls int
	hash  mocks.HashEmbedder
}

func (e *tableEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.EmbedQuery(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (e *tableEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	if v, ok := e.vecs[text]; ok {
		return v, nil
	}
	return e.hash.EmbedQuery(ctx, text)
}

func (e *tableEmbedder) Dimensions() int { return 0 }

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

func newSemantic(t *testing.T, emb *tableEmbedder, cfg SemanticConfig) (*miniredis.Miniredis, *SemanticCache) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	c := NewSemanticCache(rdb, emb, cfg, zap.NewNop())
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	c.now = clock.now
	return mr, c
}

func TestSemanticCache_ExactHit(t *testing.T) {
	emb := &tableEmbedder{}
	_, c := newSemantic(t, emb, SemanticConfig{})
	ctx := context.Background()

	require.NoError(t, c.Store(ctx, "s1", "红烧肉怎么做", "先焯水再炒糖色"))

	hit, ok, err := c.Lookup(ctx, "s1", "  红烧肉怎么做 ")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "先焯水再炒糖色", hit.Response)
	assert.Equal(t, 1.0, hit.Similarity)

	meta, found, err := c.Meta(ctx, "s1", hit.Hash)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(1), meta.AccessCount)
	assert.True(t, meta.LastAccess.After(meta.CreatedAt))
}

func TestSemanticCache_SimilarityThreshold(t *testing.T) {
	emb := &tableEmbedder{vecs: map[string][]float32{
		"红烧肉怎么做":   {1, 0, 0},
		"红烧肉的做法":   {0.96, 0.28, 0},
		"宫保鸡丁用什么肉": {0, 1, 0},
	}}
	_, c := newSemantic(t, emb, SemanticConfig{Threshold: 0.92})
	ctx := context.Background()

	require.NoError(t, c.Store(ctx, "s1", "红烧肉怎么做", "答案A"))

	hit, ok, err := c.Lookup(ctx, "s1", "红烧肉的做法")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "答案A", hit.Response)
	assert.InDelta(t, 0.96, hit.Similarity, 1e-6)

	_, ok, err = c.Lookup(ctx, "s1", "宫保鸡丁用什么肉")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSemanticCache_NamespacesAreIsolated(t *testing.T) {
	_, c := newSemantic(t, &tableEmbedder{}, SemanticConfig{})
	ctx := context.Background()

	require.NoError(t, c.Store(ctx, "s1", "q", "a"))
	_, ok, err := c.Lookup(ctx, "s2", "q")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSemanticCache_EmptyInputs(t *testing.T) {
	emb := &tableEmbedder{}
	_, c := newSemantic(t, emb, SemanticConfig{})
	ctx := context.Background()

	require.NoError(t, c.Store(ctx, "s1", "q", "  "))
	n, err := c.Len(ctx, "s1")
	require.NoError(t, err)
	assert.Zero(t, n)

	_, ok, err := c.Lookup(ctx, "s1", "")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, emb.calls)
}

func TestSemanticCache_EmptyNamespaceSkipsEmbedding(t *testing.T) {
	emb := &tableEmbedder{}
	_, c := newSemantic(t, emb, SemanticConfig{})

	_, ok, err := c.Lookup(context.Background(), "s1", "q")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, emb.calls)
}

func TestSemanticCache_EmbedderError(t *testing.T) {
	emb := &tableEmbedder{}
	_, c := newSemantic(t, emb, SemanticConfig{})
	ctx := context.Background()
	require.NoError(t, c.Store(ctx, "s1", "q1", "a"))

	emb.err = errors.New("embedding down")
	_, ok, err := c.Lookup(ctx, "s1", "q2")
	assert.Error(t, err)
	assert.False(t, ok)

	assert.Error(t, c.Store(ctx, "s1", "q3", "a"))
}

func TestSemanticCache_TTL(t *testing.T) {
	mr, c := newSemantic(t, &tableEmbedder{}, SemanticConfig{TTL: time.Hour})
	ctx := context.Background()
	require.NoError(t, c.Store(ctx, "s1", "q", "a"))

	mr.FastForward(2 * time.Hour)
	_, ok, err := c.Lookup(ctx, "s1", "q")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSemanticCache_StaleIndexEntriesArePruned(t *testing.T) {
	mr, c := newSemantic(t, &tableEmbedder{}, SemanticConfig{})
	ctx := context.Background()
	require.NoError(t, c.Store(ctx, "s1", "q1", "a1"))
	require.NoError(t, c.Store(ctx, "s1", "q2", "a2"))

	mr.Del(c.key("s1", "vec", QuestionHash("q1")))

	_, _, err := c.Lookup(ctx, "s1", "other")
	require.NoError(t, err)
	n, err := c.Len(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestSemanticCache_EvictsLeastRecentlyAccessed(t *testing.T) {
	_, c := newSemantic(t, &tableEmbedder{}, SemanticConfig{MaxSize: 2})
	ctx := context.Background()

	require.NoError(t, c.Store(ctx, "s1", "a", "A"))
	require.NoError(t, c.Store(ctx, "s1", "b", "B"))
	_, ok, err := c.Lookup(ctx, "s1", "a")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, c.Store(ctx, "s1", "c", "C"))

	n, err := c.Len(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, ok, _ = c.Lookup(ctx, "s1", "b")
	assert.False(t, ok, "b has the smallest last_access")
	_, ok, _ = c.Lookup(ctx, "s1", "a")
	assert.True(t, ok)
	_, ok, _ = c.Lookup(ctx, "s1", "c")
	assert.True(t, ok)

	_, found, err := c.Meta(ctx, "s1", QuestionHash("b"))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSemanticCache_Clear(t *testing.T) {
	mr, c := newSemantic(t, &tableEmbedder{}, SemanticConfig{})
	ctx := context.Background()
	require.NoError(t, c.Store(ctx, "s1", "q", "a"))
	require.NoError(t, c.Store(ctx, "s2", "q", "a"))

	require.NoError(t, c.Clear(ctx, "s1"))
	for _, k := range mr.Keys() {
		assert.NotContains(t, k, ":s1:")
	}
	_, ok, _ := c.Lookup(ctx, "s2", "q")
	assert.True(t, ok)
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, cosine([]float32{1, 2}, []float32{2, 4}), 1e-9)
	assert.InDelta(t, 0.0, cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Zero(t, cosine([]float32{1}, []float32{1, 2}))
	assert.Zero(t, cosine([]float32{0, 0}, []float32{1, 1}))
}

// 重复写入同一问题是幂等的；条目数不超过容量；最近写入的问题总能命中。
func TestSemanticCache_StoreProperties(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		maxSize := rapid.IntRange(1, 5).Draw(rt, "max")
		questions := rapid.SliceOfN(rapid.SampledFrom([]string{"q1", "q2", "q3", "q4", "q5", "q6", "q7"}), 1, 20).Draw(rt, "qs")

		mr, err := miniredis.Run()
		if err != nil {
			rt.Fatalf("miniredis: %v", err)
		}
		defer mr.Close()
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		defer rdb.Close()

		c := NewSemanticCache(rdb, &tableEmbedder{}, SemanticConfig{MaxSize: maxSize}, nil)
		clock := &fakeClock{t: time.Unix(0, 0)}
		c.now = clock.now

		ctx := context.Background()
		distinct := map[string]bool{}
		for _, q := range questions {
			if err := c.Store(ctx, "ns", q, "ans-"+q); err != nil {
				rt.Fatalf("store: %v", err)
			}
			distinct[q] = true
		}

		n, err := c.Len(ctx, "ns")
		if err != nil {
			rt.Fatalf("len: %v", err)
		}
		want := int64(len(distinct))
		if want > int64(maxSize) {
			want = int64(maxSize)
		}
		if n != want {
			rt.Fatalf("len = %d, want %d", n, want)
		}

		last := questions[len(questions)-1]
		hit, ok, err := c.Lookup(ctx, "ns", last)
		if err != nil || !ok || hit.Response != fmt.Sprintf("ans-%s", last) {
			rt.Fatalf("last question %q not retrievable: ok=%v err=%v", last, ok, err)
		}
	})
}
