package cache

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/jhlu2019/GustoBot-sub000/llm/embedding"
)

// SemanticConfig 语义缓存参数
type SemanticConfig struct {
	// 余弦相似度阈值，默认 0.92
	Threshold float64
	// 每个命名空间的最大条目数，默认 1000
	MaxSize int
	// 条目存活时间，默认 24h
	TTL time.Duration
	// 键前缀，默认 gustobot:cache
	Prefix string
}

func (c SemanticConfig) withDefaults() SemanticConfig {
	if c.Threshold <= 0 {
		c.Threshold = 0.92
	}
	if c.MaxSize <= 0 {
		c.MaxSize = 1000
	}
	if c.TTL <= 0 {
		c.TTL = 24 * time.Hour
	}
	if c.Prefix == "" {
		c.Prefix = "gustobot:cache"
	}
	return c
}

// Hit 一次命中
type Hit struct {
	Response   string
	Similarity float64
	Hash       string
}

// Meta 条目元数据
type Meta struct {
	CreatedAt   time.Time
	LastAccess  time.Time
	AccessCount int64
}

// SemanticCache 按命名空间缓存问答对，近似问题复用回答。
type SemanticCache struct {
	rdb      redis.Cmdable
	embedder embedding.Embedder
	cfg      SemanticConfig
	logger   *zap.Logger
	now      func() time.Time
}

// NewSemanticCache 创建语义缓存
func NewSemanticCache(rdb redis.Cmdable, embedder embedding.Embedder, cfg SemanticConfig, logger *zap.Logger) *SemanticCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SemanticCache{
		rdb:      rdb,
		embedder: embedder,
		cfg:      cfg.withDefaults(),
		logger:   logger.With(zap.String("component", "semantic_cache")),
		now:      time.Now,
	}
}

// QuestionHash 问题文本的 md5（去首尾空白）
func QuestionHash(question string) string {
	sum := md5.Sum([]byte(strings.TrimSpace(question)))
	return hex.EncodeToString(sum[:])
}

func (c *SemanticCache) key(ns, kind, hash string) string {
	return c.cfg.Prefix + ":" + ns + ":" + kind + ":" + hash
}

func (c *SemanticCache) indexKey(ns string) string {
	return c.cfg.Prefix + ":" + ns + ":index"
}

// Lookup 先按 hash 精确匹配，再做相似度扫描。未命中返回 ok=false。
func (c *SemanticCache) Lookup(ctx context.Context, ns, question string) (Hit, bool, error) {
	if strings.TrimSpace(question) == "" {
		return Hit{}, false, nil
	}
	hash := QuestionHash(question)

	resp, err := c.rdb.Get(ctx, c.key(ns, "resp", hash)).Result()
	switch {
	case err == nil:
		if err := c.touch(ctx, ns, hash); err != nil {
			return Hit{}, false, err
		}
		return Hit{Response: resp, Similarity: 1, Hash: hash}, true, nil
	case !errors.Is(err, redis.Nil):
		return Hit{}, false, fmt.Errorf("semantic cache lookup: %w", err)
	}

	members, err := c.rdb.ZRange(ctx, c.indexKey(ns), 0, -1).Result()
	if err != nil {
		return Hit{}, false, fmt.Errorf("semantic cache index: %w", err)
	}
	if len(members) == 0 {
		return Hit{}, false, nil
	}

	query, err := c.embedder.EmbedQuery(ctx, question)
	if err != nil {
		return Hit{}, false, fmt.Errorf("semantic cache embed: %w", err)
	}

	keys := make([]string, len(members))
	for i, m := range members {
		keys[i] = c.key(ns, "vec", m)
	}
	raw, err := c.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return Hit{}, false, fmt.Errorf("semantic cache vectors: %w", err)
	}

	bestHash, best := "", -1.0
	var stale []any
	for i, v := range raw {
		s, ok := v.(string)
		if !ok {
			// 向量已过期，索引残留
			stale = append(stale, members[i])
			continue
		}
		var vec []float32
		if err := json.Unmarshal([]byte(s), &vec); err != nil {
			stale = append(stale, members[i])
			continue
		}
		if sim := cosine(query, vec); sim > best {
			best, bestHash = sim, members[i]
		}
	}
	if len(stale) > 0 {
		c.rdb.ZRem(ctx, c.indexKey(ns), stale...)
	}
	if bestHash == "" || best < c.cfg.Threshold {
		return Hit{}, false, nil
	}

	resp, err = c.rdb.Get(ctx, c.key(ns, "resp", bestHash)).Result()
	if errors.Is(err, redis.Nil) {
		return Hit{}, false, nil
	}
	if err != nil {
		return Hit{}, false, fmt.Errorf("semantic cache response: %w", err)
	}
	if err := c.touch(ctx, ns, bestHash); err != nil {
		return Hit{}, false, err
	}
	c.logger.Debug("semantic cache hit", zap.String("namespace", ns), zap.Float64("similarity", best))
	return Hit{Response: resp, Similarity: best, Hash: bestHash}, true, nil
}

// Store 写入一条问答。同一问题重复写入只保留一条。
func (c *SemanticCache) Store(ctx context.Context, ns, question, response string) error {
	if strings.TrimSpace(question) == "" || strings.TrimSpace(response) == "" {
		return nil
	}
	vec, err := c.embedder.EmbedQuery(ctx, question)
	if err != nil {
		return fmt.Errorf("semantic cache embed: %w", err)
	}
	data, err := json.Marshal(vec)
	if err != nil {
		return fmt.Errorf("semantic cache encode: %w", err)
	}

	hash := QuestionHash(question)
	now := c.now()
	ttl := c.cfg.TTL
	metaKey := c.key(ns, "meta", hash)

	_, err = c.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, c.key(ns, "vec", hash), data, ttl)
		p.Set(ctx, c.key(ns, "resp", hash), response, ttl)
		p.HSetNX(ctx, metaKey, "created_at", now.UnixMilli())
		p.HSetNX(ctx, metaKey, "access_count", 0)
		p.HSet(ctx, metaKey, "last_access", now.UnixMilli())
		p.Expire(ctx, metaKey, ttl)
		p.ZAdd(ctx, c.indexKey(ns), redis.Z{Score: float64(now.UnixMilli()), Member: hash})
		p.Expire(ctx, c.indexKey(ns), ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("semantic cache store: %w", err)
	}
	return c.evict(ctx, ns)
}

// Meta 读取条目元数据
func (c *SemanticCache) Meta(ctx context.Context, ns, hash string) (Meta, bool, error) {
	vals, err := c.rdb.HGetAll(ctx, c.key(ns, "meta", hash)).Result()
	if err != nil {
		return Meta{}, false, err
	}
	if len(vals) == 0 {
		return Meta{}, false, nil
	}
	ms := func(k string) time.Time {
		n, _ := strconv.ParseInt(vals[k], 10, 64)
		return time.UnixMilli(n)
	}
	count, _ := strconv.ParseInt(vals["access_count"], 10, 64)
	return Meta{CreatedAt: ms("created_at"), LastAccess: ms("last_access"), AccessCount: count}, true, nil
}

// Len 命名空间内的条目数
func (c *SemanticCache) Len(ctx context.Context, ns string) (int64, error) {
	return c.rdb.ZCard(ctx, c.indexKey(ns)).Result()
}

// Clear 删除命名空间内所有条目
func (c *SemanticCache) Clear(ctx context.Context, ns string) error {
	members, err := c.rdb.ZRange(ctx, c.indexKey(ns), 0, -1).Result()
	if err != nil {
		return err
	}
	keys := []string{c.indexKey(ns)}
	for _, m := range members {
		keys = append(keys, c.entryKeys(ns, m)...)
	}
	return c.rdb.Del(ctx, keys...).Err()
}

func (c *SemanticCache) entryKeys(ns, hash string) []string {
	return []string{c.key(ns, "vec", hash), c.key(ns, "resp", hash), c.key(ns, "meta", hash)}
}

func (c *SemanticCache) touch(ctx context.Context, ns, hash string) error {
	now := c.now().UnixMilli()
	metaKey := c.key(ns, "meta", hash)
	_, err := c.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, metaKey, "last_access", now)
		p.HIncrBy(ctx, metaKey, "access_count", 1)
		p.ZAdd(ctx, c.indexKey(ns), redis.Z{Score: float64(now), Member: hash})
		return nil
	})
	if err != nil {
		return fmt.Errorf("semantic cache touch: %w", err)
	}
	return nil
}

// evict 淘汰 last_access 最小的条目直到不超过 MaxSize
func (c *SemanticCache) evict(ctx context.Context, ns string) error {
	n, err := c.rdb.ZCard(ctx, c.indexKey(ns)).Result()
	if err != nil {
		return fmt.Errorf("semantic cache size: %w", err)
	}
	over := n - int64(c.cfg.MaxSize)
	if over <= 0 {
		return nil
	}
	victims, err := c.rdb.ZPopMin(ctx, c.indexKey(ns), over).Result()
	if err != nil {
		return fmt.Errorf("semantic cache evict: %w", err)
	}
	var keys []string
	for _, v := range victims {
		if h, ok := v.Member.(string); ok {
			keys = append(keys, c.entryKeys(ns, h)...)
		}
	}
	if len(keys) > 0 {
		if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("semantic cache evict: %w", err)
		}
	}
	c.logger.Debug("semantic cache evicted", zap.String("namespace", ns), zap.Int("count", len(victims)))
	return nil
}

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
