package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jhlu2019/GustoBot-sub000/llm/embedding"
	"github.com/jhlu2019/GustoBot-sub000/types"
	"go.uber.org/zap"
)

// pgQuerier pgxpool.Pool 与 pgx.Tx 共有的查询方法
type pgQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// PGVectorStore SV 的 pgvector 存储
type PGVectorStore struct {
	db       pgQuerier
	pool     *pgxpool.Pool
	table    string
	distance string
	logger   *zap.Logger
}

// NewPGVectorStore 建立连接池并 Ping
func NewPGVectorStore(ctx context.Context, dsn, table, distance string, logger *zap.Logger) (*PGVectorStore, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pgx config: %w", err)
	}
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s, err := newPGVectorStore(pool, table, distance, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}
	s.pool = pool
	return s, nil
}

func newPGVectorStore(db pgQuerier, table, distance string, logger *zap.Logger) (*PGVectorStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if table == "" {
		table = "searchable_documents"
	}
	if !identRe.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	distance = strings.ToLower(distance)
	if distance == "" {
		distance = "cosine"
	}
	if distance != "cosine" && distance != "l2" {
		return nil, fmt.Errorf("unsupported distance %q", distance)
	}
	return &PGVectorStore{db: db, table: table, distance: distance, logger: logger.With(zap.String("component", "pgvector_store"))}, nil
}

// Close 关闭连接池
func (s *PGVectorStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// VectorLiteral pgvector 文本格式 "[0.1,0.2]"
func VectorLiteral(v []float32) string {
	var b strings.Builder
	b.Grow(len(v)*10 + 2)
	b.WriteByte('[')
	for i, x := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(x), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

// searchSQL 返回检索语句；similarity 归一化到 [0,1]
func (s *PGVectorStore) searchSQL(withTable bool) string {
	op, sim := "<=>", "1 - (embedding <=> $1::vector)"
	if s.distance == "l2" {
		op, sim = "<->", "1 / (1 + (embedding <-> $1::vector))"
	}
	where := ""
	if withTable {
		where = " WHERE source_table = $3"
	}
	return fmt.Sprintf(
		"SELECT id, source_table, source_id, content, metadata, %s AS similarity FROM %s%s ORDER BY embedding %s $1::vector LIMIT $2",
		sim, s.table, where, op)
}

// Search 返回 top_k 近邻，并按 threshold 过滤
func (s *PGVectorStore) Search(ctx context.Context, vec []float32, topK int, threshold *float64, sourceTable string) ([]KnowledgeResult, error) {
	if topK <= 0 {
		topK = 5
	}
	args := []any{VectorLiteral(vec), topK}
	if sourceTable != "" {
		args = append(args, sourceTable)
	}

	rows, err := s.db.Query(ctx, s.searchSQL(sourceTable != ""), args...)
	if err != nil {
		return nil, fmt.Errorf("pgvector search: %w", err)
	}
	defer rows.Close()

	results := make([]KnowledgeResult, 0, topK)
	for rows.Next() {
		var (
			id              int64
			table, sourceID string
			content         string
			metaRaw         []byte
			similarity      float64
		)
		if err := rows.Scan(&id, &table, &sourceID, &content, &metaRaw, &similarity); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		if threshold != nil && similarity < *threshold {
			continue
		}
		var meta map[string]any
		if len(metaRaw) > 0 {
			_ = json.Unmarshal(metaRaw, &meta)
		}
		if meta == nil {
			meta = map[string]any{}
		}
		meta["source_id"] = sourceID
		results = append(results, KnowledgeResult{
			ID:          FlexID(strconv.FormatInt(id, 10)),
			Content:     content,
			Similarity:  clamp01(similarity),
			Metadata:    meta,
			Source:      metaString(meta, "source", "title", "name"),
			SourceTable: table,
		})
	}
	return results, rows.Err()
}

// VectorSearcher KnowledgeService 依赖的向量检索能力
type VectorSearcher interface {
	Search(ctx context.Context, vec []float32, topK int, threshold *float64, sourceTable string) ([]KnowledgeResult, error)
}

// KnowledgeService /knowledge/search 的服务端：向量化查询后检索 pgvector
type KnowledgeService struct {
	store    VectorSearcher
	embedder embedding.Embedder
	logger   *zap.Logger
}

// NewKnowledgeService creates the service.
func NewKnowledgeService(store VectorSearcher, embedder embedding.Embedder, logger *zap.Logger) *KnowledgeService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KnowledgeService{store: store, embedder: embedder, logger: logger.With(zap.String("component", "knowledge_service"))}
}

// Search 处理一次检索请求
func (k *KnowledgeService) Search(ctx context.Context, req KnowledgeSearchRequest) (*KnowledgeSearchResponse, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, types.NewInvalidRequestError("query is required")
	}
	if req.TopK <= 0 {
		req.TopK = 5
	}
	if req.TopK > 100 {
		req.TopK = 100
	}
	if req.Threshold != nil && (*req.Threshold < 0 || *req.Threshold > 1) {
		return nil, types.NewInvalidRequestError("threshold must be within [0, 1]")
	}

	vec, err := k.embedder.EmbedQuery(ctx, req.Query)
	if err != nil {
		return nil, err
	}
	results, err := k.store.Search(ctx, vec, req.TopK, req.Threshold, req.SourceTable)
	if err != nil {
		return nil, err
	}
	k.logger.Debug("knowledge search", zap.Int("top_k", req.TopK), zap.Int("results", len(results)))
	return &KnowledgeSearchResponse{Results: results}, nil
}
