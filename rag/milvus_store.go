package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jhlu2019/GustoBot-sub000/internal/tlsutil"
	"github.com/jhlu2019/GustoBot-sub000/llm/embedding"
	"github.com/jhlu2019/GustoBot-sub000/types"
	"go.uber.org/zap"
)

// MilvusConfig 语义向量库（Milvus REST v2）配置
type MilvusConfig struct {
	Scheme  string
	Host    string
	Port    int
	BaseURL string // 非空时覆盖 scheme://host:port
	Token   string

	Database   string
	Collection string
	Dim        int
	// IVF_FLAT | HNSW | FLAT | IVF_SQ8 | IVF_PQ
	IndexType string
	// COSINE | IP | L2
	MetricType string

	Timeout time.Duration
}

// MilvusStore MV 存储
type MilvusStore struct {
	cfg     MilvusConfig
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewMilvusStore creates a Milvus REST store.
func NewMilvusStore(cfg MilvusConfig, logger *zap.Logger) *MilvusStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Scheme == "" {
		cfg.Scheme = "http"
	}
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 19530
	}
	if cfg.Database == "" {
		cfg.Database = "default"
	}
	if cfg.IndexType == "" {
		cfg.IndexType = "IVF_FLAT"
	}
	if cfg.MetricType == "" {
		cfg.MetricType = "COSINE"
	}
	cfg.IndexType = strings.ToUpper(cfg.IndexType)
	cfg.MetricType = strings.ToUpper(cfg.MetricType)
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = fmt.Sprintf("%s://%s:%d", cfg.Scheme, cfg.Host, cfg.Port)
	}

	return &MilvusStore{
		cfg:     cfg,
		baseURL: baseURL,
		client:  tlsutil.SecureHTTPClient(cfg.Timeout),
		logger:  logger.With(zap.String("component", "milvus_store")),
	}
}

func searchParams(indexType string) map[string]any {
	switch indexType {
	case "HNSW":
		return map[string]any{"ef": 64}
	case "FLAT":
		return map[string]any{}
	default:
		return map[string]any{"nprobe": 16}
	}
}

// doJSON Milvus REST 即使出错也可能返回 200，需要检查 code
func (s *MilvusStore) doJSON(ctx context.Context, path string, in any, out any) error {
	b, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if s.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.Token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return types.NewUpstreamError(types.ToolMV, 0, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return types.NewUpstreamError(types.ToolMV, resp.StatusCode,
			fmt.Errorf("milvus %s status=%d body=%s", path, resp.StatusCode, string(respBody)))
	}

	var base struct {
		Code    int    `json:"code"`
		Message string `json:"message,omitempty"`
	}
	if err := json.Unmarshal(respBody, &base); err == nil && base.Code != 0 {
		return types.NewUpstreamError(types.ToolMV, http.StatusBadGateway,
			fmt.Errorf("milvus error: code=%d message=%s", base.Code, base.Message)).WithRetryable(false)
	}
	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func (s *MilvusStore) collectionRef() map[string]any {
	return map[string]any{"dbName": s.cfg.Database, "collectionName": s.cfg.Collection}
}

func (s *MilvusStore) checkDim(n int) error {
	if s.cfg.Dim > 0 && n != s.cfg.Dim {
		return types.NewError(types.ErrIntegrity,
			fmt.Sprintf("mv vector dimension mismatch: got %d want %d", n, s.cfg.Dim))
	}
	return nil
}

// Search 向量检索；filter 为 Milvus 布尔表达式，可为空
func (s *MilvusStore) Search(ctx context.Context, vector []float32, topK int, filter string) ([]types.Document, error) {
	if topK <= 0 {
		return nil, nil
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("query vector is required")
	}
	if err := s.checkDim(len(vector)); err != nil {
		return nil, err
	}

	req := s.collectionRef()
	req["data"] = [][]float32{vector}
	req["annsField"] = "vector"
	req["limit"] = topK
	req["outputFields"] = []string{"content", "source", "metadata", "doc_id"}
	req["searchParams"] = map[string]any{"metricType": s.cfg.MetricType, "params": searchParams(s.cfg.IndexType)}
	if strings.TrimSpace(filter) != "" {
		req["filter"] = filter
	}

	// v2 返回扁平数组：每个命中包含 distance 与输出字段
	var resp struct {
		Data []map[string]any `json:"data"`
	}
	if err := s.doJSON(ctx, "/v2/vectordb/entities/search", req, &resp); err != nil {
		return nil, fmt.Errorf("search entities: %w", err)
	}

	docs := make([]types.Document, 0, len(resp.Data))
	for _, hit := range resp.Data {
		doc := types.Document{Tool: types.ToolMV}
		doc.ID, _ = hit["doc_id"].(string)
		if doc.ID == "" {
			doc.ID, _ = hit["id"].(string)
		}
		doc.Content, _ = hit["content"].(string)
		doc.Source, _ = hit["source"].(string)
		doc.Metadata, _ = hit["metadata"].(map[string]any)
		if doc.Source == "" {
			doc.Source = metaString(doc.Metadata, "source", "title", "file_name")
		}
		dist, _ := hit["distance"].(float64)
		doc.Score = s.distanceToScore(dist)
		docs = append(docs, doc)
	}
	return docs, nil
}

// distanceToScore 将度量转换到 [0,1] 相似度
func (s *MilvusStore) distanceToScore(distance float64) float64 {
	switch s.cfg.MetricType {
	case "L2":
		return 1.0 / (1.0 + distance)
	case "IP", "COSINE":
		return clamp01(distance)
	default:
		return clamp01(1.0 - distance)
	}
}

// Count 集合行数
func (s *MilvusStore) Count(ctx context.Context) (int, error) {
	var resp struct {
		Data struct {
			RowCount int `json:"rowCount"`
		} `json:"data"`
	}
	if err := s.doJSON(ctx, "/v2/vectordb/collections/get_stats", s.collectionRef(), &resp); err != nil {
		return 0, fmt.Errorf("get collection stats: %w", err)
	}
	return resp.Data.RowCount, nil
}

// MVRetriever 向量化查询后检索 Milvus，并按相似度阈值过滤
type MVRetriever struct {
	store     *MilvusStore
	embedder  embedding.Embedder
	threshold float64
	logger    *zap.Logger
}

// NewMVRetriever creates the MV adapter.
func NewMVRetriever(store *MilvusStore, embedder embedding.Embedder, threshold float64, logger *zap.Logger) *MVRetriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MVRetriever{store: store, embedder: embedder, threshold: threshold, logger: logger.With(zap.String("component", "mv_retriever"))}
}

func (r *MVRetriever) Name() string { return types.ToolMV }

func (r *MVRetriever) Search(ctx context.Context, req SearchRequest) ([]types.Document, error) {
	vec, err := r.embedder.EmbedQuery(ctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	docs, err := r.store.Search(ctx, vec, req.TopK, req.Filter)
	if err != nil {
		return nil, err
	}
	threshold := r.threshold
	if req.Threshold != nil {
		threshold = *req.Threshold
	}
	out := FilterByScore(docs, threshold)
	r.logger.Debug("mv search", zap.Int("hits", len(docs)), zap.Int("kept", len(out)))
	return out, nil
}
