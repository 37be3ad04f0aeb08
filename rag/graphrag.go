package rag

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jhlu2019/GustoBot-sub000/types"
	"go.uber.org/zap"
)

// GraphRAGMode 图谱 RAG 检索模式
type GraphRAGMode string

const (
	ModeNaive  GraphRAGMode = "naive"
	ModeLocal  GraphRAGMode = "local"
	ModeGlobal GraphRAGMode = "global"
	ModeHybrid GraphRAGMode = "hybrid"
	ModeMix    GraphRAGMode = "mix"
	ModeBypass GraphRAGMode = "bypass"
)

// ParseGraphRAGMode 未知模式回退为 hybrid
func ParseGraphRAGMode(s string) (GraphRAGMode, bool) {
	switch m := GraphRAGMode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeNaive, ModeLocal, ModeGlobal, ModeHybrid, ModeMix, ModeBypass:
		return m, true
	}
	return ModeHybrid, false
}

// ErrGraphRAGClosed Close 之后的调用
var ErrGraphRAGClosed = errors.New("graphrag client closed")

// GraphRAGConfig 图谱 RAG 服务配置
type GraphRAGConfig struct {
	URL        string
	WorkingDir string
	Mode       GraphRAGMode
	TopK       int
	Timeout    time.Duration
}

// GraphRAGClient 进程级单例：HTTP 客户端首次使用时创建，Close 后不可再用。
type GraphRAGClient struct {
	cfg    GraphRAGConfig
	logger *zap.Logger

	once   sync.Once
	http   *jsonClient
	mu     sync.RWMutex
	closed bool
}

type graphRAGRequest struct {
	Query  string       `json:"query"`
	Mode   GraphRAGMode `json:"mode"`
	TopK   int          `json:"top_k,omitempty"`
	Stream bool         `json:"stream"`
}

type graphRAGResponse struct {
	Response string `json:"response"`
	Error    string `json:"error,omitempty"`
}

// NewGraphRAGClient creates a lazily-connected client.
func NewGraphRAGClient(cfg GraphRAGConfig, logger *zap.Logger) *GraphRAGClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeHybrid
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	cfg.URL = strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	return &GraphRAGClient{cfg: cfg, logger: logger.With(zap.String("component", "graphrag"))}
}

func (c *GraphRAGClient) Name() string { return types.ToolGraphRAG }

func (c *GraphRAGClient) client() (*jsonClient, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, ErrGraphRAGClosed
	}
	c.once.Do(func() {
		c.http = newJSONClient(types.ToolGraphRAG, c.cfg.Timeout, nil)
		if c.cfg.WorkingDir != "" {
			c.http.headers["LIGHTRAG-WORKSPACE"] = filepath.Base(c.cfg.WorkingDir)
		}
		c.logger.Info("graphrag client initialized", zap.String("url", c.cfg.URL), zap.String("mode", string(c.cfg.Mode)))
	})
	return c.http, nil
}

func (c *GraphRAGClient) mode(m GraphRAGMode) GraphRAGMode {
	if m == "" {
		return c.cfg.Mode
	}
	return m
}

// Query 非流式查询
func (c *GraphRAGClient) Query(ctx context.Context, query string, mode GraphRAGMode) (string, error) {
	hc, err := c.client()
	if err != nil {
		return "", err
	}
	req := graphRAGRequest{Query: query, Mode: c.mode(mode), TopK: c.cfg.TopK}

	var resp graphRAGResponse
	if err := hc.postJSON(ctx, c.cfg.URL+"/query", req, &resp); err != nil {
		return "", err
	}
	if resp.Error != "" {
		return "", types.NewUpstreamError(types.ToolGraphRAG, 0, errors.New(resp.Error)).WithRetryable(false)
	}
	return strings.TrimSpace(resp.Response), nil
}

// QueryStream 流式查询：服务端按行返回 {"response": "..."}，每块回调一次 onChunk
func (c *GraphRAGClient) QueryStream(ctx context.Context, query string, mode GraphRAGMode, onChunk func(string) error) error {
	hc, err := c.client()
	if err != nil {
		return err
	}
	req := graphRAGRequest{Query: query, Mode: c.mode(mode), TopK: c.cfg.TopK, Stream: true}

	return hc.post(ctx, c.cfg.URL+"/query/stream", req, func(r io.Reader) error {
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 64*1024), 1024*1024)
		for sc.Scan() {
			line := strings.TrimSpace(strings.TrimPrefix(sc.Text(), "data:"))
			if line == "" {
				continue
			}
			var chunk graphRAGResponse
			if err := json.Unmarshal([]byte(line), &chunk); err != nil {
				return fmt.Errorf("decode graphrag chunk: %w", err)
			}
			if chunk.Error != "" {
				return types.NewUpstreamError(types.ToolGraphRAG, 0, errors.New(chunk.Error)).WithRetryable(false)
			}
			if chunk.Response == "" {
				continue
			}
			if err := onChunk(chunk.Response); err != nil {
				return err
			}
		}
		return sc.Err()
	})
}

// Search 以检索接口暴露：整段回答作为一条文档
func (c *GraphRAGClient) Search(ctx context.Context, req SearchRequest) ([]types.Document, error) {
	answer, err := c.Query(ctx, req.Query, "")
	if err != nil {
		return nil, err
	}
	if answer == "" {
		return nil, nil
	}
	return []types.Document{{
		ID:      "graphrag:" + string(c.cfg.Mode),
		Content: answer,
		Score:   1,
		Source:  "graphrag:" + string(c.cfg.Mode),
		Tool:    types.ToolGraphRAG,
	}}, nil
}

// Close 释放空闲连接；之后的调用返回 ErrGraphRAGClosed
func (c *GraphRAGClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.http != nil {
		c.http.client.CloseIdleConnections()
	}
	return nil
}
