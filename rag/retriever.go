package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/jhlu2019/GustoBot-sub000/types"
)

// SearchRequest 统一检索请求
type SearchRequest struct {
	Query     string
	TopK      int
	Threshold *float64
	// SourceTable 仅 SV 使用：按来源表过滤
	SourceTable string
	// Filter 仅 MV 使用：Milvus 过滤表达式
	Filter string
}

// Retriever 检索适配器
type Retriever interface {
	Search(ctx context.Context, req SearchRequest) ([]types.Document, error)
	Name() string
}

// RetrieverFunc adapts a function to Retriever.
type RetrieverFunc struct {
	ToolName string
	Fn       func(ctx context.Context, req SearchRequest) ([]types.Document, error)
}

func (f RetrieverFunc) Search(ctx context.Context, req SearchRequest) ([]types.Document, error) {
	return f.Fn(ctx, req)
}

func (f RetrieverFunc) Name() string { return f.ToolName }

// KnowledgeSearchRequest /knowledge/search 请求体
type KnowledgeSearchRequest struct {
	Query       string   `json:"query"`
	TopK        int      `json:"top_k"`
	Threshold   *float64 `json:"threshold,omitempty"`
	SourceTable string   `json:"source_table,omitempty"`
}

// KnowledgeResult /knowledge/search 单条结果
type KnowledgeResult struct {
	ID          FlexID         `json:"id"`
	Content     string         `json:"content"`
	Similarity  float64        `json:"similarity"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Source      string         `json:"source,omitempty"`
	SourceTable string         `json:"source_table,omitempty"`
}

// KnowledgeSearchResponse /knowledge/search 响应体
type KnowledgeSearchResponse struct {
	Results []KnowledgeResult `json:"results"`
}

// ToDocument 转换为检索文档并打上工具标记
func (r KnowledgeResult) ToDocument(tool string) types.Document {
	source := r.Source
	if source == "" {
		source = metaString(r.Metadata, "source", "url", "title", "name")
	}
	return types.Document{
		ID:          string(r.ID),
		Content:     r.Content,
		Score:       clamp01(r.Similarity),
		Source:      source,
		SourceTable: r.SourceTable,
		Metadata:    r.Metadata,
		Tool:        tool,
	}
}

// FlexID 接受字符串或数字形式的 id
type FlexID string

func (f *FlexID) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		*f = ""
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*f = FlexID(str)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid id %s: %w", s, err)
	}
	*f = FlexID(n.String())
	return nil
}

func metaString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

// FilterByScore 保留 Score >= threshold 的文档
func FilterByScore(docs []types.Document, threshold float64) []types.Document {
	out := make([]types.Document, 0, len(docs))
	for _, d := range docs {
		if d.Score >= threshold {
			out = append(out, d)
		}
	}
	return out
}
