package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jhlu2019/GustoBot-sub000/types"
	"go.uber.org/zap"
	"golang.org/x/net/html"
)

// ExternalSearch 外部检索端点客户端。一次调用对应一次 HTTP 请求，不重试；
// 只接受包含 results 字段的响应对象。
type ExternalSearch struct {
	url    string
	http   *jsonClient
	logger *zap.Logger
}

// NewExternalSearch creates the client.
func NewExternalSearch(url string, timeout time.Duration, logger *zap.Logger) *ExternalSearch {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ExternalSearch{
		url:    strings.TrimSpace(url),
		http:   newJSONClient(types.ToolExternal, timeout, nil),
		logger: logger.With(zap.String("component", "external_search")),
	}
}

func (e *ExternalSearch) Name() string { return types.ToolExternal }

func (e *ExternalSearch) URL() string { return e.url }

type externalItem struct {
	ID         FlexID         `json:"id"`
	Title      string         `json:"title"`
	Content    string         `json:"content"`
	Snippet    string         `json:"snippet"`
	URL        string         `json:"url"`
	Source     string         `json:"source"`
	Score      *float64       `json:"score"`
	Similarity *float64       `json:"similarity"`
	Metadata   map[string]any `json:"metadata"`
}

// Search 发起外部检索
func (e *ExternalSearch) Search(ctx context.Context, req SearchRequest) ([]types.Document, error) {
	body := map[string]any{"query": req.Query, "top_k": req.TopK}
	if req.Threshold != nil {
		body["threshold"] = *req.Threshold
	}

	var items []externalItem
	err := e.http.post(ctx, e.url, body, func(r io.Reader) error {
		var envelope map[string]json.RawMessage
		if err := json.NewDecoder(r).Decode(&envelope); err != nil {
			return fmt.Errorf("decode external response: %w", err)
		}
		raw, ok := envelope["results"]
		if !ok {
			return types.NewError(types.ErrMalformedOutput, "external search response has no results field")
		}
		return json.Unmarshal(raw, &items)
	})
	if err != nil {
		return nil, err
	}

	docs := make([]types.Document, 0, len(items))
	for i, it := range items {
		content := StripHTML(firstNonEmpty(it.Content, it.Snippet))
		if it.Title != "" {
			content = strings.TrimSpace(StripHTML(it.Title) + "\n" + content)
		}
		if content == "" {
			continue
		}
		score := 0.0
		switch {
		case it.Score != nil:
			score = *it.Score
		case it.Similarity != nil:
			score = *it.Similarity
		}
		id := string(it.ID)
		if id == "" {
			id = fmt.Sprintf("ext-%d", i+1)
		}
		docs = append(docs, types.Document{
			ID:       id,
			Content:  content,
			Score:    clamp01(score),
			Source:   firstNonEmpty(it.URL, it.Source, it.Title),
			Metadata: it.Metadata,
			Tool:     types.ToolExternal,
		})
	}
	return docs, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

// StripHTML 去除标签、脚本与样式，只保留文本并压缩空白
func StripHTML(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return strings.TrimSpace(s)
	}
	z := html.NewTokenizer(strings.NewReader(s))
	var b strings.Builder
	skip := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			return strings.Join(strings.Fields(b.String()), " ")
		case html.StartTagToken:
			name, _ := z.TagName()
			if tag := string(name); tag == "script" || tag == "style" {
				skip++
			}
			b.WriteByte(' ')
		case html.EndTagToken:
			name, _ := z.TagName()
			if tag := string(name); (tag == "script" || tag == "style") && skip > 0 {
				skip--
			}
			b.WriteByte(' ')
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		}
	}
}
