package rag

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// IngestResult 导入服务对单个文件的处理结果
type IngestResult struct {
	Success  bool           `json:"success"`
	Message  string         `json:"message,omitempty"`
	Filename string         `json:"filename,omitempty"`
	Chunks   int            `json:"chunks"`
	Records  int            `json:"records"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type ingestFileRequest struct {
	FilePath string `json:"file_path"`
	Filename string `json:"filename"`
}

// IngestClient 调用导入服务 POST /ingest/file。导入服务内部的切分与向量化不在本进程内。
type IngestClient struct {
	baseURL string
	http    *jsonClient
	logger  *zap.Logger
}

// NewIngestClient baseURL 形如 http://ingest:8100
func NewIngestClient(baseURL string, timeout time.Duration, logger *zap.Logger) *IngestClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	// 导入不是幂等操作，不重试
	return &IngestClient{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:    newJSONClient("ingest", timeout, nil),
		logger:  logger.With(zap.String("component", "ingest_client")),
	}
}

// IngestFile 提交已上传的文件
func (c *IngestClient) IngestFile(ctx context.Context, path string) (*IngestResult, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("ingest: empty file path")
	}
	if c.baseURL == "" {
		return nil, fmt.Errorf("ingest: service url not configured")
	}

	var res IngestResult
	start := time.Now()
	err := c.http.postJSON(ctx, c.baseURL+"/ingest/file",
		ingestFileRequest{FilePath: path, Filename: filepath.Base(path)}, &res)
	if err != nil {
		c.logger.Warn("ingest failed", zap.String("file", path), zap.Error(err))
		return nil, err
	}
	if res.Filename == "" {
		res.Filename = filepath.Base(path)
	}
	c.logger.Info("file ingested",
		zap.String("file", res.Filename),
		zap.Int("chunks", res.Chunks),
		zap.Int("records", res.Records),
		zap.Duration("duration", time.Since(start)))
	return &res, nil
}

// Summary 面向用户的导入摘要
func (r *IngestResult) Summary() string {
	if r == nil {
		return ""
	}
	if !r.Success && r.Message != "" {
		return fmt.Sprintf("文件《%s》导入未完成：%s", r.Filename, r.Message)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "文件《%s》已导入知识库", r.Filename)
	switch {
	case r.Records > 0 && r.Chunks > 0:
		fmt.Fprintf(&b, "，共 %d 条记录、%d 个文本片段", r.Records, r.Chunks)
	case r.Records > 0:
		fmt.Fprintf(&b, "，共 %d 条记录", r.Records)
	case r.Chunks > 0:
		fmt.Fprintf(&b, "，共 %d 个文本片段", r.Chunks)
	}
	b.WriteString("。现在可以直接提问其中的菜谱内容了。")
	return b.String()
}
