package api

import (
	"time"

	"github.com/jhlu2019/GustoBot-sub000/types"
)

// ChatRequest POST /chat 与 /chat/stream 的请求体
type ChatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	Stream    bool   `json:"stream,omitempty"`
	// 已上传图片的路径或 URL，存在时走图像路由
	ImagePath string `json:"image_path,omitempty"`
	// 已上传文件的路径，存在时走文件导入路由
	FilePath string `json:"file_path,omitempty"`
}

// ChatResponse 单轮问答结果
type ChatResponse struct {
	Message    string          `json:"message"`
	SessionID  string          `json:"session_id"`
	MessageID  string          `json:"message_id"`
	Route      types.RouteType `json:"route"`
	RouteLogic string          `json:"route_logic"`
	Sources    []string        `json:"sources"`
	Metadata   map[string]any  `json:"metadata"`
	Timestamp  time.Time       `json:"timestamp"`
}

// SSE / WebSocket 事件类型
const (
	EventMetadata = "metadata"
	EventMessage  = "message"
	EventDone     = "done"
	EventError    = "error"
)

// StreamEvent 流式事件。data 均为 JSON 对象。
type StreamEvent struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// HistoryMessage 会话中的一条消息
type HistoryMessage struct {
	ID         string         `json:"id"`
	Role       types.Role     `json:"role"`
	Content    string         `json:"content"`
	OrderIndex int            `json:"order_index"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// HistoryResponse GET /chat/history/{session_id}
type HistoryResponse struct {
	SessionID string           `json:"session_id"`
	Messages  []HistoryMessage `json:"messages"`
	Total     int64            `json:"total"`
	Limit     int              `json:"limit"`
	Offset    int              `json:"offset"`
}

// SessionInfo GET /chat/sessions 的列表项
type SessionInfo struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id,omitempty"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RouteInfo GET /chat/routes 的列表项
type RouteInfo struct {
	Type        types.RouteType `json:"type"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
}

// UploadResponse 上传结果
type UploadResponse struct {
	FileID   string `json:"file_id"`
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	FileURL  string `json:"file_url"`
	// 服务端保存路径，可直接作为 image_path / file_path 提交
	Path string `json:"path"`
}
