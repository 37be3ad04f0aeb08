package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/jhlu2019/GustoBot-sub000/agent/router"
	"github.com/jhlu2019/GustoBot-sub000/api"
	"github.com/jhlu2019/GustoBot-sub000/internal/ctxkeys"
	"github.com/jhlu2019/GustoBot-sub000/internal/session"
	"github.com/jhlu2019/GustoBot-sub000/internal/uploads"
	"github.com/jhlu2019/GustoBot-sub000/types"
	"go.uber.org/zap"
)

// =============================================================================
// 💬 聊天接口 Handler
// =============================================================================

// TurnRunner 执行一轮路由图
type TurnRunner interface {
	Run(ctx context.Context, req router.Request) (*router.Response, error)
}

// HistoryStore Redis 会话历史
type HistoryStore interface {
	Append(ctx context.Context, sessionID string, role types.Role, content string, metadata map[string]any) error
	GetRecent(ctx context.Context, sessionID string, n int) ([]types.Message, error)
	Clear(ctx context.Context, sessionID string) error
}

// SessionStore 关系库会话持久化
type SessionStore interface {
	RecordTurn(ctx context.Context, turn session.Turn) ([]session.Message, error)
	ListMessages(ctx context.Context, sessionID string, limit, offset int) ([]session.Message, int64, error)
	ListSessions(ctx context.Context, userID string, limit, offset int) ([]session.Session, error)
	DeleteSession(ctx context.Context, id string) error
}

// CacheClearer 删除会话时一并清理该会话的语义缓存
type CacheClearer interface {
	Clear(ctx context.Context, namespace string) error
}

// ChatConfig 聊天接口参数
type ChatConfig struct {
	// 每轮从历史中读取的最大消息数
	HistoryWindow int
	// 单轮超时
	TurnTimeout time.Duration
	// 流式输出时每个 message 事件的字符数
	StreamChunkRunes int
	// image_path / file_path 只能指向该目录内的上传文件
	UploadDir string
}

func (c ChatConfig) withDefaults() ChatConfig {
	if c.HistoryWindow <= 0 {
		c.HistoryWindow = 40
	}
	if c.TurnTimeout <= 0 {
		c.TurnTimeout = 170 * time.Second
	}
	if c.StreamChunkRunes <= 0 {
		c.StreamChunkRunes = 16
	}
	if c.UploadDir == "" {
		c.UploadDir = defaultUploadDir
	}
	return c
}

// ChatHandler 聊天接口处理器。History、Sessions、Cache 可为 nil。
type ChatHandler struct {
	runner   TurnRunner
	history  HistoryStore
	sessions SessionStore
	cache    CacheClearer
	cfg      ChatConfig
	logger   *zap.Logger
}

// NewChatHandler 创建聊天处理器
func NewChatHandler(runner TurnRunner, history HistoryStore, sessions SessionStore, cache CacheClearer, cfg ChatConfig, logger *zap.Logger) *ChatHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatHandler{
		runner:   runner,
		history:  history,
		sessions: sessions,
		cache:    cache,
		cfg:      cfg.withDefaults(),
		logger:   logger.With(zap.String("component", "chat_handler")),
	}
}

// HandleChat POST /chat
func (h *ChatHandler) HandleChat(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	resp, err := h.process(r.Context(), req)
	if err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}
	WriteJSON(w, http.StatusOK, resp)
}

// HandleStream POST /chat/stream。路由图本身不流式，最终回答按固定字符数切片输出。
func (h *ChatHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, types.NewInternalError("streaming not supported"), h.logger)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	emit := func(ev api.StreamEvent) error {
		payload, err := json.Marshal(ev.Data)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, payload); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}
	h.stream(r.Context(), req, emit)
}

// HandleWebSocket GET /chat/ws。客户端每发送一个 ChatRequest，服务端回送与 SSE 相同的事件序列。
func (h *ChatHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure && ctx.Err() == nil {
				h.logger.Debug("websocket read ended", zap.Error(err))
			}
			return
		}

		emit := func(ev api.StreamEvent) error {
			payload, err := json.Marshal(ev)
			if err != nil {
				return err
			}
			return conn.Write(ctx, websocket.MessageText, payload)
		}

		var req api.ChatRequest
		if err := json.Unmarshal(data, &req); err != nil {
			_ = emit(errorEvent(types.NewInvalidRequestError("invalid JSON message")))
			continue
		}
		if apiErr := h.validate(&req); apiErr != nil {
			_ = emit(errorEvent(apiErr))
			continue
		}
		h.stream(ctx, req, emit)
	}
}

// stream 执行一轮并依次发出 metadata、message*、done；失败发出 error
func (h *ChatHandler) stream(ctx context.Context, req api.ChatRequest, emit func(api.StreamEvent) error) {
	resp, err := h.process(ctx, req)
	if err != nil {
		var typed *types.Error
		if !errors.As(err, &typed) {
			typed = types.NewInternalError("internal error").WithCause(err)
		}
		h.logger.Warn("stream turn failed", zap.Error(err))
		_ = emit(errorEvent(typed))
		return
	}

	if err := emit(api.StreamEvent{Type: api.EventMetadata, Data: map[string]any{
		"session_id":  resp.SessionID,
		"route":       resp.Route,
		"route_logic": resp.RouteLogic,
		"sources":     resp.Sources,
		"metadata":    resp.Metadata,
	}}); err != nil {
		return
	}
	for _, chunk := range chunkRunes(resp.Message, h.cfg.StreamChunkRunes) {
		if err := emit(api.StreamEvent{Type: api.EventMessage, Data: map[string]any{"content": chunk}}); err != nil {
			return
		}
	}
	_ = emit(api.StreamEvent{Type: api.EventDone, Data: map[string]any{
		"session_id": resp.SessionID,
		"message_id": resp.MessageID,
		"timestamp":  resp.Timestamp,
	}})
}

func errorEvent(err *types.Error) api.StreamEvent {
	return api.StreamEvent{Type: api.EventError, Data: map[string]any{
		"code":      err.Code,
		"message":   err.Message,
		"retryable": err.Retryable,
	}}
}

func chunkRunes(s string, n int) []string {
	r := []rune(s)
	out := make([]string, 0, len(r)/n+1)
	for i := 0; i < len(r); i += n {
		end := min(i+n, len(r))
		out = append(out, string(r[i:end]))
	}
	return out
}

func (h *ChatHandler) decode(w http.ResponseWriter, r *http.Request) (api.ChatRequest, bool) {
	var req api.ChatRequest
	if !DecodeJSON(w, r, &req, h.logger) {
		return req, false
	}
	if apiErr := h.validate(&req); apiErr != nil {
		WriteError(w, apiErr, h.logger)
		return req, false
	}
	return req, true
}

func (h *ChatHandler) validate(req *api.ChatRequest) *types.Error {
	req.Message = strings.TrimSpace(req.Message)
	req.ImagePath = strings.TrimSpace(req.ImagePath)
	req.FilePath = strings.TrimSpace(req.FilePath)
	if req.Message == "" && req.ImagePath == "" && req.FilePath == "" {
		return types.NewInvalidRequestError("message is required")
	}
	if len([]rune(req.Message)) > 4000 {
		return types.NewInvalidRequestError("message is too long")
	}
	if req.ImagePath != "" && !uploads.IsRemote(req.ImagePath) {
		if err := h.checkAttachment(req.ImagePath); err != nil {
			return err
		}
	}
	if req.FilePath != "" {
		if err := h.checkAttachment(req.FilePath); err != nil {
			return err
		}
	}
	return nil
}

// checkAttachment 本地附件必须是上传接口写入的文件
func (h *ChatHandler) checkAttachment(ref string) *types.Error {
	if _, err := uploads.Resolve(h.cfg.UploadDir, ref); err != nil {
		if typed, ok := types.AsError(err); ok {
			return typed
		}
		return types.NewInvalidRequestError("invalid attachment").WithCause(err)
	}
	return nil
}

// process 读取历史 → 路由图 → 写历史与会话库
func (h *ChatHandler) process(ctx context.Context, req api.ChatRequest) (*api.ChatResponse, error) {
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	userID := strings.TrimSpace(req.UserID)
	if uid, ok := ctxkeys.UserID(ctx); ok && uid != "" {
		userID = uid
	}
	ctx = ctxkeys.WithSessionID(ctx, sessionID)

	ctx, cancel := context.WithTimeout(ctx, h.cfg.TurnTimeout)
	defer cancel()

	var history []types.Message
	if h.history != nil {
		msgs, err := h.history.GetRecent(ctx, sessionID, h.cfg.HistoryWindow)
		if err != nil {
			h.logger.Warn("load history failed", zap.String("session_id", sessionID), zap.Error(err))
		}
		history = msgs
	}

	out, err := h.runner.Run(ctx, router.Request{
		SessionID: sessionID,
		UserID:    userID,
		Message:   req.Message,
		ImagePath: req.ImagePath,
		FilePath:  req.FilePath,
		History:   history,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, types.NewError(types.ErrUpstreamTimeout, "turn timed out").WithRetryable(true).WithCause(err)
		}
		return nil, types.NewInternalError("router failed").WithCause(err)
	}

	now := time.Now().UTC()
	resp := &api.ChatResponse{
		Message:    out.Answer,
		SessionID:  sessionID,
		MessageID:  uuid.NewString(),
		Route:      out.Route,
		RouteLogic: out.RouteLogic,
		Sources:    out.Sources,
		Metadata:   out.Metadata,
		Timestamp:  now,
	}
	if resp.Metadata == nil {
		resp.Metadata = map[string]any{}
	}
	h.persist(ctx, userID, req, resp)
	return resp, nil
}

// persist 写入失败只记日志，不影响本轮回答
func (h *ChatHandler) persist(ctx context.Context, userID string, req api.ChatRequest, resp *api.ChatResponse) {
	assistantMeta := map[string]any{
		"route":       string(resp.Route),
		"route_logic": resp.RouteLogic,
		"sources":     resp.Sources,
	}
	userMeta := map[string]any{}
	if req.ImagePath != "" {
		userMeta["image_path"] = req.ImagePath
	}
	if req.FilePath != "" {
		userMeta["file_path"] = req.FilePath
	}

	if h.history != nil {
		if err := h.history.Append(ctx, resp.SessionID, types.RoleUser, req.Message, userMeta); err != nil {
			h.logger.Warn("append user history failed", zap.Error(err))
		} else if err := h.history.Append(ctx, resp.SessionID, types.RoleAssistant, resp.Message, assistantMeta); err != nil {
			h.logger.Warn("append assistant history failed", zap.Error(err))
		}
	}

	if h.sessions == nil {
		return
	}
	msgs, err := h.sessions.RecordTurn(ctx, session.Turn{
		SessionID: resp.SessionID,
		UserID:    userID,
		Messages: []session.NewMessage{
			{Role: types.RoleUser, Content: req.Message, Metadata: userMeta},
			{Role: types.RoleAssistant, Content: resp.Message, Metadata: assistantMeta},
		},
		Query: req.Message,
		Response: map[string]any{
			"message":     resp.Message,
			"route":       string(resp.Route),
			"route_logic": resp.RouteLogic,
			"sources":     resp.Sources,
			"metadata":    resp.Metadata,
		},
	})
	if err != nil {
		h.logger.Warn("record turn failed", zap.String("session_id", resp.SessionID), zap.Error(err))
		return
	}
	if len(msgs) > 0 {
		resp.MessageID = msgs[len(msgs)-1].ID
	}
}

// HandleHistory GET /chat/history/{session_id}?limit&offset
func (h *ChatHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")
	if sessionID == "" {
		WriteError(w, types.NewInvalidRequestError("session_id is required"), h.logger)
		return
	}
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	resp := api.HistoryResponse{SessionID: sessionID, Messages: []api.HistoryMessage{}, Limit: limit, Offset: offset}
	switch {
	case h.sessions != nil:
		msgs, total, err := h.sessions.ListMessages(r.Context(), sessionID, limit, offset)
		if err != nil {
			WriteAnyError(w, err, h.logger)
			return
		}
		resp.Total = total
		for _, m := range msgs {
			resp.Messages = append(resp.Messages, api.HistoryMessage{
				ID:         m.ID,
				Role:       types.Role(m.Role),
				Content:    m.Content,
				OrderIndex: m.OrderIndex,
				Metadata:   m.Metadata,
				CreatedAt:  m.CreatedAt,
			})
		}
	case h.history != nil:
		msgs, err := h.history.GetRecent(r.Context(), sessionID, 0)
		if err != nil {
			WriteAnyError(w, err, h.logger)
			return
		}
		resp.Total = int64(len(msgs))
		for i := offset; i < len(msgs) && (limit == 0 || i < offset+limit); i++ {
			resp.Messages = append(resp.Messages, api.HistoryMessage{
				Role:       msgs[i].Role,
				Content:    msgs[i].Content,
				OrderIndex: i,
				Metadata:   msgs[i].Metadata,
				CreatedAt:  msgs[i].Timestamp,
			})
		}
	}
	WriteJSON(w, http.StatusOK, resp)
}

// HandleDeleteSession DELETE /chat/session/{session_id}
func (h *ChatHandler) HandleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")
	if sessionID == "" {
		WriteError(w, types.NewInvalidRequestError("session_id is required"), h.logger)
		return
	}
	ctx := r.Context()
	if h.sessions != nil {
		if err := h.sessions.DeleteSession(ctx, sessionID); err != nil {
			WriteAnyError(w, err, h.logger)
			return
		}
	}
	if h.history != nil {
		if err := h.history.Clear(ctx, sessionID); err != nil {
			h.logger.Warn("clear history failed", zap.String("session_id", sessionID), zap.Error(err))
		}
	}
	if h.cache != nil {
		if err := h.cache.Clear(ctx, sessionID); err != nil {
			h.logger.Warn("clear semantic cache failed", zap.String("session_id", sessionID), zap.Error(err))
		}
	}
	WriteSuccess(w, map[string]any{"session_id": sessionID, "deleted": true})
}

// HandleListSessions GET /chat/sessions?user_id&limit&offset
func (h *ChatHandler) HandleListSessions(w http.ResponseWriter, r *http.Request) {
	if h.sessions == nil {
		WriteError(w, types.NewError(types.ErrServiceUnavailable, "session store not configured"), h.logger)
		return
	}
	userID := r.URL.Query().Get("user_id")
	if uid, ok := ctxkeys.UserID(r.Context()); ok && uid != "" {
		userID = uid
	}
	list, err := h.sessions.ListSessions(r.Context(), userID, queryInt(r, "limit", 50), queryInt(r, "offset", 0))
	if err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}
	out := make([]api.SessionInfo, 0, len(list))
	for _, s := range list {
		info := api.SessionInfo{ID: s.ID, Title: s.Title, CreatedAt: s.CreatedAt, UpdatedAt: s.UpdatedAt}
		if s.UserID != nil {
			info.UserID = *s.UserID
		}
		out = append(out, info)
	}
	WriteSuccess(w, out)
}

var routeCatalog = []api.RouteInfo{
	{Type: types.RouteChat, Name: "闲聊", Description: "问候、寒暄与关于助手本身的问题"},
	{Type: types.RouteClarify, Name: "追问", Description: "信息不足时追问菜名或食材"},
	{Type: types.RouteKB, Name: "知识库", Description: "菜谱历史、文化与工艺等描述性知识，检索结构化与语义向量库"},
	{Type: types.RouteKG, Name: "知识图谱", Description: "做法步骤、食材搭配等关系型问题，查询 Neo4j 与图谱 RAG"},
	{Type: types.RouteText2SQL, Name: "数据统计", Description: "计数、排名、比较等统计类问题，生成只读 SQL"},
	{Type: types.RouteImage, Name: "图像", Description: "识别菜品图片或生成菜品图片"},
	{Type: types.RouteFile, Name: "文件", Description: "把上传的菜谱文件导入知识库"},
	{Type: types.RouteReject, Name: "拒答", Description: "与烹饪无关或不安全的问题"},
}

// HandleRoutes GET /chat/routes
func (h *ChatHandler) HandleRoutes(w http.ResponseWriter, _ *http.Request) {
	WriteSuccess(w, routeCatalog)
}
