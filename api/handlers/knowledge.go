package handlers

import (
	"context"
	"net/http"

	"github.com/jhlu2019/GustoBot-sub000/rag"
	"go.uber.org/zap"
)

// KnowledgeSearcher /knowledge/search 背后的检索服务
type KnowledgeSearcher interface {
	Search(ctx context.Context, req rag.KnowledgeSearchRequest) (*rag.KnowledgeSearchResponse, error)
}

// KnowledgeHandler 结构化向量库（SV）的服务端接口
type KnowledgeHandler struct {
	service KnowledgeSearcher
	logger  *zap.Logger
}

// NewKnowledgeHandler 创建知识检索处理器
func NewKnowledgeHandler(service KnowledgeSearcher, logger *zap.Logger) *KnowledgeHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KnowledgeHandler{service: service, logger: logger}
}

// HandleSearch POST /knowledge/search
func (h *KnowledgeHandler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	var req rag.KnowledgeSearchRequest
	if !DecodeJSON(w, r, &req, h.logger) {
		return
	}
	resp, err := h.service.Search(r.Context(), req)
	if err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}
	if resp.Results == nil {
		resp.Results = []rag.KnowledgeResult{}
	}
	WriteJSON(w, http.StatusOK, resp)
}
