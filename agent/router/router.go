package router

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jhlu2019/GustoBot-sub000/agent/guardrails"
	"github.com/jhlu2019/GustoBot-sub000/agent/kb"
	"github.com/jhlu2019/GustoBot-sub000/agent/kg"
	"github.com/jhlu2019/GustoBot-sub000/internal/cache"
	"github.com/jhlu2019/GustoBot-sub000/internal/metrics"
	"github.com/jhlu2019/GustoBot-sub000/llm"
	"github.com/jhlu2019/GustoBot-sub000/rag"
	"github.com/jhlu2019/GustoBot-sub000/types"
	"github.com/jhlu2019/GustoBot-sub000/workflow"
	"go.uber.org/zap"
)

// 节点名
const (
	NodeCacheLookup = "cache_lookup"
	NodeAnalyze     = "analyze_and_route"
	NodeGuardrails  = "guardrails"
	NodeChat        = "chat"
	NodeClarify     = "clarify"
	NodeKB          = "kb"
	NodeKG          = "kg"
	NodeImage       = "image"
	NodeFile        = "file"
	NodeReject      = "reject"
	NodeFinish      = "finish"
)

// 路由来源，写入 metadata.route_source
const (
	SourceLLM       = "llm"
	SourceHeuristic = "heuristic"
	SourceOverride  = "override"
	SourceCache     = "cache"
)

// KnowledgeBase KB 子图
type KnowledgeBase interface {
	Run(ctx context.Context, question string, history []types.Message) (*kb.Result, error)
}

// GraphAgent KG 子图，同时承接 text2sql 路由
type GraphAgent interface {
	Run(ctx context.Context, question string, history []types.Message, route types.RouteType) (*kg.Result, error)
}

// TurnCache 语义缓存
type TurnCache interface {
	Lookup(ctx context.Context, namespace, question string) (cache.Hit, bool, error)
	Store(ctx context.Context, namespace, question, response string) error
}

// FileIngester 文件导入服务
type FileIngester interface {
	IngestFile(ctx context.Context, path string) (*rag.IngestResult, error)
}

// Deps 路由图依赖。除 Model 外均可为 nil，缺失的能力走模板回复。
type Deps struct {
	Model   llm.ChatModel
	Guard   *guardrails.Guard
	KB      KnowledgeBase
	KG      GraphAgent
	Cache   TurnCache
	Images  llm.ImageGenerator
	Ingest  FileIngester
	Metrics *metrics.Collector
}

// Config 路由参数
type Config struct {
	// 路由前保留的最近人类轮次，非正数表示不限制
	MemoryTurns         int
	StatisticalKeywords []string
	ProceduralKeywords  []string
	ImageKeywords       []string
	// 图像识别使用的模型，空则沿用对话模型
	VisionModel   string
	MaxImageBytes int64
	// 本地附件只允许来自该目录，空则只接受远程图片
	UploadDir string
}

func (c Config) withDefaults() Config {
	if len(c.StatisticalKeywords) == 0 {
		c.StatisticalKeywords = []string{"统计", "多少", "总数", "排名", "count", "sum", "avg"}
	}
	if len(c.ProceduralKeywords) == 0 {
		c.ProceduralKeywords = []string{"怎么做", "如何做", "做法", "步骤", "食材"}
	}
	if len(c.ImageKeywords) == 0 {
		c.ImageKeywords = []string{"生成", "画", "创建", "做一张"}
	}
	if c.MaxImageBytes <= 0 {
		c.MaxImageBytes = 10 << 20
	}
	return c
}

// Request 单轮输入。History 不含本轮消息。
type Request struct {
	SessionID string
	UserID    string
	Message   string
	ImagePath string
	FilePath  string
	History   []types.Message
}

// Response 单轮输出
type Response struct {
	Answer     string          `json:"answer"`
	Route      types.RouteType `json:"route"`
	RouteLogic string          `json:"route_logic"`
	Sources    []string        `json:"sources"`
	Steps      []string        `json:"steps,omitempty"`
	Metadata   map[string]any  `json:"metadata"`
}

// Decision 返回本轮的路由决策
func (r *Response) Decision(question string) types.RouterDecision {
	return types.RouterDecision{Type: r.Route, Logic: r.RouteLogic, Question: question}
}

// State 路由图状态
type State struct {
	Request
	Question    string
	Decision    types.RouterDecision
	RouteSource string
	CacheHit    bool
	// Degraded 回答来自模板或失败降级，不写缓存
	Degraded bool
	Answer   string
	Sources  []string
	Steps    []string
	Metadata map[string]any
}

func (s State) meta(k string, v any) State {
	m := make(map[string]any, len(s.Metadata)+1)
	for key, val := range s.Metadata {
		m[key] = val
	}
	m[k] = v
	s.Metadata = m
	return s
}

// Router 顶层路由图
type Router struct {
	deps   Deps
	cfg    Config
	graph  *workflow.Graph[State]
	logger *zap.Logger
}

// New 组装路由图
func New(deps Deps, cfg Config, logger *zap.Logger) (*Router, error) {
	if deps.Model == nil {
		return nil, fmt.Errorf("router: model is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Router{deps: deps, cfg: cfg.withDefaults(), logger: logger.With(zap.String("component", "router"))}

	dispatch := []string{NodeChat, NodeGuardrails, NodeKB, NodeKG, NodeImage, NodeFile, NodeReject}
	g, err := workflow.NewGraphBuilder[State]("router").
		WithLogger(r.logger).
		AddNode(NodeCacheLookup, r.safe(NodeCacheLookup, r.cacheLookup)).
		AddNode(NodeAnalyze, r.safe(NodeAnalyze, r.analyze)).
		AddNode(NodeGuardrails, r.safe(NodeGuardrails, r.guardrails)).
		AddNode(NodeChat, r.safe(NodeChat, r.chat)).
		AddNode(NodeClarify, r.safe(NodeClarify, r.clarify)).
		AddNode(NodeKB, r.safe(NodeKB, r.knowledgeBase)).
		AddNode(NodeKG, r.safe(NodeKG, r.knowledgeGraph)).
		AddNode(NodeImage, r.safe(NodeImage, r.image)).
		AddNode(NodeFile, r.safe(NodeFile, r.file)).
		AddNode(NodeReject, r.safe(NodeReject, r.reject)).
		AddNode(NodeFinish, r.safe(NodeFinish, r.finish)).
		SetEntry(NodeCacheLookup).
		AddConditionalEdges(NodeCacheLookup, func(_ context.Context, s State) string {
			if s.CacheHit {
				return NodeFinish
			}
			return NodeAnalyze
		}, NodeAnalyze, NodeFinish).
		AddConditionalEdges(NodeAnalyze, dispatchTarget, dispatch...).
		AddConditionalEdges(NodeGuardrails, func(_ context.Context, s State) string {
			if s.Metadata["guardrail"] == string(guardrails.DecisionEnd) {
				return NodeFinish
			}
			if s.Decision.Type == types.RouteClarify {
				return NodeClarify
			}
			return NodeKG
		}, NodeClarify, NodeKG, NodeFinish).
		AddEdge(NodeChat, NodeFinish).
		AddEdge(NodeClarify, NodeFinish).
		AddEdge(NodeKB, NodeFinish).
		AddEdge(NodeKG, NodeFinish).
		AddEdge(NodeImage, NodeFinish).
		AddEdge(NodeFile, NodeFinish).
		AddEdge(NodeReject, NodeFinish).
		AddEdge(NodeFinish, workflow.END).
		Build()
	if err != nil {
		return nil, err
	}
	r.graph = g
	return r, nil
}

// dispatchTarget 路由到节点；clarify、kg、text2sql 先经过护栏
func dispatchTarget(_ context.Context, s State) string {
	switch s.Decision.Type {
	case types.RouteChat:
		return NodeChat
	case types.RouteClarify, types.RouteKG, types.RouteText2SQL:
		return NodeGuardrails
	case types.RouteImage:
		return NodeImage
	case types.RouteFile:
		return NodeFile
	case types.RouteReject:
		return NodeReject
	default:
		return NodeKB
	}
}

// Run 处理一轮对话。只有路由图本身无法运行（如 ctx 取消）时返回 error。
func (r *Router) Run(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	req.Message = strings.TrimSpace(req.Message)
	req.History = types.TrimToTurns(req.History, r.cfg.MemoryTurns)

	st, err := r.graph.Run(ctx, State{Request: req, Question: req.Message, Metadata: map[string]any{}})
	if err != nil {
		return nil, fmt.Errorf("router: %w", err)
	}
	r.deps.Metrics.RecordTurn(string(st.Decision.Type), time.Since(start))

	sources := st.Sources
	if sources == nil {
		sources = []string{}
	}
	return &Response{
		Answer:     st.Answer,
		Route:      st.Decision.Type,
		RouteLogic: st.Decision.Logic,
		Sources:    sources,
		Steps:      st.Steps,
		Metadata:   st.Metadata,
	}, nil
}

// safe 节点内 panic 记日志并降级为空结果，metadata.reason 记录原因
func (r *Router) safe(name string, fn workflow.NodeFunc[State]) workflow.NodeFunc[State] {
	return func(ctx context.Context, s State) (out State, err error) {
		defer func() {
			if p := recover(); p != nil {
				r.logger.Error("node panicked", zap.String("node", name), zap.Any("panic", p))
				out = s.meta("reason", fmt.Sprintf("%s: %v", name, p))
				out.Degraded = true
				if out.Answer == "" && name != NodeFinish {
					out.Answer = answerFallback
				}
				if !out.Decision.Type.Valid() {
					out.Decision = types.RouterDecision{Type: types.RouteKB, Logic: "recovered", Question: s.Question}
				}
				err = nil
			}
		}()
		return fn(ctx, s)
	}
}

// cachedTurn 写入语义缓存的内容
type cachedTurn struct {
	Answer  string          `json:"answer"`
	Route   types.RouteType `json:"route"`
	Logic   string          `json:"logic,omitempty"`
	Sources []string        `json:"sources,omitempty"`
}

func decodeCachedTurn(raw string) cachedTurn {
	var t cachedTurn
	if err := json.Unmarshal([]byte(raw), &t); err != nil || t.Answer == "" {
		return cachedTurn{Answer: raw, Route: types.RouteKB}
	}
	if !t.Route.Valid() {
		t.Route = types.RouteKB
	}
	return t
}

// cacheable 只缓存检索类路由的正常回答
func cacheable(s State) bool {
	if s.CacheHit || s.Degraded || strings.TrimSpace(s.Answer) == "" {
		return false
	}
	if s.Metadata["guardrail"] == string(guardrails.DecisionEnd) {
		return false
	}
	switch s.Decision.Type {
	case types.RouteKB, types.RouteKG, types.RouteText2SQL:
		return true
	}
	return false
}
