package kb

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/jhlu2019/GustoBot-sub000/agent/guardrails"
	"github.com/jhlu2019/GustoBot-sub000/llm"
	"github.com/jhlu2019/GustoBot-sub000/llm/rerank"
	"github.com/jhlu2019/GustoBot-sub000/llm/tokenizer"
	"github.com/jhlu2019/GustoBot-sub000/rag"
	"github.com/jhlu2019/GustoBot-sub000/types"
	"github.com/jhlu2019/GustoBot-sub000/workflow"
	"go.uber.org/zap"
)

// Route 子图内部检索路线
type Route string

const (
	RouteLocal    Route = "local"
	RouteExternal Route = "external"
	RouteHybrid   Route = "hybrid"
)

// 节点名
const (
	NodeGuardrails = "guardrails"
	NodeRouter     = "kb_router"
	NodeLocal      = "local_search"
	NodeExternal   = "external_search"
	NodeFinalize   = "finalize"
)

// RouterDecision 路由器结构化输出
type RouterDecision struct {
	Route     Route    `json:"route"`
	Tools     []string `json:"tools"`
	Rationale string   `json:"rationale"`
}

// Config 检索参数
type Config struct {
	TopK                  int
	SVTopK                int
	SimilarityThreshold   float64
	SVSimilarityThreshold float64
	SVRerankThreshold     float64
	ContextClipTokens     int
}

func (c Config) withDefaults() Config {
	if c.TopK <= 0 {
		c.TopK = 5
	}
	if c.SVTopK <= 0 {
		c.SVTopK = c.TopK * 2
	}
	if c.ContextClipTokens <= 0 {
		c.ContextClipTokens = 400
	}
	return c
}

// Deps 子图依赖。MV、External、Reranker、Guard 可为 nil。
type Deps struct {
	Model     llm.ChatModel
	Guard     *guardrails.Guard
	SV        rag.Retriever
	MV        rag.Retriever
	External  rag.Retriever
	Reranker  *rerank.Reranker
	Tokenizer tokenizer.Tokenizer
}

// State 子图状态
type State struct {
	Question      string
	History       []types.Message
	Ended         bool
	Guardrail     guardrails.Result
	Route         Route
	Tools         []string
	Rationale     string
	Promoted      bool
	SVDocs        []types.Document
	MVDocs        []types.Document
	ExternalDocs  []types.Document
	ExternalCalls int
	Answer        string
	Sources       []string
	Steps         []string
}

// Result 子图输出
type Result struct {
	Answer    string            `json:"answer"`
	Sources   []string          `json:"sources"`
	Steps     []string          `json:"steps"`
	Route     Route             `json:"route"`
	Guardrail guardrails.Result `json:"-"`
	Documents []types.Document  `json:"documents,omitempty"`
}

// Graph KB 子图
type Graph struct {
	deps   Deps
	cfg    Config
	graph  *workflow.Graph[State]
	logger *zap.Logger
}

// New 组装子图
func New(deps Deps, cfg Config, logger *zap.Logger) (*Graph, error) {
	if deps.Model == nil || deps.SV == nil {
		return nil, fmt.Errorf("kb: model and sv retriever are required")
	}
	if deps.Tokenizer == nil {
		deps.Tokenizer = tokenizer.NewEstimatorTokenizer()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Graph{deps: deps, cfg: cfg.withDefaults(), logger: logger.With(zap.String("component", "kb"))}

	compiled, err := workflow.NewGraphBuilder[State]("kb").
		WithLogger(g.logger).
		AddNode(NodeGuardrails, g.guardrails).
		AddNode(NodeRouter, g.route).
		AddNode(NodeLocal, g.localSearch).
		AddNode(NodeExternal, g.externalSearch).
		AddNode(NodeFinalize, g.finalize).
		SetEntry(NodeGuardrails).
		AddConditionalEdges(NodeGuardrails, func(_ context.Context, s State) string {
			if s.Ended {
				return NodeFinalize
			}
			return NodeRouter
		}, NodeRouter, NodeFinalize).
		AddConditionalEdges(NodeRouter, func(_ context.Context, s State) string {
			if s.Route == RouteExternal {
				return NodeExternal
			}
			return NodeLocal
		}, NodeLocal, NodeExternal).
		AddConditionalEdges(NodeLocal, g.afterLocal, NodeExternal, NodeFinalize).
		AddEdge(NodeExternal, NodeFinalize).
		AddEdge(NodeFinalize, workflow.END).
		Build()
	if err != nil {
		return nil, err
	}
	g.graph = compiled
	return g, nil
}

// Run 回答一个知识库问题
func (g *Graph) Run(ctx context.Context, question string, history []types.Message) (*Result, error) {
	st, err := g.graph.Run(ctx, State{Question: strings.TrimSpace(question), History: history})
	if err != nil {
		return nil, err
	}
	docs := slices.Concat(st.SVDocs, st.MVDocs, st.ExternalDocs)
	return &Result{
		Answer:    st.Answer,
		Sources:   st.Sources,
		Steps:     st.Steps,
		Route:     st.Route,
		Guardrail: st.Guardrail,
		Documents: docs,
	}, nil
}

func (g *Graph) externalAvailable() bool {
	return g.deps.External != nil
}

type urlProvider interface{ URL() string }

// externalDistinct 外部检索地址与 SV 不同才允许 hybrid 追加
func (g *Graph) externalDistinct() bool {
	if !g.externalAvailable() {
		return false
	}
	ext, ok1 := g.deps.External.(urlProvider)
	sv, ok2 := g.deps.SV.(urlProvider)
	if !ok1 || !ok2 {
		return true
	}
	return strings.TrimRight(ext.URL(), "/") != strings.TrimRight(sv.URL(), "/")
}

func (g *Graph) guardrails(ctx context.Context, s State) (State, error) {
	if g.deps.Guard == nil {
		return s, nil
	}
	res, err := g.deps.Guard.Check(ctx, s.Question, s.History)
	if err != nil {
		return s, err
	}
	s.Guardrail = res
	if !res.Proceed() {
		s.Ended = true
		s.Answer = res.Summary
		s.Steps = append(s.Steps, "guardrails: end")
	}
	return s, nil
}

func (g *Graph) route(ctx context.Context, s State) (State, error) {
	msgs := []types.Message{
		types.NewSystemMessage(routerSystemPrompt),
		types.NewUserMessage(s.Question),
	}
	d, err := llm.CompleteJSON[RouterDecision](ctx, g.deps.Model, msgs, nil, llm.WithTemperature(0))
	if err != nil {
		if ctx.Err() != nil {
			return s, ctx.Err()
		}
		g.logger.Warn("kb router degraded to local", zap.Error(err))
		d = RouterDecision{Route: RouteLocal, Rationale: "router fallback"}
	}
	d = g.normalize(d)
	s.Route, s.Tools, s.Rationale = d.Route, d.Tools, d.Rationale
	s.Steps = append(s.Steps, fmt.Sprintf("kb_router: %s %v", d.Route, d.Tools))
	return s, nil
}

func (g *Graph) normalize(d RouterDecision) RouterDecision {
	switch Route(strings.ToLower(string(d.Route))) {
	case RouteExternal:
		d.Route = RouteExternal
	case RouteHybrid:
		d.Route = RouteHybrid
	default:
		d.Route = RouteLocal
	}
	if !g.externalAvailable() && d.Route != RouteLocal {
		d.Route = RouteLocal
	}

	var tools []string
	for _, t := range d.Tools {
		t = strings.ToLower(strings.TrimSpace(t))
		if (t == types.ToolSV || t == types.ToolMV) && !slices.Contains(tools, t) {
			tools = append(tools, t)
		}
	}
	if len(tools) == 0 && d.Route != RouteExternal {
		tools = []string{types.ToolSV, types.ToolMV}
	}
	// SV 始终优先
	slices.SortStableFunc(tools, func(a, b string) int {
		if a == b {
			return 0
		}
		if a == types.ToolSV {
			return -1
		}
		return 1
	})
	d.Tools = tools
	return d
}

func (g *Graph) localSearch(ctx context.Context, s State) (State, error) {
	if slices.Contains(s.Tools, types.ToolSV) {
		docs, err := g.searchSV(ctx, s.Question)
		if err != nil {
			if ctx.Err() != nil {
				return s, ctx.Err()
			}
			g.logger.Warn("sv search failed", zap.Error(err))
		}
		s.SVDocs = docs
		s.Steps = append(s.Steps, fmt.Sprintf("sv: %d", len(docs)))
	}

	if len(s.SVDocs) == 0 && slices.Contains(s.Tools, types.ToolMV) && g.deps.MV != nil {
		th := g.cfg.SimilarityThreshold
		docs, err := g.deps.MV.Search(ctx, rag.SearchRequest{Query: s.Question, TopK: g.cfg.TopK, Threshold: &th})
		if err != nil {
			if ctx.Err() != nil {
				return s, ctx.Err()
			}
			g.logger.Warn("mv search failed", zap.Error(err))
		}
		docs = rag.FilterByScore(docs, th)
		for i := range docs {
			docs[i] = docs[i].WithTool(types.ToolMV)
		}
		if len(docs) > g.cfg.TopK {
			docs = docs[:g.cfg.TopK]
		}
		s.MVDocs = docs
		s.Steps = append(s.Steps, fmt.Sprintf("mv: %d", len(docs)))
	}

	if len(s.SVDocs) == 0 && len(s.MVDocs) == 0 && s.Route != RouteExternal && g.externalAvailable() {
		s.Route = RouteExternal
		s.Promoted = true
		s.Steps = append(s.Steps, "local empty, promoted to external")
	}
	return s, nil
}

// searchSV 检索后按相似度与重排分数双阈值过滤
func (g *Graph) searchSV(ctx context.Context, q string) ([]types.Document, error) {
	th := g.cfg.SVSimilarityThreshold
	docs, err := g.deps.SV.Search(ctx, rag.SearchRequest{Query: q, TopK: g.cfg.SVTopK, Threshold: &th})
	if err != nil {
		return nil, err
	}
	for i := range docs {
		docs[i] = docs[i].WithTool(types.ToolSV)
	}

	var kept []types.Document
	reranked := false
	if g.deps.Reranker != nil && len(docs) > 0 {
		ranked, rerr := g.deps.Reranker.Rerank(ctx, q, docs, 0)
		if rerr == nil {
			reranked = true
			for _, d := range ranked {
				if d.Score >= th && d.RerankScore != nil && *d.RerankScore >= g.cfg.SVRerankThreshold {
					kept = append(kept, d)
				}
			}
		} else if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	if !reranked {
		kept = rag.FilterByScore(docs, th)
	}
	if len(kept) > g.cfg.TopK {
		kept = kept[:g.cfg.TopK]
	}
	return kept, nil
}

func (g *Graph) afterLocal(_ context.Context, s State) string {
	if s.ExternalCalls > 0 {
		return NodeFinalize
	}
	if s.Promoted {
		return NodeExternal
	}
	if s.Route == RouteHybrid && g.externalDistinct() {
		return NodeExternal
	}
	return NodeFinalize
}

func (g *Graph) externalSearch(ctx context.Context, s State) (State, error) {
	if !g.externalAvailable() || s.ExternalCalls > 0 {
		return s, nil
	}
	s.ExternalCalls++
	th := g.cfg.SimilarityThreshold
	docs, err := g.deps.External.Search(ctx, rag.SearchRequest{Query: s.Question, TopK: g.cfg.TopK, Threshold: &th})
	if err != nil {
		if ctx.Err() != nil {
			return s, ctx.Err()
		}
		// 外部检索失败静默忽略
		g.logger.Warn("external search failed", zap.Error(err))
		docs = nil
	}
	for i := range docs {
		docs[i] = docs[i].WithTool(types.ToolExternal)
	}
	if len(docs) > g.cfg.TopK {
		docs = docs[:g.cfg.TopK]
	}
	s.ExternalDocs = docs
	s.Steps = append(s.Steps, fmt.Sprintf("external: %d", len(docs)))
	return s, nil
}

func (g *Graph) finalize(ctx context.Context, s State) (State, error) {
	if s.Ended {
		s.Sources = []string{}
		return s, nil
	}
	s.Sources = types.DedupSources(s.SVDocs, s.MVDocs, s.ExternalDocs)
	if len(s.SVDocs)+len(s.MVDocs)+len(s.ExternalDocs) == 0 {
		s.Answer = noInformationAnswer
		return s, nil
	}

	clip := func(text string) string { return g.deps.Tokenizer.Clip(text, g.cfg.ContextClipTokens) }
	var blocks []string
	for _, group := range []struct {
		tool string
		docs []types.Document
	}{{types.ToolSV, s.SVDocs}, {types.ToolMV, s.MVDocs}, {types.ToolExternal, s.ExternalDocs}} {
		if b := rag.FormatBlocks(rag.Labels[group.tool], group.docs, clip); b != "" {
			blocks = append(blocks, b)
		}
	}
	evidence := strings.Join(blocks, "\n\n")

	msgs := []types.Message{types.NewSystemMessage(fmt.Sprintf(finalizeSystemPrompt, evidence))}
	msgs = append(msgs, types.TrimToTurns(conversational(s.History), 2)...)
	msgs = append(msgs, types.NewUserMessage(s.Question))

	answer, err := g.deps.Model.Complete(ctx, msgs, llm.WithTemperature(0.3))
	if err != nil || strings.TrimSpace(answer) == "" {
		if ctx.Err() != nil {
			return s, ctx.Err()
		}
		g.logger.Warn("finalize degraded to evidence digest", zap.Error(err))
		answer = "根据检索到的资料：\n\n" + evidence
	}
	s.Answer = strings.TrimSpace(answer)
	return s, nil
}

func conversational(msgs []types.Message) []types.Message {
	out := make([]types.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == types.RoleUser || m.Role == types.RoleAssistant {
			out = append(out, m)
		}
	}
	return out
}
