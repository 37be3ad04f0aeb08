package kg

import (
	"context"
	"fmt"
	"strings"

	"github.com/jhlu2019/GustoBot-sub000/agent/guardrails"
	kgstore "github.com/jhlu2019/GustoBot-sub000/kg"
	"github.com/jhlu2019/GustoBot-sub000/llm"
	"github.com/jhlu2019/GustoBot-sub000/rag"
	"github.com/jhlu2019/GustoBot-sub000/text2sql"
	"github.com/jhlu2019/GustoBot-sub000/types"
	"github.com/jhlu2019/GustoBot-sub000/workflow"
	"go.uber.org/zap"
)

// 节点名
const (
	NodeGuardrails  = "guardrails"
	NodePlanner     = "planner"
	NodeTools       = "tools"
	NodeSummarize   = "summarize"
	NodeFinalAnswer = "final_answer"
)

// GraphRAGQuerier 图谱 RAG 查询能力
type GraphRAGQuerier interface {
	Query(ctx context.Context, query string, mode rag.GraphRAGMode) (string, error)
}

// SQLRunner text-to-SQL 流水线
type SQLRunner interface {
	Run(ctx context.Context, question string) (*text2sql.State, error)
}

// Deps 子图依赖。Graph、GraphRAG、SQL 至少提供一个。
type Deps struct {
	Model    llm.ChatModel
	Guard    *guardrails.Guard
	Graph    kgstore.Querier
	GraphRAG GraphRAGQuerier
	SQL      SQLRunner
	Library  *Library
}

// Config 子图参数
type Config struct {
	MaxTasks            int
	MaxConcurrency      int
	TemplateTopK        int
	MinTemplateScore    float64
	DescriptiveKeywords []string
	StatisticalKeywords []string
	GraphRAGMode        rag.GraphRAGMode
	Cypher              CypherOptions
}

func (c Config) withDefaults() Config {
	if c.MaxTasks <= 0 {
		c.MaxTasks = 3
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 4
	}
	if c.TemplateTopK <= 0 {
		c.TemplateTopK = 3
	}
	if c.MinTemplateScore <= 0 {
		c.MinTemplateScore = 0.1
	}
	if c.GraphRAGMode == "" {
		c.GraphRAGMode = rag.ModeHybrid
	}
	return c
}

// TaskOutput 单个任务的执行结果
type TaskOutput struct {
	Task      types.KGTask     `json:"task"`
	Tool      string           `json:"tool"`
	Selection string           `json:"selection"`
	Statement string           `json:"statement,omitempty"`
	Records   []map[string]any `json:"records,omitempty"`
	Raw       string           `json:"raw"`
	Summary   string           `json:"summary"`
	Error     string           `json:"error,omitempty"`
	Source    string           `json:"source,omitempty"`
}

// State 子图状态
type State struct {
	Question  string
	History   []types.Message
	RouteType types.RouteType
	Ended     bool
	Guardrail guardrails.Result
	Tasks     []types.KGTask
	Outputs   []TaskOutput
	Answer    string
	Sources   []string
	Steps     []string
}

// Result 子图输出
type Result struct {
	Answer    string            `json:"answer"`
	Sources   []string          `json:"sources"`
	Steps     []string          `json:"steps"`
	Outputs   []TaskOutput      `json:"outputs,omitempty"`
	Guardrail guardrails.Result `json:"-"`
}

// Agent KG 子图
type Agent struct {
	deps   Deps
	cfg    Config
	cypher *textToCypher
	graph  *workflow.Graph[State]
	logger *zap.Logger
}

// New 组装子图
func New(deps Deps, cfg Config, logger *zap.Logger) (*Agent, error) {
	if deps.Model == nil {
		return nil, fmt.Errorf("kg: model is required")
	}
	if deps.Graph == nil && deps.GraphRAG == nil && deps.SQL == nil {
		return nil, fmt.Errorf("kg: at least one of graph, graphrag or sql is required")
	}
	if deps.Library == nil {
		deps.Library = DefaultLibrary()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Agent{deps: deps, cfg: cfg.withDefaults(), logger: logger.With(zap.String("component", "kg"))}
	if deps.Graph != nil {
		t, err := newTextToCypher(deps.Model, deps.Graph, a.cfg.Cypher, a.logger)
		if err != nil {
			return nil, err
		}
		a.cypher = t
	}

	g, err := workflow.NewGraphBuilder[State]("kg").
		WithLogger(a.logger).
		AddNode(NodeGuardrails, a.guardrails).
		AddNode(NodePlanner, a.plan).
		AddNode(NodeTools, a.runTools).
		AddNode(NodeSummarize, a.summarize).
		AddNode(NodeFinalAnswer, a.finalAnswer).
		SetEntry(NodeGuardrails).
		AddConditionalEdges(NodeGuardrails, func(_ context.Context, s State) string {
			if s.Ended {
				return NodeFinalAnswer
			}
			return NodePlanner
		}, NodePlanner, NodeFinalAnswer).
		AddEdge(NodePlanner, NodeTools).
		AddEdge(NodeTools, NodeSummarize).
		AddEdge(NodeSummarize, NodeFinalAnswer).
		AddEdge(NodeFinalAnswer, workflow.END).
		Build()
	if err != nil {
		return nil, err
	}
	a.graph = g
	return a, nil
}

// Run 回答一个图谱类问题；route 为顶层路由结果（kg 或 text2sql）
func (a *Agent) Run(ctx context.Context, question string, history []types.Message, route types.RouteType) (*Result, error) {
	st, err := a.graph.Run(ctx, State{Question: strings.TrimSpace(question), History: history, RouteType: route})
	if err != nil {
		return nil, err
	}
	return &Result{Answer: st.Answer, Sources: st.Sources, Steps: st.Steps, Outputs: st.Outputs, Guardrail: st.Guardrail}, nil
}

func (a *Agent) guardrails(ctx context.Context, s State) (State, error) {
	if a.deps.Guard == nil {
		return s, nil
	}
	res, err := a.deps.Guard.Check(ctx, s.Question, s.History)
	if err != nil {
		return s, err
	}
	s.Guardrail = res
	if !res.Proceed() {
		s.Ended = true
		s.Answer = res.Summary
	}
	return s, nil
}

func (a *Agent) plan(ctx context.Context, s State) (State, error) {
	msgs := []types.Message{
		types.NewSystemMessage(fmt.Sprintf(plannerSystemPrompt, a.cfg.MaxTasks)),
		types.NewUserMessage(s.Question),
	}
	tasks, err := llm.CompleteJSON[[]types.KGTask](ctx, a.deps.Model, msgs, func(ts []types.KGTask) error {
		for _, t := range ts {
			if strings.TrimSpace(t.Task) != "" {
				return nil
			}
		}
		return fmt.Errorf("no tasks")
	}, llm.WithTemperature(0))
	if err != nil {
		if ctx.Err() != nil {
			return s, ctx.Err()
		}
		a.logger.Debug("planner fell back to single task", zap.Error(err))
		tasks = nil
	}

	var kept []types.KGTask
	for _, t := range tasks {
		if t.Task = strings.TrimSpace(t.Task); t.Task != "" {
			kept = append(kept, t)
		}
	}
	if len(kept) == 0 {
		kept = []types.KGTask{{Task: s.Question}}
	}
	if len(kept) > a.cfg.MaxTasks {
		kept = kept[:a.cfg.MaxTasks]
	}
	s.Tasks = kept
	return s, nil
}

func (a *Agent) runTools(ctx context.Context, s State) (State, error) {
	outputs, err := workflow.FanOut(ctx, s.Tasks, a.cfg.MaxConcurrency, func(ctx context.Context, _ int, task types.KGTask) (TaskOutput, error) {
		return a.runTask(ctx, task, s.RouteType)
	})
	if err != nil {
		return s, err
	}
	s.Outputs = outputs
	return s, nil
}

// runTask 只在 ctx 取消时返回 error，工具失败记录在输出中
func (a *Agent) runTask(ctx context.Context, task types.KGTask, route types.RouteType) (TaskOutput, error) {
	var candidates []Match
	if a.deps.Graph != nil {
		candidates = a.deps.Library.Search(task.Task, a.cfg.TemplateTopK)
	}
	call, how := a.selectTool(ctx, task, route, candidates)
	if err := ctx.Err(); err != nil {
		return TaskOutput{}, err
	}
	out := TaskOutput{Task: task, Tool: call.Tool, Selection: how}

	var err error
	switch call.Tool {
	case ToolPredefinedCypher:
		err = a.runPredefined(ctx, &out, call, candidates)
	case ToolCypherQuery:
		err = a.runCypher(ctx, &out)
	case ToolGraphRAGQuery:
		err = a.runGraphRAG(ctx, &out)
	case ToolText2SQLQuery:
		err = a.runSQL(ctx, &out)
	default:
		err = fmt.Errorf("unknown tool %q", call.Tool)
	}
	if ctx.Err() != nil {
		return out, ctx.Err()
	}
	if err != nil {
		a.logger.Warn("kg tool failed", zap.String("tool", out.Tool), zap.String("task", task.Task), zap.Error(err))
		out.Error = err.Error()
	}
	return out, nil
}

func (a *Agent) runPredefined(ctx context.Context, out *TaskOutput, call ToolCall, candidates []Match) error {
	var tmpl Template
	var ok bool
	if name, _ := call.Arguments["query_name"].(string); name != "" {
		tmpl, ok = a.deps.Library.Get(name)
	}
	if !ok && len(candidates) > 0 {
		tmpl, ok = candidates[0].Template, true
	}
	if !ok {
		out.Tool = ToolCypherQuery
		return a.runCypher(ctx, out)
	}

	var params map[string]any
	if given, isMap := call.Arguments["query_parameters"].(map[string]any); isMap && len(missingParams(tmpl, given)) == 0 {
		params = given
	} else {
		var err error
		params, err = extractParams(ctx, a.deps.Model, tmpl, out.Task.Task)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// 模板参数缺失时改用 text-to-Cypher
			a.logger.Debug("template parameters missing, falling back to cypher generation", zap.Error(err))
			out.Tool = ToolCypherQuery
			return a.runCypher(ctx, out)
		}
	}

	out.Task.QueryName = tmpl.Name
	out.Task.QueryParameters = params
	out.Statement = tmpl.Cypher
	out.Source = "kg:" + tmpl.Name
	rows, err := a.deps.Graph.Query(ctx, tmpl.Cypher, params)
	if err != nil {
		return err
	}
	out.Records = rows
	out.Raw = FormatRecords(rows)
	return nil
}

func (a *Agent) runCypher(ctx context.Context, out *TaskOutput) error {
	if a.cypher == nil {
		return fmt.Errorf("graph store is not configured")
	}
	st, err := a.cypher.run(ctx, out.Task.Task)
	if err != nil {
		return err
	}
	out.Statement = st.Query.Statement
	out.Source = "kg:cypher"
	if !st.Executed {
		return fmt.Errorf("cypher generation failed after %d attempts: %s", st.Query.Attempts, strings.Join(st.Query.Errors, "; "))
	}
	out.Records = st.Query.Records
	out.Raw = FormatRecords(st.Query.Records)
	return nil
}

func (a *Agent) runGraphRAG(ctx context.Context, out *TaskOutput) error {
	if a.deps.GraphRAG == nil {
		return fmt.Errorf("graph rag is not configured")
	}
	answer, err := a.deps.GraphRAG.Query(ctx, out.Task.Task, a.cfg.GraphRAGMode)
	if err != nil {
		return err
	}
	out.Raw = strings.TrimSpace(answer)
	out.Source = types.ToolGraphRAG
	return nil
}

func (a *Agent) runSQL(ctx context.Context, out *TaskOutput) error {
	if a.deps.SQL == nil {
		return fmt.Errorf("text2sql is not configured")
	}
	st, err := a.deps.SQL.Run(ctx, out.Task.Task)
	if err != nil {
		return err
	}
	out.Statement = st.SQL
	out.Records = st.Rows
	out.Raw = st.Answer
	out.Source = types.ToolSQL
	if st.ExecutionError != "" {
		return fmt.Errorf("%s", st.ExecutionError)
	}
	return nil
}

func (a *Agent) summarize(ctx context.Context, s State) (State, error) {
	outputs, err := workflow.FanOut(ctx, s.Outputs, a.cfg.MaxConcurrency, func(ctx context.Context, _ int, out TaskOutput) (TaskOutput, error) {
		if out.Raw == "" {
			out.Summary = emptyToolOutput
			return out, nil
		}
		msgs := []types.Message{
			types.NewSystemMessage(summarizeSystemPrompt),
			types.NewUserMessage(fmt.Sprintf("问题：%s\n工具：%s\n结果：\n%s", out.Task.Task, out.Tool, out.Raw)),
		}
		summary, err := a.deps.Model.Complete(ctx, msgs, llm.WithTemperature(0.2))
		if err != nil || strings.TrimSpace(summary) == "" {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			summary = out.Raw
		}
		out.Summary = strings.TrimSpace(summary)
		return out, nil
	})
	if err != nil {
		return s, err
	}
	s.Outputs = outputs
	return s, nil
}

func (a *Agent) finalAnswer(_ context.Context, s State) (State, error) {
	if s.Ended {
		s.Sources = []string{}
		return s, nil
	}
	var b strings.Builder
	seen := map[string]bool{}
	s.Sources = []string{}
	for i, out := range s.Outputs {
		step := fmt.Sprintf("%d. %s → %s", i+1, out.Task.Task, out.Tool)
		if out.Task.QueryName != "" {
			step += "(" + out.Task.QueryName + ")"
		}
		if out.Error != "" {
			step += "：失败"
		}
		s.Steps = append(s.Steps, step)
		if out.Source != "" && out.Error == "" && !seen[out.Source] {
			seen[out.Source] = true
			s.Sources = append(s.Sources, out.Source)
		}

		if len(s.Outputs) == 1 {
			b.WriteString(out.Summary)
			continue
		}
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "**%d. %s**\n%s", i+1, out.Task.Task, out.Summary)
	}
	s.Answer = strings.TrimSpace(b.String())
	if s.Answer == "" {
		s.Answer = emptyToolOutput
	}
	return s, nil
}
