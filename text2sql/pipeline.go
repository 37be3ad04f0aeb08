package text2sql

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jhlu2019/GustoBot-sub000/llm"
	"github.com/jhlu2019/GustoBot-sub000/types"
	"github.com/jhlu2019/GustoBot-sub000/workflow"
	"go.uber.org/zap"
)

// 节点名
const (
	NodeSchemaRetrieval = "schema_retrieval"
	NodeQueryAnalysis   = "query_analysis"
	NodeSQLGeneration   = "sql_generation"
	NodeSQLValidation   = "sql_validation"
	NodeSQLExecution    = "sql_execution"
	NodeVisualization   = "visualization"
	NodeAnswerFormatter = "answer_formatter"
)

// Analysis 查询分析的结构化输出
type Analysis struct {
	Intent      string   `json:"intent"`
	Tables      []string `json:"tables"`
	Columns     []string `json:"columns"`
	Joins       []string `json:"joins"`
	Filters     []string `json:"filters"`
	Aggregation string   `json:"aggregation"`
	OrderBy     string   `json:"order_by"`
	Notes       string   `json:"notes"`
}

// ChartTable 等图表类型；推荐结果仅作提示
const (
	ChartTable     = "table"
	ChartBar       = "bar"
	ChartLine      = "line"
	ChartPie       = "pie"
	ChartScatter   = "scatter"
	ChartArea      = "area"
	ChartHistogram = "histogram"
)

var chartTypes = map[string]bool{
	ChartTable: true, ChartBar: true, ChartLine: true, ChartPie: true,
	ChartScatter: true, ChartArea: true, ChartHistogram: true,
}

// Visualization 图表推荐
type Visualization struct {
	Type   string `json:"type"`
	X      string `json:"x,omitempty"`
	Y      string `json:"y,omitempty"`
	Title  string `json:"title,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// State 流水线状态
type State struct {
	Question       string              `json:"question"`
	Schema         types.SchemaContext `json:"schema"`
	Analysis       Analysis            `json:"analysis"`
	SQL            string              `json:"sql"`
	Validation     Validation          `json:"validation"`
	RetryCount     int                 `json:"retry_count"`
	Columns        []string            `json:"columns,omitempty"`
	Rows           []map[string]any    `json:"rows,omitempty"`
	Truncated      bool                `json:"truncated"`
	Executed       bool                `json:"executed"`
	ExecutionError string              `json:"execution_error,omitempty"`
	Visualization  Visualization       `json:"visualization"`
	Answer         string              `json:"answer"`
	Steps          []string            `json:"steps"`
}

func (s State) step(format string, args ...any) State {
	s.Steps = append(append([]string(nil), s.Steps...), fmt.Sprintf(format, args...))
	return s
}

// Config 流水线参数
type Config struct {
	Dialect           string
	MaxRetries        int
	TopTables         int
	VisualizationRows int
	Glossary          *Glossary
}

func (c Config) withDefaults() Config {
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	} else if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.TopTables <= 0 {
		c.TopTables = 6
	}
	if c.VisualizationRows <= 0 {
		c.VisualizationRows = 10
	}
	if c.Dialect == "" {
		c.Dialect = "sqlite"
	}
	if c.Glossary == nil {
		g := DefaultGlossary()
		c.Glossary = &g
	}
	return c
}

// Pipeline text-to-SQL 状态机。执行错误写入 State.ExecutionError，不向调用方返回。
type Pipeline struct {
	model        llm.ChatModel
	introspector Introspector
	executor     *Executor
	cfg          Config
	graph        *workflow.Graph[State]
	logger       *zap.Logger
}

// NewPipeline 组装流水线
func NewPipeline(model llm.ChatModel, introspector Introspector, executor *Executor, cfg Config, logger *zap.Logger) (*Pipeline, error) {
	if model == nil || introspector == nil || executor == nil {
		return nil, fmt.Errorf("text2sql: model, introspector and executor are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pipeline{
		model:        model,
		introspector: introspector,
		executor:     executor,
		cfg:          cfg.withDefaults(),
		logger:       logger.With(zap.String("component", "text2sql")),
	}

	g, err := workflow.NewGraphBuilder[State]("text2sql").
		WithLogger(p.logger).
		// 每次重试经过生成与校验两个节点
		WithMaxSteps(8+2*p.cfg.MaxRetries).
		AddNode(NodeSchemaRetrieval, p.retrieveSchema).
		AddNode(NodeQueryAnalysis, p.analyze).
		AddNode(NodeSQLGeneration, p.generate).
		AddNode(NodeSQLValidation, p.validate).
		AddNode(NodeSQLExecution, p.execute).
		AddNode(NodeVisualization, p.visualize).
		AddNode(NodeAnswerFormatter, p.format).
		SetEntry(NodeSchemaRetrieval).
		AddConditionalEdges(NodeSchemaRetrieval, func(_ context.Context, s State) string {
			if s.ExecutionError != "" {
				return NodeAnswerFormatter
			}
			return NodeQueryAnalysis
		}, NodeQueryAnalysis, NodeAnswerFormatter).
		AddEdge(NodeQueryAnalysis, NodeSQLGeneration).
		AddEdge(NodeSQLGeneration, NodeSQLValidation).
		AddConditionalEdges(NodeSQLValidation, p.afterValidation, NodeSQLGeneration, NodeSQLExecution, NodeAnswerFormatter).
		AddConditionalEdges(NodeSQLExecution, func(_ context.Context, s State) string {
			if s.ExecutionError != "" {
				return NodeAnswerFormatter
			}
			return NodeVisualization
		}, NodeVisualization, NodeAnswerFormatter).
		AddEdge(NodeVisualization, NodeAnswerFormatter).
		AddEdge(NodeAnswerFormatter, workflow.END).
		Build()
	if err != nil {
		return nil, err
	}
	p.graph = g
	return p, nil
}

// Run 对一个自然语言问题执行完整流水线
func (p *Pipeline) Run(ctx context.Context, question string) (*State, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, types.NewInvalidRequestError("question is empty")
	}
	out, err := p.graph.Run(ctx, State{Question: question})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (p *Pipeline) retrieveSchema(ctx context.Context, s State) (State, error) {
	sc, err := p.introspector.Introspect(ctx)
	if err != nil {
		p.logger.Warn("schema introspection failed", zap.Error(err))
		s.ExecutionError = "schema introspection failed: " + err.Error()
		return s, nil
	}
	sc = p.cfg.Glossary.Merge(sc)
	s.Schema = p.cfg.Glossary.SelectTables(sc, s.Question, p.cfg.TopTables)
	return s.step("检索到相关表：%s", strings.Join(s.Schema.TableNames(), ", ")), nil
}

func (p *Pipeline) analyze(ctx context.Context, s State) (State, error) {
	msgs := []types.Message{
		types.NewSystemMessage(fmt.Sprintf(analysisSystemPrompt, s.Schema.Render())),
		types.NewUserMessage(s.Question),
	}
	a, err := llm.CompleteJSON[Analysis](ctx, p.model, msgs, nil, llm.WithTemperature(0))
	if err != nil {
		if ctx.Err() != nil {
			return s, ctx.Err()
		}
		p.logger.Warn("query analysis degraded", zap.Error(err))
		a = Analysis{Intent: s.Question, Tables: s.Schema.TableNames()}
	}
	s.Analysis = a
	return s.step("查询意图：%s", a.Intent), nil
}

func (p *Pipeline) generate(ctx context.Context, s State) (State, error) {
	analysis, _ := json.Marshal(s.Analysis)
	msgs := []types.Message{
		types.NewSystemMessage(fmt.Sprintf(generationSystemPrompt, p.cfg.Dialect, s.Schema.Render(), analysis)),
		types.NewUserMessage(s.Question),
	}
	if s.RetryCount > 0 {
		msgs = append(msgs, types.NewUserMessage(fmt.Sprintf(generationRetryHint, s.SQL, strings.Join(s.Validation.Errors, "; "))))
	}
	out, err := p.model.Complete(ctx, msgs, llm.WithTemperature(0))
	if err != nil {
		if ctx.Err() != nil {
			return s, ctx.Err()
		}
		p.logger.Warn("sql generation failed", zap.Error(err))
		s.SQL = ""
		return s, nil
	}
	s.SQL = ExtractSQL(out)
	return s, nil
}

func (p *Pipeline) validate(_ context.Context, s State) (State, error) {
	s.Validation = Validate(s.SQL)
	if !s.Validation.Valid {
		s.RetryCount++
		p.logger.Debug("sql rejected",
			zap.String("sql", s.SQL),
			zap.Strings("errors", s.Validation.Errors),
			zap.Int("retry_count", s.RetryCount))
		return s, nil
	}
	return s.step("生成 SQL：%s", s.SQL), nil
}

func (p *Pipeline) afterValidation(_ context.Context, s State) string {
	switch {
	case s.Validation.Valid:
		return NodeSQLExecution
	case s.RetryCount <= p.cfg.MaxRetries:
		return NodeSQLGeneration
	default:
		return NodeAnswerFormatter
	}
}

func (p *Pipeline) execute(ctx context.Context, s State) (State, error) {
	if !s.Validation.Valid {
		return s, nil
	}
	res, err := p.executor.Execute(ctx, s.SQL)
	if err != nil {
		p.logger.Warn("sql execution failed", zap.String("sql", s.SQL), zap.Error(err))
		s.ExecutionError = err.Error()
		return s, nil
	}
	s.Executed = true
	s.Columns = res.Columns
	s.Rows = res.Rows
	s.Truncated = res.Truncated
	return s.step("返回 %d 行结果", len(res.Rows)), nil
}

func (p *Pipeline) visualize(ctx context.Context, s State) (State, error) {
	if len(s.Rows) == 0 {
		s.Visualization = Visualization{Type: ChartTable, Reason: "empty result"}
		return s, nil
	}
	sample := s.Rows
	if len(sample) > p.cfg.VisualizationRows {
		sample = sample[:p.cfg.VisualizationRows]
	}
	payload, _ := json.Marshal(map[string]any{
		"question": s.Question,
		"analysis": s.Analysis,
		"columns":  s.Columns,
		"rows":     sample,
	})
	msgs := []types.Message{
		types.NewSystemMessage(visualizationSystemPrompt),
		types.NewUserMessage(string(payload)),
	}
	v, err := llm.CompleteJSON[Visualization](ctx, p.model, msgs, func(v Visualization) error {
		if !chartTypes[strings.ToLower(v.Type)] {
			return fmt.Errorf("unknown chart type %q", v.Type)
		}
		return nil
	}, llm.WithTemperature(0))
	if err != nil {
		if ctx.Err() != nil {
			return s, ctx.Err()
		}
		p.logger.Debug("visualization fallback to table", zap.Error(err))
		v = Visualization{Type: ChartTable}
	}
	v.Type = strings.ToLower(v.Type)
	s.Visualization = v
	return s, nil
}

func (p *Pipeline) format(ctx context.Context, s State) (State, error) {
	switch {
	case s.ExecutionError != "" && !s.Executed:
		s.Answer = fmt.Sprintf("抱歉，查询数据库时出现问题：%s", s.ExecutionError)
		return s, nil
	case !s.Validation.Valid:
		s.Answer = "抱歉，没能为这个问题生成安全的只读 SQL 查询，请换一种问法试试。"
		return s, nil
	}

	payload, _ := json.Marshal(map[string]any{
		"sql":       s.SQL,
		"columns":   s.Columns,
		"rows":      topRows(s.Rows, p.cfg.VisualizationRows),
		"truncated": s.Truncated,
		"row_count": len(s.Rows),
	})
	msgs := []types.Message{
		types.NewSystemMessage(formatterSystemPrompt),
		types.NewUserMessage(fmt.Sprintf("问题：%s\n查询结果：%s", s.Question, payload)),
	}
	out, err := p.model.Complete(ctx, msgs)
	if err != nil || strings.TrimSpace(out) == "" {
		if ctx.Err() != nil {
			return s, ctx.Err()
		}
		if err != nil {
			p.logger.Warn("answer formatter degraded", zap.Error(err))
		}
		s.Answer = templateAnswer(s)
		return s, nil
	}
	s.Answer = strings.TrimSpace(out)
	return s, nil
}

func topRows(rows []map[string]any, n int) []map[string]any {
	if len(rows) > n {
		return rows[:n]
	}
	return rows
}

// templateAnswer 模型不可用时的兜底回答
func templateAnswer(s State) string {
	var b strings.Builder
	switch {
	case len(s.Rows) == 0:
		b.WriteString("查询没有返回任何结果。")
	case len(s.Rows) == 1 && len(s.Columns) == 1:
		fmt.Fprintf(&b, "查询结果：%v。", s.Rows[0][s.Columns[0]])
	default:
		fmt.Fprintf(&b, "查询返回 %d 行结果", len(s.Rows))
		if s.Truncated {
			b.WriteString("（已截断）")
		}
		b.WriteString("：\n")
		b.WriteString("| " + strings.Join(s.Columns, " | ") + " |\n")
		for _, row := range topRows(s.Rows, 10) {
			cells := make([]string, len(s.Columns))
			for i, c := range s.Columns {
				cells[i] = fmt.Sprint(row[c])
			}
			b.WriteString("| " + strings.Join(cells, " | ") + " |\n")
		}
	}
	fmt.Fprintf(&b, "\nSQL：%s", s.SQL)
	return b.String()
}
