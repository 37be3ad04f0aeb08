package kg

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	kgstore "github.com/jhlu2019/GustoBot-sub000/kg"
	"github.com/jhlu2019/GustoBot-sub000/llm"
	"github.com/jhlu2019/GustoBot-sub000/types"
	"github.com/jhlu2019/GustoBot-sub000/workflow"
	"go.uber.org/zap"
)

const (
	cypherGenerate = "generate"
	cypherValidate = "validate"
	cypherExecute  = "execute"
)

const cypherSystemPrompt = `你是 Neo4j Cypher 专家。根据图谱结构为用户问题生成一条只读 Cypher 查询。
只能使用 MATCH / OPTIONAL MATCH / WITH / UNWIND / RETURN，禁止任何写操作；结果需要 LIMIT 50 以内。
只输出 Cypher 语句本身，用 ` + "```cypher```" + ` 代码块包裹。

图谱结构：
%s`

const cypherRetryHint = `上一次生成的语句：
%s
存在问题：%s
请修正后重新生成。`

const semanticCheckPrompt = `你是 Cypher 审查员。判断查询是否能回答问题、是否只使用了图谱结构中存在的标签和关系。
只输出 JSON：{"valid": true 或 false, "errors": ["..."]}

图谱结构：
%s`

var cypherFenceRe = regexp.MustCompile("(?s)```(?:cypher|Cypher|CYPHER)?\\s*(.*?)```")

// ExtractCypher 从模型输出中取出语句
func ExtractCypher(out string) string {
	out = strings.TrimSpace(out)
	if m := cypherFenceRe.FindStringSubmatch(out); m != nil {
		out = m[1]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(out), ";"))
}

// cypherState text-to-Cypher 状态
type cypherState struct {
	Question string
	Schema   string
	Query    types.Statement
	// 可执行但有告警
	Warnings []string
	Executed bool
}

type semanticVerdict struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

// CypherOptions 生成参数
type CypherOptions struct {
	MaxAttempts       int
	ExecuteOnWarnings bool
	SemanticCheck     bool
}

// textToCypher generate → validate → (retry | execute) 状态机，尝试次数不超过 MaxAttempts
type textToCypher struct {
	model  llm.ChatModel
	store  kgstore.Querier
	opts   CypherOptions
	graph  *workflow.Graph[cypherState]
	logger *zap.Logger
}

func newTextToCypher(model llm.ChatModel, store kgstore.Querier, opts CypherOptions, logger *zap.Logger) (*textToCypher, error) {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	t := &textToCypher{model: model, store: store, opts: opts, logger: logger}
	g, err := workflow.NewGraphBuilder[cypherState]("text2cypher").
		WithLogger(logger).
		WithMaxSteps(3*opts.MaxAttempts+1).
		AddNode(cypherGenerate, t.generate).
		AddNode(cypherValidate, t.validate).
		AddNode(cypherExecute, t.execute).
		SetEntry(cypherGenerate).
		AddEdge(cypherGenerate, cypherValidate).
		AddConditionalEdges(cypherValidate, t.afterValidate, cypherGenerate, cypherExecute, workflow.END).
		AddConditionalEdges(cypherExecute, t.afterExecute, cypherGenerate, workflow.END).
		Build()
	if err != nil {
		return nil, err
	}
	t.graph = g
	return t, nil
}

func (t *textToCypher) run(ctx context.Context, question string) (cypherState, error) {
	st := cypherState{Question: question}
	if sp, ok := t.store.(kgstore.SchemaProvider); ok {
		schema, err := sp.Schema(ctx)
		if err != nil {
			t.logger.Warn("graph schema unavailable", zap.Error(err))
		}
		st.Schema = schema
	}
	return t.graph.Run(ctx, st)
}

func (t *textToCypher) generate(ctx context.Context, s cypherState) (cypherState, error) {
	msgs := []types.Message{
		types.NewSystemMessage(fmt.Sprintf(cypherSystemPrompt, s.Schema)),
		types.NewUserMessage(s.Question),
	}
	// 上一轮的错误与告警都作为修正提示
	if problems := append(append([]string(nil), s.Query.Errors...), s.Warnings...); s.Query.Attempts > 0 && len(problems) > 0 {
		msgs = append(msgs, types.NewUserMessage(fmt.Sprintf(cypherRetryHint, s.Query.Statement, strings.Join(problems, "; "))))
	}
	s.Query.Attempts++
	s.Query.Errors = nil
	s.Warnings = nil
	out, err := t.model.Complete(ctx, msgs, llm.WithTemperature(0))
	if err != nil {
		if ctx.Err() != nil {
			return s, ctx.Err()
		}
		s.Query.Statement = ""
		s.Query.Errors = []string{"generation failed: " + err.Error()}
		return s, nil
	}
	s.Query.Statement = ExtractCypher(out)
	return s, nil
}

func (t *textToCypher) validate(ctx context.Context, s cypherState) (cypherState, error) {
	if len(s.Query.Errors) > 0 {
		return s, nil
	}
	if errs := kgstore.ValidateReadOnly(s.Query.Statement); len(errs) > 0 {
		s.Query.Errors = errs
		return s, nil
	}
	if ex, ok := t.store.(kgstore.Explainer); ok {
		warnings, err := ex.Explain(ctx, s.Query.Statement, s.Query.Parameters)
		if err != nil {
			if ctx.Err() != nil {
				return s, ctx.Err()
			}
			s.Query.Errors = []string{"explain failed: " + err.Error()}
			return s, nil
		}
		s.Warnings = append(s.Warnings, warnings...)
	}
	if t.opts.SemanticCheck {
		msgs := []types.Message{
			types.NewSystemMessage(fmt.Sprintf(semanticCheckPrompt, s.Schema)),
			types.NewUserMessage(fmt.Sprintf("问题：%s\n查询：%s", s.Question, s.Query.Statement)),
		}
		verdict, err := llm.CompleteJSON[semanticVerdict](ctx, t.model, msgs, nil, llm.WithTemperature(0))
		if err == nil && !verdict.Valid {
			if len(verdict.Errors) == 0 {
				verdict.Errors = []string{"semantic check failed"}
			}
			s.Warnings = append(s.Warnings, verdict.Errors...)
		} else if err != nil && ctx.Err() != nil {
			return s, ctx.Err()
		}
	}
	return s, nil
}

func (t *textToCypher) afterValidate(_ context.Context, s cypherState) string {
	last := s.Query.Attempts >= t.opts.MaxAttempts
	switch {
	case len(s.Query.Errors) == 0 && len(s.Warnings) == 0:
		return cypherExecute
	case len(s.Query.Errors) == 0 && last && t.opts.ExecuteOnWarnings:
		return cypherExecute
	case last:
		return workflow.END
	default:
		return cypherGenerate
	}
}

func (t *textToCypher) execute(ctx context.Context, s cypherState) (cypherState, error) {
	rows, err := t.store.Query(ctx, s.Query.Statement, s.Query.Parameters)
	if err != nil {
		if ctx.Err() != nil {
			return s, ctx.Err()
		}
		t.logger.Warn("cypher execution failed", zap.String("statement", s.Query.Statement), zap.Error(err))
		s.Query.Errors = []string{"execution failed: " + err.Error()}
		return s, nil
	}
	s.Query.Records = rows
	s.Executed = true
	return s, nil
}

func (t *textToCypher) afterExecute(_ context.Context, s cypherState) string {
	if s.Executed || s.Query.Attempts >= t.opts.MaxAttempts {
		return workflow.END
	}
	return cypherGenerate
}
