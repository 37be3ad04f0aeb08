package kg

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/jhlu2019/GustoBot-sub000/llm"
	"github.com/jhlu2019/GustoBot-sub000/types"
)

// 工具名
const (
	ToolPredefinedCypher = "predefined_cypher"
	ToolCypherQuery      = "cypher_query"
	ToolGraphRAGQuery    = "graphrag_query"
	ToolText2SQLQuery    = "text2sql_query"
)

// ToolSpec 提示词中的工具描述
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ToolCall 模型选择的工具调用
type ToolCall struct {
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

func (a *Agent) toolSpecs(candidates []Match) []ToolSpec {
	names := make([]string, 0, len(candidates))
	for _, c := range candidates {
		names = append(names, c.Template.Name+"："+c.Template.Description)
	}
	specs := []ToolSpec{
		{
			Name:        ToolPredefinedCypher,
			Description: "使用预定义的参数化图谱查询，适合菜品做法、食材、分类等结构化问题。候选模板：" + strings.Join(names, "；"),
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{"query_name": map[string]any{"type": "string"}, "query_parameters": map[string]any{"type": "object"}},
				"required":   []string{"query_name"},
			},
		},
		{
			Name:        ToolCypherQuery,
			Description: "根据问题生成新的只读 Cypher 查询，适合模板无法覆盖的复杂图谱问题。",
			Parameters:  map[string]any{"type": "object", "properties": map[string]any{"question": map[string]any{"type": "string"}}},
		},
	}
	if a.deps.GraphRAG != nil {
		specs = append(specs, ToolSpec{
			Name:        ToolGraphRAGQuery,
			Description: "图谱 RAG 检索，适合口味、特色、营养功效、历史文化等描述性问题。",
			Parameters:  map[string]any{"type": "object", "properties": map[string]any{"question": map[string]any{"type": "string"}}},
		})
	}
	if a.deps.SQL != nil {
		specs = append(specs, ToolSpec{
			Name:        ToolText2SQLQuery,
			Description: "在关系库上执行统计查询，适合数量、排名、平均值等统计问题。",
			Parameters:  map[string]any{"type": "object", "properties": map[string]any{"question": map[string]any{"type": "string"}}},
		})
	}
	return specs
}

func (a *Agent) available(tool string) bool {
	switch tool {
	case ToolPredefinedCypher, ToolCypherQuery:
		return a.deps.Graph != nil
	case ToolGraphRAGQuery:
		return a.deps.GraphRAG != nil
	case ToolText2SQLQuery:
		return a.deps.SQL != nil
	}
	return false
}

func containsKeyword(text string, keywords []string) bool {
	lower := strings.ToLower(text)
	for _, k := range keywords {
		if k = strings.TrimSpace(k); k != "" && strings.Contains(lower, strings.ToLower(k)) {
			return true
		}
	}
	return false
}

// selectTool 规则覆盖 → 模型函数调用 → 关键词启发式
func (a *Agent) selectTool(ctx context.Context, task types.KGTask, route types.RouteType, candidates []Match) (ToolCall, string) {
	statistical := containsKeyword(task.Task, a.cfg.StatisticalKeywords)
	if route == types.RouteText2SQL && statistical && a.available(ToolText2SQLQuery) {
		return ToolCall{Tool: ToolText2SQLQuery}, "override"
	}
	if containsKeyword(task.Task, a.cfg.DescriptiveKeywords) && a.available(ToolGraphRAGQuery) {
		return ToolCall{Tool: ToolGraphRAGQuery}, "override"
	}

	specs, _ := json.MarshalIndent(a.toolSpecs(candidates), "", "  ")
	msgs := []types.Message{
		types.NewSystemMessage(fmt.Sprintf(toolSelectionSystemPrompt, specs)),
		types.NewUserMessage(task.Task),
	}
	call, err := llm.CompleteJSON[ToolCall](ctx, a.deps.Model, msgs, func(c ToolCall) error {
		if !a.available(strings.TrimSpace(c.Tool)) {
			return fmt.Errorf("unknown or unavailable tool %q", c.Tool)
		}
		return nil
	}, llm.WithTemperature(0))
	if err == nil {
		call.Tool = strings.TrimSpace(call.Tool)
		return call, "model"
	}
	if ctx.Err() == nil {
		a.logger.Debug("tool selection fell back to heuristic")
	}
	return a.heuristicTool(task, statistical, candidates), "heuristic"
}

func (a *Agent) heuristicTool(task types.KGTask, statistical bool, candidates []Match) ToolCall {
	switch {
	case statistical && a.available(ToolText2SQLQuery):
		return ToolCall{Tool: ToolText2SQLQuery}
	case len(candidates) > 0 && candidates[0].Score >= a.cfg.MinTemplateScore && a.available(ToolPredefinedCypher):
		return ToolCall{Tool: ToolPredefinedCypher, Arguments: map[string]any{"query_name": candidates[0].Template.Name}}
	case a.available(ToolCypherQuery):
		return ToolCall{Tool: ToolCypherQuery}
	case a.available(ToolGraphRAGQuery):
		return ToolCall{Tool: ToolGraphRAGQuery}
	default:
		return ToolCall{Tool: ToolText2SQLQuery}
	}
}

// FormatRecords 把查询行渲染为编号列表；含 step/content 的行按步骤渲染
func FormatRecords(rows []map[string]any) string {
	if len(rows) == 0 {
		return ""
	}
	var b strings.Builder
	for i, row := range rows {
		if i > 0 {
			b.WriteByte('\n')
		}
		if content, ok := row["content"]; ok {
			if step, ok := row["step"]; ok {
				fmt.Fprintf(&b, "%v. %v", step, content)
				continue
			}
		}
		keys := make([]string, 0, len(row))
		for k := range row {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			if row[k] == nil {
				continue
			}
			parts = append(parts, fmt.Sprintf("%s：%v", k, row[k]))
		}
		fmt.Fprintf(&b, "%d. %s", i+1, strings.Join(parts, "，"))
	}
	return b.String()
}
