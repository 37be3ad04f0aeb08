package mocks

import (
	"context"
	"strings"
	"sync"
)

// MockGraph 图谱查询模拟：按语句子串匹配返回固定行
type MockGraph struct {
	mu      sync.Mutex
	results []graphResult
	Err     error
	// ExplainWarnings Explain 返回的告警
	ExplainWarnings []string
	ExplainErr      error
	SchemaText      string

	statements []string
}

type graphResult struct {
	substr string
	rows   []map[string]any
}

// On 语句包含 substr 时返回 rows
func (g *MockGraph) On(substr string, rows ...map[string]any) *MockGraph {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.results = append(g.results, graphResult{substr: substr, rows: rows})
	return g
}

func (g *MockGraph) Query(ctx context.Context, statement string, _ map[string]any) ([]map[string]any, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statements = append(g.statements, statement)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if g.Err != nil {
		return nil, g.Err
	}
	for _, r := range g.results {
		if strings.Contains(statement, r.substr) {
			return r.rows, nil
		}
	}
	return nil, nil
}

func (g *MockGraph) Explain(_ context.Context, _ string, _ map[string]any) ([]string, error) {
	return g.ExplainWarnings, g.ExplainErr
}

func (g *MockGraph) Schema(context.Context) (string, error) {
	if g.SchemaText == "" {
		return "Node labels: Dish, Ingredient, Category", nil
	}
	return g.SchemaText, nil
}

// Statements 已执行的语句
func (g *MockGraph) Statements() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.statements...)
}
