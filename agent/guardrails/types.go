package guardrails

import "strings"

// Decision 护栏判定
type Decision string

const (
	DecisionProceed Decision = "proceed"
	DecisionEnd     Decision = "end"
)

// Valid 是否为合法判定
func (d Decision) Valid() bool {
	return d == DecisionProceed || d == DecisionEnd
}

// Severity 常量
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
)

// Result 护栏输出
type Result struct {
	Decision Decision `json:"decision"`
	Summary  string   `json:"summary,omitempty"`
	// llm | keyword | injection | fallback
	Source string `json:"-"`
}

// Proceed 是否放行
func (r Result) Proceed() bool { return r.Decision != DecisionEnd }

// DefaultRefusal 默认拒答
const DefaultRefusal = "抱歉，我是 GustoBot 烹饪助手，只能回答菜谱、食材、烹饪技巧和饮食文化相关的问题。换个和美食有关的问题试试吧！"

func containsAny(text string, keywords []string) (string, bool) {
	lower := strings.ToLower(text)
	for _, k := range keywords {
		k = strings.TrimSpace(k)
		if k != "" && strings.Contains(lower, strings.ToLower(k)) {
			return k, true
		}
	}
	return "", false
}
