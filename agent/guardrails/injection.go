package guardrails

import (
	"regexp"
	"sort"
)

// InjectionPattern 注入模式
type InjectionPattern struct {
	Pattern     *regexp.Regexp
	Description string
	Severity    string
}

// InjectionMatch 注入匹配结果
type InjectionMatch struct {
	Description string `json:"description"`
	Severity    string `json:"severity"`
	Position    int    `json:"position"`
	MatchedText string `json:"matched_text"`
}

// InjectionDetector 提示词注入检测器
type InjectionDetector struct {
	patterns []*InjectionPattern
}

// NewInjectionDetector 使用默认模式，附加 extra
func NewInjectionDetector(extra ...*InjectionPattern) *InjectionDetector {
	return &InjectionDetector{patterns: append(defaultInjectionPatterns(), extra...)}
}

func defaultInjectionPatterns() []*InjectionPattern {
	return []*InjectionPattern{
		// 指令覆盖
		{regexp.MustCompile(`(?i)ignore\s+(all\s+)?(previous|prior|above|earlier)\s+(instructions?|prompts?|rules?)`), "Attempt to ignore previous instructions", SeverityCritical},
		{regexp.MustCompile(`(?i)disregard\s+(all\s+)?(previous|prior|above|earlier|the\s+above)`), "Attempt to disregard instructions", SeverityCritical},
		{regexp.MustCompile(`(?i)(reveal|print|show)\s+(your\s+)?(system\s+prompt|instructions)`), "Attempt to leak the system prompt", SeverityHigh},
		{regexp.MustCompile(`(?i)you\s+are\s+now\s+(a|an|the)\b`), "Attempt to change model role", SeverityHigh},
		// 角色标记
		{regexp.MustCompile(`(?im)^\s*system\s*:`), "System role marker injection", SeverityCritical},
		{regexp.MustCompile(`(?i)<\s*/?\s*system\s*>`), "XML system tag injection", SeverityCritical},
		{regexp.MustCompile(`(?i)\[\s*/?INST\s*\]`), "Instruction tag injection", SeverityHigh},
		{regexp.MustCompile(`(?i)\bjailbreak\b|do\s+anything\s+now`), "Jailbreak attempt", SeverityCritical},
		// 中文
		{regexp.MustCompile(`忽略(之前|上面|以上|先前|前面|所有)(的)?(指令|指示|规则|提示|要求)`), "尝试忽略之前的指令", SeverityCritical},
		{regexp.MustCompile(`忘(记|掉)(之前|上面|以上|所有)(的)?(指令|指示|规则|设定)`), "尝试让模型忘记设定", SeverityCritical},
		{regexp.MustCompile(`不要(遵守|遵循|听从)(之前|上面|以上|任何)(的)?(指令|指示|规则)`), "尝试让模型不遵守指令", SeverityCritical},
		{regexp.MustCompile(`(输出|告诉我|显示)(你的)?(系统提示词|系统指令|提示词)`), "尝试获取系统提示词", SeverityHigh},
		{regexp.MustCompile(`从现在开始(你是|你要|你将)`), "尝试改变模型行为", SeverityHigh},
		// 分隔符逃逸
		{regexp.MustCompile(`(?i)(---+|===+)\s*(system|instructions?)\s*(---+|===+)`), "Delimiter-based injection attempt", SeverityHigh},
	}
}

// Detect 返回所有命中，按位置排序
func (d *InjectionDetector) Detect(content string) []InjectionMatch {
	var matches []InjectionMatch
	for _, p := range d.patterns {
		for _, loc := range p.Pattern.FindAllStringIndex(content, -1) {
			matches = append(matches, InjectionMatch{
				Description: p.Description,
				Severity:    p.Severity,
				Position:    loc[0],
				MatchedText: content[loc[0]:loc[1]],
			})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Position < matches[j].Position })
	return matches
}

// Blocking 是否存在 high 及以上的命中
func (d *InjectionDetector) Blocking(content string) (InjectionMatch, bool) {
	for _, m := range d.Detect(content) {
		if m.Severity == SeverityCritical || m.Severity == SeverityHigh {
			return m, true
		}
	}
	return InjectionMatch{}, false
}
