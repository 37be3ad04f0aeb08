package guardrails

import (
	"context"
	"fmt"
	"strings"

	"github.com/jhlu2019/GustoBot-sub000/llm"
	"github.com/jhlu2019/GustoBot-sub000/types"
	"go.uber.org/zap"
)

const systemPromptTemplate = `你是 GustoBot 的安全审查员。判断用户的问题是否属于以下范围：%s。
与烹饪相关的闲聊、追问、口味偏好都应放行。
只输出 JSON：{"decision": "proceed" 或 "end", "summary": "当 decision 为 end 时给用户的礼貌说明"}`

// Config 护栏配置
type Config struct {
	Scope              string
	OutOfScopeKeywords []string
	// 送入模型的最近对话轮数
	HistoryTurns int
	Refusal      string
}

// Guard 领域护栏
type Guard struct {
	model     llm.ChatModel
	cfg       Config
	injection *InjectionDetector
	logger    *zap.Logger
}

// New 创建护栏；model 为 nil 时只做关键词判断
func New(model llm.ChatModel, cfg Config, logger *zap.Logger) *Guard {
	if cfg.Refusal == "" {
		cfg.Refusal = DefaultRefusal
	}
	if cfg.Scope == "" {
		cfg.Scope = "菜谱、食材、烹饪技法、饮食文化与营养"
	}
	if cfg.HistoryTurns <= 0 {
		cfg.HistoryTurns = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guard{
		model:     model,
		cfg:       cfg,
		injection: NewInjectionDetector(),
		logger:    logger.With(zap.String("component", "guardrails")),
	}
}

// Check 判定问题是否放行。只有 ctx 被取消时返回 error。
func (g *Guard) Check(ctx context.Context, question string, history []types.Message) (Result, error) {
	if m, hit := g.injection.Blocking(question); hit {
		g.logger.Warn("prompt injection blocked",
			zap.String("pattern", m.Description),
			zap.String("severity", m.Severity))
		return Result{Decision: DecisionEnd, Summary: g.cfg.Refusal, Source: "injection"}, nil
	}

	if g.model != nil {
		res, err := g.ask(ctx, question, history)
		if err == nil {
			return res, nil
		}
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		g.logger.Warn("guardrail model degraded, using keyword fallback", zap.Error(err))
	}
	return g.keywordDecision(question), nil
}

func (g *Guard) ask(ctx context.Context, question string, history []types.Message) (Result, error) {
	msgs := []types.Message{types.NewSystemMessage(fmt.Sprintf(systemPromptTemplate, g.cfg.Scope))}
	for _, m := range types.TrimToTurns(history, g.cfg.HistoryTurns) {
		if m.Role == types.RoleUser || m.Role == types.RoleAssistant {
			msgs = append(msgs, m)
		}
	}
	msgs = append(msgs, types.NewUserMessage(question))

	res, err := llm.CompleteJSON[Result](ctx, g.model, msgs, func(r Result) error {
		if !Decision(strings.ToLower(string(r.Decision))).Valid() {
			return fmt.Errorf("unknown decision %q", r.Decision)
		}
		return nil
	}, llm.WithTemperature(0))
	if err != nil {
		return Result{}, err
	}
	res.Decision = Decision(strings.ToLower(string(res.Decision)))
	res.Source = "llm"
	if res.Decision == DecisionEnd && strings.TrimSpace(res.Summary) == "" {
		res.Summary = g.cfg.Refusal
	}
	if res.Decision == DecisionProceed {
		res.Summary = ""
	}
	return res, nil
}

func (g *Guard) keywordDecision(question string) Result {
	if kw, hit := containsAny(question, g.cfg.OutOfScopeKeywords); hit {
		g.logger.Debug("out of scope keyword", zap.String("keyword", kw))
		return Result{Decision: DecisionEnd, Summary: g.cfg.Refusal, Source: "keyword"}
	}
	return Result{Decision: DecisionProceed, Source: "fallback"}
}
