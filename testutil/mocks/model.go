// Package mocks 提供 ChatModel、Embedder、Retriever、图谱查询等能力的模拟实现，
// 用于工作流与 HTTP 层的端到端测试。
package mocks

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/jhlu2019/GustoBot-sub000/llm"
	"github.com/jhlu2019/GustoBot-sub000/types"
)

// ErrNoRule 没有匹配规则时返回，模拟 LLM 不可用
var ErrNoRule = errors.New("mock model: no matching rule")

type rule struct {
	match func(msgs []types.Message) bool
	reply func(msgs []types.Message) (string, error)
}

// MockModel 基于规则的 ChatModel：按注册顺序匹配第一条规则
type MockModel struct {
	mu       sync.Mutex
	rules    []rule
	fallback *rule
	calls    [][]types.Message
}

// NewMockModel 创建模拟模型
func NewMockModel() *MockModel {
	return &MockModel{}
}

// OnSystem 当 system 提示词包含 substr 时返回 reply
func (m *MockModel) OnSystem(substr, reply string) *MockModel {
	return m.When(func(msgs []types.Message) bool {
		return strings.Contains(systemText(msgs), substr)
	}, reply)
}

// OnSystemAndUser system 与最后一条 user 消息同时包含给定子串
func (m *MockModel) OnSystemAndUser(sysSubstr, userSubstr, reply string) *MockModel {
	return m.When(func(msgs []types.Message) bool {
		return strings.Contains(systemText(msgs), sysSubstr) &&
			strings.Contains(types.LastUserMessage(msgs), userSubstr)
	}, reply)
}

// OnSystemError 当 system 提示词包含 substr 时返回错误
func (m *MockModel) OnSystemError(substr string, err error) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, rule{
		match: func(msgs []types.Message) bool { return strings.Contains(systemText(msgs), substr) },
		reply: func([]types.Message) (string, error) { return "", err },
	})
	return m
}

// When 自定义匹配
func (m *MockModel) When(match func([]types.Message) bool, reply string) *MockModel {
	return m.WhenFunc(match, func([]types.Message) (string, error) { return reply, nil })
}

// WhenFunc 自定义匹配与回复
func (m *MockModel) WhenFunc(match func([]types.Message) bool, reply func([]types.Message) (string, error)) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, rule{match: match, reply: reply})
	return m
}

// Default 未命中任何规则时的回复
func (m *MockModel) Default(reply string) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = &rule{reply: func([]types.Message) (string, error) { return reply, nil }}
	return m
}

// Complete implements llm.ChatModel.
func (m *MockModel) Complete(ctx context.Context, messages []types.Message, _ ...llm.CallOption) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	m.calls = append(m.calls, append([]types.Message(nil), messages...))
	rules := append([]rule(nil), m.rules...)
	fallback := m.fallback
	m.mu.Unlock()

	for _, r := range rules {
		if r.match(messages) {
			return r.reply(messages)
		}
	}
	if fallback != nil {
		return fallback.reply(messages)
	}
	return "", ErrNoRule
}

// Calls 返回所有调用的消息副本
func (m *MockModel) Calls() [][]types.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]types.Message(nil), m.calls...)
}

// CallCount 调用次数
func (m *MockModel) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// CountSystem 统计 system 提示词包含 substr 的调用次数
func (m *MockModel) CountSystem(substr string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if strings.Contains(systemText(c), substr) {
			n++
		}
	}
	return n
}

func systemText(msgs []types.Message) string {
	var b strings.Builder
	for _, msg := range msgs {
		if msg.Role == types.RoleSystem {
			b.WriteString(msg.Content)
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// MockImageGenerator 固定返回 URL 或错误
type MockImageGenerator struct {
	URL     string
	Err     error
	Prompts []string
	mu      sync.Mutex
}

func (g *MockImageGenerator) GenerateImage(_ context.Context, prompt string) (string, error) {
	g.mu.Lock()
	g.Prompts = append(g.Prompts, prompt)
	g.mu.Unlock()
	return g.URL, g.Err
}
