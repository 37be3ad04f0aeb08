package llm

import (
	"context"

	"github.com/jhlu2019/GustoBot-sub000/types"
)

// ChatModel is the minimal chat capability the workflows depend on.
type ChatModel interface {
	Complete(ctx context.Context, messages []types.Message, opts ...CallOption) (string, error)
}

// ImageGenerator turns a prompt into an image URL (or data URL).
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt string) (string, error)
}

// CallOptions 单次调用参数
type CallOptions struct {
	Model       string
	Temperature *float64
	MaxTokens   int
	// JSONMode 请求 JSON 对象输出（response_format=json_object）
	JSONMode bool
}

// CallOption configures a single Complete call.
type CallOption func(*CallOptions)

// WithModel overrides the configured model.
func WithModel(model string) CallOption {
	return func(o *CallOptions) { o.Model = model }
}

// WithTemperature overrides the configured temperature.
func WithTemperature(t float64) CallOption {
	return func(o *CallOptions) { o.Temperature = &t }
}

// WithMaxTokens caps the completion length.
func WithMaxTokens(n int) CallOption {
	return func(o *CallOptions) { o.MaxTokens = n }
}

// WithJSONMode asks the model for a JSON object.
func WithJSONMode() CallOption {
	return func(o *CallOptions) { o.JSONMode = true }
}

// ApplyOptions folds opts into a CallOptions value.
func ApplyOptions(opts ...CallOption) CallOptions {
	var o CallOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// ModelFunc adapts a function to ChatModel.
type ModelFunc func(ctx context.Context, messages []types.Message, opts ...CallOption) (string, error)

// Complete implements ChatModel.
func (f ModelFunc) Complete(ctx context.Context, messages []types.Message, opts ...CallOption) (string, error) {
	return f(ctx, messages, opts...)
}
