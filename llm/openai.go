package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jhlu2019/GustoBot-sub000/llm/retry"
	"github.com/jhlu2019/GustoBot-sub000/types"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// OpenAIConfig OpenAI 兼容客户端配置
type OpenAIConfig struct {
	Provider    string
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	MaxRetries  int
	// 图像生成
	ImageModel string
	ImageSize  string
	HTTPClient *http.Client
}

// OpenAIClient implements ChatModel and ImageGenerator over the OpenAI protocol.
type OpenAIClient struct {
	client  *openai.Client
	cfg     OpenAIConfig
	retryer *retry.Retryer
	logger  *zap.Logger
}

// NewOpenAIClient creates a client. BaseURL may point at any OpenAI-compatible endpoint.
func NewOpenAIClient(cfg OpenAIConfig, logger *zap.Logger) (*OpenAIClient, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("llm model is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Provider == "" {
		cfg.Provider = "openai"
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.HTTPClient != nil {
		oc.HTTPClient = cfg.HTTPClient
	}

	policy := retry.DefaultRetryPolicy()
	if cfg.MaxRetries > 0 {
		policy.MaxRetries = cfg.MaxRetries - 1
	}

	return &OpenAIClient{
		client:  openai.NewClientWithConfig(oc),
		cfg:     cfg,
		retryer: retry.NewRetryer(policy, logger),
		logger:  logger.With(zap.String("component", "llm"), zap.String("provider", cfg.Provider)),
	}, nil
}

// Complete implements ChatModel.
func (c *OpenAIClient) Complete(ctx context.Context, messages []types.Message, opts ...CallOption) (string, error) {
	o := ApplyOptions(opts...)
	req := openai.ChatCompletionRequest{
		Model:    c.cfg.Model,
		Messages: toOpenAIMessages(messages),
	}
	if o.Model != "" {
		req.Model = o.Model
	}
	temp := c.cfg.Temperature
	if o.Temperature != nil {
		temp = *o.Temperature
	}
	req.Temperature = float32(temp)
	if o.MaxTokens > 0 {
		req.MaxTokens = o.MaxTokens
	} else if c.cfg.MaxTokens > 0 {
		req.MaxTokens = c.cfg.MaxTokens
	}
	if o.JSONMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}

	start := time.Now()
	content, err := retry.Do(ctx, c.retryer, func(ctx context.Context) (string, error) {
		callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()

		resp, err := c.client.CreateChatCompletion(callCtx, req)
		if err != nil {
			return "", c.classify(err)
		}
		if len(resp.Choices) == 0 {
			return "", types.NewError(types.ErrUpstreamError, "no completion choices returned").
				WithProvider(c.cfg.Provider).WithRetryable(true)
		}
		return resp.Choices[0].Message.Content, nil
	})
	if err != nil {
		c.logger.Warn("chat completion failed",
			zap.String("model", req.Model),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return "", err
	}

	c.logger.Debug("chat completion",
		zap.String("model", req.Model),
		zap.Int("messages", len(messages)),
		zap.Duration("duration", time.Since(start)))
	return content, nil
}

// GenerateImage implements ImageGenerator.
func (c *OpenAIClient) GenerateImage(ctx context.Context, prompt string) (string, error) {
	model := c.cfg.ImageModel
	if model == "" {
		model = openai.CreateImageModelDallE3
	}
	size := c.cfg.ImageSize
	if size == "" {
		size = openai.CreateImageSize1024x1024
	}

	return retry.Do(ctx, c.retryer, func(ctx context.Context) (string, error) {
		callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()

		resp, err := c.client.CreateImage(callCtx, openai.ImageRequest{
			Prompt:         prompt,
			Model:          model,
			N:              1,
			Size:           size,
			ResponseFormat: openai.CreateImageResponseFormatURL,
		})
		if err != nil {
			return "", c.classify(err)
		}
		if len(resp.Data) == 0 {
			return "", types.NewError(types.ErrUpstreamError, "no image returned").WithProvider(c.cfg.Provider)
		}
		if resp.Data[0].URL != "" {
			return resp.Data[0].URL, nil
		}
		return "data:image/png;base64," + resp.Data[0].B64JSON, nil
	})
}

// classify maps go-openai errors onto types.Error so retry and HTTP layers can reason about them.
func (c *OpenAIClient) classify(err error) error {
	return ClassifyOpenAIError(c.cfg.Provider, err)
}

// ClassifyOpenAIError is shared by every go-openai based client (chat, image, embedding).
func ClassifyOpenAIError(provider string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return types.NewError(types.ErrUpstreamTimeout, "upstream request timed out").
			WithProvider(provider).WithRetryable(true).WithCause(err)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return ClassifyStatus(provider, apiErr.HTTPStatusCode, apiErr.Message, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return ClassifyStatus(provider, reqErr.HTTPStatusCode, "request failed", err)
	}
	return types.NewError(types.ErrUpstreamError, "upstream request failed").
		WithProvider(provider).WithRetryable(true).WithCause(err)
}

// ClassifyStatus maps an HTTP status from an upstream model API to a structured error.
func ClassifyStatus(provider string, status int, msg string, cause error) *types.Error {
	var e *types.Error
	switch {
	case status == http.StatusTooManyRequests:
		e = types.NewError(types.ErrRateLimit, msg).WithRetryable(true)
	case status == http.StatusUnauthorized:
		e = types.NewError(types.ErrUnauthorized, msg)
	case status == http.StatusForbidden:
		e = types.NewError(types.ErrForbidden, msg)
	case status >= 500:
		e = types.NewError(types.ErrUpstreamError, msg).WithRetryable(true)
	case status >= 400:
		e = types.NewError(types.ErrInvalidRequest, msg)
	default:
		e = types.NewError(types.ErrUpstreamError, msg).WithRetryable(true)
	}
	return e.WithProvider(provider).WithHTTPStatus(http.StatusBadGateway).WithCause(cause)
}

func toOpenAIMessages(msgs []types.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		role := string(m.Role)
		if m.Role == types.RoleTool {
			// 工具输出以 user 角色回填，避免缺少 tool_call_id 的协议错误
			role = openai.ChatMessageRoleUser
		}
		msg := openai.ChatCompletionMessage{Role: role, Name: m.Name}
		if len(m.Images) == 0 {
			msg.Content = m.Content
			out = append(out, msg)
			continue
		}
		parts := []openai.ChatMessagePart{{Type: openai.ChatMessagePartTypeText, Text: m.Content}}
		for _, img := range m.Images {
			url := img.URL
			if img.Type == "base64" {
				url = "data:image/jpeg;base64," + img.Data
			}
			parts = append(parts, openai.ChatMessagePart{
				Type:     openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{URL: url, Detail: openai.ImageURLDetailAuto},
			})
		}
		msg.MultiContent = parts
		out = append(out, msg)
	}
	return out
}
