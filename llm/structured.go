package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jhlu2019/GustoBot-sub000/types"
)

const strictJSONReminder = "上一次输出无法解析。请只输出一个合法的 JSON，不要包含任何解释、Markdown 代码块或多余文字。"

// CompleteJSON asks the model for JSON and decodes it into out.
// On a parse/validation failure it retries once with a stricter instruction;
// a second failure returns ErrMalformedOutput so callers can fall back to heuristics.
// validate may be nil.
func CompleteJSON[T any](ctx context.Context, model ChatModel, messages []types.Message, validate func(T) error, opts ...CallOption) (T, error) {
	var zero T
	opts = append(opts, WithJSONMode())

	raw, err := model.Complete(ctx, messages, opts...)
	if err != nil {
		return zero, err
	}
	v, perr := decodeJSON(raw, validate)
	if perr == nil {
		return v, nil
	}

	retryMsgs := make([]types.Message, 0, len(messages)+2)
	retryMsgs = append(retryMsgs, messages...)
	retryMsgs = append(retryMsgs,
		types.NewAssistantMessage(raw),
		types.NewUserMessage(strictJSONReminder),
	)
	raw, err = model.Complete(ctx, retryMsgs, append(opts, WithTemperature(0))...)
	if err != nil {
		return zero, err
	}
	v, perr = decodeJSON(raw, validate)
	if perr != nil {
		return zero, types.NewError(types.ErrMalformedOutput, "model returned malformed structured output").WithCause(perr)
	}
	return v, nil
}

func decodeJSON[T any](raw string, validate func(T) error) (T, error) {
	var v T
	payload := ExtractJSON(raw)
	if payload == "" {
		return v, fmt.Errorf("no JSON found in model output")
	}
	if err := json.Unmarshal([]byte(payload), &v); err != nil {
		return v, err
	}
	if validate != nil {
		if err := validate(v); err != nil {
			return v, err
		}
	}
	return v, nil
}

// ExtractJSON returns the first balanced JSON object or array in s,
// tolerating Markdown code fences and leading prose.
func ExtractJSON(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```JSON")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}

	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return ""
	}
	open := s[start]
	closeCh := byte('}')
	if open == '[' {
		closeCh = ']'
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case open:
			depth++
		case closeCh:
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
