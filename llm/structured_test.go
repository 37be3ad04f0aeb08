package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/jhlu2019/GustoBot-sub000/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type decision struct {
	Decision string `json:"decision"`
	Summary  string `json:"summary"`
}

func scripted(replies ...string) (ChatModel, *int) {
	calls := 0
	return ModelFunc(func(_ context.Context, _ []types.Message, _ ...CallOption) (string, error) {
		i := calls
		calls++
		if i < len(replies) {
			return replies[i], nil
		}
		return "", errors.New("no more replies")
	}), &calls
}

func TestExtractJSON(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		`{"a":1}`:                 `{"a":1}`,
		"```json\n{\"a\":1}\n```": `{"a":1}`,
		`结果如下：{"a":"x}y","b":{"c":2}} 完毕`: `{"a":"x}y","b":{"c":2}}`,
		`[{"task":"t"}] trailing`:         `[{"task":"t"}]`,
		`no json here`:                    ``,
		`{"unbalanced": true`:             ``,
		`{"esc":"quote \" brace }"}`:      `{"esc":"quote \" brace }"}`,
	}
	for in, want := range cases {
		assert.Equal(t, want, ExtractJSON(in), in)
	}
}

func TestCompleteJSON_FirstTry(t *testing.T) {
	t.Parallel()

	m, calls := scripted(`{"decision":"proceed"}`)
	v, err := CompleteJSON[decision](context.Background(), m, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "proceed", v.Decision)
	assert.Equal(t, 1, *calls)
}

func TestCompleteJSON_OneStricterRetry(t *testing.T) {
	t.Parallel()

	m, calls := scripted("I think you should proceed", `{"decision":"end","summary":"off topic"}`)
	v, err := CompleteJSON[decision](context.Background(), m, []types.Message{types.NewUserMessage("q")}, nil)
	require.NoError(t, err)
	assert.Equal(t, "end", v.Decision)
	assert.Equal(t, 2, *calls)
}

func TestCompleteJSON_MalformedTwice(t *testing.T) {
	t.Parallel()

	m, calls := scripted("nope", "still nope", `{"decision":"proceed"}`)
	_, err := CompleteJSON[decision](context.Background(), m, nil, nil)
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrMalformedOutput))
	assert.Equal(t, 2, *calls)
}

func TestCompleteJSON_ValidatorTriggersRetry(t *testing.T) {
	t.Parallel()

	validate := func(d decision) error {
		if d.Decision != "proceed" && d.Decision != "end" {
			return errors.New("bad decision")
		}
		return nil
	}
	m, calls := scripted(`{"decision":"maybe"}`, `{"decision":"end"}`)
	v, err := CompleteJSON(context.Background(), m, nil, validate)
	require.NoError(t, err)
	assert.Equal(t, "end", v.Decision)
	assert.Equal(t, 2, *calls)
}

func TestCompleteJSON_ModelErrorPropagates(t *testing.T) {
	t.Parallel()

	boom := errors.New("down")
	m := ModelFunc(func(context.Context, []types.Message, ...CallOption) (string, error) { return "", boom })
	_, err := CompleteJSON[decision](context.Background(), m, nil, nil)
	require.ErrorIs(t, err, boom)
}

func TestApplyOptions(t *testing.T) {
	t.Parallel()

	o := ApplyOptions(WithModel("m"), WithTemperature(0), WithMaxTokens(10), WithJSONMode())
	assert.Equal(t, "m", o.Model)
	require.NotNil(t, o.Temperature)
	assert.Zero(t, *o.Temperature)
	assert.Equal(t, 10, o.MaxTokens)
	assert.True(t, o.JSONMode)
}
