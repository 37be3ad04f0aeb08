package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestParseRoute(t *testing.T) {
	t.Parallel()

	cases := map[string]RouteType{
		"kb":            RouteKB,
		" KG ":          RouteKG,
		"\"text2sql\"":  RouteText2SQL,
		"general-query": RouteChat,
		"sql":           RouteText2SQL,
		"reject":        RouteReject,
	}
	for in, want := range cases {
		got, ok := ParseRoute(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}

	_, ok := ParseRoute("weather")
	assert.False(t, ok)
}

func TestRouterDecision_RejectsUnknownType(t *testing.T) {
	t.Parallel()

	var d RouterDecision
	err := json.Unmarshal([]byte(`{"type":"stocks","logic":"x","question":"y"}`), &d)
	require.Error(t, err)
	assert.True(t, IsErrorCode(err, ErrMalformedOutput))
}

func TestRouterDecision_JSONRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		d := RouterDecision{
			Type:     rapid.SampledFrom(AllRoutes()).Draw(t, "type"),
			Logic:    rapid.String().Draw(t, "logic"),
			Question: rapid.String().Draw(t, "question"),
		}
		data, err := json.Marshal(d)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		var back RouterDecision
		if err := json.Unmarshal(data, &back); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if back != d {
			t.Fatalf("round trip mismatch: %+v != %+v", back, d)
		}
	})
}
