package workflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counterState struct {
	N     int
	Trace []string
}

func inc(name string) NodeFunc[counterState] {
	return func(_ context.Context, s counterState) (counterState, error) {
		s.N++
		s.Trace = append(s.Trace, name)
		return s, nil
	}
}

func TestGraphBuilder_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		build   func() *GraphBuilder[counterState]
		wantErr string
	}{
		{
			name:    "empty graph",
			build:   func() *GraphBuilder[counterState] { return NewGraphBuilder[counterState]("g") },
			wantErr: "no nodes",
		},
		{
			name: "missing entry",
			build: func() *GraphBuilder[counterState] {
				return NewGraphBuilder[counterState]("g").AddNode("a", inc("a")).AddEdge("a", END)
			},
			wantErr: "entry node not set",
		},
		{
			name: "unknown target",
			build: func() *GraphBuilder[counterState] {
				return NewGraphBuilder[counterState]("g").AddNode("a", inc("a")).AddEdge("a", "b").SetEntry("a")
			},
			wantErr: "non-existent target",
		},
		{
			name: "dead end",
			build: func() *GraphBuilder[counterState] {
				return NewGraphBuilder[counterState]("g").
					AddNode("a", inc("a")).AddNode("b", inc("b")).
					AddEdge("a", "b").SetEntry("a")
			},
			wantErr: "no outgoing edge",
		},
		{
			name: "orphan",
			build: func() *GraphBuilder[counterState] {
				return NewGraphBuilder[counterState]("g").
					AddNode("a", inc("a")).AddNode("b", inc("b")).
					AddEdge("a", END).AddEdge("b", END).SetEntry("a")
			},
			wantErr: "orphaned",
		},
		{
			name: "duplicate node",
			build: func() *GraphBuilder[counterState] {
				return NewGraphBuilder[counterState]("g").
					AddNode("a", inc("a")).AddNode("a", inc("a")).
					AddEdge("a", END).SetEntry("a")
			},
			wantErr: "duplicate",
		},
		{
			name: "edge and conditional on one node",
			build: func() *GraphBuilder[counterState] {
				route := func(context.Context, counterState) string { return END }
				return NewGraphBuilder[counterState]("g").
					AddNode("a", inc("a")).
					AddEdge("a", END).
					AddConditionalEdges("a", route, END).
					SetEntry("a")
			},
			wantErr: "already has an outgoing edge",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.build().Build()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestGraphBuilder_BuildsLinearGraph(t *testing.T) {
	t.Parallel()

	g, err := NewGraphBuilder[counterState]("linear").
		AddNode("a", inc("a")).
		AddNode("b", inc("b")).
		AddEdge("a", "b").
		AddEdge("b", END).
		SetEntry("a").
		Build()
	require.NoError(t, err)
	assert.Equal(t, "linear", g.Name())

	out, err := g.Run(context.Background(), counterState{})
	require.NoError(t, err)
	assert.Equal(t, 2, out.N)
	assert.Equal(t, []string{"a", "b"}, out.Trace)
}
