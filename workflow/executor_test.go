package workflow

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestGraph_ConditionalLoopBoundedByState(t *testing.T) {
	t.Parallel()

	route := func(_ context.Context, s counterState) string {
		if s.N < 3 {
			return "work"
		}
		return "done"
	}

	g, err := NewGraphBuilder[counterState]("loop").
		WithLogger(zap.NewNop()).
		AddNode("work", inc("work")).
		AddNode("done", inc("done")).
		AddConditionalEdges("work", route, "work", "done").
		AddEdge("done", END).
		SetEntry("work").
		Build()
	require.NoError(t, err)

	out, err := g.Run(context.Background(), counterState{})
	require.NoError(t, err)
	assert.Equal(t, []string{"work", "work", "work", "done"}, out.Trace)
}

func TestGraph_MaxStepsGuard(t *testing.T) {
	t.Parallel()

	forever := func(context.Context, counterState) string { return "spin" }
	g, err := NewGraphBuilder[counterState]("spin").
		WithMaxSteps(5).
		AddNode("spin", inc("spin")).
		AddConditionalEdges("spin", forever, "spin", END).
		SetEntry("spin").
		Build()
	require.NoError(t, err)

	out, err := g.Run(context.Background(), counterState{})
	require.ErrorIs(t, err, ErrMaxSteps)
	assert.Equal(t, 5, out.N)
}

func TestGraph_NodeErrorStopsRun(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	g, err := NewGraphBuilder[counterState]("fail").
		AddNode("a", inc("a")).
		AddNode("b", func(context.Context, counterState) (counterState, error) { return counterState{}, boom }).
		AddNode("c", inc("c")).
		AddEdge("a", "b").
		AddEdge("b", "c").
		AddEdge("c", END).
		SetEntry("a").
		Build()
	require.NoError(t, err)

	out, err := g.Run(context.Background(), counterState{})
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "node b failed")
	assert.Equal(t, []string{"a"}, out.Trace)
}

func TestGraph_UndeclaredRouteTarget(t *testing.T) {
	t.Parallel()

	g, err := NewGraphBuilder[counterState]("bad-route").
		AddNode("a", inc("a")).
		AddConditionalEdges("a", func(context.Context, counterState) string { return "nowhere" }, END).
		SetEntry("a").
		Build()
	require.NoError(t, err)

	_, err = g.Run(context.Background(), counterState{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "undeclared target")
}

func TestGraph_CanceledContext(t *testing.T) {
	t.Parallel()

	g, err := NewGraphBuilder[counterState]("cancel").
		AddNode("a", inc("a")).
		AddEdge("a", END).
		SetEntry("a").
		Build()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out, err := g.Run(ctx, counterState{})
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, out.N)
}

func TestGraph_ConcurrentRunsDoNotShareState(t *testing.T) {
	t.Parallel()

	g, err := NewGraphBuilder[counterState]("shared").
		AddNode("a", inc("a")).
		AddEdge("a", END).
		SetEntry("a").
		Build()
	require.NoError(t, err)

	results := make(chan int, 20)
	for i := 0; i < 20; i++ {
		go func() {
			out, _ := g.Run(context.Background(), counterState{})
			results <- out.N
		}()
	}
	for i := 0; i < 20; i++ {
		assert.Equal(t, 1, <-results)
	}
}
