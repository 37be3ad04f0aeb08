package workflow

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/jhlu2019/GustoBot-sub000/workflow"

// Graph is a compiled, immutable state graph. Safe for concurrent Run calls.
type Graph[S any] struct {
	name        string
	nodes       map[string]NodeFunc[S]
	edges       map[string]string
	conditional map[string]conditionalEdge[S]
	entry       string
	maxSteps    int
	logger      *zap.Logger
	tracer      trace.Tracer
}

// Name returns the graph name.
func (g *Graph[S]) Name() string { return g.name }

// Run executes the graph from its entry node until END.
// A node error aborts the run and is returned wrapped with the node name;
// the state returned alongside is the last successfully produced state.
func (g *Graph[S]) Run(ctx context.Context, state S) (S, error) {
	ctx, span := g.tracer.Start(ctx, "workflow.run",
		trace.WithAttributes(attribute.String("workflow.graph", g.name)))
	defer span.End()

	current := g.entry
	steps := 0
	for current != END {
		if err := ctx.Err(); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return state, err
		}
		if steps >= g.maxSteps {
			span.SetStatus(codes.Error, ErrMaxSteps.Error())
			g.logger.Warn("max steps exceeded", zap.Int("max_steps", g.maxSteps), zap.String("node", current))
			return state, fmt.Errorf("%w: %d", ErrMaxSteps, g.maxSteps)
		}
		steps++

		next, err := g.runNode(ctx, current, state)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return state, err
		}
		state = next

		to, err := g.nextNode(ctx, current, state)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return state, err
		}
		current = to
	}

	span.SetAttributes(attribute.Int("workflow.steps", steps))
	return state, nil
}

func (g *Graph[S]) runNode(ctx context.Context, name string, state S) (S, error) {
	fn := g.nodes[name]

	ctx, span := g.tracer.Start(ctx, "workflow.node",
		trace.WithAttributes(
			attribute.String("workflow.graph", g.name),
			attribute.String("workflow.node", name),
		))
	defer span.End()

	start := time.Now()
	next, err := fn(ctx, state)
	duration := time.Since(start)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		g.logger.Error("node execution failed",
			zap.String("node", name),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return state, fmt.Errorf("node %s failed: %w", name, err)
	}

	g.logger.Debug("node execution completed",
		zap.String("node", name),
		zap.Duration("duration", duration),
	)
	return next, nil
}

func (g *Graph[S]) nextNode(ctx context.Context, from string, state S) (string, error) {
	if to, ok := g.edges[from]; ok {
		return to, nil
	}
	ce := g.conditional[from]
	label := ce.route(ctx, state)
	if !ce.allows(label) {
		return "", fmt.Errorf("node %s routed to undeclared target %q", from, label)
	}
	return label, nil
}
