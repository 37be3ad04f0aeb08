package workflow

import (
	"fmt"
	"sort"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

// GraphBuilder provides a fluent API for constructing state graphs.
// Errors are collected and reported by Build.
type GraphBuilder[S any] struct {
	name        string
	nodes       map[string]NodeFunc[S]
	order       []string
	edges       map[string]string
	conditional map[string]conditionalEdge[S]
	entry       string
	maxSteps    int
	logger      *zap.Logger
	errs        []error
}

// NewGraphBuilder creates a new builder with the given graph name.
func NewGraphBuilder[S any](name string) *GraphBuilder[S] {
	return &GraphBuilder[S]{
		name:        name,
		nodes:       make(map[string]NodeFunc[S]),
		edges:       make(map[string]string),
		conditional: make(map[string]conditionalEdge[S]),
		maxSteps:    DefaultMaxSteps,
		logger:      zap.NewNop(),
	}
}

// WithLogger sets a custom logger.
func (b *GraphBuilder[S]) WithLogger(logger *zap.Logger) *GraphBuilder[S] {
	if logger != nil {
		b.logger = logger
	}
	return b
}

// WithMaxSteps bounds the number of node executions per run.
func (b *GraphBuilder[S]) WithMaxSteps(n int) *GraphBuilder[S] {
	if n > 0 {
		b.maxSteps = n
	}
	return b
}

// AddNode registers a node.
func (b *GraphBuilder[S]) AddNode(name string, fn NodeFunc[S]) *GraphBuilder[S] {
	switch {
	case name == "" || name == END:
		b.errs = append(b.errs, fmt.Errorf("invalid node name %q", name))
	case fn == nil:
		b.errs = append(b.errs, fmt.Errorf("node %s has nil func", name))
	default:
		if _, dup := b.nodes[name]; dup {
			b.errs = append(b.errs, fmt.Errorf("duplicate node: %s", name))
			return b
		}
		b.nodes[name] = fn
		b.order = append(b.order, name)
	}
	return b
}

// AddEdge adds an unconditional edge.
func (b *GraphBuilder[S]) AddEdge(from, to string) *GraphBuilder[S] {
	if _, ok := b.conditional[from]; ok {
		b.errs = append(b.errs, fmt.Errorf("node %s already has conditional edges", from))
		return b
	}
	if _, ok := b.edges[from]; ok {
		b.errs = append(b.errs, fmt.Errorf("node %s already has an outgoing edge", from))
		return b
	}
	b.edges[from] = to
	return b
}

// AddConditionalEdges routes from a node to one of targets chosen by route at run time.
func (b *GraphBuilder[S]) AddConditionalEdges(from string, route RouteFunc[S], targets ...string) *GraphBuilder[S] {
	if _, ok := b.edges[from]; ok {
		b.errs = append(b.errs, fmt.Errorf("node %s already has an outgoing edge", from))
		return b
	}
	if route == nil || len(targets) == 0 {
		b.errs = append(b.errs, fmt.Errorf("conditional edges from %s need a route func and targets", from))
		return b
	}
	b.conditional[from] = conditionalEdge[S]{route: route, targets: targets}
	return b
}

// SetEntry sets the entry node.
func (b *GraphBuilder[S]) SetEntry(name string) *GraphBuilder[S] {
	b.entry = name
	return b
}

// Build validates the graph and compiles it.
func (b *GraphBuilder[S]) Build() (*Graph[S], error) {
	if err := b.validate(); err != nil {
		return nil, fmt.Errorf("graph %s validation failed: %w", b.name, err)
	}

	g := &Graph[S]{
		name:        b.name,
		nodes:       b.nodes,
		edges:       b.edges,
		conditional: b.conditional,
		entry:       b.entry,
		maxSteps:    b.maxSteps,
		logger:      b.logger.With(zap.String("component", "workflow"), zap.String("graph", b.name)),
		tracer:      otel.Tracer(instrumentationName),
	}

	b.logger.Debug("graph built",
		zap.String("name", b.name),
		zap.Int("nodes", len(b.nodes)),
		zap.String("entry", b.entry),
	)
	return g, nil
}

func (b *GraphBuilder[S]) validate() error {
	if len(b.errs) > 0 {
		return b.errs[0]
	}
	if len(b.nodes) == 0 {
		return fmt.Errorf("graph has no nodes")
	}
	if b.entry == "" {
		return fmt.Errorf("entry node not set")
	}
	if _, ok := b.nodes[b.entry]; !ok {
		return fmt.Errorf("entry node does not exist: %s", b.entry)
	}

	exists := func(n string) bool {
		if n == END {
			return true
		}
		_, ok := b.nodes[n]
		return ok
	}

	for from, to := range b.edges {
		if _, ok := b.nodes[from]; !ok {
			return fmt.Errorf("edge references non-existent source node: %s", from)
		}
		if !exists(to) {
			return fmt.Errorf("edge references non-existent target node: %s", to)
		}
	}
	for from, ce := range b.conditional {
		if _, ok := b.nodes[from]; !ok {
			return fmt.Errorf("conditional edge references non-existent source node: %s", from)
		}
		for _, to := range ce.targets {
			if !exists(to) {
				return fmt.Errorf("conditional edge from %s references non-existent target: %s", from, to)
			}
		}
	}

	// every node needs a way out
	for _, n := range b.order {
		_, plain := b.edges[n]
		_, cond := b.conditional[n]
		if !plain && !cond {
			return fmt.Errorf("node %s has no outgoing edge", n)
		}
	}

	return b.detectOrphanedNodes()
}

// detectOrphanedNodes detects nodes not reachable from the entry node.
func (b *GraphBuilder[S]) detectOrphanedNodes() error {
	reachable := make(map[string]bool)
	b.markReachable(b.entry, reachable)

	var orphaned []string
	for n := range b.nodes {
		if !reachable[n] {
			orphaned = append(orphaned, n)
		}
	}
	if len(orphaned) > 0 {
		sort.Strings(orphaned)
		return fmt.Errorf("orphaned nodes detected (not reachable from entry): %v", orphaned)
	}
	return nil
}

func (b *GraphBuilder[S]) markReachable(n string, reachable map[string]bool) {
	if n == END || reachable[n] {
		return
	}
	reachable[n] = true
	if to, ok := b.edges[n]; ok {
		b.markReachable(to, reachable)
	}
	if ce, ok := b.conditional[n]; ok {
		for _, to := range ce.targets {
			b.markReachable(to, reachable)
		}
	}
}
