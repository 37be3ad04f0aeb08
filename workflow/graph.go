package workflow

import (
	"context"
	"errors"
)

// END 终止节点标签。路由到 END 时执行结束。
const END = "__end__"

// ErrMaxSteps is returned when a run exceeds the configured step limit.
var ErrMaxSteps = errors.New("workflow: max steps exceeded")

// DefaultMaxSteps bounds a single run.
const DefaultMaxSteps = 50

// NodeFunc 节点函数：接收当前状态，返回更新后的状态。
type NodeFunc[S any] func(ctx context.Context, state S) (S, error)

// RouteFunc 条件边路由函数：根据状态返回下一节点标签。
type RouteFunc[S any] func(ctx context.Context, state S) string

type conditionalEdge[S any] struct {
	route   RouteFunc[S]
	targets []string
}

func (c conditionalEdge[S]) allows(label string) bool {
	for _, t := range c.targets {
		if t == label {
			return true
		}
	}
	return false
}
