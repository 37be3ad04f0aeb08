// Package breaker 为远程检索服务（SV、Milvus、外部搜索、GraphRAG、入库服务）提供熔断。
//
// 连续失败达到阈值后熔断器打开，在 ResetTimeout 内直接返回 ErrOpen，
// 之后进入半开状态放行少量试探请求，成功则恢复，失败则重新打开。
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jhlu2019/GustoBot-sub000/types"
)

// State 熔断器状态
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config 熔断器配置
type Config struct {
	// Threshold 连续失败次数阈值
	Threshold int
	// ResetTimeout Open -> HalfOpen 的等待时间
	ResetTimeout time.Duration
	// HalfOpenMaxCalls 半开状态下同时放行的试探请求数
	HalfOpenMaxCalls int
	// OnStateChange 状态变更回调，在锁外同步调用
	OnStateChange func(name string, from, to State)
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Threshold:        5,
		ResetTimeout:     30 * time.Second,
		HalfOpenMaxCalls: 1,
	}
}

// ErrOpen 熔断中，调用未发出
var ErrOpen = types.NewError(types.ErrServiceUnavailable, "circuit breaker is open").WithRetryable(true)

// Breaker 单个远程依赖的熔断器，并发安全
type Breaker struct {
	name   string
	cfg    Config
	logger *zap.Logger
	now    func() time.Time

	mu          sync.Mutex
	state       State
	failures    int
	openedAt    time.Time
	halfOpenRun int
}

// New 创建熔断器；非法配置项回落到默认值
func New(name string, cfg Config, logger *zap.Logger) *Breaker {
	def := DefaultConfig()
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = def.ResetTimeout
	}
	if cfg.HalfOpenMaxCalls <= 0 {
		cfg.HalfOpenMaxCalls = def.HalfOpenMaxCalls
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Breaker{
		name:   name,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "breaker"), zap.String("name", name)),
		now:    time.Now,
	}
}

// Name 返回依赖名
func (b *Breaker) Name() string { return b.name }

// Call 执行 fn；熔断打开时直接返回 ErrOpen
func (b *Breaker) Call(ctx context.Context, fn func(context.Context) error) error {
	_, err := Do(ctx, b, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Do 带返回值的 Call
func Do[T any](ctx context.Context, b *Breaker, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := b.before(); err != nil {
		return zero, err
	}
	v, err := fn(ctx)
	b.after(countsAsFailure(ctx, err))
	if err != nil {
		return zero, err
	}
	return v, nil
}

// State 当前状态
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset 手动恢复为关闭状态
func (b *Breaker) Reset() {
	b.mu.Lock()
	from := b.state
	b.state = StateClosed
	b.failures = 0
	b.halfOpenRun = 0
	b.mu.Unlock()
	b.notify(from, StateClosed)
}

func (b *Breaker) before() error {
	b.mu.Lock()
	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cfg.ResetTimeout {
			b.mu.Unlock()
			return ErrOpen
		}
		b.state = StateHalfOpen
		b.halfOpenRun = 1
		b.mu.Unlock()
		b.logger.Info("breaker half-open, probing")
		b.notify(StateOpen, StateHalfOpen)
		return nil
	case StateHalfOpen:
		defer b.mu.Unlock()
		if b.halfOpenRun >= b.cfg.HalfOpenMaxCalls {
			return ErrOpen
		}
		b.halfOpenRun++
		return nil
	default:
		b.mu.Unlock()
		return nil
	}
}

func (b *Breaker) after(failed bool) {
	b.mu.Lock()
	from := b.state
	to := from
	if failed {
		b.failures++
		switch {
		case from == StateHalfOpen:
			to = StateOpen
		case from == StateClosed && b.failures >= b.cfg.Threshold:
			to = StateOpen
		}
		if to == StateOpen {
			b.openedAt = b.now()
			b.halfOpenRun = 0
		}
	} else {
		b.failures = 0
		if from == StateHalfOpen {
			to = StateClosed
			b.halfOpenRun = 0
		}
	}
	b.state = to
	failures := b.failures
	b.mu.Unlock()

	if to == from {
		return
	}
	if to == StateOpen {
		b.logger.Warn("breaker opened", zap.Int("consecutive_failures", failures), zap.Int("threshold", b.cfg.Threshold))
	} else {
		b.logger.Info("breaker closed")
	}
	b.notify(from, to)
}

func (b *Breaker) notify(from, to State) {
	if b.cfg.OnStateChange != nil && from != to {
		b.cfg.OnStateChange(b.name, from, to)
	}
}

// countsAsFailure 调用方取消与请求类错误不计入失败
func countsAsFailure(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return false
	}
	switch types.GetErrorCode(err) {
	case types.ErrInvalidRequest, types.ErrUnauthorized, types.ErrForbidden,
		types.ErrNotFound, types.ErrPayloadTooLarge, types.ErrUnsafeStatement:
		return false
	}
	return true
}
