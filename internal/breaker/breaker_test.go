package breaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jhlu2019/GustoBot-sub000/types"
)

var errUpstream = errors.New("connection refused")

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(cfg Config) (*Breaker, *fakeClock) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	b := New("sv", cfg, zap.NewNop())
	b.now = clk.now
	return b, clk
}

func fail(context.Context) error    { return errUpstream }
func succeed(context.Context) error { return nil }

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(Config{Threshold: 3, ResetTimeout: time.Minute})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, b.Call(ctx, fail), errUpstream)
	}
	assert.Equal(t, StateOpen, b.State())

	called := false
	err := b.Call(ctx, func(context.Context) error { called = true; return nil })
	assert.False(t, called)
	assert.True(t, types.IsErrorCode(err, types.ErrServiceUnavailable))
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b, _ := newTestBreaker(Config{Threshold: 2})
	ctx := context.Background()

	_ = b.Call(ctx, fail)
	require.NoError(t, b.Call(ctx, succeed))
	_ = b.Call(ctx, fail)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	var mu sync.Mutex
	var transitions []string
	b, clk := newTestBreaker(Config{
		Threshold:    1,
		ResetTimeout: 10 * time.Second,
		OnStateChange: func(name string, from, to State) {
			mu.Lock()
			defer mu.Unlock()
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})
	ctx := context.Background()

	_ = b.Call(ctx, fail)
	require.Equal(t, StateOpen, b.State())

	clk.advance(11 * time.Second)
	require.NoError(t, b.Call(ctx, succeed))
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, []string{"closed->open", "open->half_open", "half_open->closed"}, transitions)
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b, clk := newTestBreaker(Config{Threshold: 1, ResetTimeout: 10 * time.Second})
	ctx := context.Background()

	_ = b.Call(ctx, fail)
	clk.advance(11 * time.Second)
	assert.ErrorIs(t, b.Call(ctx, fail), errUpstream)
	assert.Equal(t, StateOpen, b.State())

	// 重新计时
	clk.advance(5 * time.Second)
	assert.ErrorIs(t, b.Call(ctx, succeed), ErrOpen)
}

func TestBreaker_ClientErrorsDoNotTrip(t *testing.T) {
	b, _ := newTestBreaker(Config{Threshold: 1})
	ctx := context.Background()

	err := b.Call(ctx, func(context.Context) error {
		return types.NewInvalidRequestError("bad query")
	})
	require.Error(t, err)
	assert.Equal(t, StateClosed, b.State())

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	_ = b.Call(cctx, func(ctx context.Context) error { return ctx.Err() })
	assert.Equal(t, StateClosed, b.State())
}

func TestDo_ReturnsValue(t *testing.T) {
	b, _ := newTestBreaker(DefaultConfig())
	v, err := Do(context.Background(), b, func(context.Context) (int, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestBreaker_Reset(t *testing.T) {
	b, _ := newTestBreaker(Config{Threshold: 1})
	_ = b.Call(context.Background(), fail)
	require.Equal(t, StateOpen, b.State())
	b.Reset()
	assert.Equal(t, StateClosed, b.State())
	assert.NoError(t, b.Call(context.Background(), succeed))
}
