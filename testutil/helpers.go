package testutil

import (
	"context"
	"testing"
	"time"
)

// DefaultTimeout 单个测试里 agent 图执行的上限；mock 模型不会阻塞，超时即说明死锁
const DefaultTimeout = 10 * time.Second

// TestContext 测试结束时自动取消
func TestContext(tb testing.TB) context.Context {
	tb.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
	tb.Cleanup(cancel)
	return ctx
}

// CancelledContext 用于验证各节点在入口处检查取消
func CancelledContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}
