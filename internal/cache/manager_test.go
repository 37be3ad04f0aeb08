package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jhlu2019/GustoBot-sub000/config"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *Manager) {
	t.Helper()
	mr := miniredis.RunT(t)

	manager, err := NewManager(Config{Addr: mr.Addr()}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close() })

	return mr, manager
}

func TestNewManager(t *testing.T) {
	_, manager := setupTestRedis(t)

	assert.NotNil(t, manager.Client())
	assert.NotNil(t, manager.logger)
}

func TestNewManager_Unreachable(t *testing.T) {
	_, err := NewManager(Config{Addr: "127.0.0.1:1"}, zap.NewNop())
	assert.Error(t, err)
}

func TestFromRedisConfig(t *testing.T) {
	c := FromRedisConfig(config.RedisConfig{Addr: "redis:6379", DB: 2, PoolSize: 50})
	assert.Equal(t, "redis:6379", c.Addr)
	assert.Equal(t, 2, c.DB)
	assert.Equal(t, 50, c.PoolSize)
	assert.Equal(t, 2, c.MinIdleConns)

	c = FromRedisConfig(config.RedisConfig{})
	assert.Equal(t, "localhost:6379", c.Addr)
}

func TestManager_Closed(t *testing.T) {
	_, manager := setupTestRedis(t)
	require.NoError(t, manager.Close())
	require.NoError(t, manager.Close())

	ctx := context.Background()
	assert.ErrorIs(t, manager.Ping(ctx), ErrClosed)
	_, err := manager.GetStats(ctx)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestManager_HealthCheckLoopStopsOnClose(t *testing.T) {
	mr := miniredis.RunT(t)
	manager, err := NewManager(Config{Addr: mr.Addr(), HealthCheckInterval: 10 * time.Millisecond}, zap.NewNop())
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)
	require.NoError(t, manager.Close())
	assert.ErrorIs(t, manager.Ping(context.Background()), ErrClosed)
}

func TestManager_GetStats(t *testing.T) {
	mr, manager := setupTestRedis(t)
	ctx := context.Background()
	require.NoError(t, mr.Set("gustobot:history:s1", "x"))
	require.NoError(t, mr.Set("gustobot:history:s2", "y"))

	stats, err := manager.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Keys)
	assert.GreaterOrEqual(t, stats.Connections, 1)
}

func TestParseInfo(t *testing.T) {
	info := "# Stats\r\nkeyspace_hits:12\r\nkeyspace_misses:3\r\n# Memory\r\nused_memory:1024\r\n# Clients\r\nconnected_clients:7\r\n"
	s := parseInfo(info)
	assert.Equal(t, uint64(12), s.Hits)
	assert.Equal(t, uint64(3), s.Misses)
	assert.Equal(t, int64(1024), s.UsedMemory)
	assert.Equal(t, 7, s.Connections)
}
