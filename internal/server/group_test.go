package server

import (
	"context"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jhlu2019/GustoBot-sub000/config"
)

func textHandler(body string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, body)
	})
}

func local() Config {
	c := MetricsConfig(0)
	c.Addr = "127.0.0.1:0"
	return c
}

func get(t *testing.T, addr string) string {
	t.Helper()
	resp, err := http.Get("http://" + addr)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

func TestAPIConfig(t *testing.T) {
	c := APIConfig(config.ServerConfig{HTTPPort: 9000, WriteTimeout: time.Minute})
	assert.Equal(t, ":9000", c.Addr)
	assert.Equal(t, time.Minute, c.WriteTimeout)
	assert.Equal(t, 30*time.Second, c.ReadTimeout)

	assert.Equal(t, ":8000", APIConfig(config.ServerConfig{}).Addr)
	assert.Equal(t, ":9090", MetricsConfig(9090).Addr)
}

func TestGroup_ServesAllEndpoints(t *testing.T) {
	g := NewGroup(zap.NewNop())
	g.Add("api", textHandler("api"), local())
	g.Add("metrics", textHandler("metrics"), local())
	require.False(t, g.Running())
	require.NoError(t, g.Start())
	assert.True(t, g.Running())

	assert.Equal(t, "api", get(t, g.Addr("api")))
	assert.Equal(t, "metrics", get(t, g.Addr("metrics")))
	assert.Empty(t, g.Addr("admin"))

	require.NoError(t, g.Shutdown(context.Background()))
	require.NoError(t, g.Shutdown(context.Background()))
	assert.False(t, g.Running())
	assert.Error(t, g.Start(), "closed group cannot restart")
}

func TestGroup_DoubleStart(t *testing.T) {
	g := NewGroup(nil)
	g.Add("api", textHandler("ok"), local())
	require.NoError(t, g.Start())
	defer g.Shutdown(context.Background())
	assert.Error(t, g.Start())
}

func TestGroup_StartReleasesPortsOnFailure(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	free, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	freeAddr := free.Addr().String()
	require.NoError(t, free.Close())

	g := NewGroup(nil)
	first := local()
	first.Addr = freeAddr
	second := local()
	second.Addr = busy.Addr().String()
	g.Add("api", textHandler("ok"), first)
	g.Add("metrics", textHandler("ok"), second)

	require.ErrorContains(t, g.Start(), "listen metrics")
	// 第一个端口已释放，可再次绑定
	ln, err := net.Listen("tcp", freeAddr)
	require.NoError(t, err)
	_ = ln.Close()
}

func TestGroup_WaitReturnsOnContext(t *testing.T) {
	g := NewGroup(zap.NewNop())
	g.Add("api", textHandler("ok"), local())
	require.NoError(t, g.Start())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- g.Wait(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Wait did not return")
	}
	require.NoError(t, g.Shutdown(context.Background()))
}

func TestGroup_WaitBeforeStart(t *testing.T) {
	assert.Error(t, NewGroup(nil).Wait(context.Background()))
}
