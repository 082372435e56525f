package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/catalog-monitor/internal/api"
	"github.com/sells-group/catalog-monitor/internal/store"
)

func TestResolvePort_FlagSet(t *testing.T) {
	assert.Equal(t, 9090, resolvePort(9090, 8080))
}

func TestResolvePort_FlagZero(t *testing.T) {
	assert.Equal(t, 8080, resolvePort(0, 8080))
}

func TestResolvePort_BothZero(t *testing.T) {
	assert.Equal(t, 0, resolvePort(0, 0))
}

func TestStartServer_GracefulShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	handler := api.NewRouter(nil, store.NewMemory(), api.Options{})

	// Find a free port.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	errCh := make(chan error, 1)
	go func() {
		errCh <- startServer(ctx, handler, port)
	}()

	url := fmt.Sprintf("http://127.0.0.1:%d/health", port)
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond, "server did not become ready in time")

	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestNewCron_SchedulesBothCycles(t *testing.T) {
	c := testConfig(t)
	env, err := buildEnv(store.NewMemory(), c)
	require.NoError(t, err)

	cr, err := newCron(context.Background(), env, "*/15 * * * *", "*/5 * * * *")
	require.NoError(t, err)
	assert.Len(t, cr.Entries(), 2)
}

func TestNewCron_InvalidSpec(t *testing.T) {
	c := testConfig(t)
	env, err := buildEnv(store.NewMemory(), c)
	require.NoError(t, err)

	_, err = newCron(context.Background(), env, "every now and then", "*/5 * * * *")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schedule scan cycle")
}

func TestRunJob(t *testing.T) {
	calls := 0
	run := func(context.Context) error {
		calls++
		return errors.New("boom")
	}

	runJob(context.Background(), "scan", run)
	assert.Equal(t, 1, calls, "errors are logged, not propagated")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	runJob(ctx, "scan", run)
	assert.Equal(t, 1, calls, "a cancelled context skips the run")
}
