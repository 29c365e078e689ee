package server

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freePort(t *testing.T) int {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := lis.Addr().(*net.TCPAddr).Port
	require.NoError(t, lis.Close())
	return port
}

func TestServerLifecycle(t *testing.T) {
	cfg := testServerConfig()
	cfg.Port = freePort(t)

	srv, err := New(&fakeMemory{}, cfg, nil, nil, testLogger())
	require.NoError(t, err)

	started := make(chan error, 1)
	go func() { started <- srv.Start() }()

	client := &http.Client{
		Transport: &http.Transport{DisableKeepAlives: true},
		Timeout:   time.Second,
	}
	defer client.CloseIdleConnections()

	url := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Port)
	require.Eventually(t, func() bool {
		resp, err := client.Get(url)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	// A second Start on a running server must refuse, not rebind.
	err = srv.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))

	select {
	case err := <-started:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop after shutdown")
	}
}

func TestServerShutdownWithoutStart(t *testing.T) {
	srv, err := New(&fakeMemory{}, testServerConfig(), nil, nil, testLogger())
	require.NoError(t, err)

	assert.NoError(t, srv.Shutdown(context.Background()))
}

func TestServerRestartAfterShutdown(t *testing.T) {
	cfg := testServerConfig()
	cfg.Port = freePort(t)

	srv, err := New(&fakeMemory{}, cfg, nil, nil, testLogger())
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		started := make(chan error, 1)
		go func() { started <- srv.Start() }()

		client := &http.Client{
			Transport: &http.Transport{DisableKeepAlives: true},
			Timeout:   time.Second,
		}

		url := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Port)
		require.Eventually(t, func() bool {
			resp, err := client.Get(url)
			if err != nil {
				return false
			}
			defer resp.Body.Close()
			_, _ = io.Copy(io.Discard, resp.Body)
			return resp.StatusCode == http.StatusOK
		}, 5*time.Second, 20*time.Millisecond)
		client.CloseIdleConnections()

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		require.NoError(t, srv.Shutdown(ctx))
		cancel()

		require.NoError(t, <-started)
	}
}
