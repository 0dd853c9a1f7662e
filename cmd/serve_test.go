//go:build !integration

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/pledge/internal/accountability"
	"github.com/sells-group/pledge/internal/api"
	"github.com/sells-group/pledge/internal/config"
	"github.com/sells-group/pledge/internal/monitoring"
	"github.com/sells-group/pledge/internal/store"
)

// getFreePort returns a free TCP port on localhost.
func getFreePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()
	return port
}

func TestRunServer_Lifecycle(t *testing.T) {
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "pledge.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))

	svc := accountability.New(st, accountability.DefaultPolicy())
	env := &appEnv{Store: st, Service: svc, Stats: monitoring.NewCollector(st)}
	defer env.Close()

	cfg = &config.Config{
		Sweep:      config.SweepConfig{IntervalSecs: 1, Concurrency: 2},
		Monitoring: config.MonitoringConfig{CheckIntervalSecs: 1, FailureRateThreshold: 0.5},
	}

	port := getFreePort(t)
	srv := &http.Server{
		Addr:    fmt.Sprintf("127.0.0.1:%d", port),
		Handler: api.NewRouter(svc, env.Stats, config.ServerConfig{AllowedOrigins: []string{"*"}}),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- runServer(ctx, srv, env) }()

	var ready bool
	for i := 0; i < 50; i++ {
		resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/health", port))
		if err == nil {
			resp.Body.Close()
			ready = true
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.True(t, ready, "server did not become ready in time")

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/v1/stats", port))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var snap monitoring.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.Equal(t, 0, snap.Total)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down in time")
	}
}

func TestServeCmd_PortResolution(t *testing.T) {
	cfg = &config.Config{Server: config.ServerConfig{Port: 9999}}
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, 0, servePort)
}
