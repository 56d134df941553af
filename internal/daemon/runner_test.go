package daemon

import (
	"context"
	"errors"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warpdl/dlmgr/common"
	"github.com/warpdl/dlmgr/internal/agent/agenttest"
	"github.com/warpdl/dlmgr/internal/config"
	"github.com/warpdl/dlmgr/internal/netmon"
	"github.com/warpdl/dlmgr/internal/store"
	"github.com/warpdl/dlmgr/pkg/dlclient"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("runner tests use a unix socket")
	}
	dir := t.TempDir()
	cfg := config.Default()
	cfg.SocketPath = filepath.Join(dir, "d.sock")
	cfg.DatabasePath = filepath.Join(dir, "requests.db")
	cfg.DownloadDir = dir
	cfg.RPC.Listen = ""
	cfg.Queue.Tick = time.Hour
	return cfg
}

type harness struct {
	*Runner
	cfg  *config.Config
	eng  *agenttest.Engine
	done chan error
}

// start runs a daemon on cfg with a fake engine and a wired network.
func start(t *testing.T, cfg *config.Config) *harness {
	t.Helper()
	eng := agenttest.New()
	r := New(cfg, &Options{Version: "test", ShutdownTimeout: 5 * time.Second}, &Dependencies{
		Engine:  eng,
		Schemes: []string{"http", "https"},
		Network: netmon.NewStatic(netmon.Status{Type: common.NETWORK_ETHERNET}),
	}, nil)
	h := &harness{Runner: r, cfg: cfg, eng: eng, done: make(chan error, 1)}
	go func() { h.done <- r.Start(context.Background()) }()
	select {
	case <-r.Ready():
	case err := <-h.done:
		t.Fatalf("Start() = %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not become ready")
	}
	t.Cleanup(func() {
		if r.IsRunning() {
			_ = r.Shutdown()
		}
	})
	return h
}

// stop shuts the daemon down and returns what Start returned.
func (h *harness) stop(t *testing.T) error {
	t.Helper()
	require.NoError(t, h.Shutdown())
	select {
	case err := <-h.done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return")
		return nil
	}
}

func (h *harness) client(t *testing.T, pkg string) *dlclient.Client {
	t.Helper()
	c, err := dlclient.NewClient(dlclient.Options{URI: "unix://" + h.cfg.SocketPath, Package: pkg})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestRunnerLifecycle(t *testing.T) {
	h := start(t, testConfig(t))
	assert.True(t, h.IsRunning())
	assert.NotNil(t, h.Components())

	err := h.Start(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	err = h.stop(t)
	assert.True(t, errors.Is(err, context.Canceled), "Start() = %v", err)
	assert.False(t, h.IsRunning())
	assert.Nil(t, h.Components())
	assert.ErrorIs(t, h.Shutdown(), ErrNotRunning)
}

func TestShutdownNotRunning(t *testing.T) {
	r := New(config.Default(), nil, nil, nil)
	assert.ErrorIs(t, r.Shutdown(), ErrNotRunning)
	assert.False(t, r.IsRunning())
}

func TestStartFailsOnBadDatabase(t *testing.T) {
	cfg := testConfig(t)
	cfg.DatabasePath = filepath.Join(cfg.DownloadDir, "missing", "dir", "requests.db")
	r := New(cfg, nil, &Dependencies{Engine: agenttest.New()}, nil)
	require.Error(t, r.Start(context.Background()))
	assert.False(t, r.IsRunning())
}

func TestShutdownFuncRuns(t *testing.T) {
	cfg := testConfig(t)
	called := make(chan struct{}, 1)
	r := New(cfg, nil, &Dependencies{
		Engine:       agenttest.New(),
		Schemes:      []string{"http"},
		Network:      netmon.NewStatic(netmon.Status{Type: common.NETWORK_ETHERNET}),
		ShutdownFunc: func() error { called <- struct{}{}; return errors.New("ignored") },
	}, nil)
	done := make(chan error, 1)
	go func() { done <- r.Start(context.Background()) }()
	<-r.Ready()

	require.NoError(t, r.Shutdown())
	<-done
	select {
	case <-called:
	default:
		t.Fatal("shutdown func was not called")
	}
}

// A queued request survives a restart with its state, url and owner.
func TestRequestSurvivesRestart(t *testing.T) {
	cfg := testConfig(t)
	h := start(t, cfg)
	c := h.client(t, "org.example.app")

	id, err := c.Create()
	require.NoError(t, err)
	require.NoError(t, c.SetURL(id, "https://example.com/a.iso"))
	// The wired network is ethernet, so a wifi-only request stays queued.
	require.NoError(t, c.SetNetworkType(id, common.NETWORK_WIFI))
	require.NoError(t, c.Start(id))
	st, err := c.State(id)
	require.NoError(t, err)
	require.Equal(t, common.STATE_QUEUED, st)
	c.Close()
	h.stop(t)

	h = start(t, cfg)
	c = h.client(t, "org.example.app")
	st, err = c.State(id)
	require.NoError(t, err)
	assert.Equal(t, common.STATE_QUEUED, st)
	u, err := c.URL(id)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/a.iso", u)

	other := h.client(t, "org.example.other")
	_, err = other.State(id)
	assert.Equal(t, common.ERROR_INVALID_PARAMETER, dlclient.Code(err))
}

// Running transfers are handed back to the queue on shutdown and resumed
// by the next daemon.
func TestShutdownRequeuesRunningRequests(t *testing.T) {
	cfg := testConfig(t)
	h := start(t, cfg)
	c := h.client(t, "org.example.app")

	id, err := c.Create()
	require.NoError(t, err)
	require.NoError(t, c.SetURL(id, "https://example.com/a.iso"))
	require.NoError(t, c.SetAutoDownload(id, true))
	require.NoError(t, c.Start(id))

	var handle int32
	select {
	case handle = <-h.eng.Started():
	case <-time.After(5 * time.Second):
		t.Fatal("request was not admitted")
	}
	c.Close()
	h.stop(t)
	assert.Contains(t, h.eng.Canceled(), handle)

	log, err := store.Open(context.Background(), store.Options{Path: cfg.DatabasePath})
	require.NoError(t, err)
	rec, err := log.Load(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, common.STATE_QUEUED, rec.State)
	require.NoError(t, log.Close())

	h = start(t, cfg)
	select {
	case <-h.eng.Started():
	case <-time.After(5 * time.Second):
		t.Fatal("recovered request was not admitted")
	}
}
