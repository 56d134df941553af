package daemon

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warpdl/dlmgr/common"
	"github.com/warpdl/dlmgr/internal/agent/agenttest"
	"github.com/warpdl/dlmgr/internal/config"
	"github.com/warpdl/dlmgr/internal/netmon"
	"github.com/warpdl/dlmgr/internal/store"
)

func buildMem(t *testing.T) (*Components, *config.Config) {
	t.Helper()
	cfg := config.Default()
	cfg.DatabasePath = ":memory:"
	cfg.RPC.Listen = ""
	cfg.Queue.IdleEviction = time.Minute
	cfg.Store.MaxRows = 100
	cfg.Store.MaxAge = 48 * time.Hour
	c, err := Build(context.Background(), cfg, &Dependencies{
		Engine:  agenttest.New(),
		Schemes: []string{"http"},
		Network: netmon.NewStatic(netmon.Status{Type: common.NETWORK_ETHERNET}),
	}, "test", nil)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c, cfg
}

func TestMaintenanceTick(t *testing.T) {
	ctx := context.Background()
	c, cfg := buildMem(t)
	logRow(t, c.Store, 1, common.STATE_QUEUED, 0)
	logRow(t, c.Store, 2, common.STATE_COMPLETED, 10)
	_, err := c.Registry.Get(ctx, 2)
	require.NoError(t, err)

	m := newMaintenance(c, cfg, nil)
	m.now = func() time.Time { return time.Now().Add(time.Hour) }
	m.tick(ctx)

	assert.Nil(t, c.Registry.Lookup(2), "idle request evicted")
	assert.NotNil(t, c.Registry.Lookup(1), "queued row pulled in")

	err = testutil.GatherAndCompare(c.Metrics.Registry(), strings.NewReader(`
# HELP dlmgr_registry_resident Requests held in memory
# TYPE dlmgr_registry_resident gauge
dlmgr_registry_resident 1
`), "dlmgr_registry_resident")
	assert.NoError(t, err)
}

func TestMaintenanceRotate(t *testing.T) {
	ctx := context.Background()
	c, cfg := buildMem(t)
	old := time.Now().Add(-72 * time.Hour)
	for id := int32(1); id <= 3; id++ {
		require.NoError(t, c.Store.Insert(ctx, &store.Record{
			ID:        id,
			State:     common.STATE_COMPLETED,
			Package:   "org.example.app",
			CreatedAt: old,
		}))
	}
	// a resident request is never rotated away under its owner
	_, err := c.Registry.Get(ctx, 2)
	require.NoError(t, err)

	newMaintenance(c, cfg, nil).rotate(ctx)

	n, err := c.Store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	ok, err := c.Store.Exists(ctx, 2)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestBuildWiresSideChannel(t *testing.T) {
	cfg := config.Default()
	cfg.DatabasePath = ":memory:"
	cfg.RPC.Listen = "127.0.0.1:0"
	cfg.RPC.Secret = "s3cret"
	c, err := Build(context.Background(), cfg, nil, "test", nil)
	require.NoError(t, err)
	defer c.Close()

	assert.NotNil(t, c.Web)
	assert.NotNil(t, c.RPC)
	assert.NotNil(t, c.Api)
}
