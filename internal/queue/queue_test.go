package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warpdl/dlmgr/common"
	"github.com/warpdl/dlmgr/internal/agent"
	"github.com/warpdl/dlmgr/internal/agent/agenttest"
	"github.com/warpdl/dlmgr/internal/events"
	"github.com/warpdl/dlmgr/internal/netmon"
	"github.com/warpdl/dlmgr/internal/request"
	"github.com/warpdl/dlmgr/internal/session"
	"github.com/warpdl/dlmgr/internal/store"
)

type fakeLauncher struct {
	mu       sync.Mutex
	next     int32
	launched []int32
}

func (f *fakeLauncher) NextHandle() int32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	return f.next
}

func (f *fakeLauncher) Launch(_ context.Context, r *request.Request, _ int32) error {
	f.mu.Lock()
	f.launched = append(f.launched, r.ID)
	f.mu.Unlock()
	return nil
}

func (f *fakeLauncher) ids() []int32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int32(nil), f.launched...)
}

func newRegistry(t *testing.T) *request.Registry {
	t.Helper()
	log, err := store.Open(context.Background(), store.Options{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })
	return request.NewRegistry(log, 64, nil)
}

var base = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// enqueue creates a QUEUED request for pkg, queued at base+offset.
func enqueue(t *testing.T, reg *request.Registry, pkg string, nt common.NetworkType, offset time.Duration) *request.Request {
	t.Helper()
	r, err := reg.Create(context.Background(), session.NewGroup(pkg, session.Credential{}))
	require.NoError(t, err)
	r.Lock()
	r.URL = "http://example.com/" + pkg
	r.NetworkType = nt
	require.NoError(t, r.Start(base.Add(offset)))
	r.Unlock()
	return r
}

func stateOf(r *request.Request) common.State {
	r.Lock()
	defer r.Unlock()
	return r.State
}

func wifi() *netmon.Monitor {
	return netmon.NewStatic(netmon.Status{Type: common.NETWORK_WIFI})
}

func TestPassRespectsCeiling(t *testing.T) {
	reg := newRegistry(t)
	for i := 0; i < 5; i++ {
		enqueue(t, reg, "a", common.NETWORK_ALL, time.Duration(i)*time.Second)
	}
	l := &fakeLauncher{}
	s := New(reg, l, wifi(), 2, nil)

	assert.Equal(t, 2, s.Pass(context.Background()))
	assert.Equal(t, 0, s.Pass(context.Background()))
	s.Wait()
	assert.Len(t, l.ids(), 2)

	active := 0
	for _, r := range reg.Snapshot() {
		if stateOf(r).IsActive() {
			active++
		}
	}
	assert.Equal(t, 2, active)
}

func TestPassOldestFirst(t *testing.T) {
	reg := newRegistry(t)
	late := enqueue(t, reg, "a", common.NETWORK_ALL, 3*time.Second)
	early := enqueue(t, reg, "a", common.NETWORK_ALL, time.Second)
	l := &fakeLauncher{}
	s := New(reg, l, wifi(), 1, nil)

	require.Equal(t, 1, s.Pass(context.Background()))
	s.Wait()
	assert.Equal(t, []int32{early.ID}, l.ids())
	assert.Equal(t, common.STATE_QUEUED, stateOf(late))
}

func TestPassFairness(t *testing.T) {
	reg := newRegistry(t)
	// The busy package queued first and has many requests.
	for i := 0; i < 3; i++ {
		enqueue(t, reg, "busy", common.NETWORK_ALL, time.Duration(i)*time.Second)
	}
	var lone []int32
	for i, pkg := range []string{"b", "c", "d"} {
		r := enqueue(t, reg, pkg, common.NETWORK_ALL, time.Minute+time.Duration(i)*time.Second)
		lone = append(lone, r.ID)
	}
	l := &fakeLauncher{}
	s := New(reg, l, wifi(), 3, nil)

	require.Equal(t, 3, s.Pass(context.Background()))
	s.Wait()
	assert.ElementsMatch(t, lone, l.ids())
}

func TestPassStartsEveryLonePackage(t *testing.T) {
	reg := newRegistry(t)
	var ids []int32
	for i, pkg := range []string{"w", "x", "y", "z"} {
		ids = append(ids, enqueue(t, reg, pkg, common.NETWORK_ALL, -time.Duration(i)*time.Second).ID)
	}
	l := &fakeLauncher{}
	s := New(reg, l, wifi(), 4, nil)
	require.Equal(t, 4, s.Pass(context.Background()))
	s.Wait()
	assert.ElementsMatch(t, ids, l.ids())
}

func TestPassNetworkConstraint(t *testing.T) {
	reg := newRegistry(t)
	data := enqueue(t, reg, "a", common.NETWORK_DATA, 0)
	wifiOnly := enqueue(t, reg, "b", common.NETWORK_WIFI, time.Second)
	nm := wifi()
	l := &fakeLauncher{}
	s := New(reg, l, nm, 5, nil)

	require.Equal(t, 1, s.Pass(context.Background()))
	s.Wait()
	assert.Equal(t, []int32{wifiOnly.ID}, l.ids())
	assert.Equal(t, common.STATE_QUEUED, stateOf(data))

	nm.Set(netmon.Status{Type: common.NETWORK_OFF})
	assert.Equal(t, 0, s.Pass(context.Background()))

	nm.Set(netmon.Status{Type: common.NETWORK_DATA})
	assert.Equal(t, 1, s.Pass(context.Background()))
	s.Wait()
	assert.Equal(t, []int32{wifiOnly.ID, data.ID}, l.ids())
}

func TestPassPrefersDirect(t *testing.T) {
	reg := newRegistry(t)
	enqueue(t, reg, "a", common.NETWORK_ALL, 0)
	direct := enqueue(t, reg, "a", common.NETWORK_WIFI_DIRECT, time.Second)
	l := &fakeLauncher{}
	s := New(reg, l, netmon.NewStatic(netmon.Status{Type: common.NETWORK_WIFI, Direct: true}), 1, nil)

	require.Equal(t, 1, s.Pass(context.Background()))
	s.Wait()
	assert.Equal(t, []int32{direct.ID}, l.ids())
}

func TestPassSkipsPausedAndDestroyed(t *testing.T) {
	reg := newRegistry(t)
	a := enqueue(t, reg, "a", common.NETWORK_ALL, 0)
	b := enqueue(t, reg, "b", common.NETWORK_ALL, 0)
	a.Lock()
	_, err := a.Pause(base)
	require.NoError(t, err)
	a.Unlock()
	b.Lock()
	b.Destroy(base)
	b.Unlock()

	s := New(reg, &fakeLauncher{}, wifi(), 5, nil)
	assert.Equal(t, 0, s.Pass(context.Background()))
}

func TestEngineBusyKeepsRequestQueued(t *testing.T) {
	reg := newRegistry(t)
	nm := wifi()
	eng := agenttest.New()
	eng.Max = 1
	b := agent.NewBridge(reg, events.NewHub(0, nil, nil, nil), nm, eng, nil, nil, nil)
	s := New(reg, b, nm, 5, nil)

	first := enqueue(t, reg, "a", common.NETWORK_ALL, 0)
	second := enqueue(t, reg, "a", common.NETWORK_ALL, time.Second)
	require.Equal(t, 2, s.Pass(context.Background()))
	s.Wait()

	assert.ElementsMatch(t,
		[]common.State{common.STATE_CONNECTING, common.STATE_QUEUED},
		[]common.State{stateOf(first), stateOf(second)})
	assert.Len(t, eng.Live(), 1)

	// The queued one is admitted again on the next pass and refused again.
	require.Equal(t, 1, s.Pass(context.Background()))
	s.Wait()
	assert.Len(t, eng.Live(), 1)
}

func TestRunWakes(t *testing.T) {
	reg := newRegistry(t)
	nm := wifi()
	l := &fakeLauncher{}
	s := New(reg, l, nm, 5, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	r := enqueue(t, reg, "a", common.NETWORK_ALL, 0)
	s.Wake()
	require.Eventually(t, func() bool { return len(l.ids()) == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, common.STATE_CONNECTING, stateOf(r))

	// A network change wakes the scheduler too.
	data := enqueue(t, reg, "b", common.NETWORK_DATA, 0)
	nm.Set(netmon.Status{Type: common.NETWORK_DATA})
	require.Eventually(t, func() bool { return stateOf(data) == common.STATE_CONNECTING }, 5*time.Second, 10*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}
