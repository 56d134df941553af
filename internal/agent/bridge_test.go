package agent_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
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

type recorder struct {
	mu  sync.Mutex
	evs []session.Event
}

func (p *recorder) PublishEvent(_ context.Context, _ string, ev session.Event) error {
	p.mu.Lock()
	p.evs = append(p.evs, ev)
	p.mu.Unlock()
	return nil
}

func (p *recorder) states() []common.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]common.State, 0, len(p.evs))
	for _, ev := range p.evs {
		out = append(out, ev.State)
	}
	return out
}

type fixture struct {
	log   *store.Store
	reg   *request.Registry
	eng   *agenttest.Engine
	net   *netmon.Monitor
	fs    afero.Fs
	pub   *recorder
	b     *agent.Bridge
	wakes atomic.Int32
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log, err := store.Open(context.Background(), store.Options{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })
	f := &fixture{
		log: log,
		reg: request.NewRegistry(log, 16, nil),
		eng: agenttest.New(),
		net: netmon.NewStatic(netmon.Status{Type: common.NETWORK_WIFI, Fingerprint: "a"}),
		fs:  afero.NewMemMapFs(),
		pub: &recorder{},
	}
	hub := events.NewHub(0, f.pub, nil, nil)
	policy := &agent.Policy{Fs: f.fs, Mode: 0o640}
	f.b = agent.NewBridge(f.reg, hub, f.net, f.eng, policy, nil, nil)
	f.b.Wake = func() { f.wakes.Add(1) }
	return f
}

// admitted creates a request and claims it the way the scheduler does.
func (f *fixture) admitted(t *testing.T) (*request.Request, int32) {
	t.Helper()
	r, err := f.reg.Create(context.Background(), nil)
	require.NoError(t, err)
	h := f.b.NextHandle()
	r.Lock()
	r.URL = "http://example.com/file.bin"
	r.StateCallback = true
	require.NoError(t, r.Start(time.Now()))
	require.True(t, r.Admit(h, time.Now()))
	r.Unlock()
	return r, h
}

func state(r *request.Request) (common.State, common.ErrorCode, int32) {
	r.Lock()
	defer r.Unlock()
	return r.State, r.Err, r.Handle
}

func TestLaunchCompletes(t *testing.T) {
	f := newFixture(t)
	r, h := f.admitted(t)
	require.NoError(t, f.b.Launch(context.Background(), r, h))
	assert.Equal(t, []int32{h}, f.eng.Live())

	f.eng.Info(h, agent.Info{Total: 10, MimeType: "application/octet-stream", HTTPStatus: 200})
	st, _, _ := state(r)
	assert.Equal(t, common.STATE_DOWNLOADING, st)

	f.eng.Progress(h, 4)
	require.NoError(t, afero.WriteFile(f.fs, "/tmp/f", []byte("0123456789"), 0o600))
	f.eng.Finish(h, agent.Outcome{SavedPath: "/tmp/f", ContentName: "f", Total: 10, HTTPStatus: 200})

	st, code, handle := state(r)
	assert.Equal(t, common.STATE_COMPLETED, st)
	assert.Equal(t, common.ERROR_NONE, code)
	assert.Equal(t, request.NoHandle, handle)
	assert.Equal(t, []common.State{common.STATE_CONNECTING, common.STATE_DOWNLOADING, common.STATE_COMPLETED}, f.pub.states())

	info, err := f.fs.Stat("/tmp/f")
	require.NoError(t, err)
	assert.Equal(t, "-rw-r-----", info.Mode().String())

	rec, err := f.log.Load(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, common.STATE_COMPLETED, rec.State)
	assert.Equal(t, "/tmp/f", rec.Result.SavedPath)
	assert.Equal(t, uint64(10), rec.Result.Received)
	assert.Equal(t, 1, rec.StartCount)
	assert.Positive(t, f.wakes.Load())
}

func TestLaunchEngineBusyRequeues(t *testing.T) {
	f := newFixture(t)
	f.eng.Max = 1
	r1, h1 := f.admitted(t)
	require.NoError(t, f.b.Launch(context.Background(), r1, h1))

	r2, h2 := f.admitted(t)
	err := f.b.Launch(context.Background(), r2, h2)
	assert.ErrorIs(t, err, agent.ErrEngineBusy)
	st, code, handle := state(r2)
	assert.Equal(t, common.STATE_QUEUED, st)
	assert.Equal(t, common.ERROR_NONE, code)
	assert.Equal(t, request.NoHandle, handle)
}

func TestLaunchHardErrorFails(t *testing.T) {
	f := newFixture(t)
	f.eng.Err = common.Errorf(common.ERROR_UNHANDLED_HTTP_CODE, "404")
	r, h := f.admitted(t)
	require.NoError(t, f.b.Launch(context.Background(), r, h))
	st, code, _ := state(r)
	assert.Equal(t, common.STATE_FAILED, st)
	assert.Equal(t, common.ERROR_UNHANDLED_HTTP_CODE, code)
	assert.Equal(t, []common.State{common.STATE_FAILED}, f.pub.states())
}

func TestLaunchAfterCancelIsDiscarded(t *testing.T) {
	f := newFixture(t)
	r, h := f.admitted(t)
	f.eng.Hook = func(int32, agent.Job) {
		r.Lock()
		r.Cancel(time.Now())
		r.Unlock()
	}
	require.NoError(t, f.b.Launch(context.Background(), r, h))
	assert.Empty(t, f.eng.Live())
	assert.Equal(t, []int32{h}, f.eng.Canceled())
	st, _, _ := state(r)
	assert.Equal(t, common.STATE_CANCELED, st)
}

func TestPauseRequestedDuringConnect(t *testing.T) {
	f := newFixture(t)
	r, h := f.admitted(t)
	f.eng.Hook = func(int32, agent.Job) {
		r.Lock()
		r.Pause(time.Now())
		r.Unlock()
	}
	require.NoError(t, f.b.Launch(context.Background(), r, h))
	assert.Equal(t, []int32{h}, f.eng.Suspended())

	f.eng.Paused(h)
	st, _, handle := state(r)
	assert.Equal(t, common.STATE_PAUSED, st)
	assert.Equal(t, request.NoHandle, handle)
}

func TestStaleCallbackCancelsEngine(t *testing.T) {
	f := newFixture(t)
	r, h := f.admitted(t)
	require.NoError(t, f.b.Launch(context.Background(), r, h))

	r.Lock()
	got, err := r.Cancel(time.Now())
	r.Unlock()
	require.NoError(t, err)
	assert.Equal(t, h, got)

	f.eng.Progress(h, 5)
	assert.Equal(t, []int32{h}, f.eng.Canceled())
	st, _, _ := state(r)
	assert.Equal(t, common.STATE_CANCELED, st)

	// Unknown ids are treated the same way.
	f.b.OnFinished(999, 77, agent.Outcome{})
	assert.Equal(t, uint64(0), r.Result.Received)
}

func TestResumeAfterPause(t *testing.T) {
	f := newFixture(t)
	r, h := f.admitted(t)
	require.NoError(t, f.b.Launch(context.Background(), r, h))
	f.eng.Info(h, agent.Info{Total: 100, TempPath: "/tmp/f.part", ETag: `"v1"`})
	f.eng.Progress(h, 40)
	f.eng.Paused(h)

	h2 := f.b.NextHandle()
	r.Lock()
	require.NoError(t, r.Start(time.Now()))
	require.True(t, r.Admit(h2, time.Now()))
	r.Unlock()
	require.NoError(t, f.b.Launch(context.Background(), r, h2))

	tr := f.eng.Transfer(h2)
	require.NotNil(t, tr)
	assert.True(t, tr.Resume)
	assert.Equal(t, uint64(40), tr.Job.Offset)
	assert.Equal(t, "/tmp/f.part", tr.Job.TempPath)
	assert.Equal(t, `"v1"`, tr.Job.ETag)
}

func TestNetworkChangeRequeues(t *testing.T) {
	f := newFixture(t)
	r, h := f.admitted(t)
	require.NoError(t, f.b.Launch(context.Background(), r, h))

	time.Sleep(time.Millisecond)
	f.net.Set(netmon.Status{Type: common.NETWORK_ETHERNET, Fingerprint: "b"})
	f.eng.Finish(h, agent.Outcome{Err: common.Errorf(common.ERROR_CONNECTION_FAILED, "reset")})

	st, code, _ := state(r)
	assert.Equal(t, common.STATE_QUEUED, st)
	assert.Equal(t, common.ERROR_NONE, code)
}

func TestNetworkChangeWhileOffline(t *testing.T) {
	f := newFixture(t)
	r, h := f.admitted(t)
	require.NoError(t, f.b.Launch(context.Background(), r, h))

	time.Sleep(time.Millisecond)
	f.net.Set(netmon.Status{Type: common.NETWORK_OFF})
	f.eng.Finish(h, agent.Outcome{Err: errors.New("read: connection reset")})

	st, code, _ := state(r)
	assert.Equal(t, common.STATE_FAILED, st)
	assert.Equal(t, common.ERROR_NETWORK_CHANGED, code)
}

func TestCompletionPolicyFailure(t *testing.T) {
	f := newFixture(t)
	r, h := f.admitted(t)
	require.NoError(t, f.b.Launch(context.Background(), r, h))
	f.eng.Finish(h, agent.Outcome{SavedPath: "/missing"})
	st, code, _ := state(r)
	assert.Equal(t, common.STATE_FAILED, st)
	assert.Equal(t, common.ERROR_IO_ERROR, code)
}
