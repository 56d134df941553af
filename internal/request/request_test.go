package request

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warpdl/dlmgr/common"
	"github.com/warpdl/dlmgr/internal/session"
	"github.com/warpdl/dlmgr/internal/store"
)

func newLog(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(context.Background(), store.Options{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

type failingLog struct{ *store.Store }

func (failingLog) Insert(context.Context, *store.Record) error {
	return store.ErrNoData
}

func TestStartGuards(t *testing.T) {
	now := time.Now()
	tests := []struct {
		from common.State
		want error
	}{
		{common.STATE_READY, nil},
		{common.STATE_PAUSED, nil},
		{common.STATE_FAILED, nil},
		{common.STATE_CANCELED, nil},
		{common.STATE_QUEUED, ErrInvalidState},
		{common.STATE_CONNECTING, ErrInvalidState},
		{common.STATE_DOWNLOADING, ErrInvalidState},
		{common.STATE_COMPLETED, ErrAlreadyCompleted},
	}
	for _, tt := range tests {
		t.Run(tt.from.String(), func(t *testing.T) {
			r := New(1, "p", now)
			r.URL = "http://x/y"
			r.State = tt.from
			err := r.Start(now)
			if tt.want == nil {
				require.NoError(t, err)
				assert.Equal(t, common.STATE_QUEUED, r.State)
				return
			}
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, tt.from, r.State)
		})
	}
}

func TestStartNeedsURL(t *testing.T) {
	r := New(1, "p", time.Now())
	err := r.Start(time.Now())
	assert.Equal(t, common.ERROR_INVALID_URL, common.CodeOf(err, common.ERROR_NONE))
	assert.Equal(t, common.STATE_READY, r.State)
}

func TestPauseAndCancel(t *testing.T) {
	now := time.Now()
	r := New(1, "p", now)
	r.URL = "u"

	_, err := r.Pause(now)
	assert.ErrorIs(t, err, ErrInvalidState, "READY cannot pause")

	require.NoError(t, r.Start(now))
	h, err := r.Pause(now)
	require.NoError(t, err)
	assert.Equal(t, NoHandle, h)
	assert.Equal(t, common.STATE_PAUSED, r.State)

	require.NoError(t, r.Start(now))
	require.True(t, r.Admit(7, now))
	h, err = r.Pause(now)
	require.NoError(t, err)
	assert.Equal(t, int32(7), h)
	assert.Equal(t, common.STATE_PAUSE_REQUESTED, r.State)

	h, err = r.Cancel(now)
	require.NoError(t, err)
	assert.Equal(t, int32(7), h)
	assert.Equal(t, NoHandle, r.Handle)
	assert.Equal(t, common.STATE_CANCELED, r.State)

	_, err = r.Cancel(now)
	assert.ErrorIs(t, err, ErrInvalidState, "second cancel")
	assert.Equal(t, common.STATE_CANCELED, r.State)
}

func TestHandleOnlyWhileActive(t *testing.T) {
	now := time.Now()
	r := New(1, "p", now)
	r.URL = "u"
	require.NoError(t, r.Start(now))
	assert.False(t, r.Requeue(3))
	require.True(t, r.Admit(3, now))
	assert.Equal(t, 1, r.StartCount)

	r.Info(100, "text/plain", "f.txt", "", "/tmp/f.part", 200)
	assert.Equal(t, common.STATE_DOWNLOADING, r.State)
	r.Progress(500)
	assert.Equal(t, uint64(100), r.Result.Received, "clamped to total")

	assert.False(t, r.Fail(4, common.ERROR_IO_ERROR, now), "stale handle")
	require.True(t, r.Fail(3, common.ERROR_NETWORK_CHANGED, now))
	assert.Equal(t, NoHandle, r.Handle)

	require.True(t, r.Retry(now))
	assert.Equal(t, common.STATE_QUEUED, r.State)
}

func TestDestroyThenFree(t *testing.T) {
	ctx := context.Background()
	log := newLog(t)
	reg := NewRegistry(log, 4, nil)
	g := session.NewGroup("org.a", session.Credential{})

	r, err := reg.Create(ctx, g)
	require.NoError(t, err)
	assert.Equal(t, []int32{r.ID}, g.IDs())

	assert.ErrorIs(t, reg.Free(ctx, r), ErrInvalidState)
	r.Lock()
	h := r.Destroy(time.Now())
	assert.Equal(t, NoHandle, h)
	assert.Equal(t, common.STATE_CANCELED, r.State)
	require.NoError(t, reg.Persist(ctx, r))
	_, err = r.Pause(time.Now())
	assert.ErrorIs(t, err, ErrInvalidState)
	r.Unlock()

	// Still answerable until FREE.
	got, err := reg.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Same(t, r, got)

	require.NoError(t, reg.Free(ctx, r))
	assert.Empty(t, g.IDs())
	_, err = reg.Get(ctx, r.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegistryCapacity(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(newLog(t), 2, nil)
	_, err := reg.Create(ctx, nil)
	require.NoError(t, err)
	_, err = reg.Create(ctx, nil)
	require.NoError(t, err)
	_, err = reg.Create(ctx, nil)
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, common.ERROR_QUEUE_FULL, common.CodeOf(err, common.ERROR_NONE))
}

func TestRehydrateAfterRestart(t *testing.T) {
	ctx := context.Background()
	log := newLog(t)
	reg := NewRegistry(log, 4, nil)
	r, err := reg.Create(ctx, session.NewGroup("org.a", session.Credential{}))
	require.NoError(t, err)

	r.Lock()
	r.URL = "http://x/y"
	r.StateCallback = true
	require.NoError(t, r.Start(time.Now()))
	require.NoError(t, reg.Persist(ctx, r))
	r.Unlock()

	// A fresh registry over the same log plays the restarted daemon.
	restarted := NewRegistry(log, 4, nil)
	got, err := restarted.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.NotSame(t, r, got)
	assert.Equal(t, common.STATE_QUEUED, got.State)
	assert.Equal(t, "http://x/y", got.URL)
	assert.Equal(t, "org.a", got.Package)
	assert.False(t, got.StateCallback, "callback flags are not persisted")
	assert.Nil(t, got.Group)

	_, err = restarted.Get(ctx, 12345)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateToleratesInsertFailure(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(failingLog{newLog(t)}, 4, nil)
	r, err := reg.Create(ctx, nil)
	require.NoError(t, err)
	assert.False(t, r.Persisted)
	assert.Same(t, r, reg.Lookup(r.ID))
}

func TestPersistAfterFailedInsertKeepsTimestamps(t *testing.T) {
	ctx := context.Background()
	log := newLog(t)
	reg := NewRegistry(failingLog{log}, 4, nil)
	r, err := reg.Create(ctx, session.NewGroup("org.a", session.Credential{}))
	require.NoError(t, err)
	require.False(t, r.Persisted)

	started := time.Now().Add(-time.Minute)
	r.Lock()
	r.URL = "http://x/y"
	require.NoError(t, r.Start(started))
	require.NoError(t, reg.Persist(ctx, r))
	r.Unlock()
	assert.True(t, r.Persisted)

	rec, err := log.Load(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, started.UnixMilli(), rec.StartedAt.UnixMilli())
	assert.Equal(t, r.CreatedAt.UnixMilli(), rec.CreatedAt.UnixMilli())
	assert.Equal(t, "http://x/y", rec.URL)
	assert.Equal(t, common.STATE_QUEUED, rec.State)

	// A second write goes through the same upsert.
	r.Lock()
	r.State = common.STATE_PAUSED
	r.PausedAt = started.Add(time.Second)
	require.NoError(t, reg.Persist(ctx, r))
	r.Unlock()
	rec, err = log.Load(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, common.STATE_PAUSED, rec.State)
	assert.Equal(t, started.UnixMilli(), rec.StartedAt.UnixMilli())
	assert.False(t, rec.PausedAt.IsZero())
}

func TestClaimBlocksRehydration(t *testing.T) {
	ctx := context.Background()
	log := newLog(t)
	require.NoError(t, log.Insert(ctx, &store.Record{ID: 77, State: common.STATE_COMPLETED}))
	reg := NewRegistry(log, 4, nil)

	release, ok := reg.Claim(77)
	require.True(t, ok)
	_, ok = reg.Claim(77)
	assert.False(t, ok)

	done := make(chan error, 1)
	go func() {
		_, err := reg.Get(ctx, 77)
		done <- err
	}()
	require.NoError(t, log.Delete(ctx, 77))
	release()
	assert.True(t, errors.Is(<-done, ErrNotFound))
}

func TestEvictIdle(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(newLog(t), 4, nil)
	g := session.NewGroup("org.a", session.Credential{})
	owned, err := reg.Create(ctx, g)
	require.NoError(t, err)
	orphan, err := reg.Create(ctx, nil)
	require.NoError(t, err)

	evicted := reg.EvictIdle(time.Now().Add(time.Hour), time.Minute)
	assert.Equal(t, []int32{orphan.ID}, evicted)
	assert.NotNil(t, reg.Lookup(owned.ID))
	assert.Nil(t, reg.Lookup(orphan.ID))
}

func TestIDGenMonotonic(t *testing.T) {
	g := NewIDGen(time.Now())
	prev := g.Next()
	for i := 0; i < 1000; i++ {
		id := g.Next()
		assert.Greater(t, id, prev)
		prev = id
	}
}

func TestAbandon(t *testing.T) {
	now := time.Now()
	r := New(1, "pkg", now)
	_, ok := r.Abandon(now)
	assert.False(t, ok, "READY has nothing to abandon")

	r.State = common.STATE_DOWNLOADING
	r.Handle = 7
	h, ok := r.Abandon(now)
	require.True(t, ok)
	assert.Equal(t, int32(7), h)
	assert.Equal(t, common.STATE_FAILED, r.State)
	assert.Equal(t, common.ERROR_IO_ERROR, r.Err)
	assert.Equal(t, NoHandle, r.Handle)
}

func TestInterrupt(t *testing.T) {
	now := time.Now()
	tests := []struct {
		from   common.State
		handle int32
		want   common.State
		ok     bool
	}{
		{common.STATE_CONNECTING, 3, common.STATE_QUEUED, true},
		{common.STATE_DOWNLOADING, 3, common.STATE_QUEUED, true},
		{common.STATE_PAUSE_REQUESTED, 3, common.STATE_PAUSED, true},
		{common.STATE_QUEUED, NoHandle, common.STATE_QUEUED, false},
		{common.STATE_QUEUED, 3, common.STATE_QUEUED, true},
		{common.STATE_COMPLETED, NoHandle, common.STATE_COMPLETED, false},
	}
	for _, tt := range tests {
		t.Run(tt.from.String(), func(t *testing.T) {
			r := New(1, "pkg", now)
			r.State = tt.from
			r.Handle = tt.handle
			r.Result.Received = 512
			h, ok := r.Interrupt(now)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, r.State)
			assert.Equal(t, NoHandle, r.Handle)
			assert.Equal(t, uint64(512), r.Result.Received)
			if ok {
				assert.Equal(t, tt.handle, h)
			}
		})
	}
}
