package events

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warpdl/dlmgr/common"
	"github.com/warpdl/dlmgr/internal/request"
	"github.com/warpdl/dlmgr/internal/session"
)

type recorder struct {
	mu     sync.Mutex
	events []session.Event
	notes  []Notification
	err    error
}

func (r *recorder) PublishEvent(_ context.Context, _ string, ev session.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) Post(_ context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, n)
	return nil
}

func newRequest(g *session.Group) *request.Request {
	r := request.New(1, "org.a", time.Now())
	r.Group = g
	return r
}

func TestStateEventOnChannel(t *testing.T) {
	g := session.NewGroup("org.a", session.Credential{})
	srv, cli := net.Pipe()
	defer cli.Close()
	g.SetCommand(nil)
	g.SetEvent(srv)

	r := newRequest(g)
	r.StateCallback = true
	r.State = common.STATE_QUEUED

	rec := &recorder{}
	hub := NewHub(time.Second, rec, nil, nil)
	got := make(chan session.Event, 1)
	go func() {
		ev, _ := session.ReadEvent(cli)
		got <- ev
	}()
	hub.Deliver(context.Background(), Capture(r, KindState))
	ev := <-got
	assert.Equal(t, common.STATE_QUEUED, ev.State)
	assert.Empty(t, rec.events)
	assert.Equal(t, uint64(1), hub.Stats().Sent)
}

func TestFallbackWhenNoChannel(t *testing.T) {
	g := session.NewGroup("org.a", session.Credential{})
	r := newRequest(g)
	r.StateCallback = true
	r.State = common.STATE_DOWNLOADING

	rec := &recorder{}
	hub := NewHub(time.Second, rec, nil, nil)
	hub.Deliver(context.Background(), Capture(r, KindState))
	require.Len(t, rec.events, 1)
	assert.Equal(t, uint64(1), hub.Stats().Fallback)
}

func TestDetachedTerminalGoesOutOfBand(t *testing.T) {
	r := newRequest(nil)
	r.State = common.STATE_COMPLETED

	rec := &recorder{}
	hub := NewHub(time.Second, rec, nil, nil)
	hub.Deliver(context.Background(), Capture(r, KindState))
	require.Len(t, rec.events, 1)

	r.State = common.STATE_DOWNLOADING
	hub.Deliver(context.Background(), Capture(r, KindState))
	assert.Len(t, rec.events, 1, "non-terminal without callback is silent")
}

func TestProgressThrottled(t *testing.T) {
	r := newRequest(nil)
	r.ProgressCallback = true
	r.State = common.STATE_DOWNLOADING

	rec := &recorder{}
	hub := NewHub(time.Hour, rec, nil, nil)
	for i := 0; i < 5; i++ {
		r.Result.Received = uint64(i)
		hub.Deliver(context.Background(), Capture(r, KindProgress))
	}
	assert.Len(t, rec.events, 1)
	assert.Equal(t, uint64(4), hub.Stats().Throttled)

	r.ProgressCallback = false
	hub.Forget(r.ID)
	hub.Deliver(context.Background(), Capture(r, KindProgress))
	assert.Len(t, rec.events, 1, "progress callback disabled")
}

func TestDroppedWhenPublisherFails(t *testing.T) {
	r := newRequest(nil)
	r.State = common.STATE_FAILED
	rec := &recorder{err: errors.New("no subscribers")}
	drops := 0
	hub := NewHub(time.Second, rec, nil, nil)
	hub.OnDrop = func() { drops++ }
	hub.Deliver(context.Background(), Capture(r, KindState))
	assert.Equal(t, 1, drops)
}

func TestNotificationPolicy(t *testing.T) {
	tests := []struct {
		name   string
		policy common.NotificationType
		state  common.State
		want   bool
		kind   common.BundleKind
	}{
		{"none", common.NOTIFY_NONE, common.STATE_COMPLETED, false, 0},
		{"complete only skips ongoing", common.NOTIFY_COMPLETE_ONLY, common.STATE_DOWNLOADING, false, 0},
		{"complete only on completion", common.NOTIFY_COMPLETE_ONLY, common.STATE_COMPLETED, true, common.BUNDLE_COMPLETE},
		{"complete only on failure", common.NOTIFY_COMPLETE_ONLY, common.STATE_FAILED, true, common.BUNDLE_FAILED},
		{"all ongoing", common.NOTIFY_ALL, common.STATE_DOWNLOADING, true, common.BUNDLE_ONGOING},
		{"all skips cancel", common.NOTIFY_ALL, common.STATE_CANCELED, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRequest(nil)
			r.NotificationType = tt.policy
			r.State = tt.state
			r.Title = "t"
			r.Bundles[common.BUNDLE_COMPLETE] = []byte("done")

			rec := &recorder{}
			hub := NewHub(time.Second, nil, rec, nil)
			hub.Deliver(context.Background(), Capture(r, KindState))
			if !tt.want {
				assert.Empty(t, rec.notes)
				return
			}
			require.Len(t, rec.notes, 1)
			assert.Equal(t, tt.kind, rec.notes[0].Kind)
			assert.Equal(t, "t", rec.notes[0].Title)
			if tt.kind == common.BUNDLE_COMPLETE {
				assert.Equal(t, []byte("done"), rec.notes[0].Bundle)
			}
		})
	}
}
