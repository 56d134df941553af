package agent

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"time"

	"github.com/warpdl/dlmgr/common"
	"github.com/warpdl/dlmgr/internal/events"
	"github.com/warpdl/dlmgr/internal/metrics"
	"github.com/warpdl/dlmgr/internal/netmon"
	"github.com/warpdl/dlmgr/internal/request"
	"github.com/warpdl/dlmgr/internal/session"
	"github.com/warpdl/dlmgr/pkg/logger"
)

// persistTimeout bounds durable writes made from engine callbacks.
const persistTimeout = 5 * time.Second

// Bridge connects the registry to the engine. It implements Callbacks.
type Bridge struct {
	reg     *request.Registry
	hub     *events.Hub
	net     *netmon.Monitor
	engine  Engine
	policy  *Policy
	metrics *metrics.Metrics
	l       logger.Logger
	now     func() time.Time

	handles atomic.Int32
	// Wake is called whenever a slot frees up or a request re-enters the
	// queue.
	Wake func()
}

// NewBridge wires a bridge. policy and m may be nil.
func NewBridge(reg *request.Registry, hub *events.Hub, nm *netmon.Monitor, engine Engine, policy *Policy, m *metrics.Metrics, l logger.Logger) *Bridge {
	if l == nil {
		l = logger.NewNopLogger()
	}
	return &Bridge{
		reg:     reg,
		hub:     hub,
		net:     nm,
		engine:  engine,
		policy:  policy,
		metrics: m,
		l:       l,
		now:     time.Now,
	}
}

// NextHandle allocates an engine handle. Handles are never negative.
func (b *Bridge) NextHandle() int32 {
	return (b.handles.Add(1) - 1) & math.MaxInt32
}

// Engine returns the wrapped engine.
func (b *Bridge) Engine() Engine {
	return b.engine
}

// Launch starts the transfer of r, which the caller admitted under handle
// h. It blocks for the engine's connect phase and must run without any
// request lock held. It returns ErrEngineBusy when the engine refused the
// start for lack of capacity, in which case r is back in the queue.
func (b *Bridge) Launch(ctx context.Context, r *request.Request, h int32) error {
	r.Lock()
	if r.Handle != h || r.State != common.STATE_CONNECTING {
		r.Unlock()
		return nil
	}
	job := Job{
		ID:          r.ID,
		URL:         r.URL,
		Destination: r.Destination,
		FileName:    r.FileName,
		Headers:     append(r.Headers[:0:0], r.Headers...),
	}
	resume := r.Result.TempPath != "" && r.Result.Received > 0
	if resume {
		job.TempPath = r.Result.TempPath
		job.Offset = r.Result.Received
		job.ETag = r.Result.ETag
	}
	r.Unlock()

	var err error
	if resume {
		err = b.engine.Resume(ctx, h, job, b)
	} else {
		err = b.engine.Start(ctx, h, job, b)
	}
	if errors.Is(err, ErrEngineBusy) {
		r.Lock()
		requeued := r.Requeue(h)
		r.Unlock()
		if requeued {
			b.metrics.Requeued()
			b.l.Debug("agent: %d: engine busy, back in queue", r.ID)
		}
		return ErrEngineBusy
	}
	if err != nil {
		b.startFailed(r, h, err)
		return nil
	}

	r.Lock()
	if r.Handle != h {
		// Canceled or finished while the engine was connecting.
		r.Unlock()
		b.stale(h)
		return nil
	}
	b.persist(r)
	var d *events.Delivery
	if r.State == common.STATE_CONNECTING {
		dd := events.Capture(r, events.KindState)
		d = &dd
	}
	suspend := r.State == common.STATE_PAUSE_REQUESTED
	r.Unlock()

	b.metrics.Admitted()
	b.l.Info("agent: %d: started with handle %d", job.ID, h)
	if d != nil {
		b.hub.Deliver(ctx, *d)
	}
	if suspend {
		b.Suspend(h)
	}
	return nil
}

func (b *Bridge) startFailed(r *request.Request, h int32, err error) {
	code := Translate(err)
	b.l.Warning("agent: %d: start: %v", r.ID, err)
	b.metrics.StartFailed(code.String())
	r.Lock()
	if !r.Fail(h, b.failCode(r, code), b.now()) {
		r.Unlock()
		return
	}
	retried := b.retry(r)
	b.persist(r)
	d := events.Capture(r, events.KindState)
	r.Unlock()
	b.hub.Deliver(context.Background(), d)
	if retried {
		b.wake()
	}
}

// Suspend asks the engine to pause h.
func (b *Bridge) Suspend(h int32) {
	if h == request.NoHandle {
		return
	}
	if err := b.engine.Suspend(h); err != nil && !errors.Is(err, ErrUnknownHandle) {
		b.l.Warning("agent: suspend %d: %v", h, err)
	}
}

// Cancel asks the engine to stop h.
func (b *Bridge) Cancel(h int32) {
	if h == request.NoHandle {
		return
	}
	if err := b.engine.Cancel(h); err != nil {
		b.l.Warning("agent: cancel %d: %v", h, err)
	}
	b.wake()
}

// IsAlive reports whether the engine still runs h.
func (b *Bridge) IsAlive(h int32) bool {
	return h != request.NoHandle && b.engine.IsAlive(h)
}

// stale handles a callback for a handle the request no longer owns.
func (b *Bridge) stale(h int32) {
	b.l.Debug("agent: stale handle %d", h)
	if err := b.engine.Cancel(h); err != nil {
		b.l.Warning("agent: cancel stale %d: %v", h, err)
	}
}

// bound returns the request owning h, locked, or nil after a defensive
// cancel.
func (b *Bridge) bound(id, h int32) *request.Request {
	r := b.reg.Lookup(id)
	if r == nil {
		b.stale(h)
		return nil
	}
	r.Lock()
	if r.Handle != h {
		r.Unlock()
		b.stale(h)
		return nil
	}
	return r
}

func (b *Bridge) OnInfo(id, h int32, info Info) {
	r := b.bound(id, h)
	if r == nil {
		return
	}
	prev := r.State
	r.Info(info.Total, info.MimeType, info.ContentName, info.ETag, info.TempPath, info.HTTPStatus)
	b.persist(r)
	changed := r.State != prev
	d := events.Capture(r, events.KindState)
	r.Unlock()
	if changed {
		b.hub.Deliver(context.Background(), d)
	}
}

func (b *Bridge) OnProgress(id, h int32, received uint64) {
	r := b.bound(id, h)
	if r == nil {
		return
	}
	prev := r.State
	r.Progress(received)
	kind := events.KindProgress
	if r.State != prev {
		kind = events.KindState
	}
	d := events.Capture(r, kind)
	r.Unlock()
	b.hub.Deliver(context.Background(), d)
}

func (b *Bridge) OnPaused(id, h int32) {
	r := b.bound(id, h)
	if r == nil {
		return
	}
	now := b.now()
	if r.State != common.STATE_PAUSE_REQUESTED {
		r.Pause(now)
	}
	if !r.Paused(now) {
		r.Unlock()
		return
	}
	b.persist(r)
	d := events.Capture(r, events.KindState)
	r.Unlock()
	b.l.Info("agent: %d: paused at %d bytes", id, d.Event.Received)
	b.hub.Deliver(context.Background(), d)
	b.wake()
}

func (b *Bridge) OnFinished(id, h int32, out Outcome) {
	r := b.bound(id, h)
	if r == nil {
		return
	}
	now := b.now()
	switch {
	case out.Canceled:
		r.Finish(common.STATE_CANCELED, common.ERROR_NONE, now)
	case out.Err != nil:
		code := b.failCode(r, Translate(out.Err))
		r.Finish(common.STATE_FAILED, code, now)
		b.retry(r)
		b.l.Warning("agent: %d: failed: %v", id, out.Err)
	default:
		if out.SavedPath != "" {
			r.Result.SavedPath = out.SavedPath
		}
		r.Info(out.Total, "", out.ContentName, "", "", out.HTTPStatus)
		if err := b.policy.Apply(r.Result.SavedPath, b.owner(r)); err != nil {
			b.l.Warning("agent: %d: completion policy: %v", id, err)
			r.Finish(common.STATE_FAILED, common.CodeOf(err, common.ERROR_IO_ERROR), now)
		} else {
			r.Finish(common.STATE_COMPLETED, common.ERROR_NONE, now)
		}
	}
	b.persist(r)
	d := events.Capture(r, events.KindState)
	r.Unlock()
	b.l.Info("agent: %d: finished %s (%s)", id, d.Event.State, d.Event.Error)
	b.hub.Deliver(context.Background(), d)
	b.wake()
}

// owner returns the credential to hand a completed file to. The caller
// holds r's lock.
func (b *Bridge) owner(r *request.Request) *session.Credential {
	if r.Group == nil {
		return nil
	}
	c := r.Group.Credential()
	return &c
}

// failCode rewrites transport failures that coincide with an interface
// change. The caller holds r's lock.
func (b *Bridge) failCode(r *request.Request, code common.ErrorCode) common.ErrorCode {
	if b.net != nil && networkSensitive(code) && b.net.ChangedSince(r.AdmittedAt) {
		return common.ERROR_NETWORK_CHANGED
	}
	return code
}

// retry re-queues a request that failed on a network change when the
// network is back. The caller holds r's lock.
func (b *Bridge) retry(r *request.Request) bool {
	if b.net == nil || !b.net.Current().Reachable() {
		return false
	}
	if !r.Retry(b.now()) {
		return false
	}
	b.l.Info("agent: %d: network changed, queued again", r.ID)
	return true
}

// persist writes r's row. The caller holds r's lock. Failures are logged:
// the in-memory request stays authoritative.
func (b *Bridge) persist(r *request.Request) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := b.reg.Persist(ctx, r); err != nil {
		b.metrics.StoreError("save")
		b.l.Warning("agent: %d: persist: %v", r.ID, err)
	}
}

func (b *Bridge) wake() {
	if b.Wake != nil {
		b.Wake()
	}
}
