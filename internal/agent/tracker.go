package agent

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/warpdl/dlmgr/pkg/logger"
)

// ErrUnknownHandle is returned by Suspend for a handle with no live transfer.
var ErrUnknownHandle = errors.New("agent: unknown handle")

// progressEvery bounds how often Copy reports progress to the callbacks.
const progressEvery = 250 * time.Millisecond

const copyBufSize = 32 * 1024

// Tracker runs engine transfers on their own goroutines and owns the
// handle table. Engine adapters embed it for Suspend, Cancel and IsAlive.
type Tracker struct {
	mu     sync.Mutex
	active map[int32]*Transfer
	max    int
	limit  rate.Limit
	l      logger.Logger
}

// NewTracker returns a tracker allowing max concurrent transfers (0 means
// unlimited) and throttling each to bytesPerSec (0 means unlimited).
func NewTracker(max int, bytesPerSec int64, l logger.Logger) *Tracker {
	if l == nil {
		l = logger.NewNopLogger()
	}
	limit := rate.Inf
	if bytesPerSec > 0 {
		limit = rate.Limit(bytesPerSec)
	}
	return &Tracker{
		active: make(map[int32]*Transfer),
		max:    max,
		limit:  limit,
		l:      l,
	}
}

// Transfer is one engine transfer bound to a handle.
type Transfer struct {
	H   int32
	Job Job

	t         *Tracker
	cb        Callbacks
	ctx       context.Context
	cancel    context.CancelFunc
	suspended atomic.Bool
	canceled  atomic.Bool
	started   atomic.Bool
}

// Begin reserves a slot for h. The transfer context outlives ctx so that the
// caller's deadline only bounds the connect phase. It returns ErrEngineBusy
// when every slot is taken.
func (t *Tracker) Begin(ctx context.Context, h int32, job Job, cb Callbacks) (*Transfer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.active[h]; ok {
		return nil, errors.New("agent: handle already in use")
	}
	if t.max > 0 && len(t.active) >= t.max {
		return nil, ErrEngineBusy
	}
	tctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	tr := &Transfer{H: h, Job: job, t: t, cb: cb, ctx: tctx, cancel: cancel}
	t.active[h] = tr
	return tr, nil
}

func (t *Tracker) take(h int32) *Transfer {
	t.mu.Lock()
	defer t.mu.Unlock()
	tr := t.active[h]
	delete(t.active, h)
	return tr
}

// Suspend stops the transfer bound to h; its goroutine reports OnPaused.
func (t *Tracker) Suspend(h int32) error {
	t.mu.Lock()
	tr, ok := t.active[h]
	t.mu.Unlock()
	if !ok {
		return ErrUnknownHandle
	}
	tr.suspended.Store(true)
	tr.cancel()
	return nil
}

// Cancel stops the transfer bound to h. Unknown handles are ignored.
func (t *Tracker) Cancel(h int32) error {
	t.mu.Lock()
	tr, ok := t.active[h]
	t.mu.Unlock()
	if !ok {
		return nil
	}
	tr.canceled.Store(true)
	tr.cancel()
	return nil
}

// IsAlive reports whether a transfer is bound to h.
func (t *Tracker) IsAlive(h int32) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.active[h]
	return ok
}

// Len returns the number of live transfers.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.active)
}

// Context is canceled by Suspend and Cancel.
func (tr *Transfer) Context() context.Context {
	return tr.ctx
}

// Canceled reports whether Cancel stopped the transfer.
func (tr *Transfer) Canceled() bool {
	return tr.canceled.Load()
}

// Abort releases the slot of a transfer that never reached Run.
func (tr *Transfer) Abort() {
	if tr.started.Load() {
		return
	}
	tr.t.take(tr.H)
	tr.cancel()
}

// Info reports transfer metadata.
func (tr *Transfer) Info(info Info) {
	tr.cb.OnInfo(tr.Job.ID, tr.H, info)
}

// Run executes body on its own goroutine and reports the outcome. A
// suspended transfer reports OnPaused; any other end reports OnFinished.
func (tr *Transfer) Run(body func(ctx context.Context) Outcome) {
	tr.started.Store(true)
	go func() {
		out := tr.run(body)
		tr.t.take(tr.H)
		tr.cancel()
		switch {
		case tr.suspended.Load():
			tr.cb.OnPaused(tr.Job.ID, tr.H)
		case tr.canceled.Load():
			tr.cb.OnFinished(tr.Job.ID, tr.H, Outcome{Canceled: true})
		default:
			tr.cb.OnFinished(tr.Job.ID, tr.H, out)
		}
	}()
}

func (tr *Transfer) run(body func(ctx context.Context) Outcome) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			tr.t.l.Error("agent: transfer %d panicked: %v", tr.H, r)
			out = Outcome{Err: ErrEngineFailed}
		}
	}()
	return body(tr.ctx)
}

// Copy moves src into dst at the tracker's speed limit and reports the
// running total, starting from offset. It stops when the transfer context
// is canceled.
func (tr *Transfer) Copy(dst io.Writer, src io.Reader, offset uint64) (uint64, error) {
	lim := rate.NewLimiter(tr.t.limit, copyBufSize)
	buf := make([]byte, copyBufSize)
	received := offset
	last := time.Now()
	for {
		if err := tr.ctx.Err(); err != nil {
			return received, err
		}
		n, rerr := src.Read(buf)
		if n > 0 {
			if err := lim.WaitN(tr.ctx, n); err != nil {
				return received, err
			}
			if _, err := dst.Write(buf[:n]); err != nil {
				return received, err
			}
			received += uint64(n)
			if time.Since(last) >= progressEvery {
				last = time.Now()
				tr.cb.OnProgress(tr.Job.ID, tr.H, received)
			}
		}
		if rerr == io.EOF {
			tr.cb.OnProgress(tr.Job.ID, tr.H, received)
			return received, nil
		}
		if rerr != nil {
			if cerr := tr.ctx.Err(); cerr != nil {
				return received, cerr
			}
			return received, rerr
		}
	}
}
