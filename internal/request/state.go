package request

import (
	"time"

	"github.com/warpdl/dlmgr/common"
	"github.com/warpdl/dlmgr/internal/store"
)

var (
	ErrInvalidState     = common.ERROR_INVALID_STATE.Err()
	ErrAlreadyCompleted = common.ERROR_ALREADY_COMPLETED.Err()
)

// Every method below requires the request lock.

// Start moves the request to QUEUED. Legal from READY, PAUSED, CANCELED and
// FAILED. A CANCELED request restarts from scratch; a FAILED or PAUSED one
// keeps its partial result so the engine can resume.
func (r *Request) Start(now time.Time) error {
	if r.Destroyed {
		return ErrInvalidState
	}
	switch r.State {
	case common.STATE_READY, common.STATE_PAUSED, common.STATE_FAILED:
	case common.STATE_CANCELED:
		r.Result = store.Result{}
	case common.STATE_COMPLETED:
		return ErrAlreadyCompleted
	default:
		return ErrInvalidState
	}
	if r.URL == "" {
		return common.Errorf(common.ERROR_INVALID_URL, "no url set")
	}
	r.State = common.STATE_QUEUED
	r.Err = common.ERROR_NONE
	r.StartedAt = now
	r.QueuedAt = now
	r.StoppedAt = time.Time{}
	return nil
}

// Pause stops a queued request at once, or asks a running one to suspend.
// The returned handle is NoHandle unless the engine must be told.
func (r *Request) Pause(now time.Time) (int32, error) {
	if r.Destroyed {
		return NoHandle, ErrInvalidState
	}
	switch r.State {
	case common.STATE_QUEUED:
		r.State = common.STATE_PAUSED
		r.PausedAt = now
		return NoHandle, nil
	case common.STATE_CONNECTING, common.STATE_DOWNLOADING:
		r.State = common.STATE_PAUSE_REQUESTED
		r.PausedAt = now
		return r.Handle, nil
	}
	return NoHandle, ErrInvalidState
}

// Cancel stops the request. Local state is updated optimistically and the
// engine handle is released, so a late engine callback is discarded. The
// returned handle is the one the engine must cancel, or NoHandle.
func (r *Request) Cancel(now time.Time) (int32, error) {
	if r.State.IsTerminal() || r.State == common.STATE_NONE {
		return NoHandle, ErrInvalidState
	}
	h := r.Handle
	r.Handle = NoHandle
	r.State = common.STATE_CANCELED
	r.Err = common.ERROR_NONE
	r.StoppedAt = now
	return h, nil
}

// Destroy cancels the request if needed and marks it pending free. It never
// fails. The returned handle is the one the engine must cancel, or NoHandle.
func (r *Request) Destroy(now time.Time) int32 {
	h := NoHandle
	if !r.State.IsTerminal() {
		h, _ = r.Cancel(now)
	}
	r.Destroyed = true
	return h
}

// Admit claims a QUEUED request for an engine start under handle h.
func (r *Request) Admit(h int32, now time.Time) bool {
	if r.State != common.STATE_QUEUED || r.Destroyed {
		return false
	}
	r.State = common.STATE_CONNECTING
	r.Handle = h
	r.AdmittedAt = now
	r.StartCount++
	return true
}

// Requeue returns a claimed request to the queue after the engine refused
// it for lack of capacity.
func (r *Request) Requeue(h int32) bool {
	if r.Handle != h || r.State != common.STATE_CONNECTING {
		return false
	}
	r.State = common.STATE_QUEUED
	r.Handle = NoHandle
	return true
}

// Fail moves a request bound to h to FAILED with code.
func (r *Request) Fail(h int32, code common.ErrorCode, now time.Time) bool {
	if r.Handle != h || !r.State.IsActive() {
		return false
	}
	r.State = common.STATE_FAILED
	r.Err = code
	r.Handle = NoHandle
	r.StoppedAt = now
	return true
}

// Info records transfer metadata and moves CONNECTING to DOWNLOADING.
func (r *Request) Info(total uint64, mime, content, etag, temp string, status int32) {
	if r.State == common.STATE_CONNECTING {
		r.State = common.STATE_DOWNLOADING
	}
	if total > 0 {
		r.Result.Total = total
	}
	if mime != "" {
		r.Result.MimeType = mime
	}
	if content != "" {
		r.Result.ContentName = content
	}
	if etag != "" {
		r.Result.ETag = etag
	}
	if temp != "" {
		r.Result.TempPath = temp
	}
	if status != 0 {
		r.Result.HTTPStatus = status
	}
}

// Progress records received bytes, clamped to the total once it is known.
func (r *Request) Progress(received uint64) {
	if r.State == common.STATE_CONNECTING {
		r.State = common.STATE_DOWNLOADING
	}
	if r.Result.Total > 0 && received > r.Result.Total {
		received = r.Result.Total
	}
	r.Result.Received = received
}

// Paused completes a PAUSE_REQUESTED transition.
func (r *Request) Paused(now time.Time) bool {
	if r.State != common.STATE_PAUSE_REQUESTED {
		return false
	}
	r.State = common.STATE_PAUSED
	r.Handle = NoHandle
	r.PausedAt = now
	return true
}

// Finish records the terminal state reported by the engine.
func (r *Request) Finish(st common.State, code common.ErrorCode, now time.Time) {
	r.State = st
	r.Err = code
	r.Handle = NoHandle
	r.StoppedAt = now
	if st == common.STATE_COMPLETED && r.Result.Total > 0 {
		r.Result.Received = r.Result.Total
	}
}

// Retry re-queues a FAILED request whose cause was a network change.
func (r *Request) Retry(now time.Time) bool {
	if r.State != common.STATE_FAILED || r.Err != common.ERROR_NETWORK_CHANGED || r.Destroyed {
		return false
	}
	r.State = common.STATE_QUEUED
	r.Err = common.ERROR_NONE
	r.QueuedAt = now
	r.StoppedAt = time.Time{}
	return true
}

// Mutable reports whether request parameters may be changed.
func (r *Request) Mutable() bool {
	return !r.Destroyed && !r.State.IsActive()
}

// Abandon fails a queued or running request whose owner went away before
// its row was logged. The returned handle is the one the engine must
// cancel, or NoHandle.
func (r *Request) Abandon(now time.Time) (int32, bool) {
	if r.State != common.STATE_QUEUED && !r.State.IsActive() {
		return NoHandle, false
	}
	h := r.Handle
	r.State = common.STATE_FAILED
	r.Err = common.ERROR_IO_ERROR
	r.Handle = NoHandle
	r.StoppedAt = now
	return h, true
}

// Interrupt detaches the request from an engine that is going away. A
// CONNECTING or DOWNLOADING request goes back to the queue with its partial
// result, a PAUSE_REQUESTED one is settled as PAUSED. The returned handle
// is the one the engine held, or NoHandle.
func (r *Request) Interrupt(now time.Time) (int32, bool) {
	h := r.Handle
	switch r.State {
	case common.STATE_CONNECTING, common.STATE_DOWNLOADING:
		r.State = common.STATE_QUEUED
		r.QueuedAt = now
	case common.STATE_PAUSE_REQUESTED:
		r.State = common.STATE_PAUSED
		r.PausedAt = now
	case common.STATE_QUEUED:
		if h == NoHandle {
			return NoHandle, false
		}
	default:
		return NoHandle, false
	}
	r.Handle = NoHandle
	return h, true
}
