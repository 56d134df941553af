// Package request holds the in-memory view of download requests: the
// Request record and its state machine, the id generator, and the Registry
// that caches hot requests in front of the durable log.
package request

import (
	"sync"
	"time"

	"github.com/warpdl/dlmgr/common"
	"github.com/warpdl/dlmgr/internal/session"
	"github.com/warpdl/dlmgr/internal/store"
)

// NoHandle marks a request that is not bound to an engine transfer.
const NoHandle int32 = -1

// Request is one download. Every exported field except ID is guarded by the
// request lock; callers use Lock/Unlock around any read-then-write sequence.
type Request struct {
	mu sync.Mutex

	ID int32

	State common.State
	Err   common.ErrorCode
	// Handle is the engine handle while the request is CONNECTING,
	// DOWNLOADING or PAUSE_REQUESTED, NoHandle otherwise.
	Handle int32

	Package string
	Group   *session.Group

	URL          string
	Destination  string
	FileName     string
	NetworkType  common.NetworkType
	AutoDownload bool
	Headers      []store.Header

	StateCallback    bool
	ProgressCallback bool

	NotificationType common.NotificationType
	Title            string
	Description      string
	Bundles          map[common.BundleKind][]byte
	Extras           map[string][]string

	Result     store.Result
	StartCount int

	CreatedAt time.Time
	StartedAt time.Time
	PausedAt  time.Time
	StoppedAt time.Time
	// QueuedAt orders admission: oldest first.
	QueuedAt time.Time
	// AdmittedAt is when the current engine transfer was claimed.
	AdmittedAt time.Time
	// Touched is the last time a client referenced the request.
	Touched time.Time

	// Persisted is set once the durable row exists.
	Persisted bool
	// Destroyed is set by DESTROY; memory is released by FREE.
	Destroyed bool
}

// New builds a READY request owned by pkg.
func New(id int32, pkg string, now time.Time) *Request {
	return &Request{
		ID:        id,
		State:     common.STATE_READY,
		Handle:    NoHandle,
		Package:   pkg,
		Bundles:   make(map[common.BundleKind][]byte),
		Extras:    make(map[string][]string),
		CreatedAt: now,
		Touched:   now,
	}
}

// FromRecord rebuilds a request from its durable row. Callback flags are
// not persisted and come back disabled.
func FromRecord(rec *store.Record, now time.Time) *Request {
	r := New(rec.ID, rec.Package, rec.CreatedAt)
	r.State = rec.State
	r.Err = rec.Error
	r.URL = rec.URL
	r.Destination = rec.Destination
	r.FileName = rec.FileName
	r.NetworkType = rec.NetworkType
	r.AutoDownload = rec.AutoDownload
	r.Headers = append([]store.Header(nil), rec.Headers...)
	r.NotificationType = rec.NotificationType
	r.Title = rec.Title
	r.Description = rec.Description
	for k, v := range rec.Bundles {
		r.Bundles[k] = v
	}
	for k, v := range rec.Extras {
		r.Extras[k] = v
	}
	r.Result = rec.Result
	r.StartCount = rec.StartCount
	r.StartedAt = rec.StartedAt
	r.PausedAt = rec.PausedAt
	r.StoppedAt = rec.StoppedAt
	r.QueuedAt = rec.StartedAt
	if r.QueuedAt.IsZero() {
		r.QueuedAt = rec.CreatedAt
	}
	r.Touched = now
	r.Persisted = true
	return r
}

func (r *Request) Lock()   { r.mu.Lock() }
func (r *Request) Unlock() { r.mu.Unlock() }

// Record returns the durable projection. The caller holds the lock.
func (r *Request) Record() *store.Record {
	return &store.Record{
		ID:               r.ID,
		State:            r.State,
		Error:            r.Err,
		StartCount:       r.StartCount,
		Package:          r.Package,
		CreatedAt:        r.CreatedAt,
		StartedAt:        r.StartedAt,
		PausedAt:         r.PausedAt,
		StoppedAt:        r.StoppedAt,
		URL:              r.URL,
		Destination:      r.Destination,
		FileName:         r.FileName,
		NetworkType:      r.NetworkType,
		AutoDownload:     r.AutoDownload,
		NotificationType: r.NotificationType,
		Title:            r.Title,
		Description:      r.Description,
		Result:           r.Result,
	}
}

// Owned reports whether the request is attached to a live group.
// The caller holds the lock.
func (r *Request) Owned() bool {
	return r.Group != nil && !r.Group.Closed()
}

// Event builds the event frame for the current state. The caller holds the lock.
func (r *Request) Event() session.Event {
	return session.Event{ID: r.ID, State: r.State, Error: r.Err, Received: r.Result.Received}
}

// HeaderValue returns the value of field, matched case-sensitively.
// The caller holds the lock.
func (r *Request) HeaderValue(field string) (string, bool) {
	for _, h := range r.Headers {
		if h.Field == field {
			return h.Value, true
		}
	}
	return "", false
}

// SetHeader adds or replaces field. The caller holds the lock.
func (r *Request) SetHeader(field, value string) {
	for i := range r.Headers {
		if r.Headers[i].Field == field {
			r.Headers[i].Value = value
			return
		}
	}
	r.Headers = append(r.Headers, store.Header{Field: field, Value: value})
}

// RemoveHeader deletes field and reports whether it was present.
// The caller holds the lock.
func (r *Request) RemoveHeader(field string) bool {
	for i := range r.Headers {
		if r.Headers[i].Field == field {
			r.Headers = append(r.Headers[:i], r.Headers[i+1:]...)
			return true
		}
	}
	return false
}
