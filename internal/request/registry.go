package request

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/warpdl/dlmgr/common"
	"github.com/warpdl/dlmgr/internal/session"
	"github.com/warpdl/dlmgr/internal/store"
	"github.com/warpdl/dlmgr/pkg/logger"
)

var (
	// ErrQueueFull is returned when every registry slot is taken.
	ErrQueueFull = common.ERROR_QUEUE_FULL.Err()
	// ErrNotFound is returned for ids unknown to both memory and the log.
	ErrNotFound = common.ERROR_ID_NOT_FOUND.Err()
)

// maxIDAttempts bounds the search for an unused id.
const maxIDAttempts = 32

// Log is the durable store as seen by the registry.
type Log interface {
	Insert(ctx context.Context, r *store.Record) error
	Save(ctx context.Context, r *store.Record) error
	Load(ctx context.Context, id int32) (*store.Record, error)
	Exists(ctx context.Context, id int32) (bool, error)
	Delete(ctx context.Context, id int32) error
}

// Registry is the in-memory cache of hot requests. The map lock covers only
// slot lookup and allocation; request fields are guarded by each request's
// own lock.
type Registry struct {
	mu       sync.RWMutex
	reqs     map[int32]*Request
	reserved map[int32]chan struct{}
	capacity int

	ids *IDGen
	log Log
	l   logger.Logger
	now func() time.Time
}

// NewRegistry returns a registry holding at most capacity requests.
func NewRegistry(log Log, capacity int, l logger.Logger) *Registry {
	if l == nil {
		l = logger.NewNopLogger()
	}
	return &Registry{
		reqs:     make(map[int32]*Request),
		reserved: make(map[int32]chan struct{}),
		capacity: capacity,
		ids:      NewIDGen(time.Now()),
		log:      log,
		l:        l,
		now:      time.Now,
	}
}

// Create allocates an id, a slot and a durable row for a new READY request
// owned by g. A failed row insert is tolerated: the request is returned
// with Persisted unset.
func (reg *Registry) Create(ctx context.Context, g *session.Group) (*Request, error) {
	var id int32
	for attempt := 0; ; attempt++ {
		if attempt == maxIDAttempts {
			return nil, common.Errorf(common.ERROR_OUT_OF_MEMORY, "no free request id")
		}
		cand, err := reg.reserveNew()
		if err != nil {
			return nil, err
		}
		exists, err := reg.log.Exists(ctx, cand)
		if err != nil {
			reg.l.Warning("registry: id %d log check failed: %v", cand, err)
		}
		if exists {
			reg.release(cand)
			continue
		}
		id = cand
		break
	}

	pkg := ""
	if g != nil {
		pkg = g.Package
	}
	r := New(id, pkg, reg.now())
	r.Group = g
	if err := reg.log.Insert(ctx, r.Record()); err != nil {
		reg.l.Error("registry: insert %d: %v", id, err)
	} else {
		r.Persisted = true
	}
	if g != nil {
		g.Attach(id)
	}

	reg.mu.Lock()
	reg.reqs[id] = r
	ch := reg.reserved[id]
	delete(reg.reserved, id)
	reg.mu.Unlock()
	close(ch)
	return r, nil
}

func (reg *Registry) reserveNew() (int32, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if len(reg.reqs)+len(reg.reserved) >= reg.capacity {
		return 0, ErrQueueFull
	}
	for {
		id := reg.ids.Next()
		if _, ok := reg.reqs[id]; ok {
			continue
		}
		if _, ok := reg.reserved[id]; ok {
			continue
		}
		reg.reserved[id] = make(chan struct{})
		return id, nil
	}
}

func (reg *Registry) release(id int32) {
	reg.mu.Lock()
	ch, ok := reg.reserved[id]
	delete(reg.reserved, id)
	reg.mu.Unlock()
	if ok {
		close(ch)
	}
}

// Lookup returns the resident request for id, or nil.
func (reg *Registry) Lookup(id int32) *Request {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return reg.reqs[id]
}

// Get resolves id against memory first and then the log. A request loaded
// from the log is rehydrated into a free slot without an owner.
func (reg *Registry) Get(ctx context.Context, id int32) (*Request, error) {
	for {
		reg.mu.Lock()
		if r, ok := reg.reqs[id]; ok {
			reg.mu.Unlock()
			return r, nil
		}
		if ch, ok := reg.reserved[id]; ok {
			reg.mu.Unlock()
			select {
			case <-ch:
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		if len(reg.reqs)+len(reg.reserved) >= reg.capacity {
			reg.mu.Unlock()
			return nil, ErrQueueFull
		}
		reg.reserved[id] = make(chan struct{})
		reg.mu.Unlock()
		return reg.rehydrate(ctx, id)
	}
}

func (reg *Registry) rehydrate(ctx context.Context, id int32) (*Request, error) {
	rec, err := reg.log.Load(ctx, id)
	if err != nil {
		reg.release(id)
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("rehydrate %d: %w", id, err)
	}
	r := FromRecord(rec, reg.now())
	reg.mu.Lock()
	reg.reqs[id] = r
	ch := reg.reserved[id]
	delete(reg.reserved, id)
	reg.mu.Unlock()
	close(ch)
	reg.l.Debug("registry: rehydrated %d in state %s", id, r.State)
	return r, nil
}

// Claim reserves a non-resident id so that no rehydration can run while the
// caller works on its durable row. It returns false if id is resident or
// already reserved.
func (reg *Registry) Claim(id int32) (release func(), ok bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if _, ok := reg.reqs[id]; ok {
		return nil, false
	}
	if _, ok := reg.reserved[id]; ok {
		return nil, false
	}
	reg.reserved[id] = make(chan struct{})
	return func() { reg.release(id) }, true
}

// Remove evicts id from memory. The durable row is kept.
func (reg *Registry) Remove(id int32) *Request {
	reg.mu.Lock()
	r := reg.reqs[id]
	delete(reg.reqs, id)
	reg.mu.Unlock()
	return r
}

// Free releases a destroyed request and deletes its durable row.
func (reg *Registry) Free(ctx context.Context, r *Request) error {
	r.Lock()
	if !r.Destroyed {
		r.Unlock()
		return ErrInvalidState
	}
	g := r.Group
	r.Group = nil
	r.Unlock()
	if g != nil {
		g.Detach(r.ID)
	}
	reg.Remove(r.ID)
	if err := reg.log.Delete(ctx, r.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	return nil
}

// Persist writes the durable row of r. The caller holds r's lock. Save is an
// upsert, so a request whose insert failed earlier lands with every
// timestamp it has gathered since.
func (reg *Registry) Persist(ctx context.Context, r *Request) error {
	if err := reg.log.Save(ctx, r.Record()); err != nil {
		return err
	}
	r.Persisted = true
	return nil
}

// Snapshot returns the resident requests ordered by id.
func (reg *Registry) Snapshot() []*Request {
	reg.mu.RLock()
	out := make([]*Request, 0, len(reg.reqs))
	for _, r := range reg.reqs {
		out = append(out, r)
	}
	reg.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of resident requests.
func (reg *Registry) Len() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.reqs)
}

// Capacity returns the slot count.
func (reg *Registry) Capacity() int {
	return reg.capacity
}

// EvictIdle drops requests that no live group owns, that are neither queued
// nor running, and that were last touched before now-age. It returns the
// evicted ids. The registry lock is taken before request locks here, so no
// caller may take the registry lock while holding a request lock.
func (reg *Registry) EvictIdle(now time.Time, age time.Duration) []int32 {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	var ids []int32
	for id, r := range reg.reqs {
		r.Lock()
		idle := !r.Owned() && !r.Destroyed && !r.State.IsActive() &&
			r.State != common.STATE_QUEUED && now.Sub(r.Touched) >= age
		r.Unlock()
		if idle {
			delete(reg.reqs, id)
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
