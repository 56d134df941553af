package agent

import (
	"context"
	"net/url"
	"strings"
	"sync"

	"github.com/warpdl/dlmgr/common"
)

// Router dispatches transfers to an engine by URL scheme and remembers
// which engine owns each handle.
type Router struct {
	routes map[string]Engine

	mu     sync.Mutex
	owners map[int32]Engine
}

// NewRouter returns an empty router.
func NewRouter() *Router {
	return &Router{
		routes: make(map[string]Engine),
		owners: make(map[int32]Engine),
	}
}

// Register routes each scheme to e.
func (r *Router) Register(e Engine, schemes ...string) {
	for _, s := range schemes {
		r.routes[strings.ToLower(s)] = e
	}
}

// Schemes lists the registered schemes.
func (r *Router) Schemes() []string {
	out := make([]string, 0, len(r.routes))
	for s := range r.routes {
		out = append(out, s)
	}
	return out
}

func (r *Router) route(raw string) (Engine, error) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return nil, common.Errorf(common.ERROR_INVALID_URL, "cannot parse %q", raw)
	}
	e, ok := r.routes[strings.ToLower(u.Scheme)]
	if !ok {
		return nil, common.Errorf(common.ERROR_INVALID_URL, "unsupported scheme %q", u.Scheme)
	}
	return e, nil
}

func (r *Router) bind(h int32, e Engine) {
	r.mu.Lock()
	r.owners[h] = e
	r.mu.Unlock()
}

func (r *Router) unbind(h int32) {
	r.mu.Lock()
	delete(r.owners, h)
	r.mu.Unlock()
}

func (r *Router) owner(h int32) Engine {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.owners[h]
}

// unbinding forgets the handle once its transfer has ended.
type unbinding struct {
	Callbacks
	r *Router
}

func (u unbinding) OnPaused(id, h int32) {
	u.r.unbind(h)
	u.Callbacks.OnPaused(id, h)
}

func (u unbinding) OnFinished(id, h int32, out Outcome) {
	u.r.unbind(h)
	u.Callbacks.OnFinished(id, h, out)
}

func (r *Router) Start(ctx context.Context, h int32, job Job, cb Callbacks) error {
	e, err := r.route(job.URL)
	if err != nil {
		return err
	}
	r.bind(h, e)
	if err := e.Start(ctx, h, job, unbinding{cb, r}); err != nil {
		r.unbind(h)
		return err
	}
	return nil
}

func (r *Router) Resume(ctx context.Context, h int32, job Job, cb Callbacks) error {
	e, err := r.route(job.URL)
	if err != nil {
		return err
	}
	r.bind(h, e)
	if err := e.Resume(ctx, h, job, unbinding{cb, r}); err != nil {
		r.unbind(h)
		return err
	}
	return nil
}

func (r *Router) Suspend(h int32) error {
	e := r.owner(h)
	if e == nil {
		return ErrUnknownHandle
	}
	return e.Suspend(h)
}

func (r *Router) Cancel(h int32) error {
	e := r.owner(h)
	if e == nil {
		return nil
	}
	return e.Cancel(h)
}

func (r *Router) IsAlive(h int32) bool {
	e := r.owner(h)
	return e != nil && e.IsAlive(h)
}
