package api

import (
	"context"
	"time"

	"github.com/warpdl/dlmgr/common"
	"github.com/warpdl/dlmgr/internal/events"
	"github.com/warpdl/dlmgr/internal/session"
)

// teardownTimeout bounds the log writes made while a group goes away.
const teardownTimeout = 5 * time.Second

// GroupClosed runs after g lost its command channel. Requests whose row is
// logged are detached and keep going unowned. A queued or running request
// that never reached the log is failed, unless it asked for auto-download
// and the insert now succeeds.
func (s *Api) GroupClosed(g *session.Group) {
	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()

	var detached, failed int
	for _, id := range g.IDs() {
		g.Detach(id)
		r := s.reg.Lookup(id)
		if r == nil {
			continue
		}
		r.Lock()
		if r.Group != g {
			r.Unlock()
			continue
		}
		r.Group = nil
		running := r.State == common.STATE_QUEUED || r.State.IsActive()
		if !running || r.Persisted || r.Destroyed {
			r.Unlock()
			detached++
			continue
		}
		if r.AutoDownload && s.save(ctx, r) == nil {
			r.Unlock()
			detached++
			continue
		}
		h, _ := r.Abandon(s.now())
		d := events.Capture(r, events.KindState)
		r.Unlock()

		failed++
		s.l.Warning("api: %d: owner %s gone before the request was logged", id, g.Package)
		s.engine.Cancel(h)
		s.deliver(ctx, d)
	}
	if detached+failed > 0 {
		s.l.Info("api: group %s (%s) closed: %d detached, %d failed", g.ID, g.Package, detached, failed)
	}
}
