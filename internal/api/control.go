package api

import (
	"context"
	"errors"

	"github.com/warpdl/dlmgr/internal/events"
	"github.com/warpdl/dlmgr/internal/request"
	"github.com/warpdl/dlmgr/internal/server"
)

func (s *Api) createHandler(ctx context.Context, c *server.Call) (any, error) {
	r, err := s.reg.Create(ctx, c.Group)
	if err != nil {
		return nil, err
	}
	// A failed insert is retried on the next write; the id is still valid.
	s.l.Info("api: %s: created %d for %s", c.Group.ID, r.ID, c.Group.Package)
	return r.ID, nil
}

func (s *Api) startHandler(ctx context.Context, c *server.Call) (any, error) {
	r, err := s.resolve(ctx, c)
	if err != nil {
		return nil, err
	}
	if err := r.Start(s.now()); err != nil {
		r.Unlock()
		return nil, err
	}
	saveErr := s.save(ctx, r)
	d := events.Capture(r, events.KindState)
	r.Unlock()

	s.l.Info("api: %d: queued", c.ID)
	s.deliver(ctx, d)
	s.wake()
	return nil, saveErr
}

func (s *Api) pauseHandler(ctx context.Context, c *server.Call) (any, error) {
	r, err := s.resolve(ctx, c)
	if err != nil {
		return nil, err
	}
	h, err := r.Pause(s.now())
	if err != nil {
		r.Unlock()
		return nil, err
	}
	saveErr := s.save(ctx, r)
	d := events.Capture(r, events.KindState)
	r.Unlock()

	s.engine.Suspend(h)
	s.deliver(ctx, d)
	return nil, saveErr
}

func (s *Api) cancelHandler(ctx context.Context, c *server.Call) (any, error) {
	r, err := s.resolve(ctx, c)
	if err != nil {
		return nil, err
	}
	h, err := r.Cancel(s.now())
	if err != nil {
		r.Unlock()
		return nil, err
	}
	saveErr := s.save(ctx, r)
	d := events.Capture(r, events.KindState)
	r.Unlock()

	s.l.Info("api: %d: canceled", c.ID)
	s.engine.Cancel(h)
	s.deliver(ctx, d)
	return nil, saveErr
}

// destroyHandler never fails on state. Memory stays until FREE so that
// queries racing with the teardown are still answered.
func (s *Api) destroyHandler(ctx context.Context, c *server.Call) (any, error) {
	r, err := s.resolve(ctx, c)
	if err != nil {
		return nil, err
	}
	prev := r.State
	h := r.Destroy(s.now())
	var saveErr error
	var d *events.Delivery
	if r.State != prev {
		saveErr = s.save(ctx, r)
		dd := events.Capture(r, events.KindState)
		d = &dd
	}
	r.Unlock()

	s.engine.Cancel(h)
	if d != nil {
		s.deliver(ctx, *d)
	}
	return nil, saveErr
}

func (s *Api) freeHandler(ctx context.Context, c *server.Call) (any, error) {
	r, err := s.resolve(ctx, c)
	if err != nil {
		return nil, err
	}
	r.Unlock()
	if err := s.reg.Free(ctx, r); err != nil {
		if errors.Is(err, request.ErrInvalidState) {
			return nil, err
		}
		return nil, s.storeFailed(r, "delete", err)
	}
	if s.hub != nil {
		s.hub.Forget(r.ID)
	}
	s.l.Info("api: %d: freed", c.ID)
	return nil, nil
}
