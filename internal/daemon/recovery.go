package daemon

import (
	"context"
	"errors"
	"time"

	"github.com/warpdl/dlmgr/common"
	"github.com/warpdl/dlmgr/internal/request"
	"github.com/warpdl/dlmgr/internal/store"
	"github.com/warpdl/dlmgr/pkg/logger"
)

// pendingStates are the logged states that need the daemon to make
// progress. Only QUEUED survives a clean shutdown; the others are left by
// a crash.
var pendingStates = []common.State{
	common.STATE_QUEUED,
	common.STATE_CONNECTING,
	common.STATE_DOWNLOADING,
	common.STATE_PAUSE_REQUESTED,
}

// Recovery loads logged work back into the registry.
type Recovery struct {
	log *store.Store
	reg *request.Registry
	l   logger.Logger
	now func() time.Time
}

func NewRecovery(log *store.Store, reg *request.Registry, l logger.Logger) *Recovery {
	if l == nil {
		l = logger.NewNopLogger()
	}
	return &Recovery{log: log, reg: reg, l: l, now: time.Now}
}

// Boot rehydrates every pending row. Rows the previous process left bound
// to an engine handle are re-queued with their partial result, and an
// unfinished pause is settled as PAUSED. It returns how many requests are
// now queued.
func (rc *Recovery) Boot(ctx context.Context) (int, error) {
	return rc.load(ctx, pendingStates...)
}

// Refill rehydrates QUEUED rows that did not fit in the registry before.
// Resident requests are left alone.
func (rc *Recovery) Refill(ctx context.Context) (int, error) {
	return rc.load(ctx, common.STATE_QUEUED)
}

func (rc *Recovery) load(ctx context.Context, states ...common.State) (int, error) {
	rows, err := rc.log.LoadByState(ctx, states...)
	if err != nil {
		return 0, err
	}
	queued := 0
	for _, sm := range rows {
		if rc.reg.Lookup(sm.ID) != nil {
			continue
		}
		r, err := rc.reg.Get(ctx, sm.ID)
		if errors.Is(err, request.ErrQueueFull) {
			rc.l.Debug("recovery: registry full, %d row(s) stay in the log", len(rows))
			break
		}
		if err != nil {
			rc.l.Warning("recovery: %d: %v", sm.ID, err)
			continue
		}
		r.Lock()
		if _, changed := r.Interrupt(rc.now()); changed {
			rc.l.Info("recovery: %d: %s after restart", r.ID, r.State)
			if err := rc.reg.Persist(ctx, r); err != nil {
				rc.l.Warning("recovery: %d: persist: %v", r.ID, err)
			}
		}
		if r.State == common.STATE_QUEUED {
			queued++
		}
		r.Unlock()
	}
	return queued, nil
}
