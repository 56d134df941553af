package daemon

import (
	"context"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/warpdl/dlmgr/internal/config"
	"github.com/warpdl/dlmgr/internal/cron"
	"github.com/warpdl/dlmgr/internal/store"
	"github.com/warpdl/dlmgr/pkg/logger"
)

const rotateJob = "rotate"

// maintenance is the periodic housekeeping of the daemon: idle eviction,
// refilling the registry from the log, gauges, and log rotation.
type maintenance struct {
	c   *Components
	rec *Recovery
	cfg *config.Config
	l   logger.Logger
	now func() time.Time
}

func newMaintenance(c *Components, cfg *config.Config, l logger.Logger) *maintenance {
	if l == nil {
		l = logger.NewNopLogger()
	}
	return &maintenance{
		c:   c,
		rec: NewRecovery(c.Store, c.Registry, l),
		cfg: cfg,
		l:   l,
		now: time.Now,
	}
}

// run ticks every cfg.Queue.Tick and schedules rotation until ctx is done.
func (m *maintenance) run(ctx context.Context) error {
	jobs := cron.New(ctx, func(name string) {
		if name == rotateJob {
			m.rotate(ctx)
		}
	})
	if err := jobs.Schedule(rotateJob, m.cfg.Store.RotateSchedule, m.now()); err != nil {
		return err
	}

	t := time.NewTicker(m.cfg.Queue.Tick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			m.tick(ctx)
		}
	}
}

func (m *maintenance) tick(ctx context.Context) {
	now := m.now()
	if m.cfg.Queue.IdleEviction > 0 {
		evicted := m.c.Registry.EvictIdle(now, m.cfg.Queue.IdleEviction)
		for _, id := range evicted {
			m.c.Hub.Forget(id)
		}
		if len(evicted) > 0 {
			m.l.Debug("maintenance: evicted %d idle request(s)", len(evicted))
		}
	}
	n, err := m.rec.Refill(ctx)
	if err != nil {
		m.l.Warning("maintenance: refill: %v", err)
	} else if n > 0 {
		m.c.Queue.Wake()
	}
	m.gauges()
}

func (m *maintenance) gauges() {
	counts := make(map[string]int)
	for _, r := range m.c.Registry.Snapshot() {
		r.Lock()
		counts[r.State.String()]++
		r.Unlock()
	}
	m.c.Metrics.SetStates(counts, m.c.Registry.Len())
	m.c.Metrics.SetGroups(m.c.Groups.Len())
}

// rotate trims the log. Rows are claimed in the registry first so a
// concurrent rehydration cannot resurrect a row being deleted.
func (m *maintenance) rotate(ctx context.Context) {
	before, _ := m.c.Store.Count(ctx)
	n, err := m.c.Store.Rotate(ctx, store.RotateOptions{
		MaxRows: m.cfg.Store.MaxRows,
		MaxAge:  m.cfg.Store.MaxAge,
		Now:     m.now(),
		Claim: func(sm store.Summary) (func(), bool) {
			return m.c.Registry.Claim(sm.ID)
		},
	})
	if err != nil {
		m.c.Metrics.StoreError("rotate")
		m.l.Warning("maintenance: rotate: %v", err)
		return
	}
	if n > 0 {
		m.l.Info("maintenance: rotated %s of %s log row(s)", humanize.Comma(int64(n)), humanize.Comma(int64(before)))
	}
}
