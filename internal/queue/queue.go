// Package queue is the admission scheduler. It runs on its own goroutine,
// parked until woken, and starts as many QUEUED requests as the concurrency
// ceiling and the current network allow.
package queue

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/warpdl/dlmgr/common"
	"github.com/warpdl/dlmgr/internal/agent"
	"github.com/warpdl/dlmgr/internal/netmon"
	"github.com/warpdl/dlmgr/internal/request"
	"github.com/warpdl/dlmgr/pkg/logger"
)

// Launcher starts admitted requests. *agent.Bridge implements it.
type Launcher interface {
	NextHandle() int32
	Launch(ctx context.Context, r *request.Request, h int32) error
}

// Scheduler admits queued requests.
type Scheduler struct {
	reg      *request.Registry
	launcher Launcher
	net      *netmon.Monitor
	max      int
	l        logger.Logger
	now      func() time.Time

	wake    chan struct{}
	workers sync.WaitGroup
}

// New returns a scheduler that keeps at most max requests running. It
// wakes itself on every network change.
func New(reg *request.Registry, launcher Launcher, nm *netmon.Monitor, max int, l logger.Logger) *Scheduler {
	if l == nil {
		l = logger.NewNopLogger()
	}
	s := &Scheduler{
		reg:      reg,
		launcher: launcher,
		net:      nm,
		max:      max,
		l:        l,
		now:      time.Now,
		wake:     make(chan struct{}, 1),
	}
	nm.Subscribe(func(_, _ netmon.Status) { s.Wake() })
	return s
}

// Wake asks for a scheduling pass. It never blocks; wake-ups coalesce.
func (s *Scheduler) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run parks until woken and then runs a pass, until ctx is done. It waits
// for in-flight launches before returning.
func (s *Scheduler) Run(ctx context.Context) error {
	defer s.workers.Wait()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.wake:
			s.Pass(ctx)
		}
	}
}

// Wait blocks until every launch worker has returned.
func (s *Scheduler) Wait() {
	s.workers.Wait()
}

type candidate struct {
	r        *request.Request
	pkg      string
	nt       common.NetworkType
	queuedAt time.Time
}

// Pass runs one admission pass and returns the number of requests admitted.
func (s *Scheduler) Pass(ctx context.Context) int {
	var queued []candidate
	active := 0
	for _, r := range s.reg.Snapshot() {
		r.Lock()
		switch {
		case r.State.IsActive():
			active++
		case r.State == common.STATE_QUEUED && !r.Destroyed:
			queued = append(queued, candidate{r: r, pkg: r.Package, nt: r.NetworkType, queuedAt: r.QueuedAt})
		}
		r.Unlock()
	}
	free := s.max - active
	if free <= 0 || len(queued) == 0 {
		return 0
	}

	st := s.net.Current()
	oldestFirst := func(c []candidate) {
		sort.SliceStable(c, func(i, j int) bool { return c[i].queuedAt.Before(c[j].queuedAt) })
	}

	// A package with a single pending request is never starved behind a
	// package with many.
	var lone []candidate
	for _, group := range lo.GroupBy(queued, func(c candidate) string { return c.pkg }) {
		if len(group) == 1 && st.Allows(group[0].nt) {
			lone = append(lone, group[0])
		}
	}
	oldestFirst(lone)

	started := 0
	taken := make(map[int32]bool)
	for _, c := range lone {
		if started == free {
			break
		}
		if s.admit(ctx, c.r) {
			started++
		}
		taken[c.r.ID] = true
	}

	rest := lo.Filter(queued, func(c candidate, _ int) bool {
		return !taken[c.r.ID] && st.Allows(c.nt)
	})
	oldestFirst(rest)
	if st.Direct {
		// Drain the peer-to-peer class while the link is up.
		sort.SliceStable(rest, func(i, j int) bool {
			return rest[i].nt == common.NETWORK_WIFI_DIRECT && rest[j].nt != common.NETWORK_WIFI_DIRECT
		})
	}
	for _, c := range rest {
		if started == free {
			break
		}
		if s.admit(ctx, c.r) {
			started++
		}
	}
	if started > 0 {
		s.l.Debug("queue: admitted %d (active %d, max %d)", started, active+started, s.max)
	}
	return started
}

// admit claims r under its lock and hands it to a launch worker.
func (s *Scheduler) admit(ctx context.Context, r *request.Request) bool {
	h := s.launcher.NextHandle()
	r.Lock()
	ok := r.Admit(h, s.now())
	r.Unlock()
	if !ok {
		return false
	}
	s.workers.Add(1)
	go func() {
		defer s.workers.Done()
		err := s.launcher.Launch(ctx, r, h)
		if errors.Is(err, agent.ErrEngineBusy) {
			// The engine wakes us again when a slot frees up.
			s.l.Debug("queue: engine busy, %d stays queued", r.ID)
		}
	}()
	return true
}
