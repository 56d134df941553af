// Package agenttest provides a scriptable in-memory engine.
package agenttest

import (
	"context"
	"sort"
	"sync"

	"github.com/warpdl/dlmgr/internal/agent"
)

// Transfer is a live fake transfer.
type Transfer struct {
	H      int32
	Job    agent.Job
	Resume bool
	CB     agent.Callbacks
}

// Engine records every call and keeps transfers alive until the test ends
// them through Info, Progress, Paused or Finish.
type Engine struct {
	mu sync.Mutex
	// Max is the capacity; 0 means unlimited.
	Max int
	// Err, when set, is returned by the next Start or Resume.
	Err error
	// Hook, when set, runs inside Start and Resume before the transfer
	// goes live.
	Hook func(h int32, job agent.Job)

	live      map[int32]*Transfer
	suspended []int32
	canceled  []int32
	started   chan int32
}

// New returns an engine with no capacity limit.
func New() *Engine {
	return &Engine{
		live:    make(map[int32]*Transfer),
		started: make(chan int32, 256),
	}
}

func (e *Engine) begin(h int32, job agent.Job, cb agent.Callbacks, resume bool) error {
	e.mu.Lock()
	if err := e.Err; err != nil {
		e.Err = nil
		e.mu.Unlock()
		return err
	}
	if e.Max > 0 && len(e.live) >= e.Max {
		e.mu.Unlock()
		return agent.ErrEngineBusy
	}
	hook := e.Hook
	e.live[h] = &Transfer{H: h, Job: job, Resume: resume, CB: cb}
	e.mu.Unlock()
	if hook != nil {
		hook(h, job)
	}
	e.started <- h
	return nil
}

func (e *Engine) Start(_ context.Context, h int32, job agent.Job, cb agent.Callbacks) error {
	return e.begin(h, job, cb, false)
}

func (e *Engine) Resume(_ context.Context, h int32, job agent.Job, cb agent.Callbacks) error {
	return e.begin(h, job, cb, true)
}

func (e *Engine) Suspend(h int32) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.live[h]; !ok {
		return agent.ErrUnknownHandle
	}
	e.suspended = append(e.suspended, h)
	return nil
}

func (e *Engine) Cancel(h int32) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.live[h]; ok {
		e.canceled = append(e.canceled, h)
		delete(e.live, h)
	}
	return nil
}

func (e *Engine) IsAlive(h int32) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.live[h]
	return ok
}

// Started delivers every handle that went live, in order.
func (e *Engine) Started() <-chan int32 {
	return e.started
}

// Transfer returns the live transfer bound to h.
func (e *Engine) Transfer(h int32) *Transfer {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.live[h]
}

// Live returns the live handles in ascending order.
func (e *Engine) Live() []int32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]int32, 0, len(e.live))
	for h := range e.live {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Suspended returns the handles Suspend was called for.
func (e *Engine) Suspended() []int32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]int32(nil), e.suspended...)
}

// Canceled returns the live handles Cancel stopped.
func (e *Engine) Canceled() []int32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]int32(nil), e.canceled...)
}

// Info fires OnInfo for h.
func (e *Engine) Info(h int32, info agent.Info) {
	if t := e.Transfer(h); t != nil {
		t.CB.OnInfo(t.Job.ID, h, info)
	}
}

// Progress fires OnProgress for h.
func (e *Engine) Progress(h int32, received uint64) {
	if t := e.Transfer(h); t != nil {
		t.CB.OnProgress(t.Job.ID, h, received)
	}
}

// Paused ends h with OnPaused.
func (e *Engine) Paused(h int32) {
	if t := e.end(h); t != nil {
		t.CB.OnPaused(t.Job.ID, h)
	}
}

// Finish ends h with OnFinished.
func (e *Engine) Finish(h int32, out agent.Outcome) {
	if t := e.end(h); t != nil {
		t.CB.OnFinished(t.Job.ID, h, out)
	}
}

func (e *Engine) end(h int32) *Transfer {
	e.mu.Lock()
	defer e.mu.Unlock()
	t := e.live[h]
	delete(e.live, h)
	return t
}
