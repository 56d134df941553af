package cron

import (
	"container/heap"
	"context"
	"time"

	"github.com/adhocore/gronx"
)

const maxSleepCap = 60 * time.Second

// Event is one pending run of a named job.
type Event struct {
	Name string
	At   time.Time
	// Expr re-arms the job after it fires. Empty means one-shot.
	Expr string
}

// Scheduler fires events on a background goroutine and calls onTrigger with
// the event name. onTrigger runs on that goroutine, so a slow job delays
// the ones after it.
type Scheduler struct {
	addChan    chan Event
	removeChan chan string
	ctx        context.Context
	now        func() time.Time
}

// New starts a scheduler that stops when ctx is done.
func New(ctx context.Context, onTrigger func(name string)) *Scheduler {
	s := &Scheduler{
		addChan:    make(chan Event, 16),
		removeChan: make(chan string, 16),
		ctx:        ctx,
		now:        time.Now,
	}
	go s.run(onTrigger)
	return s
}

// Add enqueues an event.
func (s *Scheduler) Add(e Event) {
	select {
	case s.addChan <- e:
	case <-s.ctx.Done():
	}
}

// Schedule registers a recurring job named name on the cron expression
// expr, first firing at the next occurrence after now.
func (s *Scheduler) Schedule(name, expr string, now time.Time) error {
	next, err := Next(expr, now)
	if err != nil {
		return err
	}
	s.Add(Event{Name: name, At: next, Expr: expr})
	return nil
}

// Remove cancels every pending event named name.
func (s *Scheduler) Remove(name string) {
	select {
	case s.removeChan <- name:
	case <-s.ctx.Done():
	}
}

func (s *Scheduler) run(onTrigger func(string)) {
	h := &eventHeap{}
	heap.Init(h)

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	resetTimer := func() <-chan time.Time {
		if timer != nil {
			timer.Stop()
		}
		if h.Len() == 0 {
			return nil
		}
		dur := (*h)[0].At.Sub(s.now())
		if dur > maxSleepCap {
			dur = maxSleepCap
		}
		if dur < 0 {
			dur = 0
		}
		timer = time.NewTimer(dur)
		return timer.C
	}

	timerCh := resetTimer()
	for {
		select {
		case <-s.ctx.Done():
			return

		case e := <-s.addChan:
			heapPush(h, e)
			timerCh = resetTimer()

		case name := <-s.removeChan:
			heapRemove(h, name)
			timerCh = resetTimer()

		case <-timerCh:
			now := s.now()
			for h.Len() > 0 && !(*h)[0].At.After(now) {
				e := heapPop(h)
				onTrigger(e.Name)
				if e.Expr == "" {
					continue
				}
				if next, err := Next(e.Expr, s.now()); err == nil {
					heapPush(h, Event{Name: e.Name, At: next, Expr: e.Expr})
				}
			}
			timerCh = resetTimer()
		}
	}
}

// Next returns the first time expr fires strictly after start.
func Next(expr string, start time.Time) (time.Time, error) {
	return gronx.NextTickAfter(expr, start, false)
}
