// Package events delivers request state and progress changes to clients.
//
// Events go to the owning group's event channel. When that channel is gone
// or broken the event is published out-of-band instead. Progress events are
// throttled per request; state events are never throttled.
package events

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/warpdl/dlmgr/common"
	"github.com/warpdl/dlmgr/internal/request"
	"github.com/warpdl/dlmgr/internal/session"
	"github.com/warpdl/dlmgr/pkg/logger"
)

// Kind selects the delivery rules.
type Kind int

const (
	KindState Kind = iota
	KindProgress
)

// Publisher is the out-of-band channel.
type Publisher interface {
	PublishEvent(ctx context.Context, pkg string, ev session.Event) error
}

// Notification is a user-facing notice about a request.
type Notification struct {
	ID          int32               `json:"id"`
	Package     string              `json:"package"`
	State       common.State        `json:"state"`
	Error       common.ErrorCode    `json:"error"`
	Kind        common.BundleKind   `json:"kind"`
	Title       string              `json:"title,omitempty"`
	Description string              `json:"description,omitempty"`
	Bundle      []byte              `json:"bundle,omitempty"`
	Extras      map[string][]string `json:"extras,omitempty"`
	Received    uint64              `json:"received"`
	Total       uint64              `json:"total"`
}

// Notifier posts notifications.
type Notifier interface {
	Post(ctx context.Context, n Notification) error
}

// Delivery is an event captured under the request lock, sent after it is
// released.
type Delivery struct {
	Kind             Kind
	Event            session.Event
	Package          string
	Group            *session.Group
	StateCallback    bool
	ProgressCallback bool
	Notification     *Notification
}

// Capture snapshots what Deliver needs. The caller holds r's lock.
func Capture(r *request.Request, kind Kind) Delivery {
	d := Delivery{
		Kind:             kind,
		Event:            r.Event(),
		Package:          r.Package,
		StateCallback:    r.StateCallback,
		ProgressCallback: r.ProgressCallback,
	}
	if r.Owned() {
		d.Group = r.Group
	}
	if kind == KindState {
		d.Notification = notificationFor(r)
	}
	return d
}

func notificationFor(r *request.Request) *Notification {
	kind := common.BUNDLE_ONGOING
	switch r.State {
	case common.STATE_COMPLETED:
		kind = common.BUNDLE_COMPLETE
	case common.STATE_FAILED:
		kind = common.BUNDLE_FAILED
	}
	switch r.NotificationType {
	case common.NOTIFY_ALL:
		if r.State == common.STATE_CANCELED {
			return nil
		}
	case common.NOTIFY_COMPLETE_ONLY:
		if kind == common.BUNDLE_ONGOING {
			return nil
		}
	default:
		return nil
	}
	n := &Notification{
		ID:          r.ID,
		Package:     r.Package,
		State:       r.State,
		Error:       r.Err,
		Kind:        kind,
		Title:       r.Title,
		Description: r.Description,
		Received:    r.Result.Received,
		Total:       r.Result.Total,
	}
	if b, ok := r.Bundles[kind]; ok {
		n.Bundle = append([]byte(nil), b...)
	}
	if len(r.Extras) > 0 {
		n.Extras = make(map[string][]string, len(r.Extras))
		for k, v := range r.Extras {
			n.Extras[k] = append([]string(nil), v...)
		}
	}
	return n
}

// Stats counts hub outcomes.
type Stats struct {
	Sent, Fallback, Throttled, Dropped uint64
}

// Hub fans events out.
type Hub struct {
	interval  time.Duration
	publisher Publisher
	notifier  Notifier
	l         logger.Logger

	mu       sync.Mutex
	limiters map[int32]*rate.Limiter
	stats    Stats
	// OnDrop is called for every event that reached neither channel.
	OnDrop func()
}

// NewHub returns a hub that allows one progress event per interval and per
// request. publisher and notifier may be nil.
func NewHub(interval time.Duration, publisher Publisher, notifier Notifier, l logger.Logger) *Hub {
	if l == nil {
		l = logger.NewNopLogger()
	}
	return &Hub{
		interval:  interval,
		publisher: publisher,
		notifier:  notifier,
		l:         l,
		limiters:  make(map[int32]*rate.Limiter),
	}
}

// SetPublisher replaces the out-of-band channel.
func (h *Hub) SetPublisher(p Publisher) {
	h.mu.Lock()
	h.publisher = p
	h.mu.Unlock()
}

// SetNotifier replaces the notification service.
func (h *Hub) SetNotifier(n Notifier) {
	h.mu.Lock()
	h.notifier = n
	h.mu.Unlock()
}

// Deliver sends d. It must not be called with a request lock held.
func (h *Hub) Deliver(ctx context.Context, d Delivery) {
	if d.Notification != nil {
		h.post(ctx, *d.Notification)
	}
	switch d.Kind {
	case KindProgress:
		if !d.ProgressCallback {
			return
		}
		if !h.allow(d.Event.ID) {
			h.count(func(s *Stats) { s.Throttled++ })
			return
		}
	case KindState:
		// Detached requests still report their outcome out-of-band.
		if !d.StateCallback && !(d.Group == nil && d.Event.State.IsTerminal()) {
			return
		}
		if d.Event.State.IsTerminal() {
			h.Forget(d.Event.ID)
		}
	}
	if d.Group != nil {
		err := d.Group.SendEvent(d.Event)
		if err == nil {
			h.count(func(s *Stats) { s.Sent++ })
			return
		}
		if err != session.ErrNoEventChannel {
			h.l.Warning("events: %s: send %s: %v", d.Group.ID, d.Event, err)
		}
	}
	h.mu.Lock()
	pub := h.publisher
	h.mu.Unlock()
	if pub != nil {
		err := pub.PublishEvent(ctx, d.Package, d.Event)
		if err == nil {
			h.count(func(s *Stats) { s.Fallback++ })
			return
		}
		h.l.Debug("events: out-of-band %s: %v", d.Event, err)
	}
	h.count(func(s *Stats) { s.Dropped++ })
	if h.OnDrop != nil {
		h.OnDrop()
	}
}

func (h *Hub) post(ctx context.Context, n Notification) {
	h.mu.Lock()
	nf := h.notifier
	h.mu.Unlock()
	if nf == nil {
		return
	}
	if err := nf.Post(ctx, n); err != nil {
		h.l.Warning("events: notification for %d: %v", n.ID, err)
	}
}

func (h *Hub) allow(id int32) bool {
	if h.interval <= 0 {
		return true
	}
	h.mu.Lock()
	lim, ok := h.limiters[id]
	if !ok {
		lim = rate.NewLimiter(rate.Every(h.interval), 1)
		h.limiters[id] = lim
	}
	h.mu.Unlock()
	return lim.Allow()
}

// Forget drops the throttle state of id.
func (h *Hub) Forget(id int32) {
	h.mu.Lock()
	delete(h.limiters, id)
	h.mu.Unlock()
}

func (h *Hub) count(fn func(*Stats)) {
	h.mu.Lock()
	fn(&h.stats)
	h.mu.Unlock()
}

// Stats returns a copy of the counters.
func (h *Hub) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stats
}
