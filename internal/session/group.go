// Package session tracks connected client packages. A Group owns the command
// and event channels of one package and the set of request ids that
// reference it.
package session

import (
	"errors"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/warpdl/dlmgr/common"
)

// ErrNoEventChannel is returned by SendEvent when the group has no usable
// event channel.
var ErrNoEventChannel = errors.New("no event channel")

// eventWriteTimeout bounds a single event write so a stalled client cannot
// block the callback that produced the event.
const eventWriteTimeout = 2 * time.Second

// Credential identifies the peer process of a channel.
type Credential struct {
	PID int32
	UID int32
	GID int32
}

// Group is one connected client package.
type Group struct {
	// ID is a per-connection session id used in logs.
	ID      string
	Package string

	mu     sync.Mutex
	cred   Credential
	cmd    net.Conn
	evt    net.Conn
	evtMu  sync.Mutex
	ids    map[int32]struct{}
	closed bool
}

func newGroup(pkg string, cred Credential) *Group {
	return &Group{
		ID:      uuid.NewString(),
		Package: pkg,
		cred:    cred,
		ids:     make(map[int32]struct{}),
	}
}

// NewGroup builds a detached group. Used by tests and by the server before a
// group is registered.
func NewGroup(pkg string, cred Credential) *Group {
	return newGroup(pkg, cred)
}

// Credential returns the peer credential of the current command channel.
func (g *Group) Credential() Credential {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cred
}

// SetCredential records the peer of a new command channel.
func (g *Group) SetCredential(c Credential) {
	g.mu.Lock()
	g.cred = c
	g.mu.Unlock()
}

// Command returns the current command channel, or nil.
func (g *Group) Command() net.Conn {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cmd
}

// SetCommand replaces the command channel. The previous one is closed.
func (g *Group) SetCommand(c net.Conn) {
	g.mu.Lock()
	old := g.cmd
	g.cmd = c
	g.closed = false
	g.mu.Unlock()
	if old != nil && old != c {
		_ = old.Close()
	}
}

// SetEvent replaces the event channel. The previous one is closed.
func (g *Group) SetEvent(c net.Conn) {
	g.evtMu.Lock()
	old := g.evt
	g.evt = c
	g.evtMu.Unlock()
	if old != nil && old != c {
		_ = old.Close()
	}
}

// DropEvent closes c and clears the event channel if c is still current.
func (g *Group) DropEvent(c net.Conn) {
	g.evtMu.Lock()
	if g.evt == c {
		g.evt = nil
	}
	g.evtMu.Unlock()
	_ = c.Close()
}

// HasEvent reports whether an event channel is attached.
func (g *Group) HasEvent() bool {
	g.evtMu.Lock()
	defer g.evtMu.Unlock()
	return g.evt != nil
}

// SendEvent writes ev on the event channel. A failed write drops the
// channel; later events go out-of-band until the client reconnects.
func (g *Group) SendEvent(ev Event) error {
	g.evtMu.Lock()
	defer g.evtMu.Unlock()
	if g.evt == nil {
		return ErrNoEventChannel
	}
	_ = g.evt.SetWriteDeadline(time.Now().Add(eventWriteTimeout))
	_, err := g.evt.Write(ev.AppendBinary(make([]byte, 0, common.EventSize)))
	if err != nil {
		_ = g.evt.Close()
		g.evt = nil
		return err
	}
	_ = g.evt.SetWriteDeadline(time.Time{})
	return nil
}

// Attach records that request id references this group.
func (g *Group) Attach(id int32) {
	g.mu.Lock()
	g.ids[id] = struct{}{}
	g.mu.Unlock()
}

// Detach forgets id.
func (g *Group) Detach(id int32) {
	g.mu.Lock()
	delete(g.ids, id)
	g.mu.Unlock()
}

// IDs returns the attached request ids in ascending order.
func (g *Group) IDs() []int32 {
	g.mu.Lock()
	out := make([]int32, 0, len(g.ids))
	for id := range g.ids {
		out = append(out, id)
	}
	g.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Closed reports whether the group has been torn down.
func (g *Group) Closed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closed
}

// Close closes both channels and marks the group closed. It is safe to call
// more than once.
func (g *Group) Close() {
	g.mu.Lock()
	cmd := g.cmd
	g.cmd = nil
	g.closed = true
	g.mu.Unlock()
	if cmd != nil {
		_ = cmd.Close()
	}
	g.SetEvent(nil)
}
