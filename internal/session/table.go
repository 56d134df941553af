package session

import (
	"net"
	"sync"

	"github.com/warpdl/dlmgr/common"
)

// Table holds at most one Group per package name.
type Table struct {
	mu     sync.RWMutex
	groups map[string]*Group
}

// NewTable returns an empty group table.
func NewTable() *Table {
	return &Table{groups: make(map[string]*Group)}
}

// Attach binds conn to a group. Command channels are matched by package
// name. Event channels are matched by peer pid first, then by package name.
// A new group is created when nothing matches. created reports whether the
// group was created by this call.
func (t *Table) Attach(kind common.ChannelKind, conn net.Conn, cred Credential, pkg string) (g *Group, created bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if kind == common.ChannelEvent && cred.PID > 0 {
		for _, cand := range t.groups {
			if cand.Credential().PID == cred.PID {
				g = cand
				break
			}
		}
	}
	if g == nil {
		g = t.groups[pkg]
	}
	if g == nil {
		g = newGroup(pkg, cred)
		t.groups[pkg] = g
		created = true
	}
	switch kind {
	case common.ChannelEvent:
		g.SetEvent(conn)
	default:
		// A reconnecting package may come from a new process.
		g.SetCredential(cred)
		g.SetCommand(conn)
	}
	return g, created
}

// Lookup returns the group of pkg, or nil.
func (t *Table) Lookup(pkg string) *Group {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.groups[pkg]
}

// Remove drops g if it is still the registered group for its package.
// It reports whether g was removed.
func (t *Table) Remove(g *Group) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.groups[g.Package] != g {
		return false
	}
	delete(t.groups, g.Package)
	return true
}

// Release drops g if cmd is still its command channel, so a package that
// reconnected in the meantime keeps its group. The check and the removal
// are atomic with respect to Attach. It reports whether g was removed; the
// caller then closes g.
func (t *Table) Release(g *Group, cmd net.Conn) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if g.Command() != cmd {
		return false
	}
	if t.groups[g.Package] == g {
		delete(t.groups, g.Package)
	}
	return true
}

// Groups returns a snapshot of all groups.
func (t *Table) Groups() []*Group {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Group, 0, len(t.groups))
	for _, g := range t.groups {
		out = append(out, g)
	}
	return out
}

// Len returns the number of groups.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.groups)
}
