// Package netmon watches host connectivity: which network class is up,
// whether anything is reachable, and when the set of interfaces changes.
package netmon

import (
	"context"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	psnet "github.com/shirou/gopsutil/net"

	"github.com/warpdl/dlmgr/common"
	"github.com/warpdl/dlmgr/pkg/logger"
)

// Status is one connectivity snapshot.
type Status struct {
	// Type is the preferred up interface class, NETWORK_OFF when none.
	Type common.NetworkType
	// Direct reports a peer-to-peer link alongside Type.
	Direct bool
	// Fingerprint changes whenever an address is added or removed.
	Fingerprint string
}

// Reachable reports whether any routable interface is up.
func (s Status) Reachable() bool {
	return s.Type != common.NETWORK_OFF || s.Direct
}

// Allows reports whether a request constrained to nt may run now.
func (s Status) Allows(nt common.NetworkType) bool {
	switch nt {
	case common.NETWORK_ALL:
		return s.Reachable()
	case common.NETWORK_WIFI_DIRECT:
		return s.Direct
	case common.NETWORK_WIFI, common.NETWORK_DATA, common.NETWORK_ETHERNET:
		return s.Type == nt
	}
	return false
}

// Listener is told about every status change.
type Listener func(old, cur Status)

// InterfaceSource lists host interfaces.
type InterfaceSource func(ctx context.Context) ([]psnet.InterfaceStat, error)

// Monitor polls the interface list and notifies listeners on change.
type Monitor struct {
	mu         sync.RWMutex
	cur        Status
	changedAt  time.Time
	listeners  []Listener
	interfaces InterfaceSource
	poll       time.Duration
	l          logger.Logger
}

// New returns a monitor polling every poll. The first poll happens on Run
// or Refresh.
func New(poll time.Duration, l logger.Logger) *Monitor {
	if l == nil {
		l = logger.NewNopLogger()
	}
	return &Monitor{
		cur:        Status{Type: common.NETWORK_OFF},
		interfaces: psnet.InterfacesWithContext,
		poll:       poll,
		l:          l,
	}
}

// NewStatic returns a monitor pinned to st until Set is called. Used when
// polling is disabled and in tests.
func NewStatic(st Status) *Monitor {
	m := New(0, nil)
	m.interfaces = nil
	m.cur = st
	return m
}

// Subscribe registers fn for change notifications.
func (m *Monitor) Subscribe(fn Listener) {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

// Current returns the latest snapshot.
func (m *Monitor) Current() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cur
}

// ChangedSince reports whether the interface set changed after t.
func (m *Monitor) ChangedSince(t time.Time) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return !m.changedAt.IsZero() && m.changedAt.After(t)
}

// Set replaces the current status and notifies listeners if it changed.
func (m *Monitor) Set(st Status) {
	m.mu.Lock()
	old := m.cur
	if old == st {
		m.mu.Unlock()
		return
	}
	m.cur = st
	m.changedAt = time.Now()
	ls := append([]Listener(nil), m.listeners...)
	m.mu.Unlock()
	m.l.Info("netmon: network %s -> %s (direct=%t)", old.Type, st.Type, st.Direct)
	for _, fn := range ls {
		fn(old, st)
	}
}

// Refresh polls the interfaces once.
func (m *Monitor) Refresh(ctx context.Context) (Status, error) {
	if m.interfaces == nil {
		return m.Current(), nil
	}
	ifs, err := m.interfaces(ctx)
	if err != nil {
		return m.Current(), err
	}
	st := Classify(ifs)
	m.Set(st)
	return st, nil
}

// Run polls until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	if _, err := m.Refresh(ctx); err != nil {
		m.l.Warning("netmon: poll failed: %v", err)
	}
	if m.poll <= 0 || m.interfaces == nil {
		<-ctx.Done()
		return nil
	}
	t := time.NewTicker(m.poll)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if _, err := m.Refresh(ctx); err != nil {
				m.l.Warning("netmon: poll failed: %v", err)
			}
		}
	}
}

// Classify derives a status from an interface list. Ethernet is preferred
// over wifi, wifi over cellular data.
func Classify(ifs []psnet.InterfaceStat) Status {
	st := Status{Type: common.NETWORK_OFF}
	var addrs []string
	rank := 0
	for _, ifc := range ifs {
		if !hasFlag(ifc.Flags, "up") || hasFlag(ifc.Flags, "loopback") {
			continue
		}
		routable := false
		for _, a := range ifc.Addrs {
			if isRoutable(a.Addr) {
				routable = true
				addrs = append(addrs, ifc.Name+"="+a.Addr)
			}
		}
		if !routable {
			continue
		}
		nt := interfaceClass(ifc.Name)
		if nt == common.NETWORK_WIFI_DIRECT {
			st.Direct = true
			continue
		}
		if r := classRank(nt); r > rank {
			rank = r
			st.Type = nt
		}
	}
	sort.Strings(addrs)
	st.Fingerprint = strings.Join(addrs, ",")
	return st
}

func hasFlag(flags []string, want string) bool {
	for _, f := range flags {
		if f == want {
			return true
		}
	}
	return false
}

func isRoutable(cidr string) bool {
	ip, _, err := net.ParseCIDR(cidr)
	if err != nil {
		ip = net.ParseIP(cidr)
	}
	return ip != nil && !ip.IsLoopback() && !ip.IsLinkLocalUnicast() && !ip.IsUnspecified()
}

func interfaceClass(name string) common.NetworkType {
	switch {
	case strings.HasPrefix(name, "p2p"):
		return common.NETWORK_WIFI_DIRECT
	case strings.HasPrefix(name, "wl"), strings.HasPrefix(name, "wifi"):
		return common.NETWORK_WIFI
	case strings.HasPrefix(name, "wwan"), strings.HasPrefix(name, "rmnet"),
		strings.HasPrefix(name, "ppp"), strings.HasPrefix(name, "ccmni"):
		return common.NETWORK_DATA
	}
	return common.NETWORK_ETHERNET
}

func classRank(nt common.NetworkType) int {
	switch nt {
	case common.NETWORK_ETHERNET:
		return 3
	case common.NETWORK_WIFI:
		return 2
	case common.NETWORK_DATA:
		return 1
	}
	return 0
}
