package server

import (
	"context"
	"errors"
	"sync"

	"github.com/creachadair/jrpc2"

	"github.com/warpdl/dlmgr/internal/events"
	"github.com/warpdl/dlmgr/internal/session"
	"github.com/warpdl/dlmgr/pkg/logger"
)

// Push notification methods.
const (
	MethodDownloadEvent    = "download.event"
	MethodNotificationPost = "notification.post"
)

// errNoSubscribers is returned when a push reached no client.
var errNoSubscribers = errors.New("no rpc subscribers")

// RPCNotifier maintains the set of connected jrpc2 WebSocket servers and
// broadcasts push notifications to all of them. It is the out-of-band event
// channel and the default notification service.
type RPCNotifier struct {
	mu      sync.RWMutex
	servers map[*jrpc2.Server]struct{}
	l       logger.Logger
}

// NewRPCNotifier creates an empty notifier.
func NewRPCNotifier(l logger.Logger) *RPCNotifier {
	if l == nil {
		l = logger.NewNopLogger()
	}
	return &RPCNotifier{
		servers: make(map[*jrpc2.Server]struct{}),
		l:       l,
	}
}

// Register adds a server to the broadcast set.
func (n *RPCNotifier) Register(srv *jrpc2.Server) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.servers[srv] = struct{}{}
}

// Unregister removes a server from the broadcast set.
func (n *RPCNotifier) Unregister(srv *jrpc2.Server) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.servers, srv)
}

// Broadcast pushes a notification to every registered server and returns
// how many accepted it. Servers that fail are unregistered.
func (n *RPCNotifier) Broadcast(ctx context.Context, method string, params any) int {
	n.mu.RLock()
	servers := make([]*jrpc2.Server, 0, len(n.servers))
	for srv := range n.servers {
		servers = append(servers, srv)
	}
	n.mu.RUnlock()

	sent := 0
	var failed []*jrpc2.Server
	for _, srv := range servers {
		if err := srv.Notify(ctx, method, params); err != nil {
			n.l.Debug("rpc: push %s failed: %v", method, err)
			failed = append(failed, srv)
			continue
		}
		sent++
	}
	if len(failed) > 0 {
		n.mu.Lock()
		for _, srv := range failed {
			delete(n.servers, srv)
		}
		n.mu.Unlock()
	}
	return sent
}

// StopAll stops every registered server, closing its WebSocket.
func (n *RPCNotifier) StopAll() {
	n.mu.Lock()
	servers := n.servers
	n.servers = make(map[*jrpc2.Server]struct{})
	n.mu.Unlock()
	for srv := range servers {
		srv.Stop()
	}
}

// Count returns the number of registered servers.
func (n *RPCNotifier) Count() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.servers)
}

// EventNotification is the payload of download.event.
type EventNotification struct {
	ID       int32  `json:"id"`
	Package  string `json:"package"`
	State    string `json:"state"`
	Error    string `json:"error,omitempty"`
	Received uint64 `json:"received"`
}

// PublishEvent implements events.Publisher.
func (n *RPCNotifier) PublishEvent(ctx context.Context, pkg string, ev session.Event) error {
	p := EventNotification{
		ID:       ev.ID,
		Package:  pkg,
		State:    ev.State.String(),
		Received: ev.Received,
	}
	if ev.Error != 0 {
		p.Error = ev.Error.String()
	}
	if n.Broadcast(ctx, MethodDownloadEvent, p) == 0 {
		return errNoSubscribers
	}
	return nil
}

// Post implements events.Notifier. A notification nobody listens to is
// not an error.
func (n *RPCNotifier) Post(ctx context.Context, nt events.Notification) error {
	n.Broadcast(ctx, MethodNotificationPost, nt)
	return nil
}
