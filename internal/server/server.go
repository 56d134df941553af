// Package server accepts client connections on the daemon socket, binds
// each one to the group of its package, and runs the per-connection
// command loop. It also hosts the JSON-RPC monitoring side channel.
package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/warpdl/dlmgr/common"
	"github.com/warpdl/dlmgr/internal/metrics"
	"github.com/warpdl/dlmgr/internal/session"
	"github.com/warpdl/dlmgr/pkg/logger"
)

// DefaultHandshakeTimeout bounds the handshake of a new connection.
const DefaultHandshakeTimeout = 5 * time.Second

var errDesync = errors.New("command out of range")

// Options configures the listener.
type Options struct {
	SocketPath string
	// PipePath is the named pipe listened on under Windows.
	PipePath string
	TCPPort  int
	// ForceTCP skips the unix socket and the named pipe.
	ForceTCP         bool
	HandshakeTimeout time.Duration
}

// Server dispatches command frames to registered handlers.
type Server struct {
	l       logger.Logger
	opts    Options
	groups  *session.Table
	handler map[common.Command]HandlerFunc
	metrics *metrics.Metrics
	// packageOf names the executable of pid for handshakes that omit the
	// package name.
	packageOf func(ctx context.Context, pid int32) (string, error)

	mu       sync.Mutex
	listener net.Listener
	unixPath string
	conns    map[net.Conn]struct{}
	wg       sync.WaitGroup

	// OnGroupClosed runs once for every group torn down after a channel
	// failure. It is set before Start.
	OnGroupClosed func(g *session.Group)
}

// NewServer returns a server registering groups in groups. m may be nil.
func NewServer(opts Options, groups *session.Table, m *metrics.Metrics, l logger.Logger) *Server {
	if l == nil {
		l = logger.NewNopLogger()
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = DefaultHandshakeTimeout
	}
	return &Server{
		l:         l,
		opts:      opts,
		groups:    groups,
		handler:   make(map[common.Command]HandlerFunc),
		metrics:   m,
		packageOf: processName,
		conns:     make(map[net.Conn]struct{}),
	}
}

// RegisterHandler associates a handler with a command.
func (s *Server) RegisterHandler(cmd common.Command, h HandlerFunc) {
	s.handler[cmd] = h
}

// Groups returns the group table.
func (s *Server) Groups() *session.Table {
	return s.groups
}

// Addr returns the listening address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Start listens on the unix socket, or on TCP when that fails, and serves
// until ctx is canceled.
func (s *Server) Start(ctx context.Context) error {
	l, err := s.createListener()
	if err != nil {
		return err
	}
	return s.Serve(ctx, l)
}

// Serve accepts connections on l until ctx is canceled. Each connection is
// handled in its own goroutine.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()
	s.l.Info("server: listening on %s", l.Addr())

	go func() {
		<-ctx.Done()
		_ = s.Shutdown()
	}()

	for {
		conn, err := l.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				s.wg.Wait()
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				s.wg.Wait()
				return nil
			}
			s.l.Warning("server: accept: %v", err)
			continue
		}
		if !s.track(conn) {
			_ = conn.Close()
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(conn)
			s.handleConnection(ctx, conn)
		}()
	}
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conns == nil {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	if s.conns != nil {
		delete(s.conns, conn)
	}
	s.mu.Unlock()
}

// Shutdown closes the listener and every open connection and removes the
// socket file. It is safe to call more than once.
func (s *Server) Shutdown() error {
	s.mu.Lock()
	l := s.listener
	s.listener = nil
	conns := s.conns
	s.conns = nil
	path := s.unixPath
	s.unixPath = ""
	s.mu.Unlock()

	if l != nil {
		if err := l.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.l.Warning("server: closing listener: %v", err)
		}
	}
	for c := range conns {
		_ = c.Close()
	}
	if path != "" {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			s.l.Warning("server: removing socket file: %v", err)
		}
	}
	return nil
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	br := bufio.NewReader(conn)
	hs, err := s.handshake(ctx, conn, br)
	if err != nil {
		s.l.Warning("server: handshake from %s: %v", conn.RemoteAddr(), err)
		_ = conn.Close()
		return
	}
	g, created := s.groups.Attach(hs.kind, conn, hs.cred, hs.pkg)
	if created {
		s.l.Info("server: %s: new group for %s (pid %d)", g.ID, g.Package, hs.cred.PID)
	}
	s.metrics.SetGroups(s.groups.Len())

	if hs.kind == common.ChannelEvent {
		// Clients never write on the event channel; reading only detects
		// the hang-up.
		_, _ = io.Copy(io.Discard, br)
		g.DropEvent(conn)
		if g.Command() == nil {
			s.teardown(g, nil)
		}
		return
	}

	err = s.serveCommands(ctx, g, conn, br)
	switch {
	case err == nil, errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
		s.l.Info("server: %s: %s disconnected", g.ID, g.Package)
	default:
		s.l.Warning("server: %s: %s: %v", g.ID, g.Package, err)
	}
	_ = conn.Close()
	s.teardown(g, conn)
}

// teardown removes g unless its package reconnected on a new command
// channel meanwhile.
func (s *Server) teardown(g *session.Group, cmd net.Conn) {
	if !s.groups.Release(g, cmd) {
		return
	}
	g.Close()
	s.metrics.SetGroups(s.groups.Len())
	if s.OnGroupClosed != nil {
		s.OnGroupClosed(g)
	}
}

// serveCommands reads one frame at a time and replies before reading the
// next. It returns when the channel fails or the stream desynchronizes.
func (s *Server) serveCommands(ctx context.Context, g *session.Group, conn net.Conn, br *bufio.Reader) error {
	var out []byte
	for {
		hdr, err := common.ReadHeader(br)
		if err != nil {
			return err
		}
		if !hdr.Cmd.Valid() {
			return fmt.Errorf("%w: %d", errDesync, int32(hdr.Cmd))
		}
		tail, err := common.ReadTail(br, hdr.Cmd.Tail())
		var v any
		switch {
		case errors.Is(err, common.ErrMalformed):
			s.l.Debug("server: %s: %s on %d: %v", g.ID, hdr.Cmd, hdr.ID, err)
		case err != nil:
			return err
		default:
			v, err = s.dispatch(ctx, &Call{Group: g, ID: hdr.ID, Cmd: hdr.Cmd, Tail: tail})
		}
		code := common.CodeOf(err, common.ERROR_IO_ERROR)
		s.metrics.Command(hdr.Cmd.String(), code.String())
		out, err = common.AppendReply(out[:0], code, hdr.Cmd.Value(), v)
		if err != nil {
			s.l.Error("server: %s: %s on %d: %v", g.ID, hdr.Cmd, hdr.ID, err)
			out, _ = common.AppendReply(out[:0], common.ERROR_IO_ERROR, hdr.Cmd.Value(), nil)
		}
		if _, err := conn.Write(out); err != nil {
			return err
		}
	}
}

func (s *Server) dispatch(ctx context.Context, c *Call) (any, error) {
	h, ok := s.handler[c.Cmd]
	if !ok {
		return nil, common.Errorf(common.ERROR_PROTOCOL, "no handler for %s", c.Cmd)
	}
	return h(ctx, c)
}
