package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/warpdl/dlmgr/internal/metrics"
	"github.com/warpdl/dlmgr/pkg/logger"
)

// WebServer serves the monitoring side channel: JSON-RPC over WebSocket at
// /rpc, JSON-RPC over HTTP POST at /rpc/http, and metrics at /metrics.
type WebServer struct {
	addr    string
	l       logger.Logger
	rpc     *RPCServer
	metrics *metrics.Metrics
	server  *http.Server
	closed  bool
	mu      sync.Mutex
}

// NewWebServer returns a server for addr. rpc and m may be nil.
func NewWebServer(addr string, rpc *RPCServer, m *metrics.Metrics, l logger.Logger) *WebServer {
	if l == nil {
		l = logger.NewNopLogger()
	}
	return &WebServer{addr: addr, l: l, rpc: rpc, metrics: m}
}

func (s *WebServer) handler() http.Handler {
	mux := http.NewServeMux()
	if s.rpc != nil && s.rpc.secret != "" {
		mux.Handle("/rpc", requireToken(s.rpc.secret, http.HandlerFunc(s.rpc.serveWS)))
		mux.Handle("/rpc/http", requireToken(s.rpc.secret, s.rpc.bridge))
	}
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}
	return mux
}

// Start listens and serves until Shutdown.
func (s *WebServer) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve serves on ln until Shutdown.
func (s *WebServer) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ln.Close()
	}
	s.server = &http.Server{
		Handler:           s.handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.server
	s.mu.Unlock()
	s.l.Info("web: listening on %s", ln.Addr())

	err := srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the web server.
func (s *WebServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
