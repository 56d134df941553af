//go:build !windows

package server

import (
	"net"
	"os"
)

// createListener prefers the unix socket and falls back to TCP on the
// loopback address.
func (s *Server) createListener() (net.Listener, error) {
	if s.opts.ForceTCP || s.opts.SocketPath == "" {
		return s.listenTCP()
	}
	path := s.opts.SocketPath
	_ = os.Remove(path)
	l, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		s.l.Warning("server: unix socket %s: %v, trying tcp", path, err)
		return s.listenTCP()
	}
	setSocketPermissions(path)
	s.mu.Lock()
	s.unixPath = path
	s.mu.Unlock()
	return l, nil
}
