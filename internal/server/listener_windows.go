//go:build windows

package server

import (
	"net"

	"github.com/Microsoft/go-winio"
)

// pipeSecurityDescriptor grants full access to SYSTEM, the built-in
// administrators and the user running the daemon, and nobody else.
const pipeSecurityDescriptor = "D:(A;;GA;;;SY)(A;;GA;;;BA)(A;;GA;;;CO)"

// createListener prefers the named pipe and falls back to TCP on the
// loopback address.
func (s *Server) createListener() (net.Listener, error) {
	if s.opts.ForceTCP || s.opts.PipePath == "" {
		return s.listenTCP()
	}
	l, err := winio.ListenPipe(s.opts.PipePath, &winio.PipeConfig{
		SecurityDescriptor: pipeSecurityDescriptor,
	})
	if err != nil {
		s.l.Warning("server: named pipe %s: %v, trying tcp", s.opts.PipePath, err)
		return s.listenTCP()
	}
	return l, nil
}
