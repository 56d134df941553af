package server

import (
	"fmt"
	"net"

	"github.com/warpdl/dlmgr/common"
)

func (s *Server) listenTCP() (net.Listener, error) {
	port := s.opts.TCPPort
	if port == 0 {
		port = common.DefaultTCPPort
	}
	l, err := net.Listen("tcp", fmt.Sprintf("%s:%d", common.TCPHost, port))
	if err != nil {
		return nil, fmt.Errorf("error listening: %w", err)
	}
	return l, nil
}
