//go:build !linux && !windows

package server

import (
	"net"

	"github.com/warpdl/dlmgr/internal/session"
)

func peerCredential(net.Conn) (session.Credential, bool) {
	return session.Credential{}, false
}
