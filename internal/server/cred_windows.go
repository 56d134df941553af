//go:build windows

package server

import (
	"net"

	"golang.org/x/sys/windows"

	"github.com/warpdl/dlmgr/internal/session"
)

// peerCredential asks the pipe for its client's process id. Windows has no
// uid or gid, so both stay -1.
func peerCredential(conn net.Conn) (session.Credential, bool) {
	fc, ok := conn.(interface{ Fd() uintptr })
	if !ok || !isPipe(conn) {
		return session.Credential{}, false
	}
	var pid uint32
	if err := windows.GetNamedPipeClientProcessId(windows.Handle(fc.Fd()), &pid); err != nil {
		return session.Credential{}, false
	}
	return session.Credential{PID: int32(pid), UID: -1, GID: -1}, true
}
