//go:build linux

package server

import (
	"net"

	"golang.org/x/sys/unix"

	"github.com/warpdl/dlmgr/internal/session"
)

// peerCredential reads SO_PEERCRED from a unix socket connection.
func peerCredential(conn net.Conn) (session.Credential, bool) {
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		return session.Credential{}, false
	}
	raw, err := uc.SyscallConn()
	if err != nil {
		return session.Credential{}, false
	}
	var (
		cred *unix.Ucred
		serr error
	)
	err = raw.Control(func(fd uintptr) {
		cred, serr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if err != nil || serr != nil {
		return session.Credential{}, false
	}
	return session.Credential{PID: cred.Pid, UID: int32(cred.Uid), GID: int32(cred.Gid)}, true
}
