package server

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"path/filepath"
	"time"

	"github.com/shirou/gopsutil/process"

	"github.com/warpdl/dlmgr/common"
	"github.com/warpdl/dlmgr/internal/session"
)

type handshake struct {
	kind common.ChannelKind
	cred session.Credential
	pkg  string
}

// handshake reads the channel kind, the credentials where the transport
// cannot supply them, and the package name, then answers with a code.
// Any error is fatal for the connection.
func (s *Server) handshake(ctx context.Context, conn net.Conn, br *bufio.Reader) (hs handshake, err error) {
	_ = conn.SetDeadline(time.Now().Add(s.opts.HandshakeTimeout))
	defer func() {
		code := common.CodeOf(err, common.ERROR_PROTOCOL)
		if _, werr := conn.Write(common.AppendInt(nil, int32(code))); werr != nil && err == nil {
			err = werr
		}
		_ = conn.SetDeadline(time.Time{})
	}()

	kind, err := common.ReadInt(br)
	if err != nil {
		return hs, err
	}
	hs.kind = common.ChannelKind(kind)
	if hs.kind != common.ChannelCommand && hs.kind != common.ChannelEvent {
		return hs, common.Errorf(common.ERROR_PROTOCOL, "unknown channel kind %d", kind)
	}

	if cred, ok := peerCredential(conn); ok {
		hs.cred = cred
	} else if attested(conn) {
		hs.cred = session.Credential{PID: -1, UID: -1, GID: -1}
	} else {
		var raw [12]byte
		if _, err := io.ReadFull(br, raw[:]); err != nil {
			return hs, err
		}
		hs.cred = session.Credential{
			PID: int32(binary.LittleEndian.Uint32(raw[0:])),
			UID: int32(binary.LittleEndian.Uint32(raw[4:])),
			GID: int32(binary.LittleEndian.Uint32(raw[8:])),
		}
	}

	n, err := common.ReadInt(br)
	if err != nil {
		return hs, err
	}
	switch {
	case uint32(n) > common.MaxStringLen:
		return hs, common.Errorf(common.ERROR_INVALID_PARAMETER, "package name length %d", uint32(n))
	case n == 0:
		if hs.cred.PID <= 0 {
			return hs, common.Errorf(common.ERROR_INVALID_PARAMETER, "no package name and no peer pid")
		}
		name, err := s.packageOf(ctx, hs.cred.PID)
		if err != nil || name == "" {
			return hs, common.Errorf(common.ERROR_INVALID_PARAMETER, "package of pid %d: %v", hs.cred.PID, err)
		}
		hs.pkg = name
	default:
		buf := make([]byte, n)
		if _, err := io.ReadFull(br, buf); err != nil {
			return hs, err
		}
		hs.pkg = string(buf)
	}
	return hs, nil
}

// attested reports whether the transport identifies the peer itself. Its
// clients send no credential block.
func attested(conn net.Conn) bool {
	if _, ok := conn.(*net.UnixConn); ok {
		return true
	}
	return isPipe(conn)
}

func isPipe(conn net.Conn) bool {
	a := conn.LocalAddr()
	return a != nil && a.Network() == common.PipeNetwork
}

// processName returns the executable name of pid.
func processName(ctx context.Context, pid int32) (string, error) {
	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return "", fmt.Errorf("process %d: %w", pid, err)
	}
	name, err := p.NameWithContext(ctx)
	if err != nil {
		return "", err
	}
	return filepath.Base(name), nil
}
