//go:build !windows

package dlclient

import (
	"fmt"
	"net"

	"github.com/warpdl/dlmgr/common"
)

// dial connects to the daemon on the unix socket, falling back to TCP.
// DLMGR_FORCE_TCP uses TCP only.
func dial() (net.Conn, error) {
	if common.ForceTCP() {
		return dialFunc("tcp", tcpAddress())
	}
	path := common.SocketPath()
	debugLog("Attempting connection via Unix socket at %s", path)
	conn, unixErr := dialFunc("unix", path)
	if unixErr == nil {
		return conn, nil
	}
	debugLog("Unix socket connection failed: %v, falling back to TCP", unixErr)
	conn, err := dialFunc("tcp", tcpAddress())
	if err != nil {
		return nil, fmt.Errorf("failed to connect: unix socket error: %v; tcp error: %w", unixErr, err)
	}
	debugLog("Successfully connected via TCP fallback to %s", tcpAddress())
	return conn, nil
}

// dialURI connects to a daemon using the parsed URI.
func dialURI(uri *DaemonURI) (net.Conn, error) {
	switch uri.Scheme {
	case SchemeUnix, SchemeTCP:
		debugLog("Connecting via %s to %s", uri.Scheme, uri.Address)
		conn, err := dialFunc(uri.Scheme, uri.Address)
		if err != nil {
			return nil, fmt.Errorf("%s connection failed: %w", uri.Scheme, err)
		}
		return conn, nil
	case SchemePipe:
		return nil, ErrPipeNotSupported
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedScheme, uri.Scheme)
	}
}
