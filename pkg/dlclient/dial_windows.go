//go:build windows

package dlclient

import (
	"context"
	"fmt"
	"net"

	"github.com/Microsoft/go-winio"

	"github.com/warpdl/dlmgr/common"
)

// dialPipeFunc is swapped out by tests.
var dialPipeFunc = func(path string) (net.Conn, error) {
	ctx, cancel := context.WithTimeout(context.Background(), DefaultDialTimeout)
	defer cancel()
	return winio.DialPipeContext(ctx, path)
}

// dial connects to the daemon on the named pipe, falling back to TCP.
// DLMGR_FORCE_TCP uses TCP only.
func dial() (net.Conn, error) {
	if common.ForceTCP() {
		return dialFunc("tcp", tcpAddress())
	}
	path := common.PipePath()
	debugLog("Attempting connection via named pipe at %s", path)
	conn, pipeErr := dialPipeFunc(path)
	if pipeErr == nil {
		return conn, nil
	}
	debugLog("Named pipe connection failed: %v, falling back to TCP", pipeErr)
	conn, err := dialFunc("tcp", tcpAddress())
	if err != nil {
		return nil, fmt.Errorf("failed to connect: named pipe error: %v; tcp error: %w", pipeErr, err)
	}
	debugLog("Successfully connected via TCP fallback to %s", tcpAddress())
	return conn, nil
}

// dialURI connects to a daemon using the parsed URI.
func dialURI(uri *DaemonURI) (net.Conn, error) {
	switch uri.Scheme {
	case SchemePipe:
		debugLog("Connecting via named pipe to %s", uri.Address)
		conn, err := dialPipeFunc(uri.Address)
		if err != nil {
			return nil, fmt.Errorf("named pipe connection failed: %w", err)
		}
		return conn, nil
	case SchemeTCP:
		debugLog("Connecting via TCP to %s", uri.Address)
		conn, err := dialFunc("tcp", uri.Address)
		if err != nil {
			return nil, fmt.Errorf("tcp connection failed: %w", err)
		}
		return conn, nil
	case SchemeUnix:
		return nil, ErrUnixNotSupported
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedScheme, uri.Scheme)
	}
}
