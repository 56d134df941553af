// Package common provides the wire-level enums and constants shared by the
// dlmgr daemon and its clients.
package common

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Environment variable names for configuration.
const (
	// SocketPathEnv is the environment variable for custom socket path.
	SocketPathEnv = "DLMGR_SOCKET_PATH"

	// TCPPortEnv is the environment variable for custom TCP port.
	TCPPortEnv = "DLMGR_TCP_PORT"

	// ForceTCPEnv is the environment variable to force TCP connections.
	ForceTCPEnv = "DLMGR_FORCE_TCP"

	// DebugEnv is the environment variable to enable debug logging.
	DebugEnv = "DLMGR_DEBUG"

	// PipeNameEnv names the Windows named pipe.
	PipeNameEnv = "DLMGR_PIPE_NAME"
)

// TCPHost is the loopback address used by the TCP fallback transport.
const TCPHost = "127.0.0.1"

// DefaultTCPPort is the TCP fallback port used when the unix socket is unavailable.
const DefaultTCPPort = 3859

// DefaultSocketName is the file name of the daemon socket inside the temp dir.
const DefaultSocketName = "dlmgr.sock"

// DefaultPipeName is the Windows named pipe the daemon listens on.
const DefaultPipeName = "dlmgr"

// PipeNetwork is the address network reported by named pipe connections.
const PipeNetwork = "pipe"

const pipePrefix = `\\.\pipe\`

// PipeAddress returns the full pipe path for name. A name already carrying
// the \\.\pipe\ prefix is returned as is; an empty one means the default.
func PipeAddress(name string) string {
	if name == "" {
		name = DefaultPipeName
	}
	if strings.HasPrefix(name, pipePrefix) {
		return name
	}
	return pipePrefix + name
}

// PipePath returns the daemon pipe path, honoring PipeNameEnv.
func PipePath() string {
	return PipeAddress(os.Getenv(PipeNameEnv))
}

// SocketPath returns the daemon socket path, honoring SocketPathEnv.
func SocketPath() string {
	if p := os.Getenv(SocketPathEnv); p != "" {
		return p
	}
	return filepath.Join(os.TempDir(), DefaultSocketName)
}

// TCPPort returns the fallback port, honoring TCPPortEnv.
func TCPPort() int {
	if v := os.Getenv(TCPPortEnv); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 && p < 65536 {
			return p
		}
	}
	return DefaultTCPPort
}

// ForceTCP reports whether ForceTCPEnv asks for the TCP transport.
func ForceTCP() bool {
	v, _ := strconv.ParseBool(os.Getenv(ForceTCPEnv))
	return v
}
