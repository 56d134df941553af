package dlclient

import (
	"errors"
	"fmt"
	"net/url"
	"runtime"
	"strconv"
	"strings"

	"github.com/warpdl/dlmgr/common"
)

// DaemonURI represents a parsed daemon connection URI.
type DaemonURI struct {
	Scheme  string // "unix", "tcp" or "pipe"
	Address string // Full address for dial
}

// Supported URI schemes
const (
	SchemeUnix = "unix"
	SchemeTCP  = "tcp"
	SchemePipe = "pipe"
)

// Errors
var (
	ErrEmptyURI          = errors.New("daemon URI cannot be empty")
	ErrUnsupportedScheme = errors.New("unsupported URI scheme")
	ErrInvalidPath       = errors.New("invalid path in URI")
	ErrUnixNotSupported  = errors.New("unix:// scheme not supported on Windows")
	ErrPipeNotSupported  = errors.New("pipe:// scheme only supported on Windows")
)

// ParseDaemonURI parses a daemon URI string into a DaemonURI struct.
func ParseDaemonURI(rawURI string) (*DaemonURI, error) {
	rawURI = strings.TrimSpace(rawURI)
	if rawURI == "" {
		return nil, ErrEmptyURI
	}

	parsed, err := url.Parse(rawURI)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}

	switch strings.ToLower(parsed.Scheme) {
	case SchemeUnix:
		return parseUnixURI(parsed)
	case SchemeTCP:
		return parseTCPURI(parsed)
	case SchemePipe:
		return parsePipeURI(parsed)
	default:
		return nil, ErrUnsupportedScheme
	}
}

// parseUnixURI parses a Unix domain socket URI.
func parseUnixURI(parsed *url.URL) (*DaemonURI, error) {
	if runtime.GOOS == "windows" {
		return nil, ErrUnixNotSupported
	}

	// For unix:///path, Host is empty and Path is /path
	// For unix://relative/path, Host is "relative" (invalid)
	if parsed.Host != "" {
		return nil, ErrInvalidPath
	}
	path := parsed.Path
	if path == "" || !strings.HasPrefix(path, "/") {
		return nil, ErrInvalidPath
	}

	return &DaemonURI{
		Scheme:  SchemeUnix,
		Address: path,
	}, nil
}

// parseTCPURI parses a TCP URI. A missing port means the default port.
func parseTCPURI(parsed *url.URL) (*DaemonURI, error) {
	host := parsed.Hostname()
	if host == "" {
		return nil, ErrInvalidPath
	}

	port := parsed.Port()
	if port == "" {
		port = strconv.Itoa(common.DefaultTCPPort)
	} else {
		portNum, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid port", ErrInvalidPath)
		}
		if portNum < 1 || portNum > 65535 {
			return nil, fmt.Errorf("%w: port out of range", ErrInvalidPath)
		}
	}

	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	return &DaemonURI{
		Scheme:  SchemeTCP,
		Address: host + ":" + port,
	}, nil
}

// parsePipeURI parses a Windows named pipe URI: pipe://name.
func parsePipeURI(parsed *url.URL) (*DaemonURI, error) {
	if runtime.GOOS != "windows" {
		return nil, ErrPipeNotSupported
	}
	if parsed.Host == "" {
		return nil, ErrInvalidPath
	}
	return &DaemonURI{
		Scheme:  SchemePipe,
		Address: common.PipeAddress(parsed.Host),
	}, nil
}
