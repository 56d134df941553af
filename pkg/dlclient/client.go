// Package dlclient speaks the dlmgr binary protocol. A Client owns one
// command channel; an Events value owns the matching event channel.
package dlclient

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"

	"github.com/warpdl/dlmgr/common"
)

// Options selects how a client reaches the daemon.
type Options struct {
	// URI overrides the default transport, e.g. "unix:///tmp/dlmgr.sock"
	// or "tcp://127.0.0.1:3859".
	URI string
	// Package is the name the daemon files requests under. Empty means
	// the executable name.
	Package string
	// AutoStart spawns the daemon when nothing is listening. Ignored when
	// URI is set.
	AutoStart bool
}

// Client is a command channel. Calls are serialized.
type Client struct {
	mu   sync.Mutex
	conn net.Conn
	br   *bufio.Reader
	pkg  string
	opts Options
}

// NewClient connects a command channel.
func NewClient(opts Options) (*Client, error) {
	if opts.Package == "" {
		opts.Package = defaultPackage()
	}
	conn, err := connect(opts, common.ChannelCommand)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn, br: bufio.NewReader(conn), pkg: opts.Package, opts: opts}, nil
}

// NewClientConn runs the command-channel handshake on an established
// connection.
func NewClientConn(conn net.Conn, pkg string) (*Client, error) {
	if err := handshake(conn, common.ChannelCommand, pkg); err != nil {
		conn.Close()
		return nil, err
	}
	return &Client{conn: conn, br: bufio.NewReader(conn), pkg: pkg}, nil
}

func defaultPackage() string {
	exe, err := os.Executable()
	if err != nil {
		return "dlmgr"
	}
	return filepath.Base(exe)
}

func connect(opts Options, kind common.ChannelKind) (net.Conn, error) {
	var (
		conn net.Conn
		err  error
	)
	switch {
	case opts.URI != "":
		var uri *DaemonURI
		if uri, err = ParseDaemonURI(opts.URI); err != nil {
			return nil, err
		}
		conn, err = dialURI(uri)
	case opts.AutoStart:
		if err = ensureDaemon(); err != nil {
			return nil, err
		}
		conn, err = dial()
	default:
		conn, err = dial()
	}
	if err != nil {
		return nil, fmt.Errorf("error connecting to daemon: %w", err)
	}
	if err := handshake(conn, kind, opts.Package); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// attested reports whether the daemon reads the peer's identity from the
// transport itself.
func attested(a net.Addr) bool {
	if _, ok := a.(*net.UnixAddr); ok {
		return true
	}
	return a != nil && a.Network() == common.PipeNetwork
}

// handshake announces the channel kind, the credentials when the
// transport cannot carry them, and the package name.
func handshake(conn net.Conn, kind common.ChannelKind, pkg string) error {
	b := common.AppendInt(nil, int32(kind))
	if !attested(conn.RemoteAddr()) {
		b = common.AppendInt(b, int32(os.Getpid()))
		b = common.AppendInt(b, int32(os.Getuid()))
		b = common.AppendInt(b, int32(os.Getgid()))
	}
	b = common.AppendInt(b, int32(len(pkg)))
	b = append(b, pkg...)
	if _, err := conn.Write(b); err != nil {
		return fmt.Errorf("handshake: %w", err)
	}
	code, err := common.ReadInt(conn)
	if err != nil {
		return fmt.Errorf("handshake: %w", err)
	}
	if code := common.ErrorCode(code); code != common.ERROR_NONE {
		return common.Errorf(code, "handshake rejected")
	}
	return nil
}

// Package returns the package name the client registered with.
func (c *Client) Package() string {
	return c.pkg
}

// Call sends one command and reads its reply. A non-zero reply code is
// returned as a *common.CodeError; I/O failures are returned as is and
// leave the client unusable.
func (c *Client) Call(id int32, cmd common.Command, tail common.Tail) (any, error) {
	if !cmd.Valid() {
		return nil, fmt.Errorf("unknown command %d", cmd)
	}
	b := common.AppendHeader(nil, common.Header{ID: id, Cmd: cmd})
	b = common.AppendTail(b, cmd.Tail(), tail)

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.conn.Write(b); err != nil {
		return nil, fmt.Errorf("failed to invoke %s: %w", cmd, err)
	}
	code, v, err := common.ReadReply(c.br, cmd.Value())
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", cmd, err)
	}
	if code != common.ERROR_NONE {
		return nil, common.Errorf(code, "%s %d", cmd, id)
	}
	return v, nil
}

// Close closes the command channel. The daemon detaches the client's
// requests.
func (c *Client) Close() error {
	return c.conn.Close()
}
