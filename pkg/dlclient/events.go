package dlclient

import (
	"bufio"
	"fmt"
	"net"

	"github.com/warpdl/dlmgr/common"
)

// Event is one state or progress notice from the daemon.
type Event struct {
	ID       int32
	State    common.State
	Error    common.ErrorCode
	Received uint64
}

func (e Event) String() string {
	return fmt.Sprintf("%d %s err=%s received=%d", e.ID, e.State, e.Error, e.Received)
}

// Events is an event channel. It joins the group of the command channel
// opened with the same package name.
type Events struct {
	conn net.Conn
	br   *bufio.Reader
}

// Subscribe opens the event channel for c's package.
func (c *Client) Subscribe() (*Events, error) {
	opts := c.opts
	opts.Package = c.pkg
	opts.AutoStart = false
	conn, err := connect(opts, common.ChannelEvent)
	if err != nil {
		return nil, err
	}
	return &Events{conn: conn, br: bufio.NewReader(conn)}, nil
}

// NewEventsConn runs the event-channel handshake on an established
// connection.
func NewEventsConn(conn net.Conn, pkg string) (*Events, error) {
	if err := handshake(conn, common.ChannelEvent, pkg); err != nil {
		conn.Close()
		return nil, err
	}
	return &Events{conn: conn, br: bufio.NewReader(conn)}, nil
}

// Next blocks for the next event.
func (e *Events) Next() (Event, error) {
	var (
		ev  Event
		v   int32
		err error
	)
	if ev.ID, err = common.ReadInt(e.br); err != nil {
		return ev, err
	}
	if v, err = common.ReadInt(e.br); err != nil {
		return ev, err
	}
	ev.State = common.State(v)
	if v, err = common.ReadInt(e.br); err != nil {
		return ev, err
	}
	ev.Error = common.ErrorCode(v)
	ev.Received, err = common.ReadUint64(e.br)
	return ev, err
}

func (e *Events) Close() error {
	return e.conn.Close()
}
