package dlclient

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	cws "github.com/coder/websocket"
	"github.com/creachadair/jrpc2"

	"github.com/warpdl/dlmgr/internal/server"
)

type (
	StatsResult  = server.StatsResult
	StatusResult = server.StatusResult
	ListResult   = server.ListResult
)

// wsChannel carries jrpc2 frames as WebSocket text messages.
type wsChannel struct {
	conn *cws.Conn
	ctx  context.Context
}

func (c *wsChannel) Send(data []byte) error {
	return c.conn.Write(c.ctx, cws.MessageText, data)
}

func (c *wsChannel) Recv() ([]byte, error) {
	_, data, err := c.conn.Read(c.ctx)
	return data, err
}

func (c *wsChannel) Close() error {
	return c.conn.Close(cws.StatusNormalClosure, "")
}

// Monitor is a client of the daemon's JSON-RPC side channel.
type Monitor struct {
	cli *jrpc2.Client
}

// DialMonitor connects to the side channel at addr, a host:port or a
// ws:// URL. secret is sent as a bearer token.
func DialMonitor(ctx context.Context, addr, secret string) (*Monitor, error) {
	u := addr
	if !strings.HasPrefix(u, "ws://") && !strings.HasPrefix(u, "wss://") {
		u = "ws://" + u + "/rpc"
	}
	h := http.Header{}
	if secret != "" {
		h.Set("Authorization", "Bearer "+secret)
	}
	conn, resp, err := cws.Dial(ctx, u, &cws.DialOptions{HTTPHeader: h})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("monitor %s: unauthorized", u)
		}
		return nil, fmt.Errorf("monitor %s: %w", u, err)
	}
	// Recv runs for the life of the client, not of ctx.
	ch := &wsChannel{conn: conn, ctx: context.Background()}
	return &Monitor{cli: jrpc2.NewClient(ch, nil)}, nil
}

func (m *Monitor) Stats(ctx context.Context) (*StatsResult, error) {
	var res StatsResult
	if err := m.cli.CallResult(ctx, "system.stats", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// List returns the resident requests whose state matches status
// ("active", "queued", "paused", "done" or "all").
func (m *Monitor) List(ctx context.Context, status string) ([]*StatusResult, error) {
	var res ListResult
	if err := m.cli.CallResult(ctx, "download.list", server.ListParams{Status: status}, &res); err != nil {
		return nil, err
	}
	return res.Downloads, nil
}

func (m *Monitor) Status(ctx context.Context, id int32) (*StatusResult, error) {
	var res StatusResult
	if err := m.cli.CallResult(ctx, "download.status", server.IDParam{ID: id}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (m *Monitor) Close() error {
	return m.cli.Close()
}
