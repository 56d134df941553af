package server

import (
	"context"
	"encoding/json"
	"io"
	"testing"

	"github.com/creachadair/jrpc2"
	"github.com/creachadair/jrpc2/channel"
	"github.com/creachadair/jrpc2/handler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warpdl/dlmgr/common"
	"github.com/warpdl/dlmgr/internal/events"
	"github.com/warpdl/dlmgr/internal/session"
)

// pushServer returns a push-enabled jrpc2 server on an in-memory channel
// and the client end of that channel. The client end must be drained, as
// pushes are synchronous.
func pushServer(t *testing.T) (channel.Channel, *jrpc2.Server) {
	t.Helper()
	cr, sw := io.Pipe()
	sr, cw := io.Pipe()
	cli := channel.Line(cr, cw)
	srv := jrpc2.NewServer(handler.Map{}, &jrpc2.ServerOptions{AllowPush: true})
	srv.Start(channel.Line(sr, sw))
	t.Cleanup(func() {
		_ = cli.Close()
		_ = srv.Wait()
	})
	return cli, srv
}

type pushed struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

func recvPush(t *testing.T, cli channel.Channel) <-chan pushed {
	t.Helper()
	out := make(chan pushed, 1)
	go func() {
		data, err := cli.Recv()
		if err != nil {
			close(out)
			return
		}
		var p pushed
		_ = json.Unmarshal(data, &p)
		out <- p
	}()
	return out
}

func TestRPCNotifierRegistration(t *testing.T) {
	n := NewRPCNotifier(nil)
	_, srv := pushServer(t)
	n.Register(srv)
	n.Register(srv)
	assert.Equal(t, 1, n.Count())
	n.Unregister(srv)
	n.Unregister(srv)
	assert.Equal(t, 0, n.Count())
}

func TestPublishEvent(t *testing.T) {
	n := NewRPCNotifier(nil)
	ev := session.Event{ID: 9, State: common.STATE_FAILED, Error: common.ERROR_NETWORK_UNREACHABLE, Received: 10}

	assert.ErrorIs(t, n.PublishEvent(context.Background(), "org.a", ev), errNoSubscribers)

	cli, srv := pushServer(t)
	n.Register(srv)
	got := recvPush(t, cli)
	require.NoError(t, n.PublishEvent(context.Background(), "org.a", ev))

	p := <-got
	assert.Equal(t, MethodDownloadEvent, p.Method)
	var params EventNotification
	require.NoError(t, json.Unmarshal(p.Params, &params))
	assert.Equal(t, EventNotification{
		ID:       9,
		Package:  "org.a",
		State:    common.STATE_FAILED.String(),
		Error:    common.ERROR_NETWORK_UNREACHABLE.String(),
		Received: 10,
	}, params)
}

func TestPostNotification(t *testing.T) {
	n := NewRPCNotifier(nil)
	nt := events.Notification{ID: 3, Package: "org.a", State: common.STATE_COMPLETED, Title: "done"}
	assert.NoError(t, n.Post(context.Background(), nt), "no listeners is fine")

	cli, srv := pushServer(t)
	n.Register(srv)
	got := recvPush(t, cli)
	require.NoError(t, n.Post(context.Background(), nt))

	p := <-got
	assert.Equal(t, MethodNotificationPost, p.Method)
	var params events.Notification
	require.NoError(t, json.Unmarshal(p.Params, &params))
	assert.Equal(t, nt, params)
}

func TestBroadcastDropsDeadServers(t *testing.T) {
	n := NewRPCNotifier(nil)
	live, srv1 := pushServer(t)
	dead, srv2 := pushServer(t)
	n.Register(srv1)
	n.Register(srv2)

	require.NoError(t, dead.Close())
	_ = srv2.Wait()

	got := recvPush(t, live)
	assert.Equal(t, 1, n.Broadcast(context.Background(), "x", nil))
	<-got
	assert.Equal(t, 1, n.Count())
}

func TestStopAll(t *testing.T) {
	n := NewRPCNotifier(nil)
	_, srv := pushServer(t)
	n.Register(srv)
	n.StopAll()
	assert.Equal(t, 0, n.Count())
	assert.Error(t, srv.Notify(context.Background(), "x", nil))
}
