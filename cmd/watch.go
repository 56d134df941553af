package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/urfave/cli"
	"github.com/vbauerster/mpb/v8"

	"github.com/warpdl/dlmgr/cmd/common"
	dlcommon "github.com/warpdl/dlmgr/common"
	"github.com/warpdl/dlmgr/pkg/dlclient"
)

const watchRefresh = 150 * time.Millisecond

// watchOutput is where the bars are drawn; tests silence it.
var watchOutput io.Writer = os.Stdout

// tracked is one request being watched.
type tracked struct {
	id    int32
	bar   *mpb.Bar
	total uint64
	last  time.Time
	final dlcommon.State
	err   dlcommon.ErrorCode
}

// settled reports whether st ends the watch of a request. A paused
// request does not move until someone starts it again.
func settled(st dlcommon.State) bool {
	return st.IsTerminal() || st == dlcommon.STATE_PAUSED
}

// update moves the bar to ev and reports whether the request settled.
func (t *tracked) update(ev dlclient.Event, now time.Time) bool {
	if t.total > 0 && ev.Received > 0 {
		t.bar.EwmaSetCurrent(int64(ev.Received), now.Sub(t.last))
	} else if ev.Received > 0 {
		t.bar.SetCurrent(int64(ev.Received))
	}
	t.last = now
	if !settled(ev.State) {
		return false
	}
	t.final, t.err = ev.State, ev.Error
	if ev.State == dlcommon.STATE_COMPLETED {
		t.bar.SetTotal(-1, true)
	} else {
		t.bar.Abort(false)
	}
	return true
}

func (t *tracked) summary() string {
	if t.err != dlcommon.ERROR_NONE {
		return fmt.Sprintf("Request %d: %s (%s)", t.id, t.final, t.err)
	}
	return fmt.Sprintf("Request %d: %s", t.id, t.final)
}

func watch(ctx *cli.Context) error {
	if ctx.NArg() == 0 {
		return common.PrintErrWithCmdHelp(ctx, errors.New("no request id provided"))
	}
	if ctx.Args().First() == "help" {
		return cli.ShowCommandHelp(ctx, ctx.Command.Name)
	}
	ids := make([]int32, 0, ctx.NArg())
	for _, arg := range ctx.Args() {
		id, err := parseID(arg)
		if err != nil {
			return common.PrintErrWithCmdHelp(ctx, err)
		}
		ids = append(ids, id)
	}
	client, err := newClient(ctx)
	if err != nil {
		common.PrintRuntimeErr(ctx, "watch", "new_client", err)
		return nil
	}
	defer client.Close()
	return watchIDs(ctx, client, ids)
}

// watchIDs draws a bar per request until every one settles, the event
// channel closes, or the user interrupts. The downloads keep going after
// an interrupt.
func watchIDs(ctx *cli.Context, client *dlclient.Client, ids []int32) error {
	events, err := client.Subscribe()
	if err != nil {
		common.PrintRuntimeErr(ctx, "watch", "subscribe", err)
		return nil
	}
	defer events.Close()
	sctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	go func() {
		<-sctx.Done()
		events.Close()
	}()

	p := mpb.New(mpb.WithWidth(64), mpb.WithRefreshRate(watchRefresh), mpb.WithOutput(watchOutput))
	live := make(map[int32]*tracked, len(ids))
	var done []*tracked
	now := time.Now()
	for _, id := range ids {
		t, err := track(client, p, id, now)
		if err != nil {
			p.Shutdown()
			common.PrintRuntimeErr(ctx, "watch", "track", err)
			return nil
		}
		if t.final != dlcommon.STATE_NONE {
			done = append(done, t)
			continue
		}
		live[id] = t
	}

	for len(live) > 0 {
		ev, err := events.Next()
		if err != nil {
			for _, t := range live {
				t.bar.Abort(false)
			}
			p.Wait()
			if sctx.Err() != nil {
				fmt.Println("Stopped watching; downloads continue in the daemon.")
			} else {
				common.PrintRuntimeErr(ctx, "watch", "events", err)
			}
			return nil
		}
		t := live[ev.ID]
		if t == nil {
			continue
		}
		if t.total == 0 && ev.Received > 0 {
			if total, err := client.Total(ev.ID); err == nil && total > 0 {
				t.total = total
				t.bar.SetTotal(int64(total), false)
			}
		}
		if t.update(ev, time.Now()) {
			delete(live, ev.ID)
			done = append(done, t)
		}
	}
	p.Wait()
	for _, t := range done {
		fmt.Println(t.summary())
	}
	return nil
}

// track turns on the event callbacks of id and adds its bar. A request
// that already settled gets a finished bar and a final state.
func track(client *dlclient.Client, p *mpb.Progress, id int32, now time.Time) (*tracked, error) {
	if err := client.SetStateCallback(id, true); err != nil {
		return nil, err
	}
	if err := client.SetProgressCallback(id, true); err != nil {
		return nil, err
	}
	in, err := client.Info(id)
	if err != nil {
		return nil, err
	}
	t := &tracked{
		id:    id,
		total: in.Total,
		last:  now,
		bar:   common.InitBar(p, fmt.Sprintf("%d ", id), int64(in.Total), int64(in.Received)),
	}
	if settled(in.State) {
		t.update(dlclient.Event{ID: id, State: in.State, Error: in.Error, Received: in.Received}, now)
	}
	return t, nil
}
