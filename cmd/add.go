package cmd

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/urfave/cli"

	"github.com/warpdl/dlmgr/cmd/common"
	dlcommon "github.com/warpdl/dlmgr/common"
	"github.com/warpdl/dlmgr/pkg/dlclient"
)

var addFlags = []cli.Flag{
	cli.StringFlag{
		Name:  "dir, d",
		Usage: "destination directory (default: the daemon's download dir)",
	},
	cli.StringFlag{
		Name:  "output, o",
		Usage: "file name (default: from the server or the url)",
	},
	cli.StringSliceFlag{
		Name:  "header, H",
		Usage: `extra request header "Field: value", repeatable`,
	},
	cli.StringFlag{
		Name:  "network, n",
		Usage: "network constraint: all, wifi, data, wifi-direct or ethernet",
		Value: "all",
	},
	cli.BoolFlag{
		Name:  "auto",
		Usage: "keep the request even if this command exits before it is logged",
	},
	cli.StringFlag{
		Name:  "notify",
		Usage: "notification policy: none, complete or all",
		Value: "none",
	},
	cli.StringFlag{
		Name:  "title",
		Usage: "notification title",
	},
	cli.BoolFlag{
		Name:  "watch, w",
		Usage: "show progress until the download stops",
	},
}

var notifyNames = map[string]dlcommon.NotificationType{
	"none":     dlcommon.NOTIFY_NONE,
	"complete": dlcommon.NOTIFY_COMPLETE_ONLY,
	"all":      dlcommon.NOTIFY_ALL,
}

// parseHeader splits "Field: value".
func parseHeader(s string) (field, value string, err error) {
	field, value, ok := strings.Cut(s, ":")
	field = strings.TrimSpace(field)
	if !ok || field == "" {
		return "", "", fmt.Errorf("invalid header %q, want \"Field: value\"", s)
	}
	return field, strings.TrimSpace(value), nil
}

// addOptions is what the add command sends after CREATE.
type addOptions struct {
	url     string
	dir     string
	name    string
	headers []string
	network dlcommon.NetworkType
	auto    bool
	notify  dlcommon.NotificationType
	title   string
}

func addOptionsFrom(ctx *cli.Context) (*addOptions, error) {
	o := &addOptions{
		url:     ctx.Args().First(),
		dir:     ctx.String("dir"),
		name:    ctx.String("output"),
		headers: ctx.StringSlice("header"),
		auto:    ctx.Bool("auto"),
		title:   ctx.String("title"),
	}
	if o.url == "" {
		return nil, errors.New("no url provided")
	}
	var ok bool
	if o.network, ok = dlcommon.ParseNetworkType(ctx.String("network")); !ok || !o.network.Valid() {
		return nil, fmt.Errorf("unknown network type %q", ctx.String("network"))
	}
	if o.notify, ok = notifyNames[strings.ToLower(ctx.String("notify"))]; !ok {
		return nil, fmt.Errorf("unknown notification policy %q", ctx.String("notify"))
	}
	if o.dir != "" {
		abs, err := filepath.Abs(o.dir)
		if err != nil {
			return nil, err
		}
		o.dir = abs
	}
	for _, h := range o.headers {
		if _, _, err := parseHeader(h); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// submit creates the request, configures it and starts it. A request
// that fails before START is destroyed so it does not linger.
func (o *addOptions) submit(client *dlclient.Client) (id int32, action string, err error) {
	if id, err = client.Create(); err != nil {
		return 0, "create", err
	}
	defer func() {
		if err != nil {
			_ = client.Remove(id)
		}
	}()
	if err = client.SetURL(id, o.url); err != nil {
		return id, "set_url", err
	}
	if o.dir != "" {
		if err = client.SetDestination(id, o.dir); err != nil {
			return id, "set_destination", err
		}
	}
	if o.name != "" {
		if err = client.SetFileName(id, o.name); err != nil {
			return id, "set_file_name", err
		}
	}
	for _, h := range o.headers {
		field, value, _ := parseHeader(h)
		if err = client.AddHeader(id, field, value); err != nil {
			return id, "add_header", err
		}
	}
	if o.network != dlcommon.NETWORK_ALL {
		if err = client.SetNetworkType(id, o.network); err != nil {
			return id, "set_network_type", err
		}
	}
	if o.auto {
		if err = client.SetAutoDownload(id, true); err != nil {
			return id, "set_auto_download", err
		}
	}
	if o.notify != dlcommon.NOTIFY_NONE {
		if err = client.SetNotification(id, o.notify, o.title, ""); err != nil {
			return id, "set_notification", err
		}
	}
	if err = client.Start(id); err != nil {
		return id, "start", err
	}
	return id, "", nil
}

func add(ctx *cli.Context) error {
	if ctx.Args().First() == "help" {
		return cli.ShowCommandHelp(ctx, ctx.Command.Name)
	}
	opts, err := addOptionsFrom(ctx)
	if err != nil {
		return common.PrintErrWithCmdHelp(ctx, err)
	}
	client, err := newClient(ctx)
	if err != nil {
		common.PrintRuntimeErr(ctx, "add", "new_client", err)
		return nil
	}
	defer client.Close()

	id, action, err := opts.submit(client)
	if err != nil {
		common.PrintRuntimeErr(ctx, "add", action, err)
		return nil
	}
	fmt.Printf("Queued request %d.\n", id)
	if ctx.Bool("watch") {
		return watchIDs(ctx, client, []int32{id})
	}
	return nil
}
