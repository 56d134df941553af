package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli"

	"github.com/warpdl/dlmgr/cmd/common"
	"github.com/warpdl/dlmgr/pkg/dlclient"
)

const listTimeout = 10 * time.Second

var listFlags = []cli.Flag{
	cli.StringFlag{
		Name:  "status, s",
		Usage: "filter: active, queued, paused, done or all",
		Value: "all",
	},
	cli.StringFlag{
		Name:   "secret",
		Usage:  "side channel token (default: from config or keyring)",
		EnvVar: "DLMGR_RPC_SECRET",
	},
	cli.BoolFlag{
		Name:  "stats",
		Usage: "print daemon counters instead of the list",
	},
}

var dialMonitor = dlclient.DialMonitor

func formatList(rows []*dlclient.StatusResult) string {
	if len(rows) == 0 {
		return "dlmgr: no resident downloads\n"
	}
	var b strings.Builder
	b.WriteString("-------------------------------------------------------------------------\n")
	fmt.Fprintf(&b, "| %s | %s | %s | %s | %s |\n",
		common.Beaut("Id", 6), common.Beaut("Package", 12), common.Beaut("Name", 22),
		common.Beaut("State", 15), common.Beaut("Done", 4))
	b.WriteString("|--------|--------------|------------------------|-----------------|------|\n")
	for _, r := range rows {
		name := r.FileName
		if name == "" {
			name = r.URL
		}
		perc := "-"
		if r.Total > 0 {
			perc = fmt.Sprintf("%d%%", r.Percentage)
		}
		fmt.Fprintf(&b, "| %6d | %-12s | %-22s | %-15s | %4s |\n",
			r.ID, common.Clip(r.Package, 12), common.Clip(name, 22), r.State, perc)
	}
	b.WriteString("-------------------------------------------------------------------------\n")
	return b.String()
}

func formatStats(st *dlclient.StatsResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Version     : %s\n", st.Version)
	fmt.Fprintf(&b, "Uptime      : %s\n", (time.Duration(st.Uptime) * time.Second).String())
	fmt.Fprintf(&b, "Groups      : %d\n", st.Groups)
	fmt.Fprintf(&b, "Resident    : %d / %d\n", st.Resident, st.Capacity)
	fmt.Fprintf(&b, "Logged      : %s\n", humanize.Comma(int64(st.Logged)))
	fmt.Fprintf(&b, "Subscribers : %d\n", st.Subscribers)
	fmt.Fprintf(&b, "Events      : %s sent, %s fallback, %s throttled, %s dropped\n",
		humanize.Comma(int64(st.Events.Sent)), humanize.Comma(int64(st.Events.Fallback)),
		humanize.Comma(int64(st.Events.Throttled)), humanize.Comma(int64(st.Events.Dropped)))
	return b.String()
}

func list(ctx *cli.Context) error {
	if ctx.Args().First() == "help" {
		return cli.ShowCommandHelp(ctx, ctx.Command.Name)
	}
	cfg, err := loadConfig(ctx)
	if err != nil {
		common.PrintRuntimeErr(ctx, "list", "load_config", err)
		return nil
	}
	if cfg.RPC.Listen == "" {
		common.PrintRuntimeErr(ctx, "list", "side_channel", fmt.Errorf("rpc.listen is empty"))
		return nil
	}
	secret := ctx.String("secret")
	if secret == "" {
		if err := cfg.ResolveSecret(); err != nil {
			common.PrintRuntimeErr(ctx, "list", "resolve_secret", err)
			return nil
		}
		secret = cfg.RPC.Secret
	}

	cctx, cancel := context.WithTimeout(context.Background(), listTimeout)
	defer cancel()
	m, err := dialMonitor(cctx, cfg.RPC.Listen, secret)
	if err != nil {
		common.PrintRuntimeErr(ctx, "list", "dial", err)
		return nil
	}
	defer m.Close()

	if ctx.Bool("stats") {
		st, err := m.Stats(cctx)
		if err != nil {
			common.PrintRuntimeErr(ctx, "list", "stats", err)
			return nil
		}
		fmt.Print(formatStats(st))
		return nil
	}
	rows, err := m.List(cctx, ctx.String("status"))
	if err != nil {
		common.PrintRuntimeErr(ctx, "list", "list", err)
		return nil
	}
	fmt.Print(formatList(rows))
	return nil
}
