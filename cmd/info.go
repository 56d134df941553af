package cmd

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli"

	dlcommon "github.com/warpdl/dlmgr/common"
	"github.com/warpdl/dlmgr/pkg/dlclient"
)

// formatSize renders n bytes, or "unknown" when the daemon has no size.
func formatSize(n uint64) string {
	if n == 0 {
		return "unknown"
	}
	return fmt.Sprintf("%s (%s bytes)", humanize.IBytes(n), humanize.Comma(int64(n)))
}

func formatInfo(in *dlclient.Info) string {
	var b strings.Builder
	row := func(k, v string) {
		if v == "" {
			return
		}
		fmt.Fprintf(&b, "%-12s: %s\n", k, v)
	}
	row("Request", fmt.Sprint(in.ID))
	row("State", in.State.String())
	if in.Error != dlcommon.ERROR_NONE {
		row("Error", in.Error.String())
	}
	row("URL", in.URL)
	row("Destination", in.Destination)
	row("File name", in.FileName)
	row("Network", in.NetworkType.String())
	row("Auto", fmt.Sprint(in.Auto))
	row("Saved path", in.SavedPath)
	row("Temp path", in.TempPath)
	row("MIME type", in.MimeType)
	row("Content", in.ContentName)
	row("ETag", in.ETag)
	row("Received", formatSize(in.Received))
	row("Total", formatSize(in.Total))
	if in.Total > 0 {
		row("Progress", fmt.Sprintf("%d%%", in.Received*100/in.Total))
	}
	if in.HTTPStatus != 0 {
		row("HTTP status", fmt.Sprint(in.HTTPStatus))
	}
	return b.String()
}

func info(ctx *cli.Context) error {
	return withID(ctx, "info", func(c *dlclient.Client, id int32) error {
		in, err := c.Info(id)
		if err != nil {
			return err
		}
		fmt.Print(formatInfo(in))
		return nil
	})
}
