package cmd

import (
	"fmt"
	"strconv"

	"github.com/urfave/cli"

	"github.com/warpdl/dlmgr/internal/config"
	"github.com/warpdl/dlmgr/pkg/dlclient"
)

// clientPackage is the package name every CLI invocation files its
// requests under, so later invocations can address them.
const clientPackage = "dlmgr"

var newClient = func(ctx *cli.Context) (*dlclient.Client, error) {
	return dlclient.NewClient(dlclient.Options{
		URI:       ctx.GlobalString("uri"),
		Package:   clientPackage,
		AutoStart: true,
	})
}

func loadConfig(ctx *cli.Context) (*config.Config, error) {
	path := ctx.GlobalString("config")
	if path == "" {
		path = config.DefaultPath()
	}
	return config.Load(path)
}

func parseID(s string) (int32, error) {
	id, err := strconv.ParseInt(s, 10, 32)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid request id %q", s)
	}
	return int32(id), nil
}
