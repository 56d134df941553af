package cmd

import (
	"errors"
	"fmt"

	"github.com/urfave/cli"

	"github.com/warpdl/dlmgr/cmd/common"
	"github.com/warpdl/dlmgr/pkg/dlclient"
)

func headersList(ctx *cli.Context) error {
	return withID(ctx, "header_fields", func(c *dlclient.Client, id int32) error {
		fields, err := c.HeaderFields(id)
		if err != nil {
			return err
		}
		if len(fields) == 0 {
			fmt.Printf("Request %d has no extra headers.\n", id)
			return nil
		}
		for _, f := range fields {
			v, err := c.HeaderValue(id, f)
			if err != nil && !dlclient.IsNoData(err) {
				return err
			}
			fmt.Printf("%s: %s\n", f, v)
		}
		return nil
	})
}

func headersAdd(ctx *cli.Context) error {
	if ctx.NArg() < 2 {
		return common.PrintErrWithCmdHelp(ctx, errors.New(`expected <id> "Field: value"`))
	}
	field, value, err := parseHeader(ctx.Args().Get(1))
	if err != nil {
		return common.PrintErrWithCmdHelp(ctx, err)
	}
	return withID(ctx, "add_header", func(c *dlclient.Client, id int32) error {
		return c.AddHeader(id, field, value)
	})
}

func headersRemove(ctx *cli.Context) error {
	if ctx.NArg() < 2 {
		return common.PrintErrWithCmdHelp(ctx, errors.New("expected <id> <field>"))
	}
	field := ctx.Args().Get(1)
	return withID(ctx, "remove_header", func(c *dlclient.Client, id int32) error {
		return c.RemoveHeader(id, field)
	})
}
