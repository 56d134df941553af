package cmd

import (
	"errors"
	"fmt"

	"github.com/urfave/cli"

	"github.com/warpdl/dlmgr/cmd/common"
	"github.com/warpdl/dlmgr/pkg/dlclient"
)

// withID runs fn against the request named by the first argument.
func withID(ctx *cli.Context, action string, fn func(*dlclient.Client, int32) error) error {
	arg := ctx.Args().First()
	switch arg {
	case "":
		return common.PrintErrWithCmdHelp(ctx, errors.New("no request id provided"))
	case "help":
		return cli.ShowCommandHelp(ctx, ctx.Command.Name)
	}
	id, err := parseID(arg)
	if err != nil {
		return common.PrintErrWithCmdHelp(ctx, err)
	}
	client, err := newClient(ctx)
	if err != nil {
		common.PrintRuntimeErr(ctx, ctx.Command.Name, "new_client", err)
		return nil
	}
	defer client.Close()
	if err := fn(client, id); err != nil {
		common.PrintRuntimeErr(ctx, ctx.Command.Name, action, err)
	}
	return nil
}

// printState reports where an action left the request.
func printState(c *dlclient.Client, id int32) error {
	st, err := c.State(id)
	if err != nil {
		return err
	}
	fmt.Printf("Request %d: %s\n", id, st)
	return nil
}

func start(ctx *cli.Context) error {
	return withID(ctx, "start", func(c *dlclient.Client, id int32) error {
		if err := c.Start(id); err != nil {
			return err
		}
		return printState(c, id)
	})
}

func pause(ctx *cli.Context) error {
	return withID(ctx, "pause", func(c *dlclient.Client, id int32) error {
		if err := c.Pause(id); err != nil {
			return err
		}
		return printState(c, id)
	})
}

func cancel(ctx *cli.Context) error {
	return withID(ctx, "cancel", func(c *dlclient.Client, id int32) error {
		if err := c.Cancel(id); err != nil {
			return err
		}
		return printState(c, id)
	})
}

func remove(ctx *cli.Context) error {
	return withID(ctx, "remove", func(c *dlclient.Client, id int32) error {
		if err := c.Remove(id); err != nil {
			return err
		}
		fmt.Printf("Request %d removed.\n", id)
		return nil
	})
}
