package cmd

import (
	"fmt"
	"runtime"

	"github.com/urfave/cli"

	"github.com/warpdl/dlmgr/cmd/common"
)

type BuildArgs struct {
	Version   string
	BuildType string
	Date      string
	Commit    string
}

// currentBuildArgs is reported by the daemon's monitoring RPC.
var currentBuildArgs BuildArgs

var globalFlags = []cli.Flag{
	cli.StringFlag{
		Name:   "uri, u",
		Usage:  "daemon address, unix:///path or tcp://host:port (default: autodetect)",
		EnvVar: "DLMGR_DAEMON_URI",
	},
	cli.StringFlag{
		Name:   "config, c",
		Usage:  "path to the YAML config file",
		EnvVar: "DLMGR_CONFIG",
	},
}

func controlCommand(name, usage string, action cli.ActionFunc) cli.Command {
	return cli.Command{
		Name:               name,
		Usage:              usage,
		UsageText:          "<id>",
		Action:             action,
		OnUsageError:       common.UsageErrorCallback,
		CustomHelpTemplate: CMD_HELP_TEMPL,
		Description:        fmt.Sprintf(ControlDescription, name, name),
	}
}

func Execute(args []string, bArgs BuildArgs) error {
	currentBuildArgs = bArgs
	app := cli.App{
		Name:                  "dlmgr",
		HelpName:              "dlmgr",
		Usage:                 "A queued download manager daemon.",
		Version:               fmt.Sprintf("%s-%s", bArgs.Version, bArgs.BuildType),
		UsageText:             "dlmgr <command> [arguments...]",
		Description:           DESCRIPTION,
		CustomAppHelpTemplate: HELP_TEMPL,
		OnUsageError:          common.UsageErrorCallback,
		Flags:                 globalFlags,
		Commands: []cli.Command{
			{
				Name:               "daemon",
				Usage:              "runs the download service in the foreground",
				Action:             daemon,
				Flags:              daemonFlags,
				OnUsageError:       common.UsageErrorCallback,
				CustomHelpTemplate: CMD_HELP_TEMPL,
				Description:        DaemonDescription,
			},
			{
				Name:               "stop-daemon",
				Usage:              "stops the running daemon",
				Action:             stopDaemon,
				CustomHelpTemplate: CMD_HELP_TEMPL,
				Description:        StopDaemonDescription,
			},
			{
				Name:                   "add",
				Aliases:                []string{"a"},
				Usage:                  "queues a new download",
				UsageText:              "[flags] <url>",
				Action:                 add,
				Flags:                  addFlags,
				OnUsageError:           common.UsageErrorCallback,
				CustomHelpTemplate:     CMD_HELP_TEMPL,
				Description:            AddDescription,
				UseShortOptionHandling: true,
			},
			controlCommand("start", "queues a paused or finished download again", start),
			controlCommand("pause", "pauses a download", pause),
			controlCommand("cancel", "cancels a download", cancel),
			controlCommand("rm", "cancels a download and forgets it", remove),
			{
				Name:               "info",
				Aliases:            []string{"i"},
				Usage:              "shows every field of a download",
				UsageText:          "<id>",
				Action:             info,
				OnUsageError:       common.UsageErrorCallback,
				CustomHelpTemplate: CMD_HELP_TEMPL,
				Description:        InfoDescription,
			},
			{
				Name:               "headers",
				Usage:              "lists or edits the HTTP headers of a download",
				UsageText:          "<id>",
				Action:             headersList,
				OnUsageError:       common.UsageErrorCallback,
				CustomHelpTemplate: CMD_HELP_TEMPL,
				Description:        HeadersDescription,
				Subcommands: []cli.Command{
					{
						Name:      "add",
						Usage:     "adds a header",
						UsageText: `<id> "Field: value"`,
						Action:    headersAdd,
					},
					{
						Name:      "rm",
						Usage:     "removes every value of a header",
						UsageText: "<id> <field>",
						Action:    headersRemove,
					},
				},
			},
			{
				Name:               "watch",
				Aliases:            []string{"w"},
				Usage:              "shows live progress of downloads",
				UsageText:          "<id> [id...]",
				Action:             watch,
				OnUsageError:       common.UsageErrorCallback,
				CustomHelpTemplate: CMD_HELP_TEMPL,
				Description:        WatchDescription,
			},
			{
				Name:               "list",
				Aliases:            []string{"l"},
				Usage:              "lists resident downloads of every package",
				Action:             list,
				Flags:              listFlags,
				OnUsageError:       common.UsageErrorCallback,
				CustomHelpTemplate: CMD_HELP_TEMPL,
				Description:        ListDescription,
			},
			{
				Name:    "help",
				Aliases: []string{"h"},
				Usage:   "prints the help message",
				Action:  common.Help,
			},
			{
				Name:               "version",
				Aliases:            []string{"v"},
				Usage:              "prints installed version of dlmgr",
				UsageText:          " ",
				CustomHelpTemplate: CMD_HELP_TEMPL,
				Action:             common.GetVersion,
			},
		},
		Action:      common.Help,
		HideHelp:    true,
		HideVersion: true,
	}
	common.VersionCmdStr = fmt.Sprintf("%s %s (%s_%s)\nBuild: %s=%s\n",
		app.Name,
		app.Version,
		runtime.GOOS,
		runtime.GOARCH,
		bArgs.Date, bArgs.Commit,
	)
	return app.Run(args)
}
