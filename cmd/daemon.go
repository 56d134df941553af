package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/urfave/cli"

	"github.com/warpdl/dlmgr/cmd/common"
	"github.com/warpdl/dlmgr/internal/config"
	idaemon "github.com/warpdl/dlmgr/internal/daemon"
	"github.com/warpdl/dlmgr/pkg/logger"
)

// daemonShutdownTimeout bounds the wait for running transfers to be
// handed back to the queue.
const daemonShutdownTimeout = 30 * time.Second

var daemonFlags = []cli.Flag{
	cli.StringFlag{Name: "socket", Usage: "unix socket path"},
	cli.IntFlag{Name: "port", Usage: "TCP port of the command listener"},
	cli.BoolFlag{Name: "force-tcp", Usage: "listen on TCP only"},
	cli.StringFlag{Name: "db", Usage: "request log database path"},
	cli.StringFlag{Name: "dir, d", Usage: "default download directory"},
	cli.IntFlag{Name: "max-active, x", Usage: "maximum concurrent transfers"},
	cli.StringFlag{Name: "rpc-listen", Usage: "monitoring side channel address, empty to disable"},
	cli.StringFlag{Name: "log-level", Usage: "debug, info, warning or error"},
	cli.StringFlag{Name: "log-format", Usage: "console, text or json"},
	cli.StringFlag{Name: "log-file", Usage: "also write JSON logs to this file"},
}

// applyDaemonFlags overrides cfg with the flags set on the command line.
func applyDaemonFlags(ctx *cli.Context, cfg *config.Config) {
	if ctx.IsSet("socket") {
		cfg.SocketPath = ctx.String("socket")
	}
	if ctx.IsSet("port") {
		cfg.TCPPort = ctx.Int("port")
	}
	if ctx.IsSet("force-tcp") {
		cfg.ForceTCP = ctx.Bool("force-tcp")
	}
	if ctx.IsSet("db") {
		cfg.DatabasePath = ctx.String("db")
	}
	if ctx.IsSet("dir") {
		cfg.DownloadDir = ctx.String("dir")
	}
	if ctx.IsSet("max-active") {
		cfg.Queue.MaxActive = ctx.Int("max-active")
	}
	if ctx.IsSet("rpc-listen") {
		cfg.RPC.Listen = ctx.String("rpc-listen")
	}
	if ctx.IsSet("log-level") {
		cfg.Log.Level = ctx.String("log-level")
	}
	if ctx.IsSet("log-format") {
		cfg.Log.Format = ctx.String("log-format")
	}
	if ctx.IsSet("log-file") {
		cfg.Log.File = ctx.String("log-file")
	}
}

// newDaemonLogger builds the logger selected by lc. A log file gets a
// JSON copy of every record; the returned closer releases it.
func newDaemonLogger(lc config.LogConfig, console io.Writer) (logger.Logger, io.Closer, error) {
	level := logger.ParseLevel(lc.Level)
	var l logger.Logger
	switch lc.Format {
	case "json":
		l = logger.NewSlogLogger(console, logger.FormatJSON, level)
	case "text":
		l = logger.NewSlogLogger(console, logger.FormatText, level)
	default:
		l = logger.NewStandardLogger(log.New(console, "dlmgr: ", log.LstdFlags), level)
	}
	if lc.File == "" {
		return l, io.NopCloser(nil), nil
	}
	f, err := os.OpenFile(lc.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	return logger.NewMultiLogger(l, logger.NewSlogLogger(f, logger.FormatJSON, level)), f, nil
}

func daemon(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		common.PrintRuntimeErr(ctx, "daemon", "load_config", err)
		return nil
	}
	applyDaemonFlags(ctx, cfg)
	if err := cfg.Validate(); err != nil {
		common.PrintRuntimeErr(ctx, "daemon", "validate_config", err)
		return nil
	}
	if err := cfg.EnsureDirs(); err != nil {
		common.PrintRuntimeErr(ctx, "daemon", "ensure_dirs", err)
		return nil
	}
	l, closer, err := newDaemonLogger(cfg.Log, os.Stderr)
	if err != nil {
		common.PrintRuntimeErr(ctx, "daemon", "logger", err)
		return nil
	}
	defer closer.Close()

	pidPath := getPidFilePath(cfg)
	if pid, err := ReadPidFile(pidPath); err == nil && pid != os.Getpid() && isProcessRunning(pid) {
		common.PrintRuntimeErr(ctx, "daemon", "pid_file", fmt.Errorf("%w (pid %d)", idaemon.ErrAlreadyRunning, pid))
		return nil
	}
	if err := WritePidFile(pidPath); err != nil {
		l.Warning("daemon: write pid file: %v", err)
	}
	defer RemovePidFile(pidPath)

	sctx, stop := setupShutdownHandler()
	defer stop()
	r := idaemon.New(cfg, &idaemon.Options{
		Version:         currentBuildArgs.Version,
		ShutdownTimeout: daemonShutdownTimeout,
	}, nil, l)
	err = r.Start(sctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("daemon: %w", err)
	}
	return nil
}
