package cmd

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli"

	"github.com/warpdl/dlmgr/cmd/common"
)

const (
	stopTimeout      = daemonShutdownTimeout + 5*time.Second
	stopPollInterval = 100 * time.Millisecond
)

func stopDaemon(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		common.PrintRuntimeErr(ctx, "stop-daemon", "load_config", err)
		return nil
	}
	path := getPidFilePath(cfg)
	pid, err := ReadPidFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Println("Daemon is not running (PID file not found)")
			return nil
		}
		common.PrintRuntimeErr(ctx, "stop-daemon", "read_pid", err)
		return nil
	}
	if !isProcessRunning(pid) {
		fmt.Printf("Daemon is not running (stale PID %d)\n", pid)
		_ = RemovePidFile(path)
		return nil
	}

	fmt.Printf("Stopping daemon (PID %d)...\n", pid)
	if err := killDaemon(pid); err != nil {
		common.PrintRuntimeErr(ctx, "stop-daemon", "kill", err)
		return nil
	}
	// The daemon removes its pid file on a clean exit only.
	_ = RemovePidFile(path)
	fmt.Println("Daemon stopped successfully")
	return nil
}
