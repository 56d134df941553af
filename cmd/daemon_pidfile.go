package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/warpdl/dlmgr/internal/config"
)

const pidFileName = "daemon.pid"

// getPidFilePath returns the pid file of the daemon configured by cfg. It
// lives next to the request log.
func getPidFilePath(cfg *config.Config) string {
	return filepath.Join(cfg.DataDir(), pidFileName)
}

// WritePidFile writes the current process ID to path.
func WritePidFile(path string) error {
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

// ReadPidFile reads and returns the PID stored at path.
func ReadPidFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID in file: %w", err)
	}
	if pid <= 0 {
		return 0, fmt.Errorf("invalid PID: %d", pid)
	}
	return pid, nil
}

// RemovePidFile removes the pid file. A missing file is not an error.
func RemovePidFile(path string) error {
	err := os.Remove(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
