//go:build !windows

package cmd

import (
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolateConfig points the config at a fresh data directory and returns
// the pid file path commands will use.
func isolateConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("DLMGR_CONFIG", filepath.Join(dir, "missing.yaml"))
	t.Setenv("DLMGR_DATABASE_PATH", filepath.Join(dir, "requests.db"))
	t.Setenv("DLMGR_DOWNLOAD_DIR", dir)
	return filepath.Join(dir, pidFileName)
}

func runCLI(t *testing.T, args ...string) string {
	t.Helper()
	out, _ := captureOutput(func() {
		require.NoError(t, Execute(append([]string{"dlmgr"}, args...), BuildArgs{Version: "test"}))
	})
	return out
}

func TestStopDaemonNoPidFile(t *testing.T) {
	isolateConfig(t)
	assert.Contains(t, runCLI(t, "stop-daemon"), "PID file not found")
}

func TestStopDaemonInvalidPidFile(t *testing.T) {
	pidPath := isolateConfig(t)
	require.NoError(t, os.WriteFile(pidPath, []byte("invalid"), 0o644))
	assert.Contains(t, runCLI(t, "stop-daemon"), "stop-daemon[read_pid]")
}

func TestStopDaemonStalePid(t *testing.T) {
	pidPath := isolateConfig(t)
	require.NoError(t, os.WriteFile(pidPath, []byte("999999999"), 0o644))
	assert.Contains(t, runCLI(t, "stop-daemon"), "stale PID")
	_, err := os.Stat(pidPath)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestStopDaemonTerminatesProcess(t *testing.T) {
	pidPath := isolateConfig(t)
	proc := exec.Command("sleep", "30")
	require.NoError(t, proc.Start())
	exited := make(chan struct{})
	go func() {
		proc.Wait()
		close(exited)
	}()
	require.NoError(t, os.WriteFile(pidPath, []byte(strconv.Itoa(proc.Process.Pid)), 0o644))

	out := runCLI(t, "stop-daemon")
	assert.Contains(t, out, "Daemon stopped successfully")
	<-exited
	_, err := os.Stat(pidPath)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
