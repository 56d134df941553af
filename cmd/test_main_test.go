package cmd

import (
	"io"
	"os"
	"testing"
)

func TestMain(m *testing.M) {
	// Commands must never spawn the test binary as a daemon.
	_ = os.Setenv("DLMGR_DAEMON_URI", "unix:///nonexistent/dlmgr-test.sock")
	watchOutput = io.Discard
	os.Exit(m.Run())
}
