//go:build !windows

package cmd

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dlcommon "github.com/warpdl/dlmgr/common"
	"github.com/warpdl/dlmgr/internal/agent"
	"github.com/warpdl/dlmgr/internal/agent/agenttest"
	"github.com/warpdl/dlmgr/internal/config"
	idaemon "github.com/warpdl/dlmgr/internal/daemon"
	"github.com/warpdl/dlmgr/internal/netmon"
)

const cliSecret = "cli-secret"

// cliDaemon is an in-process daemon with a scripted engine.
type cliDaemon struct {
	cfg     *config.Config
	eng     *agenttest.Engine
	rpcAddr string
}

func startDaemon(t *testing.T) *cliDaemon {
	t.Helper()
	isolateConfig(t)
	dir := t.TempDir()
	cfg := config.Default()
	cfg.SocketPath = filepath.Join(dir, "d.sock")
	cfg.DatabasePath = filepath.Join(dir, "requests.db")
	cfg.DownloadDir = dir
	cfg.Queue.Tick = time.Hour
	cfg.RPC.Listen = "127.0.0.1:0"
	cfg.RPC.Secret = cliSecret

	d := &cliDaemon{cfg: cfg, eng: agenttest.New()}
	r := idaemon.New(cfg, &idaemon.Options{Version: "test"}, &idaemon.Dependencies{
		Engine:  d.eng,
		Schemes: []string{"http", "https"},
		Network: netmon.NewStatic(netmon.Status{Type: dlcommon.NETWORK_ETHERNET}),
		ListenerFactory: func(network, address string) (net.Listener, error) {
			ln, err := net.Listen(network, address)
			if err == nil {
				d.rpcAddr = ln.Addr().String()
			}
			return ln, err
		},
	}, nil)
	done := make(chan error, 1)
	go func() { done <- r.Start(context.Background()) }()
	select {
	case <-r.Ready():
	case err := <-done:
		t.Fatalf("Start() = %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not become ready")
	}
	t.Cleanup(func() {
		_ = r.Shutdown()
		<-done
	})
	t.Setenv("DLMGR_DAEMON_URI", "unix://"+cfg.SocketPath)
	return d
}

func (d *cliDaemon) handle(t *testing.T) int32 {
	t.Helper()
	select {
	case h := <-d.eng.Started():
		return h
	case <-time.After(5 * time.Second):
		t.Fatal("no transfer started")
		return 0
	}
}

var queuedRe = regexp.MustCompile(`Queued request (\d+)\.`)

func queuedID(t *testing.T, out string) int32 {
	t.Helper()
	m := queuedRe.FindStringSubmatch(out)
	require.NotNil(t, m, out)
	id, err := strconv.Atoi(m[1])
	require.NoError(t, err)
	return int32(id)
}

func TestAddInfoHeaders(t *testing.T) {
	d := startDaemon(t)
	out := runCLI(t, "add", "-o", "a.iso", "-H", "Referer: https://example.com", "-n", "ethernet",
		"https://example.com/a.iso")
	id := queuedID(t, out)
	h := d.handle(t)
	job := d.eng.Transfer(h).Job
	assert.Equal(t, "https://example.com/a.iso", job.URL)

	d.eng.Info(h, agent.Info{Total: 2048, MimeType: "application/x-iso9660-image"})
	d.eng.Progress(h, 1024)

	require.Eventually(t, func() bool {
		return regexp.MustCompile(`Received\s+: 1.0 KiB`).MatchString(runCLI(t, "info", fmt.Sprint(id)))
	}, 5*time.Second, 20*time.Millisecond)
	out = runCLI(t, "info", fmt.Sprint(id))
	assert.Contains(t, out, "https://example.com/a.iso")
	assert.Contains(t, out, "a.iso")
	assert.Contains(t, out, "ethernet")
	assert.Contains(t, out, "50%")

	assert.Contains(t, runCLI(t, "headers", fmt.Sprint(id)), "Referer: https://example.com")
}

func TestHeadersEditOnIdleRequest(t *testing.T) {
	startDaemon(t)
	// A wifi-only request never leaves the queue on an ethernet network.
	id := queuedID(t, runCLI(t, "add", "-n", "wifi", "https://example.com/b.bin"))
	assert.Contains(t, runCLI(t, "pause", fmt.Sprint(id)), "PAUSED")

	runCLI(t, "headers", "add", fmt.Sprint(id), "Cookie: a=b")
	assert.Contains(t, runCLI(t, "headers", fmt.Sprint(id)), "Cookie: a=b")
	runCLI(t, "headers", "rm", fmt.Sprint(id), "Cookie")
	assert.Contains(t, runCLI(t, "headers", fmt.Sprint(id)), "no extra headers")
}

func TestControlCommands(t *testing.T) {
	d := startDaemon(t)
	id := queuedID(t, runCLI(t, "add", "https://example.com/c.bin"))
	h := d.handle(t)

	out := runCLI(t, "pause", fmt.Sprint(id))
	assert.Regexp(t, fmt.Sprintf(`Request %d: PAUSE`, id), out)
	d.eng.Paused(h)
	require.Eventually(t, func() bool {
		return regexp.MustCompile(`State\s+: PAUSED`).MatchString(runCLI(t, "info", fmt.Sprint(id)))
	}, 5*time.Second, 20*time.Millisecond)

	assert.Contains(t, runCLI(t, "start", fmt.Sprint(id)), fmt.Sprintf("Request %d:", id))
	d.handle(t)
	assert.Contains(t, runCLI(t, "cancel", fmt.Sprint(id)), "CANCELED")
	assert.Contains(t, runCLI(t, "rm", fmt.Sprint(id)), "removed")
	assert.Contains(t, runCLI(t, "info", fmt.Sprint(id)), "info[info]")
}

func TestWatchUntilComplete(t *testing.T) {
	d := startDaemon(t)
	id := queuedID(t, runCLI(t, "add", "https://example.com/d.bin"))
	h := d.handle(t)
	saved := filepath.Join(d.cfg.DownloadDir, "d.bin")
	require.NoError(t, os.WriteFile(saved, make([]byte, 100), 0o644))

	go func() {
		d.eng.Info(h, agent.Info{Total: 100})
		d.eng.Progress(h, 60)
		time.Sleep(100 * time.Millisecond)
		d.eng.Finish(h, agent.Outcome{SavedPath: saved, Total: 100})
	}()
	out := runCLI(t, "watch", fmt.Sprint(id))
	assert.Contains(t, out, fmt.Sprintf("Request %d: COMPLETED", id))
}

func TestWatchSettledRequest(t *testing.T) {
	startDaemon(t)
	id := queuedID(t, runCLI(t, "add", "-n", "wifi", "https://example.com/e.bin"))
	runCLI(t, "cancel", fmt.Sprint(id))
	assert.Contains(t, runCLI(t, "watch", fmt.Sprint(id)), fmt.Sprintf("Request %d: CANCELED", id))
}

func TestListOverSideChannel(t *testing.T) {
	d := startDaemon(t)
	t.Setenv("DLMGR_RPC_LISTEN", d.rpcAddr)
	id := queuedID(t, runCLI(t, "add", "-n", "wifi", "https://example.com/f.bin"))

	out := runCLI(t, "list", "--secret", cliSecret, "--status", "queued")
	assert.Regexp(t, fmt.Sprintf(`\|\s+%d \| dlmgr`, id), out)
	assert.Contains(t, out, "QUEUED")

	assert.Contains(t, runCLI(t, "list", "--secret", cliSecret, "--status", "paused"), "no resident downloads")
	assert.Contains(t, runCLI(t, "list", "--secret", cliSecret, "--stats"), "Resident    : 1")
	assert.Contains(t, runCLI(t, "list", "--secret", "wrong"), "unauthorized")
}

func TestCommandsValidateArguments(t *testing.T) {
	isolateConfig(t)
	assert.Contains(t, runCLI(t, "pause"), "no request id provided")
	assert.Contains(t, runCLI(t, "info", "abc"), `invalid request id "abc"`)
	assert.Contains(t, runCLI(t, "watch", "1", "-3"), "invalid request id")
	assert.Contains(t, runCLI(t, "add"), "no url provided")
	assert.Contains(t, runCLI(t, "add", "-n", "bogus", "http://x/y"), `unknown network type "bogus"`)
	assert.Contains(t, runCLI(t, "add", "--notify", "loud", "http://x/y"), "unknown notification policy")
	assert.Contains(t, runCLI(t, "add", "-H", "NoColon", "http://x/y"), "invalid header")
	assert.Contains(t, runCLI(t, "headers", "add", "1"), "expected <id>")
}

func TestNoDaemon(t *testing.T) {
	isolateConfig(t)
	assert.Contains(t, runCLI(t, "info", "1"), "info[new_client]")
}
