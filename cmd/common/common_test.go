package common

import (
	"errors"
	"flag"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli"
	"github.com/vbauerster/mpb/v8"
)

func newTestContext(args ...string) *cli.Context {
	app := cli.NewApp()
	app.Name = "dlmgr"
	app.HelpName = "dlmgr"
	app.Version = "test"
	set := flag.NewFlagSet("test", flag.ContinueOnError)
	_ = set.Parse(args)
	ctx := cli.NewContext(app, set, nil)
	ctx.Command = cli.Command{Name: "cmd"}
	return ctx
}

// stubHelp replaces the help printers for the duration of the test and
// counts their calls.
func stubHelp(t *testing.T, cmdErr error) (app, cmd *int) {
	t.Helper()
	app, cmd = new(int), new(int)
	origApp, origCmd := showAppHelpAndExit, showCommandHelp
	showAppHelpAndExit = func(*cli.Context, int) { *app++ }
	showCommandHelp = func(*cli.Context, string) error {
		*cmd++
		return cmdErr
	}
	t.Cleanup(func() { showAppHelpAndExit, showCommandHelp = origApp, origCmd })
	return app, cmd
}

func TestInitBar(t *testing.T) {
	p := mpb.New(mpb.WithOutput(nil))
	bar := InitBar(p, "42 ", 100, 40)
	require.NotNil(t, bar)
	assert.EqualValues(t, 40, bar.Current())
	bar.SetCurrent(100)
	bar.Abort(false)
	p.Wait()
}

func TestInitBarUnknownTotal(t *testing.T) {
	p := mpb.New(mpb.WithOutput(nil))
	bar := InitBar(p, "7 ", 0, 0)
	require.NotNil(t, bar)
	assert.EqualValues(t, 0, bar.Current())
	bar.Abort(true)
	p.Wait()
}

func TestBeaut(t *testing.T) {
	assert.Equal(t, " hi ", Beaut("hi", 4))
	assert.Equal(t, " hi  ", Beaut("hi", 5))
	assert.Equal(t, "long", Beaut("long", 2))
	assert.Equal(t, []rune{'x', 'x', 'x'}, replic('x', 3))
}

func TestPrintRuntimeErr(t *testing.T) {
	PrintRuntimeErr(nil, "cmd", "action", nil)
	PrintRuntimeErr(nil, "cmd", "action", errors.New("boom"))
	PrintRuntimeErr(newTestContext(), "cmd", "action", errors.New("boom"))
}

func TestPrintErrWithHelp(t *testing.T) {
	app, _ := stubHelp(t, nil)
	require.NoError(t, PrintErrWithHelp(newTestContext(), errors.New("oops")))
	assert.Equal(t, 1, *app)

	require.NoError(t, PrintErrWithHelp(newTestContext(), nil))
	assert.Equal(t, 1, *app)
}

func TestPrintErrWithHelpRoutesHelpRequests(t *testing.T) {
	app, _ := stubHelp(t, nil)
	require.NoError(t, PrintErrWithHelp(newTestContext(), errors.New("flag: help requested")))
	assert.Equal(t, 1, *app)

	old := VersionCmdStr
	VersionCmdStr = "dlmgr v0"
	defer func() { VersionCmdStr = old }()
	require.NoError(t, PrintErrWithHelp(newTestContext(), errors.New("bad -v")))
	assert.Equal(t, 1, *app)
}

func TestPrintErrWithCmdHelp(t *testing.T) {
	_, cmd := stubHelp(t, nil)
	require.NoError(t, PrintErrWithCmdHelp(newTestContext(), errors.New("oops")))
	assert.Equal(t, 1, *cmd)
}

func TestPrintErrWithCmdHelpSwallowsHelpError(t *testing.T) {
	stubHelp(t, errors.New("boom"))
	assert.NoError(t, PrintErrWithCmdHelp(newTestContext(), errors.New("oops")))
}

func TestUsageErrorCallback(t *testing.T) {
	app, cmd := stubHelp(t, nil)
	require.NoError(t, UsageErrorCallback(newTestContext(), errors.New("oops"), false))
	assert.Equal(t, 1, *cmd)

	ctx := newTestContext()
	ctx.Command = cli.Command{}
	require.NoError(t, UsageErrorCallback(ctx, errors.New("oops"), false))
	assert.Equal(t, 1, *app)
}

func TestHelp(t *testing.T) {
	app, cmd := stubHelp(t, nil)
	require.NoError(t, Help(newTestContext()))
	assert.Equal(t, 1, *app)

	require.NoError(t, Help(newTestContext("info")))
	assert.Equal(t, 1, *cmd)
}

func TestHelpUnknownCommand(t *testing.T) {
	stubHelp(t, errors.New("no such command"))
	assert.Error(t, Help(newTestContext("bogus")))
}

func TestGetVersion(t *testing.T) {
	old := VersionCmdStr
	VersionCmdStr = "dlmgr v1.2.3"
	defer func() { VersionCmdStr = old }()
	assert.NoError(t, GetVersion(newTestContext()))
}

func TestClip(t *testing.T) {
	assert.Equal(t, "short", Clip("short", 10))
	assert.Equal(t, "a-lo...", Clip("a-long-name", 7))
}
