package cmd

import (
	"bytes"
	"flag"
	"io"
	"os"

	"github.com/urfave/cli"
)

// captureOutput runs f with os.Stdout and os.Stderr redirected to pipes
// and returns what was written to each.
func captureOutput(f func()) (stdout, stderr string) {
	oldStdout, oldStderr := os.Stdout, os.Stderr
	rOut, wOut, _ := os.Pipe()
	rErr, wErr, _ := os.Pipe()
	os.Stdout, os.Stderr = wOut, wErr

	var bufOut, bufErr bytes.Buffer
	doneOut, doneErr := make(chan struct{}), make(chan struct{})
	go func() { io.Copy(&bufOut, rOut); close(doneOut) }()
	go func() { io.Copy(&bufErr, rErr); close(doneErr) }()

	defer func() {
		wOut.Close()
		wErr.Close()
		<-doneOut
		<-doneErr
		os.Stdout, os.Stderr = oldStdout, oldStderr
		stdout, stderr = bufOut.String(), bufErr.String()
	}()
	f()
	return
}

// newContext creates a CLI context with args for calling an action
// directly.
func newContext(app *cli.App, args []string, name string) *cli.Context {
	set := flag.NewFlagSet(name, flag.ContinueOnError)
	_ = set.Parse(args)
	ctx := cli.NewContext(app, set, nil)
	ctx.Command = cli.Command{Name: name}
	return ctx
}
