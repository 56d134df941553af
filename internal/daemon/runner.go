// Package daemon runs the download service: it wires the components,
// recovers logged work, and supervises the listeners, the scheduler and
// the maintenance loop until shutdown.
package daemon

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/warpdl/dlmgr/internal/agent"
	"github.com/warpdl/dlmgr/internal/config"
	"github.com/warpdl/dlmgr/internal/events"
	"github.com/warpdl/dlmgr/internal/netmon"
	"github.com/warpdl/dlmgr/pkg/logger"
)

// Sentinel errors for the daemon runner.
var (
	// ErrAlreadyRunning is returned when Start() is called on a running daemon.
	ErrAlreadyRunning = errors.New("daemon is already running")

	// ErrNotRunning is returned when Shutdown() is called on a stopped daemon.
	ErrNotRunning = errors.New("daemon is not running")

	// ErrShutdownTimeout is returned when shutdown exceeds the configured timeout.
	ErrShutdownTimeout = errors.New("shutdown timed out")
)

// webShutdownTimeout bounds the graceful stop of the side channel.
const webShutdownTimeout = 5 * time.Second

// Options holds the runner settings that do not come from the config file.
type Options struct {
	// Version is reported by the monitoring RPC.
	Version string

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	// A zero value means no timeout.
	ShutdownTimeout time.Duration
}

// Dependencies holds the external dependencies for the daemon runner.
// This enables dependency injection for testing.
type Dependencies struct {
	// ListenerFactory creates the side-channel listener.
	// If nil, net.Listen is used.
	ListenerFactory func(network, address string) (net.Listener, error)

	// Fs is the file system for downloads and destination checks.
	// If nil, the OS file system is used.
	Fs afero.Fs

	// Engine replaces the HTTP/FTP router. Schemes lists the URL schemes
	// it accepts.
	Engine  agent.Engine
	Schemes []string

	// Network replaces the polling connectivity monitor.
	Network *netmon.Monitor

	// ShutdownFunc is called during shutdown before the components stop.
	// If nil, no cleanup function is called.
	ShutdownFunc func() error
}

// Runner manages the daemon lifecycle.
type Runner struct {
	cfg   *config.Config
	opts  Options
	deps  *Dependencies
	l     logger.Logger
	ready chan struct{}
	once  sync.Once

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	comps   *Components
}

// New creates a new daemon runner for cfg.
// If opts is nil, default values are used.
// If deps is nil, default dependencies (using net.Listen) are used.
func New(cfg *config.Config, opts *Options, deps *Dependencies, l logger.Logger) *Runner {
	if opts == nil {
		opts = &Options{}
	}
	if l == nil {
		l = logger.NewNopLogger()
	}
	return &Runner{
		cfg:   cfg,
		opts:  *opts,
		deps:  applyDependencyDefaults(deps),
		l:     l,
		ready: make(chan struct{}),
	}
}

// applyDependencyDefaults returns Dependencies with default values applied.
func applyDependencyDefaults(deps *Dependencies) *Dependencies {
	if deps == nil {
		deps = &Dependencies{}
	}
	if deps.ListenerFactory == nil {
		deps.ListenerFactory = net.Listen
	}
	if deps.Fs == nil {
		deps.Fs = afero.NewOsFs()
	}
	return deps
}

// Config returns the daemon configuration.
func (r *Runner) Config() *config.Config {
	return r.cfg
}

// Components returns the wired components, or nil when not running.
func (r *Runner) Components() *Components {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.comps
}

// Ready is closed the first time recovery is done and the workers are
// launched.
func (r *Runner) Ready() <-chan struct{} {
	return r.ready
}

// Start begins the daemon and blocks until the context is canceled or a
// component fails. Returns ErrAlreadyRunning if the daemon is already
// started.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return ErrAlreadyRunning
	}

	// Build BEFORE setting running=true so a failed start leaves the
	// runner stopped.
	comps, err := Build(ctx, r.cfg, r.deps, r.opts.Version, r.l)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	var web net.Listener
	if comps.Web != nil {
		if web, err = r.deps.ListenerFactory("tcp", r.cfg.RPC.Listen); err != nil {
			r.mu.Unlock()
			comps.Close()
			return err
		}
	}
	ctx, r.cancel = context.WithCancel(ctx)
	r.comps = comps
	r.done = make(chan struct{})
	r.running = true
	r.mu.Unlock()

	err = r.run(ctx, comps, web)

	r.cleanupOnStop()
	if err == nil {
		err = ctx.Err()
	}
	return err
}

func (r *Runner) run(ctx context.Context, c *Components, web net.Listener) error {
	queued, err := NewRecovery(c.Store, c.Registry, r.l).Boot(ctx)
	if err != nil {
		r.l.Warning("daemon: recovery: %v", err)
	} else if queued > 0 {
		r.l.Info("daemon: recovered %d queued request(s)", queued)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.Server.Start(gctx) })
	g.Go(func() error { return c.Network.Run(gctx) })
	g.Go(func() error { return c.Queue.Run(gctx) })
	g.Go(func() error { return newMaintenance(c, r.cfg, r.l).run(gctx) })
	if web != nil {
		g.Go(func() error { return c.Web.Serve(web) })
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), webShutdownTimeout)
			defer cancel()
			return c.Web.Shutdown(sctx)
		})
	}
	c.Queue.Wake()
	r.once.Do(func() { close(r.ready) })
	r.l.Info("daemon: started")

	err = g.Wait()
	r.interrupt(c)
	return err
}

// interrupt detaches every running request from the engine. Their rows go
// back to QUEUED with the bytes received so far, so the next start resumes
// them.
func (r *Runner) interrupt(c *Components) {
	ctx, cancel := context.WithTimeout(context.Background(), webShutdownTimeout)
	defer cancel()
	now := time.Now()
	for _, req := range c.Registry.Snapshot() {
		req.Lock()
		h, ok := req.Interrupt(now)
		if !ok {
			req.Unlock()
			continue
		}
		if req.Persisted {
			if err := c.Registry.Persist(ctx, req); err != nil {
				r.l.Warning("daemon: %d: persist: %v", req.ID, err)
			}
		}
		d := events.Capture(req, events.KindState)
		req.Unlock()
		c.Bridge.Cancel(h)
		c.Hub.Deliver(ctx, d)
	}
}

// cleanupOnStop releases the components when the daemon stops.
func (r *Runner) cleanupOnStop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.comps != nil {
		r.comps.Close()
		r.comps = nil
	}
	r.running = false
	close(r.done)
	r.l.Info("daemon: stopped")
}

// Shutdown gracefully stops the daemon.
// Returns ErrNotRunning if the daemon is not running.
// Returns ErrShutdownTimeout if shutdown exceeds the configured timeout.
func (r *Runner) Shutdown() error {
	if err := r.validateRunning(); err != nil {
		return err
	}

	// Execute shutdown function if configured
	if r.deps.ShutdownFunc != nil {
		// The shutdown must proceed regardless of cleanup errors.
		_ = r.deps.ShutdownFunc()
	}

	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.mu.Unlock()
	cancel()

	if r.opts.ShutdownTimeout > 0 {
		return r.executeWithTimeout(func() error {
			<-done
			return nil
		}, r.opts.ShutdownTimeout)
	}
	<-done
	return nil
}

// validateRunning checks if the daemon is running.
// Returns ErrNotRunning if not running.
func (r *Runner) validateRunning() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return ErrNotRunning
	}
	return nil
}

// executeWithTimeout runs a function with a timeout.
// Returns ErrShutdownTimeout if the function exceeds the timeout.
// Returns the function's error if it completes within the timeout.
func (r *Runner) executeWithTimeout(fn func() error, timeout time.Duration) error {
	done := make(chan error, 1)
	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		return ErrShutdownTimeout
	}
}

// IsRunning returns true if the daemon is currently running.
func (r *Runner) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}
