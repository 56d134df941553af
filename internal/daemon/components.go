package daemon

import (
	"context"
	"fmt"
	"os"

	"github.com/samber/lo"
	"github.com/spf13/afero"

	"github.com/warpdl/dlmgr/common"
	"github.com/warpdl/dlmgr/internal/agent"
	"github.com/warpdl/dlmgr/internal/agent/ftpagent"
	"github.com/warpdl/dlmgr/internal/agent/httpagent"
	"github.com/warpdl/dlmgr/internal/agent/sftpagent"
	"github.com/warpdl/dlmgr/internal/api"
	"github.com/warpdl/dlmgr/internal/config"
	"github.com/warpdl/dlmgr/internal/events"
	"github.com/warpdl/dlmgr/internal/metrics"
	"github.com/warpdl/dlmgr/internal/netmon"
	"github.com/warpdl/dlmgr/internal/queue"
	"github.com/warpdl/dlmgr/internal/request"
	"github.com/warpdl/dlmgr/internal/server"
	"github.com/warpdl/dlmgr/internal/session"
	"github.com/warpdl/dlmgr/internal/store"
	"github.com/warpdl/dlmgr/pkg/logger"
)

// Components holds every initialized daemon component.
type Components struct {
	Store    *store.Store
	Registry *request.Registry
	Groups   *session.Table
	Hub      *events.Hub
	Notifier *server.RPCNotifier
	Network  *netmon.Monitor
	Bridge   *agent.Bridge
	Queue    *queue.Scheduler
	Api      *api.Api
	Server   *server.Server
	RPC      *server.RPCServer
	Web      *server.WebServer
	Metrics  *metrics.Metrics

	l logger.Logger
}

// Close releases the components in reverse order of initialization. The
// listeners are expected to be stopped already.
func (c *Components) Close() {
	if c.RPC != nil {
		c.RPC.Close()
	}
	if c.Server != nil {
		_ = c.Server.Shutdown()
	}
	if c.Store != nil {
		if err := c.Store.Close(); err != nil {
			c.l.Warning("daemon: close store: %v", err)
		}
	}
}

// buildEngine returns the scheme router over the engines named by
// cfg.Engine.Protocols.
func buildEngine(cfg *config.Config, fs afero.Fs, l logger.Logger) (*agent.Router, error) {
	mode := os.FileMode(cfg.Engine.FileMode)
	router := agent.NewRouter()
	for _, proto := range lo.Uniq(cfg.Engine.Protocols) {
		switch proto {
		case "http":
			client, err := httpagent.NewClient(cfg.Engine.Proxy, cfg.Engine.Timeout)
			if err != nil {
				return nil, fmt.Errorf("http client: %w", err)
			}
			router.Register(httpagent.New(httpagent.Options{
				Fs:          fs,
				Client:      client,
				DownloadDir: cfg.DownloadDir,
				UserAgent:   cfg.Engine.UserAgent,
				MaxActive:   cfg.Engine.MaxActive,
				SpeedLimit:  cfg.Engine.SpeedLimit,
				FileMode:    mode,
				Logger:      l,
			}), "http", "https")
		case "ftp":
			router.Register(ftpagent.New(ftpagent.Options{
				Fs:          fs,
				DownloadDir: cfg.DownloadDir,
				Timeout:     cfg.Engine.Timeout,
				MaxActive:   cfg.Engine.MaxActive,
				SpeedLimit:  cfg.Engine.SpeedLimit,
				FileMode:    mode,
				Logger:      l,
			}), "ftp", "ftps")
		case "sftp":
			router.Register(sftpagent.New(sftpagent.Options{
				Fs:          fs,
				DownloadDir: cfg.DownloadDir,
				Timeout:     cfg.Engine.Timeout,
				MaxActive:   cfg.Engine.MaxActive,
				SpeedLimit:  cfg.Engine.SpeedLimit,
				FileMode:    mode,
				KnownHosts:  cfg.KnownHostsPath(),
				KeyPath:     cfg.Engine.SSHKey,
				Logger:      l,
			}), "sftp")
		default:
			return nil, fmt.Errorf("unknown protocol %q", proto)
		}
	}
	return router, nil
}

// Build initializes every component from cfg. On error the components
// created so far are closed.
func Build(ctx context.Context, cfg *config.Config, deps *Dependencies, version string, l logger.Logger) (*Components, error) {
	deps = applyDependencyDefaults(deps)
	if l == nil {
		l = logger.NewNopLogger()
	}
	c := &Components{l: l, Metrics: metrics.New()}

	st, err := store.Open(ctx, store.Options{Path: cfg.DatabasePath, BusyTimeout: cfg.Store.BusyTimeout})
	if err != nil {
		l.Error("daemon: log store initialization failed: %v", err)
		return nil, err
	}
	c.Store = st
	c.Registry = request.NewRegistry(st, cfg.Queue.MaxRequests, l)
	c.Groups = session.NewTable()

	c.Notifier = server.NewRPCNotifier(l)
	c.Hub = events.NewHub(cfg.Queue.ProgressInterval, c.Notifier, c.Notifier, l)
	c.Hub.OnDrop = func() { c.Metrics.Event("dropped") }

	c.Network = deps.Network
	if c.Network == nil {
		c.Network = netmon.New(cfg.Network.PollInterval, l)
	}

	engine := deps.Engine
	schemes := deps.Schemes
	if engine == nil {
		router, err := buildEngine(cfg, deps.Fs, l)
		if err != nil {
			l.Error("daemon: engine initialization failed: %v", err)
			c.Close()
			return nil, err
		}
		engine = router
		schemes = router.Schemes()
	}

	policy := agent.NewPolicy(os.FileMode(cfg.Engine.FileMode), cfg.Engine.Chown)
	c.Bridge = agent.NewBridge(c.Registry, c.Hub, c.Network, engine, policy, c.Metrics, l)
	c.Queue = queue.New(c.Registry, c.Bridge, c.Network, cfg.Queue.MaxActive, l)
	c.Bridge.Wake = c.Queue.Wake

	c.Server = server.NewServer(server.Options{
		SocketPath: cfg.SocketPath,
		PipePath:   common.PipeAddress(cfg.PipeName),
		TCPPort:    cfg.TCPPort,
		ForceTCP:   cfg.ForceTCP,
	}, c.Groups, c.Metrics, l)
	c.Api = api.NewApi(l, c.Registry, st, c.Bridge, c.Hub, c.Metrics, api.Options{
		Fs:      deps.Fs,
		Schemes: schemes,
	})
	c.Api.Wake = c.Queue.Wake
	c.Api.RegisterHandlers(c.Server)

	if cfg.RPC.Listen != "" {
		if err := cfg.ResolveSecret(); err != nil {
			l.Warning("daemon: rpc secret: %v", err)
		}
		c.RPC = server.NewRPCServer(&server.RPCConfig{
			Secret:  cfg.RPC.Secret,
			Version: version,
		}, c.Registry, st, c.Groups, c.Hub, c.Notifier)
		c.Web = server.NewWebServer(cfg.RPC.Listen, c.RPC, c.Metrics, l)
	}
	return c, nil
}
