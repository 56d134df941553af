// Package config loads the daemon configuration from an optional YAML file,
// DLMGR_* environment variables, and command-line overrides, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adhocore/gronx"
	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/warpdl/dlmgr/common"
)

// EnvPrefix is the prefix of every environment override.
const EnvPrefix = "DLMGR"

// Config holds the complete daemon configuration.
type Config struct {
	SocketPath string `yaml:"socket_path" envconfig:"SOCKET_PATH"`
	// PipeName is the Windows named pipe, with or without the \\.\pipe\ prefix.
	PipeName string `yaml:"pipe_name" envconfig:"PIPE_NAME"`
	TCPPort  int    `yaml:"tcp_port" envconfig:"TCP_PORT" validate:"min=0,max=65535"`
	// ForceTCP skips the unix socket and the named pipe and listens on TCPPort only.
	ForceTCP     bool   `yaml:"force_tcp" envconfig:"FORCE_TCP"`
	DatabasePath string `yaml:"database_path" envconfig:"DATABASE_PATH" validate:"required"`
	DownloadDir  string `yaml:"download_dir" envconfig:"DOWNLOAD_DIR" validate:"required"`

	Queue   QueueConfig   `yaml:"queue" envconfig:"QUEUE"`
	Store   StoreConfig   `yaml:"store" envconfig:"STORE"`
	Network NetworkConfig `yaml:"network" envconfig:"NETWORK"`
	Engine  EngineConfig  `yaml:"engine" envconfig:"ENGINE"`
	RPC     RPCConfig     `yaml:"rpc" envconfig:"RPC"`
	Log     LogConfig     `yaml:"log" envconfig:"LOG"`
}

// QueueConfig bounds admission and residency.
type QueueConfig struct {
	// MaxActive is the concurrency ceiling for CONNECTING/DOWNLOADING requests.
	MaxActive int `yaml:"max_active" envconfig:"MAX_ACTIVE" validate:"min=1,max=64"`
	// MaxRequests is the capacity of the in-memory registry.
	MaxRequests int `yaml:"max_requests" envconfig:"MAX_REQUESTS" validate:"min=1"`
	// Tick is the maintenance period of the dispatcher.
	Tick time.Duration `yaml:"tick" envconfig:"TICK" validate:"min=1s"`
	// IdleEviction is how long an unowned, inactive request stays in memory.
	IdleEviction time.Duration `yaml:"idle_eviction" envconfig:"IDLE_EVICTION" validate:"min=0"`
	// ProgressInterval is the minimum spacing of progress events per request.
	ProgressInterval time.Duration `yaml:"progress_interval" envconfig:"PROGRESS_INTERVAL" validate:"min=0"`
}

// StoreConfig controls log rotation of the durable store.
type StoreConfig struct {
	RotateSchedule string        `yaml:"rotate_schedule" envconfig:"ROTATE_SCHEDULE" validate:"required"`
	MaxRows        int           `yaml:"max_rows" envconfig:"MAX_ROWS" validate:"min=1"`
	MaxAge         time.Duration `yaml:"max_age" envconfig:"MAX_AGE" validate:"min=0"`
	BusyTimeout    time.Duration `yaml:"busy_timeout" envconfig:"BUSY_TIMEOUT"`
}

// NetworkConfig controls the connectivity monitor.
type NetworkConfig struct {
	PollInterval time.Duration `yaml:"poll_interval" envconfig:"POLL_INTERVAL" validate:"min=0"`
}

// EngineConfig selects and tunes the transfer engines.
type EngineConfig struct {
	// Protocols lists the engines to register: http (http and https), ftp
	// (ftp and ftps) and sftp.
	Protocols  []string      `yaml:"protocols" envconfig:"PROTOCOLS" validate:"min=1,dive,oneof=http ftp sftp"`
	MaxActive  int           `yaml:"max_active" envconfig:"MAX_ACTIVE" validate:"min=0"`
	SpeedLimit int64         `yaml:"speed_limit" envconfig:"SPEED_LIMIT" validate:"min=0"`
	Timeout    time.Duration `yaml:"timeout" envconfig:"TIMEOUT"`
	UserAgent  string        `yaml:"user_agent" envconfig:"USER_AGENT"`
	FileMode   uint32        `yaml:"file_mode" envconfig:"FILE_MODE"`
	// Chown hands completed files to the requesting client's uid/gid.
	Chown bool `yaml:"chown" envconfig:"CHOWN"`
	// Proxy overrides the *_PROXY environment. http, https and socks5
	// schemes are accepted.
	Proxy string `yaml:"proxy" envconfig:"PROXY" validate:"omitempty,url"`
	// KnownHosts is the SFTP host key file, trusted on first use. Empty
	// means known_hosts in the data directory.
	KnownHosts string `yaml:"known_hosts" envconfig:"KNOWN_HOSTS"`
	// SSHKey is the private key for sftp URLs without a password.
	SSHKey string `yaml:"ssh_key" envconfig:"SSH_KEY"`
}

// RPCConfig controls the JSON-RPC side channel.
type RPCConfig struct {
	Listen string `yaml:"listen" envconfig:"LISTEN"`
	Secret string `yaml:"secret" envconfig:"SECRET"`
	// Keyring reads the secret from the OS keyring when Secret is empty.
	Keyring bool `yaml:"keyring" envconfig:"KEYRING"`
}

// LogConfig selects the logging backend.
type LogConfig struct {
	Level  string `yaml:"level" envconfig:"LEVEL" validate:"oneof=debug info warn warning error"`
	Format string `yaml:"format" envconfig:"FORMAT" validate:"oneof=json text console"`
	File   string `yaml:"file" envconfig:"FILE"`
}

// Default returns the built-in configuration.
func Default() *Config {
	base := defaultDataDir()
	return &Config{
		SocketPath:   filepath.Join(os.TempDir(), common.DefaultSocketName),
		PipeName:     common.DefaultPipeName,
		TCPPort:      common.DefaultTCPPort,
		DatabasePath: filepath.Join(base, "requests.db"),
		DownloadDir:  defaultDownloadDir(),
		Queue: QueueConfig{
			MaxActive:        5,
			MaxRequests:      64,
			Tick:             60 * time.Second,
			IdleEviction:     10 * time.Minute,
			ProgressInterval: time.Second,
		},
		Store: StoreConfig{
			RotateSchedule: "*/30 * * * *",
			MaxRows:        1000,
			MaxAge:         48 * time.Hour,
			BusyTimeout:    5 * time.Second,
		},
		Network: NetworkConfig{
			PollInterval: 5 * time.Second,
		},
		Engine: EngineConfig{
			Protocols: []string{"http", "ftp", "sftp"},
			Timeout:   30 * time.Second,
			FileMode:  0o644,
		},
		RPC: RPCConfig{
			Listen: "127.0.0.1:3860",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// DefaultPath is the config file read when none is given.
func DefaultPath() string {
	return filepath.Join(defaultDataDir(), "config.yaml")
}

// DataDir is the directory holding the request log and the pid file.
func (c *Config) DataDir() string {
	return filepath.Dir(c.DatabasePath)
}

// KnownHostsPath is the SFTP host key file.
func (c *Config) KnownHostsPath() string {
	if c.Engine.KnownHosts != "" {
		return c.Engine.KnownHosts
	}
	return filepath.Join(c.DataDir(), "known_hosts")
}

func defaultDataDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "dlmgr")
}

func defaultDownloadDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return os.TempDir()
	}
	return filepath.Join(home, "Downloads")
}

// Load builds the configuration: defaults, then the YAML file at path (when
// path is non-empty), then environment overrides. The result is validated.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

var validate = validator.New()

// Validate checks field constraints and the rotation cron expression.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if !gronx.IsValid(c.Store.RotateSchedule) {
		return fmt.Errorf("invalid config: rotate_schedule %q is not a cron expression", c.Store.RotateSchedule)
	}
	return nil
}

// EnsureDirs creates the directories the daemon writes into.
func (c *Config) EnsureDirs() error {
	for _, dir := range []string{filepath.Dir(c.DatabasePath), c.DownloadDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}
