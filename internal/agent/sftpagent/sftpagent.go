// Package sftpagent is the SFTP transfer engine. It downloads over a single
// stream on an SSH connection and resumes by seeking the remote file.
// Host keys are trusted on first use.
package sftpagent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"github.com/spf13/afero"
	"golang.org/x/crypto/ssh"

	"github.com/warpdl/dlmgr/common"
	"github.com/warpdl/dlmgr/internal/agent"
	"github.com/warpdl/dlmgr/pkg/logger"
)

// DefaultTimeout bounds dialing and the SSH handshake.
const DefaultTimeout = 30 * time.Second

// Options configures an Engine.
type Options struct {
	Fs          afero.Fs
	DownloadDir string
	Timeout     time.Duration
	MaxActive   int
	SpeedLimit  int64
	FileMode    os.FileMode
	// KnownHosts is the trust-on-first-use host key file.
	KnownHosts string
	// KeyPath is the private key used when the URL carries no password.
	// Empty tries ~/.ssh/id_ed25519, then ~/.ssh/id_rsa.
	KeyPath string
	Logger  logger.Logger
}

// Engine implements agent.Engine for sftp:// URLs.
type Engine struct {
	*agent.Tracker
	fs      afero.Fs
	dir     string
	timeout time.Duration
	mode    os.FileMode
	hosts   *HostKeys
	keyPath string
	l       logger.Logger
}

var _ agent.Engine = (*Engine)(nil)

// New returns an engine.
func New(opts Options) *Engine {
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.DownloadDir == "" {
		opts.DownloadDir = "."
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.FileMode == 0 {
		opts.FileMode = 0o644
	}
	if opts.KnownHosts == "" {
		opts.KnownHosts = "known_hosts"
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNopLogger()
	}
	return &Engine{
		Tracker: agent.NewTracker(opts.MaxActive, opts.SpeedLimit, opts.Logger),
		fs:      opts.Fs,
		dir:     opts.DownloadDir,
		timeout: opts.Timeout,
		mode:    opts.FileMode,
		hosts:   NewHostKeys(opts.KnownHosts),
		keyPath: opts.KeyPath,
		l:       opts.Logger,
	}
}

type target struct {
	host     string
	path     string
	user     string
	password string
}

func parse(raw string) (target, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return target{}, common.NewError(common.ERROR_INVALID_URL, err)
	}
	if strings.ToLower(u.Scheme) != "sftp" {
		return target{}, common.Errorf(common.ERROR_INVALID_URL, "unsupported scheme %q", u.Scheme)
	}
	if u.Path == "" || strings.HasSuffix(u.Path, "/") {
		return target{}, common.Errorf(common.ERROR_INVALID_URL, "no file in %q", u.Redacted())
	}
	if u.User == nil || u.User.Username() == "" {
		return target{}, common.Errorf(common.ERROR_INVALID_URL, "no user in %q", u.Redacted())
	}
	t := target{host: u.Host, path: u.Path, user: u.User.Username()}
	if u.Port() == "" {
		t.host = net.JoinHostPort(u.Hostname(), "22")
	}
	t.password, _ = u.User.Password()
	return t, nil
}

// session is one SSH connection with its SFTP subsystem.
type session struct {
	ssh  *ssh.Client
	sftp *sftp.Client
}

func (s *session) Close() {
	s.sftp.Close()
	s.ssh.Close()
}

func (e *Engine) dial(ctx context.Context, t target) (*session, error) {
	auth, err := authMethods(t.password, e.keyPath)
	if err != nil {
		return nil, err
	}
	var hostErr error
	cfg := &ssh.ClientConfig{
		User: t.user,
		Auth: auth,
		HostKeyCallback: func(hostname string, remote net.Addr, key ssh.PublicKey) error {
			hostErr = e.hosts.Check(hostname, remote, key)
			return hostErr
		},
		Timeout: e.timeout,
	}
	d := net.Dialer{Timeout: e.timeout}
	nc, err := d.DialContext(ctx, "tcp", t.host)
	if err != nil {
		return nil, err
	}
	_ = nc.SetDeadline(time.Now().Add(e.timeout))
	conn, chans, reqs, err := ssh.NewClientConn(nc, t.host, cfg)
	if err != nil {
		nc.Close()
		if hostErr != nil {
			return nil, common.NewError(common.ERROR_CONNECTION_FAILED, hostErr)
		}
		return nil, classify(err)
	}
	_ = nc.SetDeadline(time.Time{})
	client := ssh.NewClient(conn, chans, reqs)
	sc, err := sftp.NewClient(client)
	if err != nil {
		client.Close()
		return nil, common.NewError(common.ERROR_PROTOCOL, err)
	}
	return &session{ssh: client, sftp: sc}, nil
}

func (e *Engine) Start(ctx context.Context, h int32, job agent.Job, cb agent.Callbacks) error {
	job.Offset, job.TempPath = 0, ""
	return e.begin(ctx, h, job, cb)
}

func (e *Engine) Resume(ctx context.Context, h int32, job agent.Job, cb agent.Callbacks) error {
	return e.begin(ctx, h, job, cb)
}

func (e *Engine) begin(ctx context.Context, h int32, job agent.Job, cb agent.Callbacks) error {
	t, err := parse(job.URL)
	if err != nil {
		return err
	}
	x, err := e.Begin(ctx, h, job, cb)
	if err != nil {
		return err
	}
	run, err := e.connect(x, t)
	if err != nil {
		x.Abort()
		return err
	}
	x.Run(run)
	return nil
}

func (e *Engine) connect(x *agent.Transfer, t target) (func(context.Context) agent.Outcome, error) {
	job := x.Job
	s, err := e.dial(x.Context(), t)
	if err != nil {
		return nil, err
	}
	fi, err := s.sftp.Stat(t.path)
	if err != nil {
		s.Close()
		return nil, classify(err)
	}
	if fi.IsDir() {
		s.Close()
		return nil, common.Errorf(common.ERROR_INVALID_URL, "%s is a directory", t.path)
	}
	total := uint64(fi.Size())

	name := agent.FileName(agent.Job{FileName: job.FileName, URL: "sftp://h" + t.path}, "")
	dir := job.Destination
	if dir == "" {
		dir = e.dir
	}
	final := filepath.Join(dir, name)
	offset := job.Offset
	part := job.TempPath
	if offset > total {
		offset = 0
	}
	if part == "" || offset == 0 {
		part = final + agent.PartSuffix
		offset = 0
	}

	remote, err := s.sftp.Open(t.path)
	if err != nil {
		s.Close()
		return nil, classify(err)
	}
	if offset > 0 {
		if _, err := remote.Seek(int64(offset), io.SeekStart); err != nil {
			remote.Close()
			s.Close()
			return nil, common.NewError(common.ERROR_CANNOT_RESUME, err)
		}
	}
	f, err := e.open(part, offset)
	if err != nil {
		remote.Close()
		s.Close()
		return nil, err
	}

	x.Info(agent.Info{
		Total:       total,
		MimeType:    mime.TypeByExtension(path.Ext(name)),
		ContentName: name,
		TempPath:    part,
	})
	e.l.Debug("sftpagent: %d: %s@%s:%s -> %s from %d", job.ID, t.user, t.host, t.path, part, offset)

	return func(ctx context.Context) agent.Outcome {
		// Reads on the remote file do not watch ctx; closing the
		// connection unblocks them.
		stop := context.AfterFunc(ctx, s.Close)
		defer stop()
		n, err := x.Copy(f, remote, offset)
		remote.Close()
		s.Close()
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			if x.Canceled() {
				e.fs.Remove(part)
			}
			return agent.Outcome{Err: classify(err)}
		}
		if n != total {
			return agent.Outcome{Err: io.ErrUnexpectedEOF}
		}
		saved, err := agent.UniquePath(e.fs, final)
		if err != nil {
			return agent.Outcome{Err: err}
		}
		if err := e.fs.Rename(part, saved); err != nil {
			return agent.Outcome{Err: err}
		}
		return agent.Outcome{SavedPath: saved, ContentName: name, Total: n}
	}, nil
}

func (e *Engine) open(part string, offset uint64) (afero.File, error) {
	if err := e.fs.MkdirAll(filepath.Dir(part), 0o755); err != nil {
		return nil, err
	}
	if offset == 0 {
		return e.fs.OpenFile(part, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, e.mode)
	}
	f, err := e.fs.OpenFile(part, os.O_WRONLY, e.mode)
	if err != nil {
		return nil, common.NewError(common.ERROR_CANNOT_RESUME, err)
	}
	if _, err := f.Seek(int64(offset), io.SeekStart); err != nil {
		f.Close()
		return nil, common.NewError(common.ERROR_CANNOT_RESUME, err)
	}
	return f, nil
}

// authMethods prefers the URL password, then a private key file.
// Passphrase-protected keys are not supported.
func authMethods(password, keyPath string) ([]ssh.AuthMethod, error) {
	if password != "" {
		return []ssh.AuthMethod{ssh.Password(password)}, nil
	}
	paths := keyPaths(keyPath)
	for _, p := range paths {
		pem, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		signer, err := ssh.ParsePrivateKey(pem)
		if err != nil {
			var ppErr *ssh.PassphraseMissingError
			if errors.As(err, &ppErr) {
				return nil, common.Errorf(common.ERROR_PERMISSION_DENIED, "ssh key %s is passphrase-protected", p)
			}
			continue
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
	}
	return nil, common.Errorf(common.ERROR_PERMISSION_DENIED,
		"no password in url and no usable ssh key in %s", strings.Join(paths, ", "))
}

func keyPaths(explicit string) []string {
	if explicit != "" {
		return []string{explicit}
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	return []string{
		filepath.Join(home, ".ssh", "id_ed25519"),
		filepath.Join(home, ".ssh", "id_rsa"),
	}
}

// classify maps SSH and SFTP failures onto the daemon taxonomy. Network
// errors are left for agent.Translate.
func classify(err error) error {
	var ce *common.CodeError
	if errors.As(err, &ce) {
		return err
	}
	if errors.Is(err, os.ErrNotExist) {
		return common.NewError(common.ERROR_UNHANDLED_HTTP_CODE, err)
	}
	if errors.Is(err, os.ErrPermission) {
		return common.NewError(common.ERROR_PERMISSION_DENIED, err)
	}
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		return common.NewError(common.ERROR_PROTOCOL, err)
	}
	var st *sftp.StatusError
	if errors.As(err, &st) {
		return common.NewError(common.ERROR_PROTOCOL, fmt.Errorf("sftp status %d: %w", st.Code, err))
	}
	if strings.Contains(err.Error(), "unable to authenticate") {
		return common.NewError(common.ERROR_PERMISSION_DENIED, err)
	}
	return err
}
