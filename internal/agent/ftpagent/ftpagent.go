// Package ftpagent is the FTP transfer engine. It downloads over a single
// binary stream and resumes with REST.
package ftpagent

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"mime"
	"net"
	"net/textproto"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/spf13/afero"

	"github.com/warpdl/dlmgr/common"
	"github.com/warpdl/dlmgr/internal/agent"
	"github.com/warpdl/dlmgr/pkg/logger"
)

// DefaultTimeout bounds dialing the control connection.
const DefaultTimeout = 30 * time.Second

// Options configures an Engine.
type Options struct {
	Fs          afero.Fs
	DownloadDir string
	Timeout     time.Duration
	MaxActive   int
	SpeedLimit  int64
	FileMode    os.FileMode
	Logger      logger.Logger
}

// Engine implements agent.Engine for ftp:// and ftps:// URLs.
type Engine struct {
	*agent.Tracker
	fs      afero.Fs
	dir     string
	timeout time.Duration
	mode    os.FileMode
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
	if opts.Logger == nil {
		opts.Logger = logger.NewNopLogger()
	}
	return &Engine{
		Tracker: agent.NewTracker(opts.MaxActive, opts.SpeedLimit, opts.Logger),
		fs:      opts.Fs,
		dir:     opts.DownloadDir,
		timeout: opts.Timeout,
		mode:    opts.FileMode,
		l:       opts.Logger,
	}
}

type target struct {
	host     string
	path     string
	user     string
	password string
	tls      bool
}

func parse(raw string) (target, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return target{}, common.NewError(common.ERROR_INVALID_URL, err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "ftp" && scheme != "ftps" {
		return target{}, common.Errorf(common.ERROR_INVALID_URL, "unsupported scheme %q", u.Scheme)
	}
	if u.Path == "" || strings.HasSuffix(u.Path, "/") {
		return target{}, common.Errorf(common.ERROR_INVALID_URL, "no file in %q", u.Redacted())
	}
	t := target{
		host:     u.Host,
		path:     u.Path,
		user:     "anonymous",
		password: "anonymous",
		tls:      scheme == "ftps",
	}
	if u.Port() == "" {
		t.host = net.JoinHostPort(u.Hostname(), "21")
	}
	if u.User != nil {
		t.user = u.User.Username()
		if p, ok := u.User.Password(); ok {
			t.password = p
		}
	}
	return t, nil
}

func (e *Engine) dial(ctx context.Context, t target) (*ftp.ServerConn, error) {
	opts := []ftp.DialOption{
		ftp.DialWithTimeout(e.timeout),
		ftp.DialWithContext(ctx),
	}
	if t.tls {
		host, _, _ := net.SplitHostPort(t.host)
		opts = append(opts, ftp.DialWithExplicitTLS(&tls.Config{
			ServerName: host,
			MinVersion: tls.VersionTLS12,
		}))
	}
	conn, err := ftp.Dial(t.host, opts...)
	if err != nil {
		return nil, err
	}
	if err := conn.Login(t.user, t.password); err != nil {
		conn.Quit()
		return nil, classify(err)
	}
	if err := conn.Type(ftp.TransferTypeBinary); err != nil {
		conn.Quit()
		return nil, classify(err)
	}
	return conn, nil
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
	conn, err := e.dial(x.Context(), t)
	if err != nil {
		return nil, err
	}
	size, err := conn.FileSize(t.path)
	if err != nil {
		conn.Quit()
		return nil, classify(err)
	}
	total := uint64(size)

	name := agent.FileName(agent.Job{FileName: job.FileName, URL: "ftp://h" + t.path}, "")
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

	f, err := e.open(part, offset)
	if err != nil {
		conn.Quit()
		return nil, err
	}
	var resp *ftp.Response
	if offset > 0 {
		resp, err = conn.RetrFrom(t.path, offset)
	} else {
		resp, err = conn.Retr(t.path)
	}
	if err != nil {
		f.Close()
		conn.Quit()
		return nil, classify(err)
	}

	x.Info(agent.Info{
		Total:       total,
		MimeType:    mime.TypeByExtension(path.Ext(name)),
		ContentName: name,
		TempPath:    part,
	})
	e.l.Debug("ftpagent: %d: %s -> %s from %d", job.ID, t.path, part, offset)

	return func(ctx context.Context) agent.Outcome {
		// The data connection does not watch ctx; expire it instead.
		stop := context.AfterFunc(ctx, func() { resp.SetDeadline(time.Now()) })
		defer stop()
		n, err := x.Copy(f, resp, offset)
		resp.Close()
		conn.Quit()
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

// classify maps FTP reply codes onto the daemon taxonomy. Other errors are
// left for agent.Translate.
func classify(err error) error {
	var tp *textproto.Error
	if !errors.As(err, &tp) {
		return err
	}
	switch {
	case tp.Code == ftp.StatusNotLoggedIn || tp.Code == ftp.StatusStorNeedAccount ||
		tp.Code == ftp.StatusInvalidCredentials:
		return common.NewError(common.ERROR_PERMISSION_DENIED, err)
	case tp.Code >= 400 && tp.Code < 500:
		return common.NewError(common.ERROR_CONNECTION_FAILED, err)
	}
	return common.NewError(common.ERROR_UNHANDLED_HTTP_CODE, err)
}
