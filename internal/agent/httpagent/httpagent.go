// Package httpagent is the HTTP(S) transfer engine. It downloads into a
// ".part" file next to the destination, resumes with Range/If-Range, and
// renames the file into place on completion.
package httpagent

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/afero"

	"github.com/warpdl/dlmgr/common"
	"github.com/warpdl/dlmgr/internal/agent"
	"github.com/warpdl/dlmgr/pkg/logger"
)

// DefaultUserAgent is sent when neither the engine nor the request sets one.
const DefaultUserAgent = "dlmgr/1.0"

// Options configures an Engine.
type Options struct {
	Fs          afero.Fs
	Client      *http.Client
	DownloadDir string
	UserAgent   string
	// MaxActive caps concurrent transfers; 0 means unlimited.
	MaxActive int
	// SpeedLimit caps each transfer in bytes per second; 0 means unlimited.
	SpeedLimit int64
	FileMode   os.FileMode
	Logger     logger.Logger
}

// Engine implements agent.Engine over net/http.
type Engine struct {
	*agent.Tracker
	fs     afero.Fs
	client *http.Client
	dir    string
	ua     string
	mode   os.FileMode
	l      logger.Logger
}

var _ agent.Engine = (*Engine)(nil)

// New returns an engine. Zero options fall back to the OS file system, a
// client honouring the proxy environment, and the working directory.
func New(opts Options) *Engine {
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Client == nil {
		opts.Client, _ = NewClient("", 0)
	}
	if opts.DownloadDir == "" {
		opts.DownloadDir = "."
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
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
		client:  opts.Client,
		dir:     opts.DownloadDir,
		ua:      opts.UserAgent,
		mode:    opts.FileMode,
		l:       opts.Logger,
	}
}

func (e *Engine) Start(ctx context.Context, h int32, job agent.Job, cb agent.Callbacks) error {
	job.Offset, job.TempPath, job.ETag = 0, "", ""
	return e.begin(ctx, h, job, cb)
}

func (e *Engine) Resume(ctx context.Context, h int32, job agent.Job, cb agent.Callbacks) error {
	return e.begin(ctx, h, job, cb)
}

func (e *Engine) begin(ctx context.Context, h int32, job agent.Job, cb agent.Callbacks) error {
	x, err := e.Begin(ctx, h, job, cb)
	if err != nil {
		return err
	}
	run, err := e.connect(x)
	if err != nil {
		x.Abort()
		return err
	}
	x.Run(run)
	return nil
}

func (e *Engine) request(ctx context.Context, job agent.Job) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, job.URL, nil)
	if err != nil {
		return nil, common.NewError(common.ERROR_INVALID_URL, err)
	}
	for _, hd := range job.Headers {
		req.Header.Add(hd.Field, hd.Value)
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", e.ua)
	}
	if job.Offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", job.Offset))
		if job.ETag != "" {
			req.Header.Set("If-Range", job.ETag)
		}
	}
	return req, nil
}

// connect performs the request and opens the part file. The returned body
// streams the response into it.
func (e *Engine) connect(x *agent.Transfer) (func(context.Context) agent.Outcome, error) {
	job := x.Job
	req, err := e.request(x.Context(), job)
	if err != nil {
		return nil, err
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}

	offset := job.Offset
	var total uint64
	switch {
	case resp.StatusCode == http.StatusPartialContent && offset > 0:
		total = contentRangeTotal(resp.Header.Get("Content-Range"))
		if total == 0 && resp.ContentLength > 0 {
			total = offset + uint64(resp.ContentLength)
		}
	case resp.StatusCode == http.StatusOK:
		// Range ignored or validator changed: start over.
		offset = 0
		if resp.ContentLength > 0 {
			total = uint64(resp.ContentLength)
		}
	case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable:
		resp.Body.Close()
		return nil, common.Errorf(common.ERROR_CANNOT_RESUME, "range %d- not satisfiable", offset)
	default:
		resp.Body.Close()
		return nil, common.Errorf(common.ERROR_UNHANDLED_HTTP_CODE, "%s", resp.Status)
	}

	name := agent.FileName(job, resp.Header.Get("Content-Disposition"))
	dir := job.Destination
	if dir == "" {
		dir = e.dir
	}
	final := filepath.Join(dir, name)
	part := job.TempPath
	if part == "" || offset == 0 {
		part = final + agent.PartSuffix
	}

	f, err := e.open(part, offset)
	if err != nil {
		resp.Body.Close()
		return nil, err
	}

	mimeType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	status := int32(resp.StatusCode)
	x.Info(agent.Info{
		Total:       total,
		MimeType:    mimeType,
		ContentName: name,
		ETag:        resp.Header.Get("ETag"),
		TempPath:    part,
		HTTPStatus:  status,
	})
	e.l.Debug("httpagent: %d: %s -> %s from %d", job.ID, job.URL, part, offset)

	return func(ctx context.Context) agent.Outcome {
		defer resp.Body.Close()
		n, err := x.Copy(f, resp.Body, offset)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			if x.Canceled() {
				e.fs.Remove(part)
			}
			return agent.Outcome{Err: err, HTTPStatus: status}
		}
		if total > 0 && n != total {
			return agent.Outcome{Err: io.ErrUnexpectedEOF, HTTPStatus: status}
		}
		saved, err := agent.UniquePath(e.fs, final)
		if err != nil {
			return agent.Outcome{Err: err, HTTPStatus: status}
		}
		if err := e.fs.Rename(part, saved); err != nil {
			return agent.Outcome{Err: err, HTTPStatus: status}
		}
		return agent.Outcome{
			SavedPath:   saved,
			ContentName: name,
			Total:       n,
			HTTPStatus:  status,
		}
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

// contentRangeTotal parses the complete length of "bytes a-b/total".
func contentRangeTotal(v string) uint64 {
	i := strings.LastIndexByte(v, '/')
	if i < 0 {
		return 0
	}
	n, err := strconv.ParseUint(v[i+1:], 10, 64)
	if err != nil {
		return 0
	}
	return n
}
