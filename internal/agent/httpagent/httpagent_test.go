package httpagent

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warpdl/dlmgr/common"
	"github.com/warpdl/dlmgr/internal/agent"
	"github.com/warpdl/dlmgr/internal/store"
)

var payload = []byte("0123456789abcdefghijklmnopqrstuvwxyz")

type callbacks struct {
	mu       sync.Mutex
	info     []agent.Info
	progress []uint64
	paused   bool
	out      *agent.Outcome
	done     chan struct{}
}

func newCallbacks() *callbacks {
	return &callbacks{done: make(chan struct{}, 1)}
}

func (c *callbacks) OnInfo(_, _ int32, info agent.Info) {
	c.mu.Lock()
	c.info = append(c.info, info)
	c.mu.Unlock()
}

func (c *callbacks) OnProgress(_, _ int32, n uint64) {
	c.mu.Lock()
	c.progress = append(c.progress, n)
	c.mu.Unlock()
}

func (c *callbacks) OnPaused(_, _ int32) {
	c.mu.Lock()
	c.paused = true
	c.mu.Unlock()
	c.done <- struct{}{}
}

func (c *callbacks) OnFinished(_, _ int32, out agent.Outcome) {
	c.mu.Lock()
	c.out = &out
	c.mu.Unlock()
	c.done <- struct{}{}
}

func (c *callbacks) wait(t *testing.T) {
	t.Helper()
	select {
	case <-c.done:
	case <-time.After(5 * time.Second):
		t.Fatal("transfer did not end")
	}
}

// fileServer serves payload with an ETag so Range and If-Range work.
func fileServer(t *testing.T, etag string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "yes", r.Header.Get("X-Test"))
		w.Header().Set("ETag", etag)
		w.Header().Set("Content-Type", "application/octet-stream; charset=binary")
		w.Header().Set("Content-Disposition", `attachment; filename="data.bin"`)
		http.ServeContent(w, r, "", time.Unix(0, 0), bytes.NewReader(payload))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newEngine(fs afero.Fs, max int) *Engine {
	return New(Options{Fs: fs, DownloadDir: "/dl", MaxActive: max})
}

func job(url string) agent.Job {
	return agent.Job{ID: 1, URL: url, Headers: []store.Header{{Field: "X-Test", Value: "yes"}}}
}

func TestDownload(t *testing.T) {
	srv := fileServer(t, `"v1"`)
	fs := afero.NewMemMapFs()
	e := newEngine(fs, 0)
	cb := newCallbacks()

	require.NoError(t, e.Start(context.Background(), 1, job(srv.URL+"/x"), cb))
	cb.wait(t)

	require.Len(t, cb.info, 1)
	assert.Equal(t, uint64(len(payload)), cb.info[0].Total)
	assert.Equal(t, "application/octet-stream", cb.info[0].MimeType)
	assert.Equal(t, "data.bin", cb.info[0].ContentName)
	assert.Equal(t, `"v1"`, cb.info[0].ETag)
	assert.Equal(t, "/dl/data.bin.part", cb.info[0].TempPath)

	require.NotNil(t, cb.out)
	require.NoError(t, cb.out.Err)
	assert.Equal(t, "/dl/data.bin", cb.out.SavedPath)
	assert.Equal(t, uint64(len(payload)), cb.out.Total)
	assert.Equal(t, int32(200), cb.out.HTTPStatus)

	got, err := afero.ReadFile(fs, "/dl/data.bin")
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	ok, _ := afero.Exists(fs, "/dl/data.bin.part")
	assert.False(t, ok)
	assert.False(t, e.IsAlive(1))
}

func TestDownloadDoesNotOverwrite(t *testing.T) {
	srv := fileServer(t, `"v1"`)
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/dl/data.bin", []byte("old"), 0o644))
	e := newEngine(fs, 0)
	cb := newCallbacks()
	require.NoError(t, e.Start(context.Background(), 1, job(srv.URL), cb))
	cb.wait(t)
	require.NoError(t, cb.out.Err)
	assert.Equal(t, "/dl/data_1.bin", cb.out.SavedPath)
}

func TestResume(t *testing.T) {
	srv := fileServer(t, `"v1"`)
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/dl/data.bin.part", payload[:10], 0o644))
	e := newEngine(fs, 0)
	cb := newCallbacks()

	j := job(srv.URL)
	j.TempPath, j.Offset, j.ETag = "/dl/data.bin.part", 10, `"v1"`
	require.NoError(t, e.Resume(context.Background(), 2, j, cb))
	cb.wait(t)

	assert.Equal(t, int32(http.StatusPartialContent), cb.info[0].HTTPStatus)
	assert.Equal(t, uint64(len(payload)), cb.info[0].Total)
	require.NoError(t, cb.out.Err)
	got, err := afero.ReadFile(fs, cb.out.SavedPath)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestResumeWithChangedETagRestarts(t *testing.T) {
	srv := fileServer(t, `"v2"`)
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/dl/data.bin.part", []byte("XXXXXXXXXX"), 0o644))
	e := newEngine(fs, 0)
	cb := newCallbacks()

	j := job(srv.URL)
	j.TempPath, j.Offset, j.ETag = "/dl/data.bin.part", 10, `"v1"`
	require.NoError(t, e.Resume(context.Background(), 2, j, cb))
	cb.wait(t)

	assert.Equal(t, int32(http.StatusOK), cb.info[0].HTTPStatus)
	require.NoError(t, cb.out.Err)
	got, err := afero.ReadFile(fs, cb.out.SavedPath)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestStartErrors(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	e := newEngine(afero.NewMemMapFs(), 0)

	err := e.Start(context.Background(), 1, agent.Job{ID: 1, URL: srv.URL}, newCallbacks())
	assert.Equal(t, common.ERROR_UNHANDLED_HTTP_CODE, common.CodeOf(err, common.ERROR_NONE))
	assert.False(t, e.IsAlive(1))

	err = e.Start(context.Background(), 1, agent.Job{ID: 1, URL: "http://[::1"}, newCallbacks())
	assert.Equal(t, common.ERROR_INVALID_URL, common.CodeOf(err, common.ERROR_NONE))
}

func TestSuspendKeepsPartAndCancelRemovesIt(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1000")
		w.Write([]byte(strings.Repeat("a", 100)))
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer func() {
		close(release)
		srv.Close()
	}()

	for _, suspend := range []bool{true, false} {
		fs := afero.NewMemMapFs()
		e := newEngine(fs, 0)
		cb := newCallbacks()
		require.NoError(t, e.Start(context.Background(), 7, agent.Job{ID: 1, URL: srv.URL + "/big"}, cb))
		require.Eventually(t, func() bool {
			fi, err := fs.Stat("/dl/big.part")
			return err == nil && fi.Size() == 100
		}, 5*time.Second, 10*time.Millisecond)

		if suspend {
			require.NoError(t, e.Suspend(7))
		} else {
			require.NoError(t, e.Cancel(7))
		}
		cb.wait(t)
		exists, _ := afero.Exists(fs, "/dl/big.part")
		if suspend {
			assert.True(t, cb.paused)
			assert.True(t, exists)
		} else {
			require.NotNil(t, cb.out)
			assert.True(t, cb.out.Canceled)
			assert.False(t, exists)
		}
	}
}

func TestEngineBusy(t *testing.T) {
	srv := fileServer(t, `"v1"`)
	e := newEngine(afero.NewMemMapFs(), 1)
	_, err := e.Begin(context.Background(), 1, agent.Job{}, newCallbacks())
	require.NoError(t, err)
	err = e.Start(context.Background(), 2, job(srv.URL), newCallbacks())
	assert.ErrorIs(t, err, agent.ErrEngineBusy)
}

func TestNewClient(t *testing.T) {
	_, err := NewClient("", time.Second)
	assert.NoError(t, err)
	_, err = NewClient("http://proxy:3128", 0)
	assert.NoError(t, err)
	_, err = NewClient("socks5://user:pw@proxy:1080", 0)
	assert.NoError(t, err)
	_, err = NewClient("ftp://proxy", 0)
	assert.ErrorIs(t, err, ErrUnsupportedScheme)
	_, err = NewClient("nohost", 0)
	assert.ErrorIs(t, err, ErrInvalidProxyURL)
}

func TestContentRangeTotal(t *testing.T) {
	assert.Equal(t, uint64(36), contentRangeTotal("bytes 10-35/36"))
	assert.Equal(t, uint64(0), contentRangeTotal("bytes 10-35/*"))
	assert.Equal(t, uint64(0), contentRangeTotal(""))
}
