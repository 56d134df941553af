package api

import (
	"context"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/warpdl/dlmgr/common"
	"github.com/warpdl/dlmgr/internal/request"
	"github.com/warpdl/dlmgr/internal/server"
)

var (
	errNoData       = common.ERROR_NO_DATA.Err()
	errBadParameter = common.ERROR_INVALID_PARAMETER.Err()
)

// mutate applies fn to a request that is neither running nor destroyed,
// then persists it.
func (s *Api) mutate(ctx context.Context, c *server.Call, fn func(r *request.Request) error) (any, error) {
	r, err := s.resolve(ctx, c)
	if err != nil {
		return nil, err
	}
	defer r.Unlock()
	if !r.Mutable() {
		return nil, request.ErrInvalidState
	}
	if err := fn(r); err != nil {
		return nil, err
	}
	return nil, s.save(ctx, r)
}

// read runs fn on the locked request.
func (s *Api) read(ctx context.Context, c *server.Call, fn func(r *request.Request) (any, error)) (any, error) {
	r, err := s.resolve(ctx, c)
	if err != nil {
		return nil, err
	}
	defer r.Unlock()
	return fn(r)
}

func stringValue(v string) (any, error) {
	if v == "" {
		return nil, errNoData
	}
	return v, nil
}

func flag(v int32) (bool, error) {
	switch v {
	case 0:
		return false, nil
	case 1:
		return true, nil
	}
	return false, errBadParameter
}

func flagValue(b bool) int32 {
	if b {
		return 1
	}
	return 0
}

func (s *Api) checkURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return common.Errorf(common.ERROR_INVALID_URL, "cannot parse %q", raw)
	}
	if !s.schemes[strings.ToLower(u.Scheme)] {
		return common.Errorf(common.ERROR_INVALID_URL, "unsupported scheme %q", u.Scheme)
	}
	return nil
}

func (s *Api) checkDestination(dir string) error {
	if !filepath.IsAbs(dir) {
		return common.Errorf(common.ERROR_INVALID_DESTINATION, "%q is not absolute", dir)
	}
	fi, err := s.fs.Stat(dir)
	if err != nil {
		return common.NewError(common.ERROR_INVALID_DESTINATION, err)
	}
	if !fi.IsDir() {
		return common.Errorf(common.ERROR_INVALID_DESTINATION, "%q is not a directory", dir)
	}
	return nil
}

func checkFileName(name string) error {
	if name == "." || name == ".." || strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		return common.Errorf(common.ERROR_INVALID_PARAMETER, "bad file name %q", name)
	}
	return nil
}

// Argument checks run inside the resolved call, so an unknown id or a
// foreign package is reported before anything about the value.

func (s *Api) setURLHandler(ctx context.Context, c *server.Call) (any, error) {
	return s.mutate(ctx, c, func(r *request.Request) error {
		if err := s.checkURL(c.Tail.Str); err != nil {
			return err
		}
		r.URL = c.Tail.Str
		return nil
	})
}

func (s *Api) setDestinationHandler(ctx context.Context, c *server.Call) (any, error) {
	return s.mutate(ctx, c, func(r *request.Request) error {
		if err := s.checkDestination(c.Tail.Str); err != nil {
			return err
		}
		r.Destination = c.Tail.Str
		return nil
	})
}

func (s *Api) setFileNameHandler(ctx context.Context, c *server.Call) (any, error) {
	return s.mutate(ctx, c, func(r *request.Request) error {
		if err := checkFileName(c.Tail.Str); err != nil {
			return err
		}
		r.FileName = c.Tail.Str
		return nil
	})
}

func (s *Api) setNetworkTypeHandler(ctx context.Context, c *server.Call) (any, error) {
	return s.mutate(ctx, c, func(r *request.Request) error {
		nt := common.NetworkType(c.Tail.Int)
		if !nt.Valid() {
			return common.ERROR_INVALID_NETWORK_TYPE.Err()
		}
		r.NetworkType = nt
		return nil
	})
}

func (s *Api) setAutoDownloadHandler(ctx context.Context, c *server.Call) (any, error) {
	return s.mutate(ctx, c, func(r *request.Request) error {
		on, err := flag(c.Tail.Int)
		if err != nil {
			return err
		}
		r.AutoDownload = on
		return nil
	})
}

// Callback toggles live in memory only and may change at any time.

func (s *Api) setStateCallbackHandler(ctx context.Context, c *server.Call) (any, error) {
	return s.read(ctx, c, func(r *request.Request) (any, error) {
		on, err := flag(c.Tail.Int)
		if err != nil {
			return nil, err
		}
		r.StateCallback = on
		return nil, nil
	})
}

func (s *Api) setProgressCallbackHandler(ctx context.Context, c *server.Call) (any, error) {
	return s.read(ctx, c, func(r *request.Request) (any, error) {
		on, err := flag(c.Tail.Int)
		if err != nil {
			return nil, err
		}
		r.ProgressCallback = on
		return nil, nil
	})
}

func (s *Api) unsetURLHandler(ctx context.Context, c *server.Call) (any, error) {
	return s.mutate(ctx, c, func(r *request.Request) error {
		r.URL = ""
		return nil
	})
}

func (s *Api) unsetDestinationHandler(ctx context.Context, c *server.Call) (any, error) {
	return s.mutate(ctx, c, func(r *request.Request) error {
		r.Destination = ""
		return nil
	})
}

func (s *Api) unsetFileNameHandler(ctx context.Context, c *server.Call) (any, error) {
	return s.mutate(ctx, c, func(r *request.Request) error {
		r.FileName = ""
		return nil
	})
}

func (s *Api) getURLHandler(ctx context.Context, c *server.Call) (any, error) {
	return s.read(ctx, c, func(r *request.Request) (any, error) { return stringValue(r.URL) })
}

func (s *Api) getDestinationHandler(ctx context.Context, c *server.Call) (any, error) {
	return s.read(ctx, c, func(r *request.Request) (any, error) { return stringValue(r.Destination) })
}

func (s *Api) getFileNameHandler(ctx context.Context, c *server.Call) (any, error) {
	return s.read(ctx, c, func(r *request.Request) (any, error) { return stringValue(r.FileName) })
}

func (s *Api) getNetworkTypeHandler(ctx context.Context, c *server.Call) (any, error) {
	return s.read(ctx, c, func(r *request.Request) (any, error) { return int32(r.NetworkType), nil })
}

func (s *Api) getAutoDownloadHandler(ctx context.Context, c *server.Call) (any, error) {
	return s.read(ctx, c, func(r *request.Request) (any, error) { return flagValue(r.AutoDownload), nil })
}

func (s *Api) getStateCallbackHandler(ctx context.Context, c *server.Call) (any, error) {
	return s.read(ctx, c, func(r *request.Request) (any, error) { return flagValue(r.StateCallback), nil })
}

func (s *Api) getProgressCallbackHandler(ctx context.Context, c *server.Call) (any, error) {
	return s.read(ctx, c, func(r *request.Request) (any, error) { return flagValue(r.ProgressCallback), nil })
}
