package api

import (
	"context"

	"github.com/warpdl/dlmgr/internal/request"
	"github.com/warpdl/dlmgr/internal/server"
)

func (s *Api) getStateHandler(ctx context.Context, c *server.Call) (any, error) {
	return s.read(ctx, c, func(r *request.Request) (any, error) { return int32(r.State), nil })
}

func (s *Api) getErrorHandler(ctx context.Context, c *server.Call) (any, error) {
	return s.read(ctx, c, func(r *request.Request) (any, error) { return int32(r.Err), nil })
}

func (s *Api) getSavedPathHandler(ctx context.Context, c *server.Call) (any, error) {
	return s.read(ctx, c, func(r *request.Request) (any, error) { return stringValue(r.Result.SavedPath) })
}

func (s *Api) getTempPathHandler(ctx context.Context, c *server.Call) (any, error) {
	return s.read(ctx, c, func(r *request.Request) (any, error) { return stringValue(r.Result.TempPath) })
}

func (s *Api) getMimeTypeHandler(ctx context.Context, c *server.Call) (any, error) {
	return s.read(ctx, c, func(r *request.Request) (any, error) { return stringValue(r.Result.MimeType) })
}

func (s *Api) getContentNameHandler(ctx context.Context, c *server.Call) (any, error) {
	return s.read(ctx, c, func(r *request.Request) (any, error) { return stringValue(r.Result.ContentName) })
}

func (s *Api) getETagHandler(ctx context.Context, c *server.Call) (any, error) {
	return s.read(ctx, c, func(r *request.Request) (any, error) { return stringValue(r.Result.ETag) })
}

func (s *Api) getReceivedHandler(ctx context.Context, c *server.Call) (any, error) {
	return s.read(ctx, c, func(r *request.Request) (any, error) { return r.Result.Received, nil })
}

// getTotalHandler replies NO_DATA until the engine reported a size.
func (s *Api) getTotalHandler(ctx context.Context, c *server.Call) (any, error) {
	return s.read(ctx, c, func(r *request.Request) (any, error) {
		if r.Result.Total == 0 {
			return nil, errNoData
		}
		return r.Result.Total, nil
	})
}

func (s *Api) getHTTPStatusHandler(ctx context.Context, c *server.Call) (any, error) {
	return s.read(ctx, c, func(r *request.Request) (any, error) {
		if r.Result.HTTPStatus == 0 {
			return nil, errNoData
		}
		return r.Result.HTTPStatus, nil
	})
}
