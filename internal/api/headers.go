package api

import (
	"context"

	"github.com/warpdl/dlmgr/internal/request"
	"github.com/warpdl/dlmgr/internal/server"
)

// Header fields match case-sensitively; a repeated field replaces the
// earlier value in place.

func (s *Api) addHeaderHandler(ctx context.Context, c *server.Call) (any, error) {
	field, value := c.Tail.Field, c.Tail.Value
	return s.mutateAux(ctx, c, "header", func(r *request.Request) (func() error, error) {
		r.SetHeader(field, value)
		return func() error { return s.aux.SetHeader(ctx, r.ID, field, value) }, nil
	})
}

func (s *Api) removeHeaderHandler(ctx context.Context, c *server.Call) (any, error) {
	field := c.Tail.Str
	return s.mutateAux(ctx, c, "header", func(r *request.Request) (func() error, error) {
		if !r.RemoveHeader(field) {
			return nil, errNoData
		}
		return func() error { return s.aux.RemoveHeader(ctx, r.ID, field) }, nil
	})
}

func (s *Api) getHeaderValueHandler(ctx context.Context, c *server.Call) (any, error) {
	return s.read(ctx, c, func(r *request.Request) (any, error) {
		v, ok := r.HeaderValue(c.Tail.Str)
		if !ok {
			return nil, errNoData
		}
		return v, nil
	})
}

func (s *Api) getHeaderFieldsHandler(ctx context.Context, c *server.Call) (any, error) {
	return s.read(ctx, c, func(r *request.Request) (any, error) {
		if len(r.Headers) == 0 {
			return nil, errNoData
		}
		fields := make([]string, len(r.Headers))
		for i, h := range r.Headers {
			fields[i] = h.Field
		}
		return fields, nil
	})
}

// mutateAux is mutate for values kept in a side table: fn changes the
// request and returns the matching log write.
func (s *Api) mutateAux(ctx context.Context, c *server.Call, op string, fn func(r *request.Request) (func() error, error)) (any, error) {
	r, err := s.resolve(ctx, c)
	if err != nil {
		return nil, err
	}
	defer r.Unlock()
	if !r.Mutable() {
		return nil, request.ErrInvalidState
	}
	write, err := fn(r)
	if err != nil {
		return nil, err
	}
	return nil, s.saveAux(ctx, r, op, write)
}
