package api

import (
	"context"

	"github.com/warpdl/dlmgr/common"
	"github.com/warpdl/dlmgr/internal/request"
	"github.com/warpdl/dlmgr/internal/server"
)

func (s *Api) setNotificationTypeHandler(ctx context.Context, c *server.Call) (any, error) {
	return s.mutate(ctx, c, func(r *request.Request) error {
		nt := common.NotificationType(c.Tail.Int)
		if !nt.Valid() {
			return errBadParameter
		}
		r.NotificationType = nt
		return nil
	})
}

func (s *Api) setTitleHandler(ctx context.Context, c *server.Call) (any, error) {
	return s.mutate(ctx, c, func(r *request.Request) error {
		r.Title = c.Tail.Str
		return nil
	})
}

func (s *Api) setDescriptionHandler(ctx context.Context, c *server.Call) (any, error) {
	return s.mutate(ctx, c, func(r *request.Request) error {
		r.Description = c.Tail.Str
		return nil
	})
}

func (s *Api) unsetTitleHandler(ctx context.Context, c *server.Call) (any, error) {
	return s.mutate(ctx, c, func(r *request.Request) error {
		r.Title = ""
		return nil
	})
}

func (s *Api) unsetDescriptionHandler(ctx context.Context, c *server.Call) (any, error) {
	return s.mutate(ctx, c, func(r *request.Request) error {
		r.Description = ""
		return nil
	})
}

func (s *Api) setBundleHandler(ctx context.Context, c *server.Call) (any, error) {
	kind, data := c.Tail.Blob.Kind, c.Tail.Blob.Data
	return s.mutateAux(ctx, c, "bundle", func(r *request.Request) (func() error, error) {
		if !kind.Valid() {
			return nil, errBadParameter
		}
		r.Bundles[kind] = append([]byte(nil), data...)
		return func() error { return s.aux.SetBundle(ctx, r.ID, kind, data) }, nil
	})
}

func (s *Api) unsetBundleHandler(ctx context.Context, c *server.Call) (any, error) {
	kind := common.BundleKind(c.Tail.Int)
	return s.mutateAux(ctx, c, "bundle", func(r *request.Request) (func() error, error) {
		if !kind.Valid() {
			return nil, errBadParameter
		}
		if _, ok := r.Bundles[kind]; !ok {
			return nil, errNoData
		}
		delete(r.Bundles, kind)
		return func() error { return s.aux.RemoveBundle(ctx, r.ID, kind) }, nil
	})
}

func (s *Api) getBundleHandler(ctx context.Context, c *server.Call) (any, error) {
	kind := common.BundleKind(c.Tail.Int)
	return s.read(ctx, c, func(r *request.Request) (any, error) {
		if !kind.Valid() {
			return nil, errBadParameter
		}
		data, ok := r.Bundles[kind]
		if !ok {
			return nil, errNoData
		}
		return common.Blob{Kind: kind, Data: append([]byte(nil), data...)}, nil
	})
}

// addExtraHandler appends values to the extra named by the first string.
func (s *Api) addExtraHandler(ctx context.Context, c *server.Call) (any, error) {
	return s.mutateAux(ctx, c, "extra", func(r *request.Request) (func() error, error) {
		if len(c.Tail.Strings) < 2 {
			return nil, errBadParameter
		}
		key, vals := c.Tail.Strings[0], c.Tail.Strings[1:]
		merged := append(append([]string(nil), r.Extras[key]...), vals...)
		if len(merged) > common.MaxStringCount {
			return nil, errBadParameter
		}
		r.Extras[key] = merged
		return func() error { return s.aux.SetExtra(ctx, r.ID, key, merged) }, nil
	})
}

func (s *Api) removeExtraHandler(ctx context.Context, c *server.Call) (any, error) {
	key := c.Tail.Str
	return s.mutateAux(ctx, c, "extra", func(r *request.Request) (func() error, error) {
		if _, ok := r.Extras[key]; !ok {
			return nil, errNoData
		}
		delete(r.Extras, key)
		return func() error { return s.aux.RemoveExtra(ctx, r.ID, key) }, nil
	})
}

func (s *Api) getNotificationTypeHandler(ctx context.Context, c *server.Call) (any, error) {
	return s.read(ctx, c, func(r *request.Request) (any, error) { return int32(r.NotificationType), nil })
}

func (s *Api) getTitleHandler(ctx context.Context, c *server.Call) (any, error) {
	return s.read(ctx, c, func(r *request.Request) (any, error) { return stringValue(r.Title) })
}

func (s *Api) getDescriptionHandler(ctx context.Context, c *server.Call) (any, error) {
	return s.read(ctx, c, func(r *request.Request) (any, error) { return stringValue(r.Description) })
}

func (s *Api) getExtraHandler(ctx context.Context, c *server.Call) (any, error) {
	return s.read(ctx, c, func(r *request.Request) (any, error) {
		vals, ok := r.Extras[c.Tail.Str]
		if !ok {
			return nil, errNoData
		}
		return append([]string(nil), vals...), nil
	})
}
