// Package api implements the command handlers behind the binary protocol:
// request lifecycle control, per-field get/set, and group teardown.
package api

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/afero"

	"github.com/warpdl/dlmgr/common"
	"github.com/warpdl/dlmgr/internal/events"
	"github.com/warpdl/dlmgr/internal/metrics"
	"github.com/warpdl/dlmgr/internal/request"
	"github.com/warpdl/dlmgr/internal/server"
	"github.com/warpdl/dlmgr/internal/store"
	"github.com/warpdl/dlmgr/pkg/logger"
)

// ErrNotOwner is returned when a command names a request created by
// another package.
var ErrNotOwner = common.NewError(common.ERROR_INVALID_PARAMETER, errors.New("request belongs to another package"))

// AuxStore writes the keyed side tables of a request row.
type AuxStore interface {
	SetHeader(ctx context.Context, id int32, field, value string) error
	RemoveHeader(ctx context.Context, id int32, field string) error
	SetBundle(ctx context.Context, id int32, kind common.BundleKind, data []byte) error
	RemoveBundle(ctx context.Context, id int32, kind common.BundleKind) error
	SetExtra(ctx context.Context, id int32, key string, values []string) error
	RemoveExtra(ctx context.Context, id int32, key string) error
}

// Engine is the part of the agent bridge the handlers drive directly.
type Engine interface {
	Suspend(h int32)
	Cancel(h int32)
}

// Options tunes parameter validation.
type Options struct {
	// Fs is used to check destinations. Defaults to the OS file system.
	Fs afero.Fs
	// Schemes lists the accepted URL schemes. Defaults to http, https and ftp.
	Schemes []string
}

type Api struct {
	l       logger.Logger
	reg     *request.Registry
	aux     AuxStore
	engine  Engine
	hub     *events.Hub
	metrics *metrics.Metrics
	fs      afero.Fs
	schemes map[string]bool
	now     func() time.Time

	// Wake asks the scheduler for an admission pass.
	Wake func()
}

// NewApi wires the handlers. hub and m may be nil.
func NewApi(l logger.Logger, reg *request.Registry, aux AuxStore, engine Engine, hub *events.Hub, m *metrics.Metrics, opts Options) *Api {
	if l == nil {
		l = logger.NewNopLogger()
	}
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if len(opts.Schemes) == 0 {
		opts.Schemes = []string{"http", "https", "ftp"}
	}
	schemes := make(map[string]bool, len(opts.Schemes))
	for _, s := range opts.Schemes {
		schemes[s] = true
	}
	return &Api{
		l:       l,
		reg:     reg,
		aux:     aux,
		engine:  engine,
		hub:     hub,
		metrics: m,
		fs:      opts.Fs,
		schemes: schemes,
		now:     time.Now,
	}
}

func (s *Api) RegisterHandlers(srv *server.Server) {
	for cmd, h := range s.handlers() {
		srv.RegisterHandler(cmd, h)
	}
	srv.OnGroupClosed = s.GroupClosed
}

func (s *Api) handlers() map[common.Command]server.HandlerFunc {
	return map[common.Command]server.HandlerFunc{
		// lifecycle
		common.CMD_CREATE:  s.createHandler,
		common.CMD_START:   s.startHandler,
		common.CMD_PAUSE:   s.pauseHandler,
		common.CMD_CANCEL:  s.cancelHandler,
		common.CMD_DESTROY: s.destroyHandler,
		common.CMD_FREE:    s.freeHandler,

		// request parameters
		common.CMD_SET_URL:               s.setURLHandler,
		common.CMD_SET_DESTINATION:       s.setDestinationHandler,
		common.CMD_SET_FILENAME:          s.setFileNameHandler,
		common.CMD_SET_NETWORK_TYPE:      s.setNetworkTypeHandler,
		common.CMD_SET_AUTO_DOWNLOAD:     s.setAutoDownloadHandler,
		common.CMD_SET_STATE_CALLBACK:    s.setStateCallbackHandler,
		common.CMD_SET_PROGRESS_CALLBACK: s.setProgressCallbackHandler,
		common.CMD_UNSET_URL:             s.unsetURLHandler,
		common.CMD_UNSET_DESTINATION:     s.unsetDestinationHandler,
		common.CMD_UNSET_FILENAME:        s.unsetFileNameHandler,
		common.CMD_GET_URL:               s.getURLHandler,
		common.CMD_GET_DESTINATION:       s.getDestinationHandler,
		common.CMD_GET_FILENAME:          s.getFileNameHandler,
		common.CMD_GET_NETWORK_TYPE:      s.getNetworkTypeHandler,
		common.CMD_GET_AUTO_DOWNLOAD:     s.getAutoDownloadHandler,
		common.CMD_GET_STATE_CALLBACK:    s.getStateCallbackHandler,
		common.CMD_GET_PROGRESS_CALLBACK: s.getProgressCallbackHandler,

		// http headers
		common.CMD_ADD_HTTP_HEADER:        s.addHeaderHandler,
		common.CMD_REMOVE_HTTP_HEADER:     s.removeHeaderHandler,
		common.CMD_GET_HTTP_HEADER_VALUE:  s.getHeaderValueHandler,
		common.CMD_GET_HTTP_HEADER_FIELDS: s.getHeaderFieldsHandler,

		// notification
		common.CMD_SET_NOTIFICATION_TYPE:          s.setNotificationTypeHandler,
		common.CMD_SET_NOTIFICATION_TITLE:         s.setTitleHandler,
		common.CMD_SET_NOTIFICATION_DESCRIPTION:   s.setDescriptionHandler,
		common.CMD_SET_NOTIFICATION_BUNDLE:        s.setBundleHandler,
		common.CMD_ADD_EXTRA_PARAM:                s.addExtraHandler,
		common.CMD_UNSET_NOTIFICATION_TITLE:       s.unsetTitleHandler,
		common.CMD_UNSET_NOTIFICATION_DESCRIPTION: s.unsetDescriptionHandler,
		common.CMD_UNSET_NOTIFICATION_BUNDLE:      s.unsetBundleHandler,
		common.CMD_REMOVE_EXTRA_PARAM:             s.removeExtraHandler,
		common.CMD_GET_NOTIFICATION_TYPE:          s.getNotificationTypeHandler,
		common.CMD_GET_NOTIFICATION_TITLE:         s.getTitleHandler,
		common.CMD_GET_NOTIFICATION_DESCRIPTION:   s.getDescriptionHandler,
		common.CMD_GET_NOTIFICATION_BUNDLE:        s.getBundleHandler,
		common.CMD_GET_EXTRA_PARAM:                s.getExtraHandler,

		// transfer results
		common.CMD_GET_STATE:           s.getStateHandler,
		common.CMD_GET_ERROR:           s.getErrorHandler,
		common.CMD_GET_SAVED_PATH:      s.getSavedPathHandler,
		common.CMD_GET_TEMP_SAVED_PATH: s.getTempPathHandler,
		common.CMD_GET_MIME_TYPE:       s.getMimeTypeHandler,
		common.CMD_GET_CONTENT_NAME:    s.getContentNameHandler,
		common.CMD_GET_ETAG:            s.getETagHandler,
		common.CMD_GET_RECEIVED_SIZE:   s.getReceivedHandler,
		common.CMD_GET_TOTAL_FILE_SIZE: s.getTotalHandler,
		common.CMD_GET_HTTP_STATUS:     s.getHTTPStatusHandler,
	}
}

// resolve finds the request named by c, checks that the caller's package
// owns it and returns it locked. A request left without a live group is
// attached to the caller's group.
func (s *Api) resolve(ctx context.Context, c *server.Call) (*request.Request, error) {
	r, err := s.reg.Get(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	r.Lock()
	if r.Package != c.Group.Package {
		r.Unlock()
		s.l.Warning("api: %s: %s on %d owned by %q", c.Group.ID, c.Cmd, c.ID, r.Package)
		return nil, ErrNotOwner
	}
	r.Touched = s.now()
	if !r.Owned() && !r.Destroyed {
		r.Group = c.Group
		c.Group.Attach(r.ID)
	}
	return r, nil
}

// save writes r's row. The caller holds r's lock. The in-memory change is
// kept when the write fails and the caller replies DISK_BUSY.
func (s *Api) save(ctx context.Context, r *request.Request) error {
	inserted := !r.Persisted
	if err := s.reg.Persist(ctx, r); err != nil {
		return s.storeFailed(r, "save", err)
	}
	if inserted {
		return s.flushAux(ctx, r)
	}
	return nil
}

// flushAux writes every side-table entry of a freshly inserted row.
func (s *Api) flushAux(ctx context.Context, r *request.Request) error {
	for _, h := range r.Headers {
		if err := s.aux.SetHeader(ctx, r.ID, h.Field, h.Value); err != nil {
			return s.storeFailed(r, "header", err)
		}
	}
	for kind, data := range r.Bundles {
		if err := s.aux.SetBundle(ctx, r.ID, kind, data); err != nil {
			return s.storeFailed(r, "bundle", err)
		}
	}
	for key, vals := range r.Extras {
		if err := s.aux.SetExtra(ctx, r.ID, key, vals); err != nil {
			return s.storeFailed(r, "extra", err)
		}
	}
	return nil
}

// saveAux runs a side-table write for r, inserting the row first when it
// is missing. The in-memory request already carries the change. A removal
// the log never saw is not an error.
func (s *Api) saveAux(ctx context.Context, r *request.Request, op string, write func() error) error {
	if !r.Persisted {
		return s.save(ctx, r)
	}
	err := write()
	switch {
	case err == nil, errors.Is(err, store.ErrNoData):
		return nil
	case errors.Is(err, store.ErrNotFound):
		// Rotated out from under us.
		r.Persisted = false
		return s.save(ctx, r)
	}
	return s.storeFailed(r, op, err)
}

func (s *Api) storeFailed(r *request.Request, op string, err error) error {
	s.metrics.StoreError(op)
	s.l.Warning("api: %d: %s: %v", r.ID, op, err)
	if common.CodeOf(err, common.ERROR_NONE) == common.ERROR_DISK_BUSY {
		return err
	}
	return common.NewError(common.ERROR_DISK_BUSY, err)
}

func (s *Api) deliver(ctx context.Context, d events.Delivery) {
	if s.hub != nil {
		s.hub.Deliver(ctx, d)
	}
}

func (s *Api) wake() {
	if s.Wake != nil {
		s.Wake()
	}
}
