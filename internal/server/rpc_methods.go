package server

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/creachadair/jrpc2"
	"github.com/creachadair/jrpc2/handler"
	"github.com/creachadair/jrpc2/jhttp"

	"github.com/warpdl/dlmgr/common"
	"github.com/warpdl/dlmgr/internal/events"
	"github.com/warpdl/dlmgr/internal/request"
	"github.com/warpdl/dlmgr/internal/session"
	"github.com/warpdl/dlmgr/internal/store"
)

// Custom JSON-RPC error codes.
const (
	codeDownloadNotFound = jrpc2.Code(-32001)
	codeStoreBusy        = jrpc2.Code(-32003)
	codeInvalidParams    = jrpc2.Code(-32602)
)

// RecordSource is the durable log as seen by the monitoring methods.
type RecordSource interface {
	Load(ctx context.Context, id int32) (*store.Record, error)
	Count(ctx context.Context) (int, error)
}

// RPCConfig holds configuration for the JSON-RPC endpoint.
type RPCConfig struct {
	Secret  string // Auth token; empty disables the endpoint.
	Version string
}

// RPCServer implements the read-only monitoring methods.
type RPCServer struct {
	methods  handler.Map
	bridge   jhttp.Bridge
	secret   string
	version  string
	started  time.Time
	reg      *request.Registry
	log      RecordSource
	groups   *session.Table
	hub      *events.Hub
	notifier *RPCNotifier
}

// VersionResult is the response for system.getVersion.
type VersionResult struct {
	Version string `json:"version"`
}

// StatsResult is the response for system.stats.
type StatsResult struct {
	Version     string         `json:"version"`
	Uptime      int64          `json:"uptimeSeconds"`
	Groups      int            `json:"groups"`
	Resident    int            `json:"resident"`
	Capacity    int            `json:"capacity"`
	Logged      int            `json:"logged"`
	States      map[string]int `json:"states"`
	Subscribers int            `json:"subscribers"`
	Events      EventStats     `json:"events"`
}

// EventStats mirrors events.Stats.
type EventStats struct {
	Sent      uint64 `json:"sent"`
	Fallback  uint64 `json:"fallback"`
	Throttled uint64 `json:"throttled"`
	Dropped   uint64 `json:"dropped"`
}

// IDParam selects one request.
type IDParam struct {
	ID int32 `json:"id"`
}

// StatusResult is the response for download.status.
type StatusResult struct {
	ID         int32  `json:"id"`
	Package    string `json:"package"`
	State      string `json:"state"`
	Error      string `json:"error,omitempty"`
	URL        string `json:"url,omitempty"`
	FileName   string `json:"fileName,omitempty"`
	SavedPath  string `json:"savedPath,omitempty"`
	Received   uint64 `json:"received"`
	Total      uint64 `json:"total"`
	Percentage int64  `json:"percentage"`
	Resident   bool   `json:"resident"`
	Attached   bool   `json:"attached"`
}

// ListParams is the input for download.list.
type ListParams struct {
	// Status is "active", "queued", "paused", "done" or "all" (default).
	Status string `json:"status,omitempty"`
}

// ListResult is the response for download.list.
type ListResult struct {
	Downloads []*StatusResult `json:"downloads"`
}

// NewRPCServer creates the method table and the HTTP bridge. log, groups,
// hub and notifier may be nil.
func NewRPCServer(cfg *RPCConfig, reg *request.Registry, log RecordSource, groups *session.Table, hub *events.Hub, notifier *RPCNotifier) *RPCServer {
	rs := &RPCServer{
		secret:   cfg.Secret,
		version:  cfg.Version,
		started:  time.Now(),
		reg:      reg,
		log:      log,
		groups:   groups,
		hub:      hub,
		notifier: notifier,
	}
	rs.methods = handler.Map{
		"system.getVersion": handler.New(rs.systemGetVersion),
		"system.stats":      handler.New(rs.systemStats),
		"download.status":   handler.New(rs.downloadStatus),
		"download.list":     handler.New(rs.downloadList),
	}
	rs.bridge = jhttp.NewBridge(rs.methods, nil)
	return rs
}

func (rs *RPCServer) systemGetVersion(_ context.Context) (*VersionResult, error) {
	return &VersionResult{Version: rs.version}, nil
}

func (rs *RPCServer) systemStats(ctx context.Context) (*StatsResult, error) {
	res := &StatsResult{
		Version:  rs.version,
		Uptime:   int64(time.Since(rs.started).Seconds()),
		Capacity: rs.reg.Capacity(),
		States:   make(map[string]int),
	}
	for _, r := range rs.reg.Snapshot() {
		r.Lock()
		res.States[r.State.String()]++
		r.Unlock()
		res.Resident++
	}
	if rs.groups != nil {
		res.Groups = rs.groups.Len()
	}
	if rs.log != nil {
		n, err := rs.log.Count(ctx)
		if err != nil {
			return nil, &jrpc2.Error{Code: codeStoreBusy, Message: err.Error()}
		}
		res.Logged = n
	}
	if rs.notifier != nil {
		res.Subscribers = rs.notifier.Count()
	}
	if rs.hub != nil {
		st := rs.hub.Stats()
		res.Events = EventStats{Sent: st.Sent, Fallback: st.Fallback, Throttled: st.Throttled, Dropped: st.Dropped}
	}
	return res, nil
}

// downloadStatus reports a resident request, or its durable row. It never
// rehydrates, so monitoring does not consume registry slots.
func (rs *RPCServer) downloadStatus(ctx context.Context, p *IDParam) (*StatusResult, error) {
	if r := rs.reg.Lookup(p.ID); r != nil {
		return residentStatus(r), nil
	}
	if rs.log == nil {
		return nil, &jrpc2.Error{Code: codeDownloadNotFound, Message: "download not found"}
	}
	rec, err := rs.log.Load(ctx, p.ID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &jrpc2.Error{Code: codeDownloadNotFound, Message: "download not found"}
	}
	if err != nil {
		return nil, &jrpc2.Error{Code: codeStoreBusy, Message: err.Error()}
	}
	return status(rec.ID, rec.Package, rec.State, rec.Error, rec.URL, rec.FileName, rec.Result), nil
}

// downloadList returns the resident requests, optionally filtered.
func (rs *RPCServer) downloadList(_ context.Context, p *ListParams) (*ListResult, error) {
	filter := strings.ToLower(p.Status)
	if filter == "" {
		filter = "all"
	}
	var match func(common.State) bool
	switch filter {
	case "all":
		match = func(common.State) bool { return true }
	case "active":
		match = common.State.IsActive
	case "queued":
		match = func(st common.State) bool { return st == common.STATE_QUEUED }
	case "paused":
		match = func(st common.State) bool { return st == common.STATE_PAUSED }
	case "done":
		match = common.State.IsTerminal
	default:
		return nil, &jrpc2.Error{Code: codeInvalidParams, Message: "unknown status filter: " + p.Status}
	}
	out := &ListResult{Downloads: []*StatusResult{}}
	for _, r := range rs.reg.Snapshot() {
		st := residentStatus(r)
		r.Lock()
		ok := match(r.State)
		r.Unlock()
		if ok {
			out.Downloads = append(out.Downloads, st)
		}
	}
	return out, nil
}

func residentStatus(r *request.Request) *StatusResult {
	r.Lock()
	defer r.Unlock()
	st := status(r.ID, r.Package, r.State, r.Err, r.URL, r.FileName, r.Result)
	st.Resident = true
	st.Attached = r.Owned()
	return st
}

func status(id int32, pkg string, state common.State, code common.ErrorCode, url, name string, res store.Result) *StatusResult {
	st := &StatusResult{
		ID:        id,
		Package:   pkg,
		State:     state.String(),
		URL:       url,
		FileName:  name,
		SavedPath: res.SavedPath,
		Received:  res.Received,
		Total:     res.Total,
	}
	if code != common.ERROR_NONE {
		st.Error = code.String()
	}
	if res.Total > 0 {
		st.Percentage = int64(res.Received * 100 / res.Total)
	}
	return st
}

// Close shuts down the jrpc2 bridge and every WebSocket session.
func (rs *RPCServer) Close() {
	rs.bridge.Close()
	if rs.notifier != nil {
		rs.notifier.StopAll()
	}
}
