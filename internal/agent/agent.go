// Package agent is the bridge to the transfer engine. It starts, suspends
// and cancels engine transfers, translates engine errors to daemon error
// codes, and re-enters the registry from the engine's callbacks.
package agent

import (
	"context"

	"github.com/warpdl/dlmgr/common"
	"github.com/warpdl/dlmgr/internal/store"
)

// ErrEngineBusy is returned by Engine.Start when the engine is at capacity.
// The request stays queued.
var ErrEngineBusy = common.ERROR_TOO_MANY_DOWNLOADS.Err()

// ErrEngineFailed reports an engine fault that is not the remote's doing.
var ErrEngineFailed = common.ERROR_ENGINE_FAILED.Err()

// Job describes one transfer.
type Job struct {
	ID          int32
	URL         string
	Destination string
	FileName    string
	Headers     []store.Header
	// TempPath and Offset are set when a partial transfer can be resumed.
	TempPath string
	Offset   uint64
	ETag     string
}

// Info is the metadata reported once the remote side answered.
type Info struct {
	Total       uint64
	MimeType    string
	ContentName string
	ETag        string
	TempPath    string
	HTTPStatus  int32
}

// Outcome is the terminal report of a transfer. Err is nil on success.
type Outcome struct {
	Err         error
	Canceled    bool
	SavedPath   string
	ContentName string
	Total       uint64
	HTTPStatus  int32
}

// Callbacks are the re-entry points an engine calls from its own goroutines.
// Every call names the request id and the handle the transfer was started
// with.
type Callbacks interface {
	OnInfo(id, h int32, info Info)
	OnProgress(id, h int32, received uint64)
	OnPaused(id, h int32)
	OnFinished(id, h int32, out Outcome)
}

// Engine performs transfers. Start and Resume may block for a network round
// trip; the other methods return promptly.
type Engine interface {
	Start(ctx context.Context, h int32, job Job, cb Callbacks) error
	Resume(ctx context.Context, h int32, job Job, cb Callbacks) error
	Suspend(h int32) error
	Cancel(h int32) error
	IsAlive(h int32) bool
}
