package server

import (
	"context"

	"github.com/warpdl/dlmgr/common"
	"github.com/warpdl/dlmgr/internal/session"
)

// Call is one decoded command frame.
type Call struct {
	Group *session.Group
	ID    int32
	Cmd   common.Command
	Tail  common.Tail
}

// HandlerFunc executes a command. The returned value must match the
// command's reply kind; a nil error replies ERROR_NONE, any other error is
// translated with common.CodeOf.
type HandlerFunc func(ctx context.Context, c *Call) (any, error)
