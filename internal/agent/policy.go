package agent

import (
	"errors"
	"io/fs"
	"os"

	"github.com/spf13/afero"

	"github.com/warpdl/dlmgr/common"
	"github.com/warpdl/dlmgr/internal/session"
)

// Policy is applied to a completed file before the request turns COMPLETED.
type Policy struct {
	Fs   afero.Fs
	Mode os.FileMode
	// Chown hands the file to the owning client's uid/gid. It only works
	// when the daemon runs privileged.
	Chown bool
}

// NewPolicy returns a policy on the OS file system.
func NewPolicy(mode os.FileMode, chown bool) *Policy {
	return &Policy{Fs: afero.NewOsFs(), Mode: mode, Chown: chown}
}

// Apply sets the permission bits of path and, when enabled and owner is
// known, its ownership.
func (p *Policy) Apply(path string, owner *session.Credential) error {
	if p == nil || path == "" {
		return nil
	}
	if _, err := p.Fs.Stat(path); err != nil {
		return common.NewError(common.ERROR_IO_ERROR, err)
	}
	if p.Mode != 0 {
		if err := p.Fs.Chmod(path, p.Mode); err != nil {
			return policyError(err)
		}
	}
	if p.Chown && owner != nil && owner.UID >= 0 {
		if err := p.Fs.Chown(path, int(owner.UID), int(owner.GID)); err != nil {
			return policyError(err)
		}
	}
	return nil
}

func policyError(err error) error {
	if errors.Is(err, fs.ErrPermission) {
		return common.NewError(common.ERROR_PERMISSION_DENIED, err)
	}
	return common.NewError(common.ERROR_IO_ERROR, err)
}
