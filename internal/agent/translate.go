package agent

import (
	"context"
	"errors"
	"io/fs"
	"net"
	"net/url"
	"syscall"

	"github.com/warpdl/dlmgr/common"
)

// Translate maps an engine error to the daemon taxonomy.
func Translate(err error) common.ErrorCode {
	if err == nil {
		return common.ERROR_NONE
	}
	var ce *common.CodeError
	if errors.As(err, &ce) {
		return ce.Code
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return common.ERROR_CONNECTION_TIMED_OUT
	}
	if errors.Is(err, syscall.ENOSPC) {
		return common.ERROR_NO_SPACE
	}
	if errors.Is(err, fs.ErrPermission) {
		return common.ERROR_PERMISSION_DENIED
	}
	if errors.Is(err, fs.ErrExist) {
		return common.ERROR_FILE_ALREADY_EXISTS
	}
	if errors.Is(err, syscall.ENETUNREACH) || errors.Is(err, syscall.EHOSTUNREACH) {
		return common.ERROR_NETWORK_UNREACHABLE
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return common.ERROR_NETWORK_UNREACHABLE
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return common.ERROR_CONNECTION_TIMED_OUT
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return common.ERROR_CONNECTION_FAILED
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return common.ERROR_CONNECTION_FAILED
	}
	return common.ERROR_IO_ERROR
}

// networkSensitive reports codes that an interface change can cause.
func networkSensitive(code common.ErrorCode) bool {
	switch code {
	case common.ERROR_IO_ERROR, common.ERROR_CONNECTION_FAILED, common.ERROR_CONNECTION_TIMED_OUT,
		common.ERROR_NETWORK_UNREACHABLE, common.ERROR_RESPONSE_TIMEOUT:
		return true
	}
	return false
}
