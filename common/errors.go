package common

import (
	"errors"
	"fmt"
)

// ErrorCode is the daemon-level error taxonomy carried in reply and event frames.
type ErrorCode int32

const (
	ERROR_NONE ErrorCode = iota
	ERROR_INVALID_PARAMETER
	ERROR_OUT_OF_MEMORY
	ERROR_IO_ERROR
	ERROR_NETWORK_UNREACHABLE
	ERROR_CONNECTION_TIMED_OUT
	ERROR_NO_SPACE
	ERROR_FIELD_NOT_FOUND
	ERROR_INVALID_STATE
	ERROR_CONNECTION_FAILED
	ERROR_INVALID_URL
	ERROR_INVALID_DESTINATION
	ERROR_QUEUE_FULL
	ERROR_ALREADY_COMPLETED
	ERROR_FILE_ALREADY_EXISTS
	ERROR_TOO_MANY_DOWNLOADS
	ERROR_NO_DATA
	ERROR_UNHANDLED_HTTP_CODE
	ERROR_CANNOT_RESUME
	ERROR_PERMISSION_DENIED
	ERROR_RESPONSE_TIMEOUT
	ERROR_ID_NOT_FOUND
	ERROR_INVALID_NETWORK_TYPE
	ERROR_DISK_BUSY
	ERROR_PROTOCOL
	ERROR_NETWORK_CHANGED
	ERROR_ENGINE_FAILED
)

var errorNames = map[ErrorCode]string{
	ERROR_NONE:                 "none",
	ERROR_INVALID_PARAMETER:    "invalid parameter",
	ERROR_OUT_OF_MEMORY:        "out of memory",
	ERROR_IO_ERROR:             "io error",
	ERROR_NETWORK_UNREACHABLE:  "network unreachable",
	ERROR_CONNECTION_TIMED_OUT: "connection timed out",
	ERROR_NO_SPACE:             "no space left on device",
	ERROR_FIELD_NOT_FOUND:      "field not found",
	ERROR_INVALID_STATE:        "invalid state",
	ERROR_CONNECTION_FAILED:    "connection failed",
	ERROR_INVALID_URL:          "invalid url",
	ERROR_INVALID_DESTINATION:  "invalid destination",
	ERROR_QUEUE_FULL:           "queue full",
	ERROR_ALREADY_COMPLETED:    "already completed",
	ERROR_FILE_ALREADY_EXISTS:  "file already exists",
	ERROR_TOO_MANY_DOWNLOADS:   "too many downloads",
	ERROR_NO_DATA:              "no data",
	ERROR_UNHANDLED_HTTP_CODE:  "unhandled http code",
	ERROR_CANNOT_RESUME:        "cannot resume",
	ERROR_PERMISSION_DENIED:    "permission denied",
	ERROR_RESPONSE_TIMEOUT:     "response timeout",
	ERROR_ID_NOT_FOUND:         "id not found",
	ERROR_INVALID_NETWORK_TYPE: "invalid network type",
	ERROR_DISK_BUSY:            "disk busy",
	ERROR_PROTOCOL:             "protocol error",
	ERROR_NETWORK_CHANGED:      "network interface changed",
	ERROR_ENGINE_FAILED:        "engine failure",
}

func (c ErrorCode) String() string {
	if name, ok := errorNames[c]; ok {
		return name
	}
	return fmt.Sprintf("error(%d)", int32(c))
}

// Err returns c as an error value, nil for ERROR_NONE.
func (c ErrorCode) Err() error {
	if c == ERROR_NONE {
		return nil
	}
	return &CodeError{Code: c}
}

// CodeError attaches a wire error code to a Go error.
type CodeError struct {
	Code ErrorCode
	Err  error
}

// NewError wraps err with code.
func NewError(code ErrorCode, err error) *CodeError {
	return &CodeError{Code: code, Err: err}
}

// Errorf builds a CodeError with a formatted cause.
func Errorf(code ErrorCode, format string, args ...any) *CodeError {
	return &CodeError{Code: code, Err: fmt.Errorf(format, args...)}
}

func (e *CodeError) Error() string {
	if e.Err == nil {
		return e.Code.String()
	}
	return e.Code.String() + ": " + e.Err.Error()
}

func (e *CodeError) Unwrap() error {
	return e.Err
}

// Is matches any CodeError carrying the same code.
func (e *CodeError) Is(target error) bool {
	var t *CodeError
	if errors.As(target, &t) {
		return t.Code == e.Code && t.Err == nil
	}
	return false
}

// CodeOf extracts the wire code of err. Errors without a code map to
// fallback; nil maps to ERROR_NONE.
func CodeOf(err error, fallback ErrorCode) ErrorCode {
	if err == nil {
		return ERROR_NONE
	}
	var ce *CodeError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return fallback
}
