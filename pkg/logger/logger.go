// Package logger provides the logging interface used by every dlmgr
// component, with console, slog, and test backends.
package logger

import (
	"fmt"
	"log"
	"strings"
	"sync"
)

// Logger defines the interface for logging across all dlmgr components.
type Logger interface {
	// Debug logs high-volume diagnostics (e.g., progress callbacks, frame decoding).
	Debug(format string, args ...interface{})

	// Info logs an informational message (e.g., "request 42 queued").
	Info(format string, args ...interface{})

	// Warning logs a recoverable problem (e.g., "store write failed, keeping memory state").
	Warning(format string, args ...interface{})

	// Error logs an error message (e.g., "accept failed: too many open files").
	Error(format string, args ...interface{})

	// Close releases resources held by the logger.
	// Safe to call multiple times.
	Close() error
}

// Level orders log severities for filtering.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarning
	LevelError
)

// ParseLevel maps a config string to a Level. Unknown values map to LevelInfo.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarning
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// StandardLogger wraps the stdlib *log.Logger for console/file output.
type StandardLogger struct {
	logger *log.Logger
	level  Level
}

// NewStandardLogger creates a logger that wraps the given *log.Logger
// and drops messages below level.
func NewStandardLogger(l *log.Logger, level Level) *StandardLogger {
	return &StandardLogger{logger: l, level: level}
}

func (s *StandardLogger) Debug(format string, args ...interface{}) {
	if s.level <= LevelDebug {
		s.logger.Printf("[DEBUG] "+format, args...)
	}
}

func (s *StandardLogger) Info(format string, args ...interface{}) {
	if s.level <= LevelInfo {
		s.logger.Printf("[INFO] "+format, args...)
	}
}

func (s *StandardLogger) Warning(format string, args ...interface{}) {
	if s.level <= LevelWarning {
		s.logger.Printf("[WARNING] "+format, args...)
	}
}

func (s *StandardLogger) Error(format string, args ...interface{}) {
	s.logger.Printf("[ERROR] "+format, args...)
}

// Close is a no-op for StandardLogger (no resources to release).
func (s *StandardLogger) Close() error {
	return nil
}

// NopLogger is a logger that discards all messages.
type NopLogger struct{}

// NewNopLogger creates a logger that discards all messages.
func NewNopLogger() *NopLogger {
	return &NopLogger{}
}

func (n *NopLogger) Debug(format string, args ...interface{})   {}
func (n *NopLogger) Info(format string, args ...interface{})    {}
func (n *NopLogger) Warning(format string, args ...interface{}) {}
func (n *NopLogger) Error(format string, args ...interface{})   {}
func (n *NopLogger) Close() error                               { return nil }

var (
	_ Logger = (*StandardLogger)(nil)
	_ Logger = (*NopLogger)(nil)
)

// MockLogger implements Logger for testing purposes.
// It records all log calls for verification in tests and is safe for
// concurrent use, since the dispatcher, scheduler and engine callbacks log
// from different goroutines.
type MockLogger struct {
	mu           sync.Mutex
	DebugCalls   []string
	InfoCalls    []string
	WarningCalls []string
	ErrorCalls   []string
	CloseCalled  bool
}

// NewMockLogger creates a new MockLogger for testing.
func NewMockLogger() *MockLogger {
	return &MockLogger{}
}

func (m *MockLogger) Debug(format string, args ...interface{}) {
	m.record(&m.DebugCalls, format, args)
}

func (m *MockLogger) Info(format string, args ...interface{}) {
	m.record(&m.InfoCalls, format, args)
}

func (m *MockLogger) Warning(format string, args ...interface{}) {
	m.record(&m.WarningCalls, format, args)
}

func (m *MockLogger) Error(format string, args ...interface{}) {
	m.record(&m.ErrorCalls, format, args)
}

func (m *MockLogger) record(dst *[]string, format string, args []interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	*dst = append(*dst, fmt.Sprintf(format, args...))
}

// Errors returns a copy of the recorded error messages.
func (m *MockLogger) Errors() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.ErrorCalls...)
}

// Warnings returns a copy of the recorded warning messages.
func (m *MockLogger) Warnings() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.WarningCalls...)
}

// Close records that Close was called.
func (m *MockLogger) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CloseCalled = true
	return nil
}

var _ Logger = (*MockLogger)(nil)
