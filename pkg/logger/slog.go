package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
)

// Format selects the slog handler used by SlogLogger.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// SlogLogger adapts log/slog to the Logger interface. Messages keep the
// printf style of the other backends; static attributes (component,
// session id) are attached with With.
type SlogLogger struct {
	l *slog.Logger
}

// NewSlogLogger builds a SlogLogger writing to w.
func NewSlogLogger(w io.Writer, format Format, level Level) *SlogLogger {
	opts := &slog.HandlerOptions{Level: slogLevel(level)}
	var h slog.Handler
	if format == FormatText {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}
	return &SlogLogger{l: slog.New(h)}
}

func slogLevel(level Level) slog.Level {
	switch level {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarning:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// With returns a logger that adds the given key/value pairs to every record.
func (s *SlogLogger) With(args ...any) *SlogLogger {
	return &SlogLogger{l: s.l.With(args...)}
}

func (s *SlogLogger) log(level slog.Level, format string, args []interface{}) {
	ctx := context.Background()
	if !s.l.Enabled(ctx, level) {
		return
	}
	s.l.Log(ctx, level, fmt.Sprintf(format, args...))
}

func (s *SlogLogger) Debug(format string, args ...interface{}) {
	s.log(slog.LevelDebug, format, args)
}

func (s *SlogLogger) Info(format string, args ...interface{}) {
	s.log(slog.LevelInfo, format, args)
}

func (s *SlogLogger) Warning(format string, args ...interface{}) {
	s.log(slog.LevelWarn, format, args)
}

func (s *SlogLogger) Error(format string, args ...interface{}) {
	s.log(slog.LevelError, format, args)
}

func (s *SlogLogger) Close() error {
	return nil
}

var _ Logger = (*SlogLogger)(nil)
