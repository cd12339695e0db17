// Package logx provides the small structured-logging interface used
// throughout the indexer, backed by log/slog.
package logx

import (
	"log/slog"
	"os"
)

// Logger is the logging surface every component depends on. Components take
// a Logger, never a concrete implementation, so tests can supply a silent one.
type Logger interface {
	Debug(msg string)
	Info(msg string)
	Warn(msg string)
	Error(msg string)

	// WithField returns a Logger that attaches key=value to every entry.
	WithField(key string, value any) Logger
	// WithFields returns a Logger that attaches all of fields to every entry.
	WithFields(fields map[string]any) Logger
}

// slogLogger implements Logger over log/slog.
type slogLogger struct {
	l *slog.Logger
}

// New returns a Logger that writes leveled text lines to stdout via log/slog.
func New(level slog.Level) Logger {
	h := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return &slogLogger{l: slog.New(h)}
}

// ParseLevel maps the INDEXER_LOG_LEVEL values to a slog.Level, defaulting
// to Info on anything unrecognized.
func ParseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (s *slogLogger) Debug(msg string) { s.l.Debug(msg) }
func (s *slogLogger) Info(msg string)  { s.l.Info(msg) }
func (s *slogLogger) Warn(msg string)  { s.l.Warn(msg) }
func (s *slogLogger) Error(msg string) { s.l.Error(msg) }

func (s *slogLogger) WithField(key string, value any) Logger {
	return &slogLogger{l: s.l.With(key, value)}
}

func (s *slogLogger) WithFields(fields map[string]any) Logger {
	args := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return &slogLogger{l: s.l.With(args...)}
}

// Discard is a Logger that drops everything; used by tests.
var Discard Logger = &slogLogger{l: slog.New(slog.NewTextHandler(discardWriter{}, &slog.HandlerOptions{Level: slog.LevelError + 100}))}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
