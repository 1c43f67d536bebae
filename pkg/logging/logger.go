// Package logging is the gateway's slog adapter. Ceremony failures are
// reported to clients with deliberately generic messages; the precise cause
// (which challenge-validity sub-case failed, counter values on a regression)
// is recorded only through these loggers.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger wraps slog with the small surface the gateway uses.
type Logger struct {
	logger *slog.Logger
	debug  bool
}

// New creates a logger writing to stderr at the given level ("debug",
// "info", "warn", "error") in the given format ("text" or "json").
// Unrecognized values fall back to info-level text.
func New(level, format string) *Logger {
	return NewWithWriter(os.Stderr, level, format)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(w io.Writer, level, format string) *Logger {
	lvl := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return &Logger{
		logger: slog.New(handler),
		debug:  lvl == slog.LevelDebug,
	}
}

// NewLogger creates a text logger at info level, or debug level when set.
func NewLogger(debug bool) *Logger {
	if debug {
		return New("debug", "text")
	}
	return New("info", "text")
}

// DefaultLogger returns an info-level text logger.
func DefaultLogger() *Logger {
	return NewLogger(false)
}

// Info logs a message with structured key/value attributes.
func (l *Logger) Info(msg string, args ...any) {
	l.logger.Info(msg, args...)
}

// Debug logs a debug message with structured key/value attributes.
func (l *Logger) Debug(msg string, args ...any) {
	if l.debug {
		l.logger.Debug(msg, args...)
	}
}

// Warn logs a warning with structured key/value attributes.
func (l *Logger) Warn(msg string, args ...any) {
	l.logger.Warn(msg, args...)
}

// Warnf logs a formatted warning.
func (l *Logger) Warnf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

// Error logs an error.
func (l *Logger) Error(err error) {
	l.logger.Error(err.Error())
}

// Errorf logs a formatted error message.
func (l *Logger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}
