// Package logging builds the relay's slog logger.
package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Options selects level, handler format and an optional log file.
type Options struct {
	Level  string
	Format string // "text" (default) or "json"
	File   string
	// Stderr overrides os.Stderr, for tests.
	Stderr io.Writer
}

// New returns a logger writing to stderr and, when opts.File is set, to an
// append-only file. The cleanup func closes the file. If the file cannot be
// opened the logger falls back to stderr only and reports it once.
func New(opts Options) (*slog.Logger, func()) {
	stderr := opts.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}

	out := stderr
	cleanup := func() {}
	var fileErr error
	if opts.File != "" {
		f, err := openLogFile(opts.File)
		if err != nil {
			fileErr = err
		} else {
			out = io.MultiWriter(stderr, f)
			cleanup = func() { _ = f.Close() }
		}
	}

	hopts := &slog.HandlerOptions{Level: ParseLevel(opts.Level)}
	var h slog.Handler
	switch opts.Format {
	case "json":
		h = slog.NewJSONHandler(out, hopts)
	default:
		h = slog.NewTextHandler(out, hopts)
	}

	logger := slog.New(h)
	if fileErr != nil {
		logger.Warn("log file unavailable, logging to stderr only", Error(fileErr))
	}
	return logger, cleanup
}

// SetDefault installs l as slog's default. Output from the standard log
// package goes through it too.
func SetDefault(l *slog.Logger) {
	slog.SetDefault(l)
}

// ParseLevel converts a level name to slog.Level. Unknown names mean info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Discard is a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
}
