package logging

import (
	"log/slog"
	"time"
)

// Common field names so every package logs the same keys.
const (
	FieldComponent = "component"
	FieldCycle     = "cycle"
	FieldPhase     = "phase"
	FieldCursor    = "cursor"
	FieldSink      = "sink"
	FieldCount     = "count"
	FieldDuration  = "duration_ms"
	FieldError     = "error"
)

// Component tags a logger with the subsystem name.
func Component(name string) slog.Attr {
	return slog.String(FieldComponent, name)
}

// Cycle returns the cycle number attribute.
func Cycle(n uint64) slog.Attr {
	return slog.Uint64(FieldCycle, n)
}

// Phase returns the relay phase attribute.
func Phase(p string) slog.Attr {
	return slog.String(FieldPhase, p)
}

// Cursor returns the sequence cursor attribute.
func Cursor(seq int64) slog.Attr {
	return slog.Int64(FieldCursor, seq)
}

func Sink(name string) slog.Attr {
	return slog.String(FieldSink, name)
}

func Count(n int) slog.Attr {
	return slog.Int(FieldCount, n)
}

// Duration is rendered in milliseconds.
func Duration(d time.Duration) slog.Attr {
	return slog.Int64(FieldDuration, d.Milliseconds())
}

// Error returns the error attribute. A nil error renders as "<nil>".
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(FieldError, "<nil>")
	}
	return slog.String(FieldError, err.Error())
}
