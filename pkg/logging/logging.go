// Package logging builds the structured loggers used by the daemon and by
// library consumers that want human-readable output.
package logging

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

// NewConsoleLogger returns a colorized slog.Logger for interactive use.
func NewConsoleLogger(level slog.Level) *slog.Logger {
	handler := tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.RFC3339,
	})
	return slog.New(handler)
}

// NewTextLogger returns a plain text slog.Logger writing to w, suitable for
// log shippers and file output.
func NewTextLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
