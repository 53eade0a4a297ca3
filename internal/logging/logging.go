// Package logging provides JSON-lines structured logging for the engine.
package logging

import (
	"io"
	"log/slog"
	"os"
)

// New creates a JSON-lines structured logger. A nil output writes to stderr.
func New(output io.Writer, debug bool) *slog.Logger {
	if output == nil {
		output = os.Stderr
	}
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	handler := slog.NewJSONHandler(output, &slog.HandlerOptions{Level: level})
	return slog.New(handler)
}
