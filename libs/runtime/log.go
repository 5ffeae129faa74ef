// Package runtime holds the shared process plumbing every clipdeck service
// main wires first: logger, signal context, env access, health/readiness mux.
package runtime

import (
	"log/slog"
	"os"
	"strings"
)

// NewLogger returns the service-wide JSON logger. Every line carries the
// service name so the aggregated stream from all services stays filterable.
// LOG_LEVEL (debug, info, warn, error) adjusts verbosity, default info.
func NewLogger(service string) *slog.Logger {
	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(),
	})
	return slog.New(h).With("service", service)
}

func logLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("LOG_LEVEL"))) {
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

