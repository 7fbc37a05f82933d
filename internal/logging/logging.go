// Package logging builds the process-wide *slog.Logger tree: one base
// logger configured at startup, with every component deriving its own
// child via logger.With("component", name) instead of reaching for a
// package-level global.
package logging

import (
	"log/slog"
	"os"
	"strings"
)

// New builds the base logger. level is parsed case-insensitively
// ("debug", "info", "warn", "error"); an unrecognized value falls back
// to info.
func New(level string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// For returns a child logger tagged with the given component name.
func For(base *slog.Logger, component string) *slog.Logger {
	if base == nil {
		base = slog.Default()
	}
	return base.With("component", component)
}

func parseLevel(level string) slog.Level {
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
