// Package logging builds the process-wide slog.Logger the rest of the
// server is handed at construction time, the same log/slog the teacher
// uses directly (slog.Default()) rather than wrapping a third-party
// logging library.
package logging

import (
	"log/slog"
	"os"
	"strings"
)

// New builds a logger writing to stderr. format is "json" or "text"
// (text is the default); level is parsed case-insensitively and falls
// back to info on an unrecognized value.
func New(levelName, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(levelName)}

	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

func parseLevel(name string) slog.Level {
	switch strings.ToLower(name) {
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
