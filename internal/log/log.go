// Package log builds the structured slog loggers shared by the panelfleet
// daemon and the one-shot fleet commands.
package log

import (
	"log/slog"
	"os"
	"strings"
)

// New creates a [slog.Logger] writing text records to stdout at the given
// level. Level names are case-insensitive ("debug", "info", "warn",
// "error"); anything else falls back to info, matching the -log-level
// flag's contract.
func New(level string) *slog.Logger {
	lvl := slog.LevelInfo
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}

	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: lvl,
	}))
}
