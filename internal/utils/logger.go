package utils

import (
	"log/slog"
	"os"
	"strings"
)

var logLevels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

// NewLogger builds the process logger. Unknown levels fall back to info;
// json selects machine-readable output for log aggregation.
func NewLogger(level string, json bool) *slog.Logger {
	lvl, ok := logLevels[strings.ToLower(strings.TrimSpace(level))]
	if !ok {
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	if json {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
