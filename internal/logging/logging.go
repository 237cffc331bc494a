// Package logging installs the process-wide slog handler. Output is rendered
// by tint; LOG_LEVEL picks the minimum level (debug, info, warn, error).
package logging

import (
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

func ParseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
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

func New(w io.Writer, level slog.Level, color bool) *slog.Logger {
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.DateTime,
		AddSource:  level == slog.LevelDebug,
		NoColor:    !color,
	}))
}

// Setup makes a tint logger the slog default and returns it.
func Setup(w io.Writer, rawLevel string, color bool) *slog.Logger {
	logger := New(w, ParseLevel(rawLevel), color)
	slog.SetDefault(logger)
	return logger
}
