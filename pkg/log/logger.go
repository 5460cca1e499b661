package log

import (
	"log/slog"
	"os"
)

var levels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

// New constructs a JSON slog.Logger preconfigured at info level
func New(service, version string) *slog.Logger {
	return NewWithLevel(service, version, slog.LevelInfo)
}

// NewWithLevel constructs a JSON slog.Logger at the provided level
func NewWithLevel(service, version string, lvl slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: lvl,
	})

	return slog.New(handler).With(
		slog.String("service", service),
		slog.String("version", version))
}

// ParseLevel maps a level name to its slog.Level, defaulting to info
func ParseLevel(name string) slog.Level {
	if lvl, ok := levels[name]; ok {
		return lvl
	}
	return slog.LevelInfo
}
