package log

import (
	"io"
	"log/slog"
	"os"
)

// New constructs a JSON slog.Logger at info level tagged with the
// service's identity
func New(service, env, version string) *slog.Logger {
	return NewWithLevel(service, env, version, slog.LevelInfo)
}

// NewWithLevel constructs a JSON slog.Logger at the provided level
func NewWithLevel(service, env, version string, lvl slog.Level) *slog.Logger {
	return NewWithWriter(service, env, version, lvl, os.Stdout)
}

// NewWithWriter constructs a JSON slog.Logger writing to w. Tests use it
// to capture output
func NewWithWriter(
	service, env, version string, lvl slog.Level, w io.Writer,
) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})
	identity := []any{
		slog.String("service", service),
		slog.String("env", env),
		slog.String("version", version),
	}
	return slog.New(handler).With(identity...)
}
