// Package logger provides structured logging functionality for the
// application using Go's standard library log/slog package.
package logger

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/fablecast/fablecast-api/internal/config"
)

// contextKey is the private type for context values stored by this package.
type contextKey struct{}

// loggerKey is the context key under which a request-scoped logger lives.
var loggerKey = contextKey{}

// Setup initializes and configures the application's logging system based
// on the provided configuration. It creates a structured JSON logger with
// the appropriate log level and sets it as the default logger.
func Setup(cfg config.ServerConfig) (*slog.Logger, error) {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo

		tmpLogger := slog.New(slog.NewTextHandler(os.Stderr, nil))
		tmpLogger.Warn("invalid log level configured, using default level",
			"configured_level", cfg.LogLevel,
			"default_level", "info")
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	handler := slog.NewJSONHandler(os.Stdout, opts)
	logger := slog.New(handler)

	slog.SetDefault(logger)

	return logger, nil
}

// WithLogger returns a context carrying the given logger. Handlers and
// middleware use this to thread a request-scoped logger through call chains.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext retrieves the logger stored in the context, falling back to
// the process default logger if none was set.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey).(*slog.Logger); ok && logger != nil {
		return logger
	}
	return slog.Default()
}

// FromContextOrDefault retrieves the logger stored in the context, falling
// back to the provided default rather than the process default.
func FromContextOrDefault(ctx context.Context, def *slog.Logger) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey).(*slog.Logger); ok && logger != nil {
		return logger
	}
	return def
}
