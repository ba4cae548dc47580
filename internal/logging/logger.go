package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Init configures the global slog logger.
// In production (ENVIRONMENT=production) it uses JSON output for log aggregation.
// Otherwise it uses the human-readable text handler. LOG_LEVEL overrides the level.
func Init() {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))

	level := slog.LevelDebug
	if env == "production" {
		level = slog.LevelInfo
	}
	if raw := os.Getenv("LOG_LEVEL"); raw != "" {
		var parsed slog.Level
		if err := parsed.UnmarshalText([]byte(raw)); err == nil {
			level = parsed
		}
	}

	var handler slog.Handler
	if env == "production" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}

	slog.SetDefault(slog.New(handler))
}

// WithBackend returns a logger scoped to one upstream backend.
func WithBackend(backend string) *slog.Logger {
	return slog.With("backend", backend)
}

// WithRequest returns a logger with relay request context fields attached.
// Use this for all logging along one request's lifecycle.
func WithRequest(backend, requestID string) *slog.Logger {
	return slog.With(
		"backend", backend,
		"request_id", requestID,
	)
}
