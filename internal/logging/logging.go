// Package logging builds the structured logger used across the service.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Standard field keys so log lines stay greppable across packages.
const (
	ExecutionIDKey = "execution_id"
	WorkflowIDKey  = "workflow_id"
	OwnerIDKey     = "owner_id"
	DurationKey    = "duration_ms"
)

// Config holds the logging configuration.
type Config struct {
	// Level is the minimum level: debug, info, warn, error. Default: info.
	Level string
	// Format selects the handler: json or text. Default: json.
	Format string
	// Output defaults to os.Stderr.
	Output io.Writer
}

// FromEnv derives a Config from environment variables. FLOWLINE_DEBUG=1
// forces debug level; otherwise LOG_LEVEL and LOG_FORMAT apply.
func FromEnv() *Config {
	cfg := &Config{Level: "info", Format: "json"}
	if v := os.Getenv("FLOWLINE_DEBUG"); v == "1" || v == "true" {
		cfg.Level = "debug"
	} else if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Level = strings.ToLower(v)
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Format = strings.ToLower(v)
	}
	return cfg
}

// New creates a structured logger from the given configuration.
func New(cfg *Config) *slog.Logger {
	if cfg == nil {
		cfg = FromEnv()
	}
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}
	return slog.New(handler)
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

// WithComponent tags all entries of the returned logger with a component name.
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	return logger.With("component", component)
}
