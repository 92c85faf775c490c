// Package log configures the structured logger shared by magentic commands.
package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Format represents the log output format.
type Format string

const (
	// FormatJSON outputs logs in JSON format for machine parsing.
	FormatJSON Format = "json"
	// FormatText outputs logs in human-readable text format.
	FormatText Format = "text"
)

// Standard field keys for structured logging.
const (
	RunIDKey    = "run_id"
	RoundKey    = "round"
	AgentKey    = "agent"
	StateKey    = "state"
	DurationKey = "duration"
)

// Config holds the logging configuration.
type Config struct {
	// Level sets the minimum log level (debug, info, warn, error).
	Level string
	// Format sets the output format (json, text).
	Format Format
	// Output is the writer for log output. Ignored when File is set.
	Output io.Writer
	// File, when set, appends logs to this path instead of Output.
	File string
	// AddSource adds source file and line information to logs.
	AddSource bool
}

// DefaultConfig returns info-level text logs on stderr.
func DefaultConfig() *Config {
	return &Config{
		Level:  "info",
		Format: FormatText,
		Output: os.Stderr,
	}
}

// FromEnv overlays environment variables on cfg:
//   - MAGENTIC_DEBUG: true/1 enables debug level and source locations
//   - MAGENTIC_LOG_LEVEL: debug, info, warn, error
//   - MAGENTIC_LOG_FORMAT: json, text
func FromEnv(cfg *Config) *Config {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if debug := os.Getenv("MAGENTIC_DEBUG"); debug == "true" || debug == "1" {
		cfg.Level = "debug"
		cfg.AddSource = true
	} else if level := os.Getenv("MAGENTIC_LOG_LEVEL"); level != "" {
		cfg.Level = strings.ToLower(level)
	}
	if format := os.Getenv("MAGENTIC_LOG_FORMAT"); format != "" {
		cfg.Format = Format(strings.ToLower(format))
	}
	return cfg
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// New creates a logger from cfg. The returned closer releases the log file,
// if any.
func New(cfg *Config) (*slog.Logger, io.Closer, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	var (
		out    = cfg.Output
		closer io.Closer = nopCloser{}
	)
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
			return nil, nil, fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		out, closer = f, f
	}
	if out == nil {
		out = os.Stderr
	}

	opts := &slog.HandlerOptions{
		Level:     ParseLevel(cfg.Level),
		AddSource: cfg.AddSource,
	}

	var handler slog.Handler
	switch cfg.Format {
	case FormatJSON:
		handler = slog.NewJSONHandler(out, opts)
	default:
		handler = slog.NewTextHandler(out, opts)
	}
	return slog.New(handler), closer, nil
}

// ParseLevel converts a string level to slog.Level. Unknown values map to info.
func ParseLevel(level string) slog.Level {
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

// WithComponent returns a logger tagged with a component name.
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	return logger.With("component", component)
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}
