// Package logging provides structured logging configuration using log/slog.
//
// Pipeline runs are long batch jobs, so log entries are mirrored to a run
// log file alongside the console when a file path is configured.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Setup configures the global slog logger based on level and format.
//
// Level values: "debug", "info", "warn", "error" (default: "info")
// Format values: "text", "json" (default: "text")
//
// Use "json" format when run output is consumed by log tooling.
// Use "text" format for human readability.
func Setup(level, format string) {
	slog.SetDefault(slog.New(newHandler(os.Stdout, level, format)))
}

// SetupWithFile configures the global slog logger and mirrors output to
// the given file, appending across runs. It returns a closer for the file.
// On file-open failure it falls back to console-only logging.
func SetupWithFile(level, format, path string) (io.Closer, error) {
	if path == "" {
		Setup(level, format)
		return nil, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		Setup(level, format)
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		Setup(level, format)
		return nil, fmt.Errorf("open log file: %w", err)
	}

	slog.SetDefault(slog.New(newHandler(io.MultiWriter(os.Stdout, f), level, format)))
	return f, nil
}

func newHandler(w io.Writer, level, format string) slog.Handler {
	opts := &slog.HandlerOptions{
		Level: parseLevel(level),
	}

	if strings.ToLower(format) == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// parseLevel converts a string log level to slog.Level.
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

// WithFields returns a logger with additional structured fields.
//
// This is useful for creating run-scoped loggers that carry consistent
// context through a multi-step process.
//
// Usage:
//
//	fileLogger := logging.WithFields("file", name, "sheet", sheet)
//	fileLogger.Info("sheet staged", "rows", n)
func WithFields(args ...any) *slog.Logger {
	return slog.Default().With(args...)
}
