// Package logging builds the slog loggers shared by the api and worker
// binaries. Both emit JSON to stdout with a fixed service attribute so
// step logs from the worker and upload logs from the api correlate on
// document_id.
package logging

import (
	"log/slog"
	"os"
	"strings"
)

func NewJSONLogger(service, level string) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(level),
	})
	return slog.New(handler).With("service", service)
}

// ForDocument returns a child logger carrying the document id, the
// correlation key for everything a pipeline run emits.
func ForDocument(logger *slog.Logger, documentID string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With("document_id", documentID)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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
