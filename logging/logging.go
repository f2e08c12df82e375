// Package logging sets up the process-wide slog logger used by the trainer
// and hands out per-package loggers.
package logging

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

var ErrUnknownFormat = errors.New("unknown log format")

// Init installs the default logger writing records at or above level to w,
// either as key=value text or as one JSON object per line.
func Init(level, format string, w io.Writer) error {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	switch strings.ToLower(format) {
	case "", "text":
		slog.SetDefault(slog.New(slog.NewTextHandler(w, opts)))
	case "json":
		slog.SetDefault(slog.New(slog.NewJSONHandler(w, opts)))
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	return nil
}

// ParseLevel maps debug, info, warn and error to their slog levels, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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

// New tags the default logger with the package it logs for, for example
// "runner" or "ppo".
func New(component string) *slog.Logger {
	return slog.Default().With(slog.String("component", component))
}
