// Package logging provides structured logging for the metric store.
//
// This package wraps the standard library's log/slog package to provide
// consistent logging across all components. It supports both text and JSON
// output formats, configurable log levels, and component-based loggers.
//
// Usage:
//
//	// Initialize at startup
//	logging.Init(slog.LevelInfo, false) // Text format
//	logging.Init(slog.LevelDebug, true) // JSON format for production
//	logging.InitWriter(os.Stderr, slog.LevelInfo, false)
//
//	// Get a component logger
//	log := logging.Component("bucket")
//	log.Info("day compressed", "bucket", "cpu", "day", "2024-01-15")
//
//	// Log a non-fatal failure
//	log.Warn("close evicted writer", "path", path, "error", err)
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Logger is the global logger instance.
var Logger *slog.Logger

var initMu sync.Mutex

// Init initializes the global logger with the specified level and format.
// If jsonFormat is true, logs are output as JSON; otherwise, human-readable text.
func Init(level slog.Level, jsonFormat bool) {
	InitWriter(os.Stdout, level, jsonFormat)
}

// InitWriter is Init with a custom destination.
func InitWriter(w io.Writer, level slog.Level, jsonFormat bool) {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	if jsonFormat {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	InitWithHandler(handler)
}

// InitWithHandler initializes the global logger with a custom handler.
// This is useful for testing or custom output destinations.
func InitWithHandler(handler slog.Handler) {
	initMu.Lock()
	defer initMu.Unlock()
	Logger = slog.New(handler)
	slog.SetDefault(Logger)
}

// ParseLevel maps debug|info|warn|error (case-insensitive) to a slog level.
// An empty string is info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

func current() *slog.Logger {
	initMu.Lock()
	defer initMu.Unlock()
	if Logger == nil {
		Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return Logger
}

// Component returns a logger for a specific component.
// The component name is added as an attribute to all log entries. The
// logger follows later calls to Init, so it can be created at package
// initialization.
//
// Example:
//
//	log := logging.Component("compaction")
//	log.Info("started") // Output: time=... level=INFO component=compaction msg=started
func Component(name string) *slog.Logger {
	return slog.New(forwardHandler{}).With("component", name)
}

// forwardHandler sends records to the handler of the global logger at the
// time they are logged, replaying attributes and groups added with With.
type forwardHandler struct {
	wrap []func(slog.Handler) slog.Handler
}

func (f forwardHandler) handler() slog.Handler {
	h := current().Handler()
	for _, w := range f.wrap {
		h = w(h)
	}
	return h
}

func (f forwardHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return current().Handler().Enabled(ctx, level)
}

func (f forwardHandler) Handle(ctx context.Context, r slog.Record) error {
	return f.handler().Handle(ctx, r)
}

func (f forwardHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return f.with(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

func (f forwardHandler) WithGroup(name string) slog.Handler {
	return f.with(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

func (f forwardHandler) with(w func(slog.Handler) slog.Handler) forwardHandler {
	wrap := make([]func(slog.Handler) slog.Handler, len(f.wrap), len(f.wrap)+1)
	copy(wrap, f.wrap)
	return forwardHandler{wrap: append(wrap, w)}
}
