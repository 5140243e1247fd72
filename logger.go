package soma

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/TileDB-Inc/TileDB-SOMA/storage"
)

// Logger wraps slog.Logger with soma-specific helpers.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{Logger: slog.New(handler)}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
func NewJSONLogger(level slog.Level) *Logger {
	return &Logger{Logger: slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))}
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// LogOpen logs a collection or member open.
func (l *Logger) LogOpen(ctx context.Context, uri string, mode storage.Mode, err error) {
	if err != nil {
		l.ErrorContext(ctx, "open failed", "uri", uri, "mode", mode.String(), "error", err)
	} else {
		l.DebugContext(ctx, "opened", "uri", uri, "mode", mode.String())
	}
}

// LogClose logs a close.
func (l *Logger) LogClose(uri string, err error) {
	if err != nil {
		l.Error("close failed", "uri", uri, "error", err)
	} else {
		l.Debug("closed", "uri", uri)
	}
}

// LogSet logs a member registration.
func (l *Logger) LogSet(ctx context.Context, key, uri string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "set failed", "key", key, "member_uri", uri, "error", err)
	} else {
		l.DebugContext(ctx, "member set", "key", key, "member_uri", uri)
	}
}

// LogGet logs a member retrieval.
func (l *Logger) LogGet(ctx context.Context, key, kind string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "get failed", "key", key, "error", err)
	} else {
		l.DebugContext(ctx, "member retrieved", "key", key, "kind", kind)
	}
}

// LogDel logs a member deletion.
func (l *Logger) LogDel(ctx context.Context, key string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "del failed", "key", key, "error", err)
	} else {
		l.DebugContext(ctx, "member deleted", "key", key)
	}
}

// LogAddNew logs a typed factory creation.
func (l *Logger) LogAddNew(ctx context.Context, kind, key, uri string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "add new failed", "kind", kind, "key", key, "member_uri", uri, "error", err)
	} else {
		l.DebugContext(ctx, "member created", "kind", kind, "key", key, "member_uri", uri)
	}
}
