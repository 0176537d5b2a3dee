// Package logger provides structured logging using log/slog.
// It sets up a JSON handler with service-level context and carries the
// hub connection id through context.Context.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

type ctxKey string

const connIDKey ctxKey = "conn_id"

// Init creates a JSON logger on stdout for service and installs it as the
// slog default.
func Init(service string, level slog.Level) *slog.Logger {
	logger := New(os.Stdout, service, level)
	slog.SetDefault(logger)
	return logger
}

// New creates a JSON logger writing to w, tagged with service.
func New(w io.Writer, service string, level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	})
	return slog.New(handler).With(
		slog.String("service", service),
	)
}

// ParseLevel maps debug, info, warn/warning and error (any case) to a level.
// Anything else is info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

// WithConnID stores the hub-assigned connection id in ctx.
func WithConnID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, connIDKey, id)
}

// ConnID extracts the connection id from ctx. Returns "" if not set.
func ConnID(ctx context.Context) string {
	if v, ok := ctx.Value(connIDKey).(string); ok {
		return v
	}
	return ""
}

// LogWithConn returns slog attributes including the connection id from ctx.
// Usage: slog.Info("msg", logger.LogWithConn(ctx)...)
func LogWithConn(ctx context.Context) []any {
	id := ConnID(ctx)
	if id == "" {
		return nil
	}
	return []any{slog.String("conn_id", id)}
}
