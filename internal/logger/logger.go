// Package logger provides structured logging using Go 1.21's log/slog.
// It sets up a JSON handler with service-level context and provides
// request ID propagation through context.Context.
package logger

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
)

type ctxKey string

const requestIDKey ctxKey = "request_id"

// Init creates and returns a structured logger for the given service.
// The logger outputs JSON to stdout with the service name embedded.
func Init(service string, level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})

	logger := slog.New(handler).With(
		slog.String("service", service),
	)

	// Set as default so log/slog.Info() etc. also use structured output
	slog.SetDefault(logger)

	return logger
}

// WithRequestID stores a request ID in the context for downstream propagation.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestID extracts the request ID from context. Returns "" if not set.
func RequestID(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// NewRequestID creates a request ID for correlating a query or alert check
// across logs, trigger envelopes, and history rows.
// Format: "req_{unixMilli}_{8 hex chars}".
func NewRequestID(ts time.Time) string {
	return fmt.Sprintf("req_%d_%s", ts.UnixMilli(), uuid.New().String()[:8])
}

// ValidRequestID reports whether id matches the "req_<ms>_<8 hex>" shape.
// Anything else is replaced rather than propagated.
func ValidRequestID(id string) bool {
	if len(id) < len("req_0_00000000") || id[:4] != "req_" {
		return false
	}
	rest := id[4:]
	sep := -1
	for i := len(rest) - 1; i >= 0; i-- {
		if rest[i] == '_' {
			sep = i
			break
		}
	}
	if sep <= 0 || len(rest)-sep-1 != 8 {
		return false
	}
	for _, ch := range rest[:sep] {
		if ch < '0' || ch > '9' {
			return false
		}
	}
	for _, ch := range rest[sep+1:] {
		if !(ch >= '0' && ch <= '9' || ch >= 'a' && ch <= 'f') {
			return false
		}
	}
	return true
}

// LogWithRequest returns slog attributes including the request ID from context.
// Usage: slog.Info("msg", logger.LogWithRequest(ctx)...)
func LogWithRequest(ctx context.Context) []any {
	rid := RequestID(ctx)
	if rid == "" {
		return nil
	}
	return []any{slog.String("request_id", rid)}
}
