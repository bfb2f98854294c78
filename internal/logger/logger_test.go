package logger

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestInit(t *testing.T) {
	logger := Init("test-service", slog.LevelInfo)
	if logger == nil {
		t.Fatal("expected non-nil logger")
	}
}

func TestRequestID_RoundTrip(t *testing.T) {
	ctx := context.Background()

	// No request ID set
	if rid := RequestID(ctx); rid != "" {
		t.Errorf("expected empty request id, got %q", rid)
	}

	// Set and retrieve
	ctx = WithRequestID(ctx, "req_1700000000000_deadbeef")
	if rid := RequestID(ctx); rid != "req_1700000000000_deadbeef" {
		t.Errorf("expected 'req_1700000000000_deadbeef', got %q", rid)
	}
}

func TestNewRequestID(t *testing.T) {
	ts := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	rid := NewRequestID(ts)

	if rid == "" {
		t.Fatal("expected non-empty request id")
	}
	if !strings.HasPrefix(rid, "req_1705314600000_") {
		t.Errorf("expected request id to start with 'req_1705314600000_', got %s", rid)
	}
	parts := strings.Split(rid, "_")
	if len(parts) != 3 || len(parts[2]) != 8 {
		t.Errorf("expected 8-char suffix, got %s", rid)
	}
}

func TestNewRequestID_Unique(t *testing.T) {
	now := time.Now()
	a := NewRequestID(now)
	b := NewRequestID(now)
	if a == b {
		t.Errorf("expected distinct request ids for the same timestamp, got %s twice", a)
	}
}

func TestLogWithRequest(t *testing.T) {
	ctx := context.Background()

	// No request ID
	attrs := LogWithRequest(ctx)
	if attrs != nil {
		t.Errorf("expected nil attrs when no request id, got %v", attrs)
	}

	// With request ID returns [slog.Attr] which is a single element
	ctx = WithRequestID(ctx, "req_abc_123")
	attrs = LogWithRequest(ctx)
	if len(attrs) == 0 {
		t.Fatal("expected non-empty attrs with request id set")
	}
}
