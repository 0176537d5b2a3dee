package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestInit(t *testing.T) {
	logger := Init("test-service", slog.LevelInfo)
	if logger == nil {
		t.Fatal("expected non-nil logger")
	}
}

func TestNew_WritesJSONWithService(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "pricingserver", slog.LevelInfo)
	l.Debug("hidden")
	l.Info("hello", "count", 3)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output is not one JSON record: %v\n%s", err, buf.String())
	}
	if rec["service"] != "pricingserver" || rec["msg"] != "hello" || rec["count"] != 3.0 {
		t.Errorf("record: %v", rec)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		" warn ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestConnID_RoundTrip(t *testing.T) {
	ctx := context.Background()

	if id := ConnID(ctx); id != "" {
		t.Errorf("expected empty conn id, got %q", id)
	}

	ctx = WithConnID(ctx, "conn-123")
	if id := ConnID(ctx); id != "conn-123" {
		t.Errorf("expected 'conn-123', got %q", id)
	}
}

func TestLogWithConn(t *testing.T) {
	ctx := context.Background()

	if attrs := LogWithConn(ctx); attrs != nil {
		t.Errorf("expected nil attrs when no conn id, got %v", attrs)
	}

	ctx = WithConnID(ctx, "abc-123")
	attrs := LogWithConn(ctx)
	if len(attrs) != 1 {
		t.Fatalf("expected one attr, got %v", attrs)
	}
	if a, ok := attrs[0].(slog.Attr); !ok || a.Value.String() != "abc-123" {
		t.Errorf("attr: %v", attrs[0])
	}
}
