package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
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

func TestInitWriter_JSONWithServiceAndTrace(t *testing.T) {
	var buf bytes.Buffer
	log := initWriter("sniper", slog.LevelInfo, &buf)

	ctx := WithTraceID(context.Background(), "ETHUSDT-1")
	log.Info("candle processed", LogWithTrace(ctx)...)
	log.Debug("filtered out")

	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("expected a single JSON line, got %q: %v", buf.String(), err)
	}
	if line["service"] != "sniper" {
		t.Errorf("expected service=sniper, got %v", line["service"])
	}
	if line["trace_id"] != "ETHUSDT-1" {
		t.Errorf("expected trace_id, got %v", line["trace_id"])
	}
}

func TestInitWithFile_WritesRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot.log")
	log := InitWithFile("sniper", slog.LevelInfo, FileOptions{Path: path, MaxSizeMB: 1})
	t.Cleanup(func() { Init("test-service", slog.LevelInfo) })
	log.Info("hello file")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected log file: %v", err)
	}
	if !strings.Contains(string(data), "hello file") {
		t.Errorf("expected message in file, got %q", data)
	}
}

func TestTraceID_RoundTrip(t *testing.T) {
	ctx := context.Background()

	if tid := TraceID(ctx); tid != "" {
		t.Errorf("expected empty trace id, got %q", tid)
	}

	ctx = WithTraceID(ctx, "test-trace-123")
	if tid := TraceID(ctx); tid != "test-trace-123" {
		t.Errorf("expected 'test-trace-123', got %q", tid)
	}
}

func TestGenerateTraceID(t *testing.T) {
	ts := time.Date(2024, 1, 15, 10, 30, 0, 123456789, time.UTC)
	tid := GenerateTraceID("ETHUSDT", ts)

	if !strings.HasPrefix(tid, "ETHUSDT-") {
		t.Errorf("expected trace id to start with 'ETHUSDT-', got %s", tid)
	}
	if !strings.Contains(tid, "123456789") {
		t.Errorf("expected trace id to contain nanoseconds, got %s", tid)
	}
}

func TestLogWithTrace(t *testing.T) {
	ctx := context.Background()

	if attrs := LogWithTrace(ctx); attrs != nil {
		t.Errorf("expected nil attrs when no trace id, got %v", attrs)
	}

	ctx = WithTraceID(ctx, "abc-123")
	if attrs := LogWithTrace(ctx); len(attrs) != 1 {
		t.Fatalf("expected one attr with trace id set, got %v", attrs)
	}
}
