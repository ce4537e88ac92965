package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

// captureLogOutput captures log output for testing by temporarily
// redirecting the logger to write to a buffer
func captureLogOutput(f func()) string {
	var buf bytes.Buffer

	oldLogger := defaultLogger
	handler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})
	defaultLogger = slog.New(handler)

	f()

	defaultLogger = oldLogger
	return buf.String()
}

func TestLevels(t *testing.T) {
	out := captureLogOutput(func() {
		Debug("debug message", "k", "v")
		Info("info message")
		Warn("warn message")
		Error("error message")
	})

	for _, want := range []string{"debug message", "info message", "warn message", "error message"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRunIDContext(t *testing.T) {
	ctx := WithRunID(context.Background(), "run-123")
	if got := GetRunID(ctx); got != "run-123" {
		t.Errorf("GetRunID = %q; want %q", got, "run-123")
	}
	if got := GetRunID(context.Background()); got != "" {
		t.Errorf("GetRunID on empty context = %q; want empty", got)
	}

	out := captureLogOutput(func() {
		InfoContext(ctx, "scanning")
	})
	if !strings.Contains(out, "run-123") {
		t.Errorf("context log output missing run ID:\n%s", out)
	}
}

func TestDetectEvent(t *testing.T) {
	out := captureLogOutput(func() {
		DetectEvent("/tmp/photo.bin", "PNG")
	})
	if !strings.Contains(out, "format_detected") {
		t.Errorf("output missing event name:\n%s", out)
	}
	if !strings.Contains(out, "PNG") {
		t.Errorf("output missing format:\n%s", out)
	}
}

func TestScanEvent(t *testing.T) {
	out := captureLogOutput(func() {
		ScanEvent("started", "run-abc", 7)
	})
	for _, want := range []string{"scan", "started", "run-abc", "7"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestInspectError(t *testing.T) {
	out := captureLogOutput(func() {
		InspectError("/tmp/a.exe", "pe-timestamp", errors.New("truncated header"))
	})
	for _, want := range []string{"inspect_failed", "pe-timestamp", "truncated header"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestGetLogger(t *testing.T) {
	if GetLogger() == nil {
		t.Fatal("GetLogger returned nil")
	}
}
