package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	line := strings.TrimSpace(buf.String())
	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("log output is not JSON: %v (%q)", err, line)
	}
	return entry
}

func TestLoggerEmitsJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	logger.WithField("model", "widget").Info("registry loaded")

	entry := decodeLine(t, &buf)
	if entry["msg"] != "registry loaded" {
		t.Errorf("msg = %v, want registry loaded", entry["msg"])
	}
	if entry["model"] != "widget" {
		t.Errorf("model = %v, want widget", entry["model"])
	}
	if entry["level"] != "INFO" {
		t.Errorf("level = %v, want INFO", entry["level"])
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(WarnLevel, &buf)

	logger.Debug("noise")
	logger.Info("also noise")
	if buf.Len() != 0 {
		t.Fatalf("expected debug/info suppressed at warn level, got %q", buf.String())
	}

	logger.Warn("kept")
	if buf.Len() == 0 {
		t.Fatal("expected warn log to be emitted")
	}
}

func TestLoggerWithError(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	logger.WithError(errors.New("boom")).Error("operation failed")

	entry := decodeLine(t, &buf)
	if entry["error"] != "boom" {
		t.Errorf("error = %v, want boom", entry["error"])
	}

	// nil error must not add a field
	if got := logger.WithError(nil); got != logger {
		t.Error("WithError(nil) should return the same logger")
	}
}

func TestParseLogLevel(t *testing.T) {
	cases := map[string]LogLevel{
		"debug":   DebugLevel,
		"DEBUG":   DebugLevel,
		"info":    InfoLevel,
		"warn":    WarnLevel,
		"warning": WarnLevel,
		"error":   ErrorLevel,
		"bogus":   InfoLevel,
		"":        InfoLevel,
	}
	for name, want := range cases {
		if got := ParseLogLevel(name); got != want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestContextPropagation(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	ctx := context.Background()
	ctx = WithLogger(ctx, logger)
	ctx = WithRequestID(ctx, "req-123")
	ctx = WithAccountID(ctx, 42)

	if GetRequestID(ctx) != "req-123" {
		t.Errorf("GetRequestID = %q", GetRequestID(ctx))
	}
	if GetAccountID(ctx) != 42 {
		t.Errorf("GetAccountID = %d", GetAccountID(ctx))
	}

	FromContext(ctx).Info("handled")

	entry := decodeLine(t, &buf)
	if entry["request_id"] != "req-123" {
		t.Errorf("request_id = %v", entry["request_id"])
	}
	if entry["account_id"] != float64(42) {
		t.Errorf("account_id = %v", entry["account_id"])
	}
}

func TestGetAccountIDAnonymous(t *testing.T) {
	if got := GetAccountID(context.Background()); got != 0 {
		t.Errorf("GetAccountID on empty context = %d, want 0", got)
	}
}
