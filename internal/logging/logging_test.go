package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{in: "debug", want: slog.LevelDebug},
		{in: "", want: slog.LevelInfo},
		{in: " INFO ", want: slog.LevelInfo},
		{in: "warning", want: slog.LevelWarn},
		{in: "error", want: slog.LevelError},
		{in: "loud", wantErr: true},
	}
	for _, tc := range tests {
		got, err := ParseLevel(tc.in)
		if (err != nil) != tc.wantErr {
			t.Fatalf("ParseLevel(%q) error = %v", tc.in, err)
		}
		if !tc.wantErr && got != tc.want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestNewText(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, Config{Level: "warn", Service: "roadsync"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	logger.Info("hidden")
	logger.Warn("shown", "node", 7)
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info must be filtered at warn: %s", out)
	}
	if !strings.Contains(out, "msg=shown") || !strings.Contains(out, "service=roadsync") || !strings.Contains(out, "node=7") {
		t.Fatalf("unexpected text output: %s", out)
	}
}

func TestNewJSONQuiet(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, Config{Level: "debug", Format: FormatJSON, Quiet: true})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	logger.Warn("suppressed")
	logger.Error("failed", "err", "boom")
	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("expected a single json line, got %q: %v", buf.String(), err)
	}
	if entry["msg"] != "failed" || entry["err"] != "boom" {
		t.Fatalf("unexpected entry %+v", entry)
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	if _, err := New(nil, Config{Format: "xml"}); err == nil {
		t.Fatalf("expected format error")
	}
	if _, err := New(nil, Config{Level: "chatty"}); err == nil {
		t.Fatalf("expected level error")
	}
	if _, err := New(nil, Default()); err != nil {
		t.Fatalf("default config must be valid: %v", err)
	}
}
