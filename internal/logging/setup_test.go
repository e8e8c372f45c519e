package logging

import (
	"bytes"
	"encoding/json"
	"log"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"loud", slog.LevelInfo},
		{"  debug  ", slog.LevelDebug},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ParseLevel(tt.input); got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestSetupWithConfigJSON(t *testing.T) {
	var buf bytes.Buffer
	SetupWithConfig("info", "json", &buf)

	slog.Info("gateway started", "pid", 42)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON log: %v (output: %s)", err, buf.String())
	}
	if entry["msg"] != "gateway started" {
		t.Errorf("msg = %v", entry["msg"])
	}
	if entry["pid"] != float64(42) {
		t.Errorf("pid = %v", entry["pid"])
	}
}

func TestSetupWithConfigLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	SetupWithConfig("warn", "text", &buf)

	slog.Info("hidden")
	slog.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info line should be filtered at warn level")
	}
	if !strings.Contains(out, "shown") {
		t.Error("warn line missing")
	}
}

func TestSensitiveAttributesMasked(t *testing.T) {
	var buf bytes.Buffer
	SetupWithConfig("debug", "json", &buf)

	secret := strings.Repeat("ab", 32)
	slog.Info("login", "token", secret, "apiKey", "sk-1234567890abcdef", "user_id", "user_1")

	out := buf.String()
	if strings.Contains(out, secret) {
		t.Fatalf("token leaked into log: %s", out)
	}
	if strings.Contains(out, "sk-1234567890abcdef") {
		t.Fatalf("api key leaked into log: %s", out)
	}
	if !strings.Contains(out, "user_1") {
		t.Errorf("non-sensitive attribute dropped: %s", out)
	}
}

func TestStdlibBridge(t *testing.T) {
	var buf bytes.Buffer
	SetupWithConfig("info", "json", &buf)

	log.Printf("from stdlib")

	if !strings.Contains(buf.String(), `"source":"stdlib"`) {
		t.Errorf("stdlib log not bridged: %s", buf.String())
	}
}

func TestRedact(t *testing.T) {
	if got := Redact(""); got != "" {
		t.Errorf("Redact(empty) = %q", got)
	}
	if got := Redact("short"); got != "[redacted]" {
		t.Errorf("Redact(short) = %q", got)
	}
	got := Redact("0123456789abcdef")
	if got != "[redacted ...cdef]" {
		t.Errorf("Redact(long) = %q", got)
	}
}
