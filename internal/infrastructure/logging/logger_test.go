package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dendo-systems/renkei-poe-ha/internal/infrastructure/config"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.LoggingConfig
	}{
		{"json to stdout", config.LoggingConfig{Level: "info", Format: "json", Output: "stdout"}},
		{"text to stderr", config.LoggingConfig{Level: "debug", Format: "text", Output: "stderr"}},
		{"empty output defaults", config.LoggingConfig{Level: "warn", Format: "json"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if New(tt.cfg, "1.0.0") == nil {
				t.Fatal("expected non-nil logger")
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := parseLevel(tt.input); got != tt.expected {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.expected)
		}
	}
}

func TestOpenOutput_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "renkei.log")

	cfg := config.LoggingConfig{Level: "info", Format: "json", Output: path}
	logger := New(cfg, "test")
	logger.Info("motor connected", "motor_id", "blind-office")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !strings.Contains(string(data), "motor connected") {
		t.Errorf("log file missing record: %s", data)
	}
}

func TestOpenOutput_UnwritablePathFallsBack(t *testing.T) {
	// A directory path cannot be opened as a file; New must still
	// return a usable logger.
	cfg := config.LoggingConfig{Level: "info", Format: "json", Output: t.TempDir()}
	logger := New(cfg, "test")
	if logger == nil {
		t.Fatal("expected non-nil logger despite bad output path")
	}
}

func TestLogger_With(t *testing.T) {
	logger := Default()
	child := logger.With("component", "bridge")

	if child == nil {
		t.Fatal("expected non-nil child logger")
	}
	if child == logger {
		t.Error("expected child logger to be a distinct value")
	}
}

func TestDefault(t *testing.T) {
	if Default() == nil {
		t.Fatal("expected non-nil default logger")
	}
}

func TestLogger_OutputContainsDefaultFields(t *testing.T) {
	var buf bytes.Buffer

	handler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}).
		WithAttrs([]slog.Attr{
			slog.String("service", "renkei"),
			slog.String("version", "test"),
		})

	logger := &Logger{Logger: slog.New(handler)}
	logger.Info("position updated", "motor_id", "blind-office", "percent", 42.5)

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON output: %v", err)
	}

	if entry["service"] != "renkei" {
		t.Errorf("service = %v, want renkei", entry["service"])
	}
	if entry["version"] != "test" {
		t.Errorf("version = %v, want test", entry["version"])
	}
	if entry["msg"] != "position updated" {
		t.Errorf("msg = %v, want 'position updated'", entry["msg"])
	}
	if entry["motor_id"] != "blind-office" {
		t.Errorf("motor_id = %v, want blind-office", entry["motor_id"])
	}
}
