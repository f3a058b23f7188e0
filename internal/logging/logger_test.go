package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLoggerWritesKeyValues(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := NewFromCore(core).With("component", "core")
	log.Info("operation completed", "op", "ship_file", "file_id", "f1")
	log.Warn("lock shipped blob", "error", "denied")

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["component"] != "core" || fields["op"] != "ship_file" || fields["file_id"] != "f1" {
		t.Fatalf("unexpected fields %v", fields)
	}
	if entries[1].Level != zapcore.WarnLevel {
		t.Fatalf("unexpected level %s", entries[1].Level)
	}
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	if _, err := New(Options{Level: "loud"}); err == nil {
		t.Fatalf("expected level error")
	}
}

func TestParseLevelDefaults(t *testing.T) {
	cases := []struct {
		level, mode string
		want        zapcore.Level
	}{
		{"", "development", zapcore.DebugLevel},
		{"", "production", zapcore.InfoLevel},
		{"WARN", "development", zapcore.WarnLevel},
		{"error", "", zapcore.ErrorLevel},
	}
	for _, tc := range cases {
		got, err := parseLevel(tc.level, tc.mode)
		if err != nil || got != tc.want {
			t.Fatalf("parseLevel(%q, %q) = %s, %v", tc.level, tc.mode, got, err)
		}
	}
}

func TestNewTeesIntoRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "ptxmeta.log")
	log, err := New(Options{Mode: "production", Level: "info", Path: path, MaxSizeMB: 1})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	log.Info("file generated", "file_id", "f1")
	log.Debug("dropped below level")
	if err := log.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	out := string(data)
	if !strings.Contains(out, `"file_id":"f1"`) || strings.Contains(out, "dropped below level") {
		t.Fatalf("unexpected log file %q", out)
	}
}
