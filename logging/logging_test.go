package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Swind/go-runtime-bridge/config"
	"github.com/Swind/go-runtime-bridge/core"
)

// TestParseLevel verifies level strings map to zap levels
func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug":   zap.DebugLevel,
		" INFO ":  zap.InfoLevel,
		"warning": zap.WarnLevel,
		"warn":    zap.WarnLevel,
		"error":   zap.ErrorLevel,
		"bogus":   zap.InfoLevel,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

// TestSetup_FileOutputJSON verifies a JSON file output
// Given: A json config writing to a file in a nested directory
// When: Messages are logged at info and debug
// Then: Only the info line is written, as JSON with its fields
func TestSetup_FileOutputJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "bridge.log")
	logger, err := Setup(config.LogConfig{Level: "info", Format: "json", Outputs: []string{path}})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}

	logger.Info("runtime started", zap.String("runner", "runtime"))
	logger.Debug("hidden")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 1 {
		t.Fatalf("lines = %q", lines)
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("not JSON: %v", err)
	}
	if entry["msg"] != "runtime started" || entry["runner"] != "runtime" {
		t.Errorf("entry = %v", entry)
	}
}

// TestSetup_Rotation verifies rotation routes file output through the
// rotation filename
func TestSetup_Rotation(t *testing.T) {
	dir := t.TempDir()
	rotated := filepath.Join(dir, "rotated.log")
	logger, err := Setup(config.LogConfig{
		Level:   "debug",
		Format:  "console",
		Outputs: []string{filepath.Join(dir, "ignored.log")},
		Rotation: config.RotationConfig{
			Enable:   true,
			Filename: rotated,
		},
	})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}

	logger.Debug("rotating")
	_ = logger.Sync()

	data, err := os.ReadFile(rotated)
	if err != nil {
		t.Fatalf("read rotated log: %v", err)
	}
	if !strings.Contains(string(data), "rotating") {
		t.Errorf("rotated log = %q", data)
	}
}

// TestSetup_BadFile verifies an unopenable file path fails Setup
func TestSetup_BadFile(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	if err := os.WriteFile(blocker, nil, 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := Setup(config.LogConfig{Outputs: []string{filepath.Join(blocker, "x.log")}}); err == nil {
		t.Error("Setup should fail when the parent is a file")
	}
}

// TestInstall verifies Install swaps zap globals and restores them
func TestInstall(t *testing.T) {
	obsCore, logs := observer.New(zap.InfoLevel)
	restore := Install(zap.New(obsCore))

	zap.L().Info("via global")
	restore()
	zap.L().Info("after restore")

	if logs.Len() != 1 || logs.All()[0].Message != "via global" {
		t.Errorf("logs = %+v", logs.All())
	}
}

// TestZapLogger verifies the core.Logger adapter for zap
// Main test items:
// 1. Each level maps to the zap level of the same name
// 2. Fields keep their keys and an "error" field is encoded as an error
func TestZapLogger(t *testing.T) {
	obsCore, logs := observer.New(zap.DebugLevel)
	var logger core.Logger = NewZapLogger(zap.New(obsCore))

	logger.Debug("d", core.F("n", 1))
	logger.Info("i")
	logger.Warn("w")
	logger.Error("e", core.F("error", errors.New("boom")))

	entries := logs.All()
	if len(entries) != 4 {
		t.Fatalf("entries = %d", len(entries))
	}
	wantLevels := []zapcore.Level{zap.DebugLevel, zap.InfoLevel, zap.WarnLevel, zap.ErrorLevel}
	for i, e := range entries {
		if e.Level != wantLevels[i] {
			t.Errorf("entry %d level = %v, want %v", i, e.Level, wantLevels[i])
		}
	}
	if got := entries[0].ContextMap()["n"]; got != int64(1) {
		t.Errorf("n = %#v", got)
	}
	if got := entries[3].ContextMap()["error"]; got != "boom" {
		t.Errorf("error = %#v", got)
	}

	if NewZapLogger(nil).Zap() == nil {
		t.Error("nil logger should become a no-op logger")
	}
}

// TestSlogLogger verifies the core.Logger adapter for slog
func TestSlogLogger(t *testing.T) {
	var buf bytes.Buffer
	handler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})
	logger := NewSlogLogger(slog.New(handler))

	logger.Debug("dropped")
	logger.Warn("queue full", core.F("runner", "reply"))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("lines = %q", lines)
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("not JSON: %v", err)
	}
	if entry["level"] != "WARN" || entry["msg"] != "queue full" || entry["runner"] != "reply" {
		t.Errorf("entry = %v", entry)
	}
}

// TestZapLogger_WithLogBridge verifies runtime log lines flow through the
// bridge into zap with their category
func TestZapLogger_WithLogBridge(t *testing.T) {
	obsCore, logs := observer.New(zap.DebugLevel)
	bridge := core.NewLogBridge(NewZapLogger(zap.New(obsCore)), "CHIP")

	bridge.Func()(time.Unix(1_700_000_000, 0), "DMG", core.LogCategoryError, "commissioning failed")

	entries := logs.All()
	if len(entries) != 1 || entries[0].Level != zap.ErrorLevel {
		t.Fatalf("entries = %+v", entries)
	}
	if !strings.Contains(entries[0].Message, "commissioning failed") {
		t.Errorf("message = %q", entries[0].Message)
	}
}
