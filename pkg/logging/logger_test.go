// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import (
	"bytes"
	"log/slog"
	"os"
	"strings"
	"testing"
)

// =============================================================================
// Level Tests
// =============================================================================

func TestLevel_String(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(99), "UNKNOWN"},
		{Level(-1), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.level.String(); got != tt.want {
				t.Errorf("Level.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLevel_toSlogLevel(t *testing.T) {
	tests := []struct {
		level Level
		want  slog.Level
	}{
		{LevelDebug, slog.LevelDebug},
		{LevelInfo, slog.LevelInfo},
		{LevelWarn, slog.LevelWarn},
		{LevelError, slog.LevelError},
		{Level(99), slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.level.String(), func(t *testing.T) {
			if got := tt.level.toSlogLevel(); got != tt.want {
				t.Errorf("Level.toSlogLevel() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"", LevelInfo, false},
		{"warning", LevelWarn, false},
		{" error ", LevelError, false},
		{"verbose", LevelInfo, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

// =============================================================================
// Logger Tests
// =============================================================================

func TestNew_TextOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Output: &buf, Service: "ferrule"})
	defer logger.Close()

	logger.Info("session started", "mode", "legacy")

	out := buf.String()
	if !strings.Contains(out, "session started") {
		t.Errorf("missing message in %q", out)
	}
	if !strings.Contains(out, "service=ferrule") {
		t.Errorf("missing service attribute in %q", out)
	}
	if !strings.Contains(out, "mode=legacy") {
		t.Errorf("missing mode attribute in %q", out)
	}
}

func TestNew_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Output: &buf, JSON: true})
	defer logger.Close()

	logger.Warn("tool missing", "tool", "racer")

	if !strings.Contains(buf.String(), `"tool":"racer"`) {
		t.Errorf("expected JSON attribute, got %q", buf.String())
	}
}

func TestNew_QuietDiscards(t *testing.T) {
	logger := New(Config{Quiet: true})
	defer logger.Close()

	// Must not panic with no handlers.
	logger.Error("dropped")
}

func TestNew_WithLogDir(t *testing.T) {
	tmpDir := t.TempDir()
	logger := New(Config{LogDir: tmpDir, Quiet: true})

	logger.Info("to file")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	files, err := os.ReadDir(tmpDir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(files) != 1 || !strings.HasPrefix(files[0].Name(), "ferrule_") {
		t.Fatalf("expected one ferrule_ log file, got %v", files)
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	rec := NewRecorder()
	logger := New(Config{Level: LevelWarn, Quiet: true, Recorder: rec})

	logger.Debug("debug")
	logger.Info("info")
	logger.Warn("warn")
	logger.Error("error")

	entries := rec.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries (warn+error), got %d", len(entries))
	}
	if entries[0].Level != LevelWarn || entries[1].Level != LevelError {
		t.Errorf("unexpected levels: %v, %v", entries[0].Level, entries[1].Level)
	}
}

func TestLogger_Child(t *testing.T) {
	rec := NewRecorder()
	root := New(Config{Level: LevelDebug, Quiet: true, Recorder: rec, Service: "ferrule"})

	root.Child("Cargo Manager: ").Info("task started", "task", "check")
	root.Child("Legacy Mode Manager").Debug("checking tools")

	entries := rec.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if got := entries[0].Attrs["logger"]; got != "Cargo Manager" {
		t.Errorf("logger attr = %v, want Cargo Manager", got)
	}
	if got := entries[0].Attrs["task"]; got != "check" {
		t.Errorf("task attr = %v, want check", got)
	}
	if got := entries[0].Attrs["service"]; got != "ferrule" {
		t.Errorf("service attr = %v, want ferrule", got)
	}
	if got := entries[1].Attrs["logger"]; got != "Legacy Mode Manager" {
		t.Errorf("logger attr = %v, want Legacy Mode Manager", got)
	}
}

func TestLogger_WithDoesNotModifyParent(t *testing.T) {
	rec := NewRecorder()
	root := New(Config{Quiet: true, Recorder: rec})

	_ = root.With("run_id", "abc")
	root.Info("plain")

	entries := rec.Find("plain")
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if _, ok := entries[0].Attrs["run_id"]; ok {
		t.Error("parent logger picked up child attribute")
	}
}

func TestRecorder_Groups(t *testing.T) {
	rec := NewRecorder()
	logger := New(Config{Quiet: true, Recorder: rec})

	logger.Slog().WithGroup("lsp").Info("notification", "method", "window/logMessage")

	entries := rec.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if got := entries[0].Attrs["lsp.method"]; got != "window/logMessage" {
		t.Errorf("grouped attr = %v", got)
	}

	rec.Reset()
	if len(rec.Entries()) != 0 {
		t.Error("Reset did not clear entries")
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := expandPath("~/logs"); !strings.HasPrefix(got, home) {
		t.Errorf("expandPath(~/logs) = %q, want prefix %q", got, home)
	}
	if got := expandPath("/var/log"); got != "/var/log" {
		t.Errorf("expandPath(/var/log) = %q", got)
	}
}
