// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/AleutianAI/ferrule/services/process"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(strings.TrimLeft(body, "\n")), 0o600))
	return path
}

// =============================================================================
// Load
// =============================================================================

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Nil(t, cfg.ProtocolClient, "default must select legacy mode")
	assert.Equal(t, "", cfg.ActionOnSave)
	assert.Equal(t, "cargo", cfg.Cargo.Binary)
	assert.Equal(t, DefaultBridgeAddr, cfg.Bridge.Addr)
	assert.Equal(t, "none", cfg.Telemetry.TraceExporter)
}

func TestLoad_ProtocolClient(t *testing.T) {
	path := writeConfig(t, `
config_version: 1
action_on_save: check
protocol_client:
  executable: rust-analyzer
  args: ["--log-file", "/tmp/ra.log"]
  env:
    RUST_SRC_PATH: /custom/src
    RA_LOG: info
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	require.NotNil(t, cfg.ProtocolClient)
	assert.Equal(t, "rust-analyzer", cfg.ProtocolClient.Executable)
	assert.Equal(t, []string{"--log-file", "/tmp/ra.log"}, cfg.ProtocolClient.Args)
	assert.Equal(t, map[string]string{"RUST_SRC_PATH": "/custom/src", "RA_LOG": "info"}, cfg.ProtocolClient.Env,
		"env keys must keep their case")
	assert.Equal(t, "info", cfg.ProtocolClient.RevealOutputOn)
	assert.Equal(t, "check", cfg.ActionOnSave)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr error
		wantMsg string
	}{
		{
			name:    "missing config_version",
			body:    "action_on_save: build\n",
			wantErr: ErrUnsupportedVersion,
			wantMsg: "config_version is required",
		},
		{
			name:    "unsupported config_version",
			body:    "config_version: 7\n",
			wantErr: ErrUnsupportedVersion,
			wantMsg: "config_version 7",
		},
		{
			name: "protocol client without executable",
			body: `
config_version: 1
protocol_client:
  args: ["x"]
`,
			wantErr: ErrInvalidConfig,
			wantMsg: "protocol_client.executable: required",
		},
		{
			name: "bad reveal level",
			body: `
config_version: 1
protocol_client:
  executable: rls
  reveal_output_on: loud
`,
			wantErr: ErrInvalidConfig,
			wantMsg: "protocol_client.reveal_output_on",
		},
		{
			name: "extra args for unknown task",
			body: `
config_version: 1
cargo:
  extra_args:
    bench: ["--all"]
`,
			wantErr: ErrInvalidConfig,
			wantMsg: "extra_args",
		},
		{
			name: "bad trace exporter",
			body: `
config_version: 1
telemetry:
  trace_exporter: jaeger
`,
			wantErr: ErrInvalidConfig,
			wantMsg: "telemetry.trace_exporter",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestLoad_UnknownActionIsNotAnError(t *testing.T) {
	cfg, err := Load(writeConfig(t, "config_version: 1\naction_on_save: deploy\n"))
	require.NoError(t, err)
	assert.Equal(t, "deploy", cfg.ActionOnSave)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("FERRULE_ACTION_ON_SAVE", "clippy")
	t.Setenv("FERRULE_LOGGING_LEVEL", "debug")

	cfg, err := Load(writeConfig(t, "config_version: 1\naction_on_save: build\n"))
	require.NoError(t, err)
	assert.Equal(t, "clippy", cfg.ActionOnSave)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_ExpandsPaths(t *testing.T) {
	t.Setenv("FERRULE_TEST_ROOT", "/srv/ws")
	cfg, err := Load(writeConfig(t, "config_version: 1\nworkspace_root: $FERRULE_TEST_ROOT/crate\n"))
	require.NoError(t, err)
	assert.Equal(t, "/srv/ws/crate", cfg.WorkspaceRoot)
}

func TestResolvePath(t *testing.T) {
	ws := t.TempDir()

	got, err := ResolvePath("/explicit.yaml", ws)
	require.NoError(t, err)
	assert.Equal(t, "/explicit.yaml", got)

	got, err = ResolvePath("", ws)
	require.NoError(t, err)
	assert.NotEqual(t, filepath.Join(ws, WorkspaceConfigName), got, "absent workspace file is skipped")

	require.NoError(t, os.WriteFile(filepath.Join(ws, WorkspaceConfigName), []byte("config_version: 1\n"), 0o600))
	got, err = ResolvePath("", ws)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(ws, WorkspaceConfigName), got)
}

// =============================================================================
// WriteDefault
// =============================================================================

func TestWriteDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	written, err := WriteDefault(path, false)
	require.NoError(t, err)
	assert.Equal(t, path, written)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	_, err = WriteDefault(path, false)
	assert.ErrorIs(t, err, ErrConfigExists)

	_, err = WriteDefault(path, true)
	assert.NoError(t, err)
}

func TestMarshal_OmitsAbsentProtocolClient(t *testing.T) {
	data, err := Marshal(DefaultConfig())
	require.NoError(t, err)
	assert.NotContains(t, string(data), "protocol_client")
	assert.Contains(t, string(data), "config_version: 1")
}

// =============================================================================
// Manager
// =============================================================================

func TestManager_ProtocolClientConfiguration(t *testing.T) {
	cfg := DefaultConfig()
	m := NewManager(cfg, "", &process.MockManager{}, nil)

	_, ok := m.ProtocolClientConfiguration()
	assert.False(t, ok)

	cfg.ProtocolClient = &ProtocolClientConfig{Executable: "rls", Env: map[string]string{"A": "1"}}
	m = NewManager(cfg, "", &process.MockManager{}, nil)

	pc, ok := m.ProtocolClientConfiguration()
	require.True(t, ok)
	pc.Env["A"] = "changed"

	again, _ := m.ProtocolClientConfiguration()
	assert.Equal(t, "1", again.Env["A"], "returned config must be a copy")
}

func TestManager_UpdateAndOnChange(t *testing.T) {
	m := NewManager(DefaultConfig(), "", &process.MockManager{}, nil)

	var seen []string
	m.OnChange(func(c Config) { seen = append(seen, c.ActionOnSave) })

	next := DefaultConfig()
	next.ActionOnSave = "test"
	m.Update(next)

	assert.Equal(t, "test", m.ActionOnSave())
	assert.Equal(t, []string{"test"}, seen)
}

func TestManager_RustSourcePath(t *testing.T) {
	sysroot := t.TempDir()
	library := filepath.Join(sysroot, "lib", "rustlib", "src", "rust", "library")
	legacySrc := filepath.Join(sysroot, "lib", "rustlib", "src", "rust", "src")

	sysrootProbe := func(out string, err error) *process.MockManager {
		return &process.MockManager{
			RunFunc: func(ctx context.Context, name string, args ...string) ([]byte, error) {
				if name != "rustc" || strings.Join(args, " ") != "--print sysroot" {
					return nil, errors.New("unexpected command")
				}
				return []byte(out), err
			},
		}
	}

	t.Run("configured value wins", func(t *testing.T) {
		t.Setenv("RUST_SRC_PATH", "/from/env")
		cfg := DefaultConfig()
		cfg.RustSourcePath = "/from/config"
		m := NewManager(cfg, "", sysrootProbe("", errors.New("not called")), nil)
		assert.Equal(t, "/from/config", m.RustSourcePath())
	})

	t.Run("process environment next", func(t *testing.T) {
		t.Setenv("RUST_SRC_PATH", "/from/env")
		m := NewManager(DefaultConfig(), "", sysrootProbe("", errors.New("not called")), nil)
		assert.Equal(t, "/from/env", m.RustSourcePath())
	})

	t.Run("sysroot src fallback", func(t *testing.T) {
		t.Setenv("RUST_SRC_PATH", "")
		require.NoError(t, os.MkdirAll(legacySrc, 0o755))
		m := NewManager(DefaultConfig(), "", sysrootProbe(sysroot+"\n", nil), nil)
		assert.Equal(t, legacySrc, m.RustSourcePath())
	})

	t.Run("sysroot library preferred", func(t *testing.T) {
		t.Setenv("RUST_SRC_PATH", "")
		require.NoError(t, os.MkdirAll(library, 0o755))
		m := NewManager(DefaultConfig(), "", sysrootProbe(sysroot+"\n", nil), nil)
		assert.Equal(t, library, m.RustSourcePath())
	})

	t.Run("empty when rustc missing", func(t *testing.T) {
		t.Setenv("RUST_SRC_PATH", "")
		m := NewManager(DefaultConfig(), "", sysrootProbe("", process.ErrNotFound), nil)
		assert.Equal(t, "", m.RustSourcePath())
	})

	t.Run("empty when rust-src not installed", func(t *testing.T) {
		t.Setenv("RUST_SRC_PATH", "")
		m := NewManager(DefaultConfig(), "", sysrootProbe(t.TempDir(), nil), nil)
		assert.Equal(t, "", m.RustSourcePath())
	})
}
