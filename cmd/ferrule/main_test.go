// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/AleutianAI/ferrule/services/process"
	"github.com/AleutianAI/ferrule/services/workspace/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// HELPERS
// =============================================================================

// stubProcess replaces newProcessManager for the duration of the test.
func stubProcess(t *testing.T, mock *process.MockManager) {
	t.Helper()
	prev := newProcessManager
	newProcessManager = func() process.Manager { return mock }
	t.Cleanup(func() { newProcessManager = prev })
}

func cargoOnPath(version string) *process.MockManager {
	return &process.MockManager{
		RunFunc: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return []byte("cargo " + version + " (a1b2c3d 2024-06-10)\n"), nil
		},
	}
}

// newWorkspace creates a workspace with a Cargo.toml and the given
// .ferrule.yaml body. An empty body writes no config file.
func newWorkspace(t *testing.T, configBody string) (root, configPath string) {
	t.Helper()
	root = t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "Cargo.toml"), []byte("[package]\nname = \"demo\"\n"), 0o644))
	configPath = filepath.Join(root, config.WorkspaceConfigName)
	if configBody != "" {
		require.NoError(t, os.WriteFile(configPath, []byte(configBody), 0o644))
	}
	return root, configPath
}

func execute(t *testing.T, ctx context.Context, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd(&stdout, &stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return stdout.String(), stderr.String(), err
}

// =============================================================================
// VERSION / CONFIG
// =============================================================================

func TestVersionCommand(t *testing.T) {
	out, _, err := execute(t, context.Background(), "version")
	require.NoError(t, err)
	assert.Contains(t, out, "ferrule "+version)
}

func TestConfigInit_WritesDefaultAndRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	out, _, err := execute(t, context.Background(), "config", "init", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote "+path)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Nil(t, cfg.ProtocolClient)

	_, _, err = execute(t, context.Background(), "config", "init", "--config", path)
	assert.ErrorIs(t, err, config.ErrConfigExists)

	_, _, err = execute(t, context.Background(), "config", "init", "--config", path, "--force")
	assert.NoError(t, err)
}

func TestConfigInit_InWorkspace(t *testing.T) {
	root := t.TempDir()

	out, _, err := execute(t, context.Background(), "config", "init", "--in-workspace", "--workspace", root)
	require.NoError(t, err)

	want := filepath.Join(root, config.WorkspaceConfigName)
	assert.Contains(t, out, want)
	assert.FileExists(t, want)
}

func TestConfigShow_PrintsEffectiveConfig(t *testing.T) {
	root, path := newWorkspace(t, "config_version: 1\naction_on_save: clippy\n")

	out, _, err := execute(t, context.Background(), "config", "show", "--workspace", root)
	require.NoError(t, err)

	assert.Contains(t, out, "# "+path)
	assert.Contains(t, out, "action_on_save: clippy")
	assert.Contains(t, out, "workspace_root: "+root)
}

func TestConfigShow_LogLevelFlagOverrides(t *testing.T) {
	root, _ := newWorkspace(t, "config_version: 1\n")

	out, _, err := execute(t, context.Background(), "config", "show", "--workspace", root, "--log-level", "debug")
	require.NoError(t, err)
	assert.Contains(t, out, "level: debug")
}

// =============================================================================
// DOCTOR
// =============================================================================

func TestDoctor_LegacyReady(t *testing.T) {
	stubProcess(t, cargoOnPath("1.79.0"))
	root, _ := newWorkspace(t, "config_version: 1\naction_on_save: check\n")

	out, _, err := execute(t, context.Background(), "doctor", "--workspace", root)
	require.NoError(t, err)

	assert.Contains(t, out, "legacy")
	assert.Contains(t, out, "racer")
	assert.Contains(t, out, "rustfmt")
	assert.Contains(t, out, "rustsym")
	assert.Contains(t, out, "cargo v1.79.0")
	assert.Contains(t, out, "Ready: ferrule serve")
}

func TestDoctor_MissingToolIsWarningOnly(t *testing.T) {
	mock := cargoOnPath("1.79.0")
	mock.LookPathFunc = func(name string) (string, error) {
		if name == "racer" {
			return "", errors.New("not found")
		}
		return "/usr/bin/" + name, nil
	}
	stubProcess(t, mock)
	root, _ := newWorkspace(t, "config_version: 1\n")

	out, _, err := execute(t, context.Background(), "doctor", "--workspace", root)
	require.NoError(t, err)

	assert.Contains(t, out, "cargo install racer")
	assert.Contains(t, out, "not set; saves run nothing")
}

func TestDoctor_UnknownActionFails(t *testing.T) {
	stubProcess(t, cargoOnPath("1.79.0"))
	root, _ := newWorkspace(t, "config_version: 1\naction_on_save: bench\n")

	out, _, err := execute(t, context.Background(), "doctor", "--workspace", root)
	assert.ErrorIs(t, err, errReported)

	assert.Contains(t, out, `"bench" is not a task`)
	assert.Contains(t, out, "build, check, clippy, doc, run, test")
	assert.Contains(t, out, "Problems found")
}

func TestDoctor_CargoMissingFails(t *testing.T) {
	stubProcess(t, &process.MockManager{
		RunFunc: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return nil, errors.New("exec: \"cargo\": executable file not found in $PATH")
		},
	})
	root, _ := newWorkspace(t, "config_version: 1\n")

	_, _, err := execute(t, context.Background(), "doctor", "--workspace", root)
	assert.ErrorIs(t, err, errReported)
}

func TestDoctor_ProtocolMode(t *testing.T) {
	mock := &process.MockManager{
		LookPathFunc: func(name string) (string, error) {
			return "", errors.New("not found")
		},
	}
	stubProcess(t, mock)
	root, _ := newWorkspace(t, `config_version: 1
rust_source_path: /opt/rust/src
protocol_client:
  executable: rust-analyzer
`)

	out, _, err := execute(t, context.Background(), "doctor", "--workspace", root)
	assert.ErrorIs(t, err, errReported)

	assert.Contains(t, out, "protocol_client")
	assert.Contains(t, out, "rust-analyzer")
	assert.Contains(t, out, "RUST_SRC_PATH")
	assert.Contains(t, out, "/opt/rust/src")
	// Legacy tools are not probed in protocol mode.
	assert.Empty(t, mock.CallsTo("Run"))
}

// =============================================================================
// SERVE
// =============================================================================

func TestServe_StopsOnCancel(t *testing.T) {
	stubProcess(t, cargoOnPath("1.79.0"))
	root, _ := newWorkspace(t, "config_version: 1\naction_on_save: check\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, stderr, err := execute(t, ctx, "serve", "--workspace", root, "--no-bridge", "--no-watch")
	require.NoError(t, err)

	assert.Contains(t, stderr, "Workspace activated")
	assert.Contains(t, stderr, "ferrule serving")
	assert.Contains(t, stderr, "Workspace deactivated")
}

func TestServe_InvalidConfig(t *testing.T) {
	stubProcess(t, cargoOnPath("1.79.0"))
	root, _ := newWorkspace(t, "action_on_save: check\n")

	_, _, err := execute(t, context.Background(), "serve", "--workspace", root, "--no-bridge", "--no-watch")
	assert.ErrorIs(t, err, config.ErrUnsupportedVersion)
}
