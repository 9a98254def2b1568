// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package activation

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/AleutianAI/ferrule/pkg/logging"
	"github.com/AleutianAI/ferrule/services/host"
	"github.com/AleutianAI/ferrule/services/process"
	"github.com/AleutianAI/ferrule/services/session"
	"github.com/AleutianAI/ferrule/services/workspace/config"
	"github.com/AleutianAI/ferrule/services/workspace/cwd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	root   string
	deps   Deps
	proc   *process.MockManager
	editor *host.Editor
	rec    *logging.Recorder
}

func newFixture(t *testing.T, mutate func(*config.Config)) *fixture {
	t.Helper()
	root := t.TempDir()
	for _, f := range []string{"Cargo.toml", "src/main.rs"} {
		p := filepath.Join(root, f)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, nil, 0o644))
	}

	cfg := config.DefaultConfig()
	cfg.WorkspaceRoot = root
	cfg.RustSourcePath = "/ws/src"
	if mutate != nil {
		mutate(&cfg)
	}

	proc := &process.MockManager{
		RunFunc: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return []byte("cargo 1.79.0 (ffa9cf99a 2024-06-03)"), nil
		},
		StartFunc: func(ctx context.Context, spec process.Spec) (process.Handle, error) {
			return process.NewFakeHandle(), nil
		},
	}

	rec := logging.NewRecorder()
	logger := logging.New(logging.Config{Level: logging.LevelDebug, Quiet: true, Recorder: rec})
	dirs, err := cwd.NewResolver(root)
	require.NoError(t, err)
	editor := host.NewEditor(nil)

	return &fixture{
		root:   root,
		proc:   proc,
		editor: editor,
		rec:    rec,
		deps: Deps{
			Config:  config.NewManager(cfg, "", proc, logger),
			Dirs:    dirs,
			Editor:  editor,
			Bus:     host.NewBus(nil),
			Process: proc,
			Logger:  logger,
		},
	}
}

func (f *fixture) activate(t *testing.T) *Extension {
	t.Helper()
	ext, err := Activate(context.Background(), f.deps)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ext.Deactivate(context.Background()) })
	return ext
}

func (f *fixture) mainDoc() host.Document {
	return f.editor.DocumentFor(filepath.Join(f.root, "src", "main.rs"))
}

func TestActivate_MissingDependencies(t *testing.T) {
	_, err := Activate(context.Background(), Deps{})
	assert.ErrorIs(t, err, ErrMissingDependency)
}

func TestActivate_LegacyMode(t *testing.T) {
	f := newFixture(t, nil)

	ext := f.activate(t)

	_, ok := ext.Session().(*session.LegacySession)
	require.True(t, ok)
	assert.Equal(t, "legacy", ext.Status().Mode)
	assert.Equal(t, session.LegacyStateReady, ext.Status().SessionState)
	assert.Equal(t, f.root, ext.Status().Workspace)
	assert.Equal(t, 1, f.editor.Subscribers())

	activated := f.rec.Find("Workspace activated")
	require.Len(t, activated, 1)
	assert.Equal(t, "legacy", activated[0].Attrs["mode"])
}

func TestActivate_ProtocolClientModeDoesNotBlock(t *testing.T) {
	f := newFixture(t, func(c *config.Config) {
		c.ProtocolClient = &config.ProtocolClientConfig{Executable: "ferrule-test-no-such-language-server"}
	})

	ext := f.activate(t)

	pcs, ok := ext.Session().(*session.ProtocolClientSession)
	require.True(t, ok)
	assert.Equal(t, "protocol_client", ext.Status().Mode)

	select {
	case <-pcs.InitialStartDone():
	case <-time.After(5 * time.Second):
		t.Fatal("initial start did not finish")
	}
	failed := f.rec.Find("Failed to start language client")
	require.Len(t, failed, 1)
	assert.Equal(t, session.ProtocolClientLoggerName, failed[0].Attrs["logger"])

	// Legacy probes never ran.
	assert.Empty(t, f.proc.CallsTo("LookPath"))
}

func TestActivate_SaveDispatchesConfiguredTask(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.ActionOnSave = "check" })
	f.activate(t)
	doc := f.mainDoc()
	f.editor.SetActive(&doc)

	f.editor.Save(doc)

	require.Eventually(t, func() bool { return len(f.rec.Find("Starting task")) == 1 }, 5*time.Second, 5*time.Millisecond)
	starts := f.proc.CallsTo("Start")
	require.Len(t, starts, 1)
	assert.Equal(t, "cargo", starts[0].Name)
	assert.Equal(t, []string{"check"}, starts[0].Args)
	assert.Equal(t, f.root, starts[0].Dir)

	started := f.rec.Find("Starting task")
	assert.Equal(t, CargoLoggerName, started[0].Attrs["logger"])
	assert.Equal(t, "action_on_save", started[0].Attrs["reason"])
}

func TestActivate_SaveOfBackgroundDocumentIgnored(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.ActionOnSave = "check" })
	f.activate(t)
	active := f.mainDoc()
	f.editor.SetActive(&active)

	f.editor.Save(f.editor.DocumentFor(filepath.Join(f.root, "src", "other.rs")))

	assert.Never(t, func() bool { return len(f.proc.CallsTo("Start")) > 0 }, 100*time.Millisecond, 5*time.Millisecond)
}

func TestActivate_DispatcherLogsUnderOwnName(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.ActionOnSave = "bench" })
	f.activate(t)
	doc := f.mainDoc()
	f.editor.SetActive(&doc)

	f.editor.Save(doc)

	ignored := f.rec.Find("Ignoring unrecognised action_on_save")
	require.Len(t, ignored, 1)
	assert.Equal(t, DispatcherLoggerName, ignored[0].Attrs["logger"])
	assert.Equal(t, "bench", ignored[0].Attrs["action"])
	assert.Empty(t, f.proc.CallsTo("Start"))
}

func TestActivate_ActionChangeAppliesWithoutRestart(t *testing.T) {
	f := newFixture(t, nil)
	ext := f.activate(t)
	doc := f.mainDoc()
	f.editor.SetActive(&doc)

	f.editor.Save(doc)

	cfg := f.deps.Config.Snapshot()
	cfg.ActionOnSave = "test"
	f.deps.Config.Update(cfg)
	f.editor.Save(doc)

	require.Eventually(t, func() bool { return len(f.proc.CallsTo("Start")) == 1 }, 5*time.Second, 5*time.Millisecond)
	starts := f.proc.CallsTo("Start")
	assert.Equal(t, []string{"test"}, starts[0].Args)
	assert.Equal(t, "test", ext.Status().ActionOnSave)
}

func TestActivate_ModeFixedAfterConfigChange(t *testing.T) {
	f := newFixture(t, nil)
	ext := f.activate(t)

	cfg := f.deps.Config.Snapshot()
	cfg.ProtocolClient = &config.ProtocolClientConfig{Executable: "rls"}
	f.deps.Config.Update(cfg)

	_, ok := ext.Session().(*session.LegacySession)
	assert.True(t, ok)
	assert.Equal(t, "legacy", ext.Status().Mode)
}

func TestDeactivate(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.ActionOnSave = "build" })
	ext, err := Activate(context.Background(), f.deps)
	require.NoError(t, err)

	require.NoError(t, ext.Deactivate(context.Background()))
	require.NoError(t, ext.Deactivate(context.Background()))

	assert.Zero(t, f.editor.Subscribers())
	assert.Equal(t, session.LegacyStateStopped, ext.Session().State())
	assert.Len(t, f.rec.Find("Workspace deactivated"), 1)

	doc := f.mainDoc()
	f.editor.SetActive(&doc)
	f.editor.Save(doc)
	assert.Never(t, func() bool { return len(f.proc.CallsTo("Start")) > 0 }, 100*time.Millisecond, 5*time.Millisecond)
}
