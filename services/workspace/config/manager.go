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
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/ferrule/pkg/logging"
	"github.com/AleutianAI/ferrule/services/process"
	"github.com/fsnotify/fsnotify"
)

// sysrootTimeout bounds the `rustc --print sysroot` probe.
const sysrootTimeout = 5 * time.Second

// Manager serves the current configuration snapshot.
//
// # Thread Safety
//
// Safe for concurrent use. Readers always see a complete snapshot.
type Manager struct {
	mu       sync.RWMutex
	cfg      Config
	path     string
	onChange []func(Config)

	proc   process.Manager
	logger *logging.Logger
}

// NewManager wraps a loaded config.
//
// Inputs:
//
//	cfg - The loaded configuration
//	path - The file it came from (used by Watch). May be empty.
//	proc - Used for the rustc sysroot probe. Nil uses the real one.
//	logger - Nil discards.
func NewManager(cfg Config, path string, proc process.Manager, logger *logging.Logger) *Manager {
	if proc == nil {
		proc = process.NewDefaultManager()
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Manager{cfg: cfg, path: path, proc: proc, logger: logger}
}

// Snapshot returns the current configuration.
//
// The ProtocolClient section is deep-copied; callers may modify it.
func (m *Manager) Snapshot() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := m.cfg
	out.ProtocolClient = m.cfg.ProtocolClient.Clone()
	return out
}

// Path returns the config file path.
func (m *Manager) Path() string {
	return m.path
}

// ProtocolClientConfiguration returns the protocol-client section and
// whether it is present. Absence selects legacy mode.
func (m *Manager) ProtocolClientConfiguration() (*ProtocolClientConfig, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.cfg.ProtocolClient == nil {
		return nil, false
	}
	return m.cfg.ProtocolClient.Clone(), true
}

// ActionOnSave returns the configured on-save action, or "".
//
// Read on every save event so edits apply without restarting.
func (m *Manager) ActionOnSave() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg.ActionOnSave
}

// WorkspaceRoot returns the configured workspace root.
func (m *Manager) WorkspaceRoot() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg.WorkspaceRoot
}

// RustSourcePath locates the Rust standard library sources.
//
// Resolution order:
//
//  1. rust_source_path from the config
//  2. RUST_SRC_PATH from the process environment
//  3. <sysroot>/lib/rustlib/src/rust/library, then .../src, where sysroot
//     comes from `rustc --print sysroot`
//  4. "" when nothing is found
func (m *Manager) RustSourcePath() string {
	m.mu.RLock()
	configured := m.cfg.RustSourcePath
	m.mu.RUnlock()

	if configured != "" {
		return configured
	}
	if env := os.Getenv("RUST_SRC_PATH"); env != "" {
		return env
	}

	ctx, cancel := context.WithTimeout(context.Background(), sysrootTimeout)
	defer cancel()

	out, err := m.proc.Run(ctx, "rustc", "--print", "sysroot")
	if err != nil {
		m.logger.Debug("rustc sysroot probe failed", "error", err)
		return ""
	}
	sysroot := strings.TrimSpace(string(out))
	if sysroot == "" {
		return ""
	}

	base := filepath.Join(sysroot, "lib", "rustlib", "src", "rust")
	for _, dir := range []string{"library", "src"} {
		candidate := filepath.Join(base, dir)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate
		}
	}
	m.logger.Debug("rust-src component not installed", "sysroot", sysroot)
	return ""
}

// OnChange registers fn to be called with each new snapshot.
func (m *Manager) OnChange(fn func(Config)) {
	m.mu.Lock()
	m.onChange = append(m.onChange, fn)
	m.mu.Unlock()
}

// Update swaps in a new snapshot and notifies subscribers.
//
// A change to the protocol_client section is logged but has no effect on
// the running session; the mode is fixed for the life of the process.
func (m *Manager) Update(cfg Config) {
	m.mu.Lock()
	prev := m.cfg
	m.cfg = cfg
	subs := append([]func(Config){}, m.onChange...)
	m.mu.Unlock()

	if !reflect.DeepEqual(prev.ProtocolClient, cfg.ProtocolClient) {
		m.logger.Warn("protocol_client changed; restart ferrule to apply")
	}
	if prev.ActionOnSave != cfg.ActionOnSave {
		m.logger.Info("action_on_save changed", "from", prev.ActionOnSave, "to", cfg.ActionOnSave)
	}

	for _, fn := range subs {
		fn(cfg)
	}
}

// Watch reloads the config file whenever it changes.
//
// Invalid files are logged and ignored; the previous snapshot stays in
// effect. Returns immediately. viper's watcher runs until process exit.
func (m *Manager) Watch() {
	if m.path == "" {
		return
	}
	if _, err := os.Stat(m.path); err != nil {
		m.logger.Debug("config file absent, not watching", "path", m.path)
		return
	}

	v := newViper(m.path, DefaultConfig())
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := Load(m.path)
		if err != nil {
			m.logger.Warn("config reload failed", "path", m.path, "error", err)
			return
		}
		if cfg.WorkspaceRoot == "" {
			cfg.WorkspaceRoot = m.WorkspaceRoot()
		}
		m.Update(cfg)
	})
	v.WatchConfig()
	m.logger.Debug("watching config file", "path", m.path)
}
