// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/AleutianAI/ferrule/pkg/logging"
	"github.com/AleutianAI/ferrule/services/host"
	"github.com/AleutianAI/ferrule/services/process"
)

// Legacy session states.
const (
	LegacyStateIdle     = "idle"
	LegacyStateReady    = "ready"
	LegacyStateDegraded = "degraded"
	LegacyStateFailed   = "failed"
	LegacyStateStopped  = "stopped"
)

// LegacySession runs the workspace without a language server.
//
// Start resolves the working directory and checks the toolchain. Missing
// tools and an old cargo are warnings; the session still starts. Cargo
// tasks are driven by the task runner, not the session.
//
// Thread Safety:
//
//	Safe for concurrent use.
type LegacySession struct {
	config ConfigProvider
	dirs   DirResolver
	proc   process.Manager
	bus    *host.Bus
	logger *logging.Logger

	mu     sync.Mutex
	state  string
	dir    string
	report ToolchainReport
}

// NewLegacySession creates a session. Nothing is started.
//
// logger is the "Legacy Mode Manager" logger; nil discards. Nil proc uses
// the real process manager.
func NewLegacySession(cfg ConfigProvider, dirs DirResolver, proc process.Manager, bus *host.Bus, logger *logging.Logger) *LegacySession {
	if proc == nil {
		proc = process.NewDefaultManager()
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &LegacySession{
		config: cfg,
		dirs:   dirs,
		proc:   proc,
		bus:    bus,
		logger: logger,
		state:  LegacyStateIdle,
	}
}

// Kind returns KindLegacy.
func (s *LegacySession) Kind() Kind {
	return KindLegacy
}

// Start checks the workspace and toolchain.
//
// Returns an error only when the working directory cannot be resolved;
// that error is also logged here.
func (s *LegacySession) Start(ctx context.Context) (err error) {
	ctx, span := startSessionSpan(ctx, KindLegacy)
	defer func() { endSessionSpan(ctx, span, KindLegacy, err) }()

	dir, err := s.dirs.Resolve("")
	if err != nil {
		s.setState(LegacyStateFailed)
		s.logger.Error("Failed to start legacy mode", "error", err)
		s.publish(LegacyStateFailed, err)
		return fmt.Errorf("resolve working directory: %w", err)
	}

	report := ProbeToolchain(ctx, s.proc, s.config.Snapshot())

	for _, tool := range report.Missing() {
		s.logger.Warn("Tool not found; legacy features that need it are unavailable",
			"tool", tool.Name, "install", tool.Hint)
	}
	switch {
	case report.CargoError != nil:
		s.logger.Warn("Could not determine cargo version", "error", report.CargoError)
	case report.CargoVersion == "":
		s.logger.Warn("Unrecognised cargo version output")
	case report.CargoTooOld():
		s.logger.Warn("cargo is older than the supported minimum",
			"version", report.CargoVersion,
			"minimum", report.MinimumCargoVersion)
	}

	state := LegacyStateReady
	if len(report.Missing()) > 0 || report.CargoError != nil || report.CargoTooOld() {
		state = LegacyStateDegraded
	}

	s.mu.Lock()
	s.dir = dir
	s.report = report
	s.state = state
	s.mu.Unlock()

	s.logger.Info("Legacy mode started", "dir", dir, "state", state, "cargo", report.CargoVersion)
	s.publish(state, nil)
	return nil
}

// Stop marks the session stopped. Safe to call more than once.
func (s *LegacySession) Stop(context.Context) error {
	s.mu.Lock()
	already := s.state == LegacyStateStopped
	s.state = LegacyStateStopped
	s.mu.Unlock()
	if !already {
		s.publish(LegacyStateStopped, nil)
	}
	return nil
}

// State returns the session state.
func (s *LegacySession) State() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Report returns the toolchain report from the last Start.
func (s *LegacySession) Report() ToolchainReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.report
}

// Dir returns the working directory resolved at Start.
func (s *LegacySession) Dir() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dir
}

func (s *LegacySession) setState(state string) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *LegacySession) publish(state string, err error) {
	ev := host.Event{Type: host.EventSession, Mode: KindLegacy.String(), State: state}
	if err != nil {
		ev.Error = err.Error()
	}
	s.bus.Publish(ev)
}
