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

	"github.com/AleutianAI/ferrule/pkg/logging"
	"github.com/AleutianAI/ferrule/services/host"
	"github.com/AleutianAI/ferrule/services/process"
)

// Child logger names for the two session variants.
const (
	ProtocolClientLoggerName = "Language Client Manager"
	LegacyLoggerName         = "Legacy Mode Manager"
)

// SelectorDeps are the inputs to ChooseModeAndRun.
type SelectorDeps struct {
	// Config is read once for the protocol_client section.
	Config ConfigProvider

	// Dirs resolves the legacy session's working directory.
	Dirs DirResolver

	// Process runs toolchain probes. Nil uses the real one.
	Process process.Manager

	// Bus receives session events. May be nil.
	Bus *host.Bus

	// Logger is the root logger; the session gets a named child.
	Logger *logging.Logger

	// RootPath is the workspace root given to the language server.
	RootPath string

	// ClientVersion is reported to the language server.
	ClientVersion string

	// newServer overrides the language server constructor in tests.
	newServer serverFactory
}

// ChooseModeAndRun creates and starts exactly one session.
//
// Description:
//
//	When the protocol_client section is present, a ProtocolClientSession
//	is built with RUST_SRC_PATH defaulted in its environment and started
//	on a detached goroutine; this call does not wait for it. Otherwise a
//	LegacySession is built and started synchronously. In both cases start
//	failures are logged by the session and not returned.
//
// Outputs:
//
//	Session - The active session; never nil
func ChooseModeAndRun(ctx context.Context, deps SelectorDeps) Session {
	if deps.Logger == nil {
		deps.Logger = logging.Nop()
	}

	if pc, ok := deps.Config.ProtocolClientConfiguration(); ok {
		env := ResolveEnvironment(pc.Env, deps.Config.RustSourcePath())
		s := NewProtocolClientSession(ProtocolClientOptions{
			Executable:     pc.Executable,
			Args:           pc.Args,
			Env:            env,
			RevealOutputOn: pc.RevealOutputOn,
			RootPath:       deps.RootPath,
			ClientVersion:  deps.ClientVersion,
		}, deps.Bus, deps.Logger.Child(ProtocolClientLoggerName))
		if deps.newServer != nil {
			s.newServer = deps.newServer
		}
		s.InitialStart(ctx)
		return s
	}

	s := NewLegacySession(deps.Config, deps.Dirs, deps.Process, deps.Bus, deps.Logger.Child(LegacyLoggerName))
	// The session logs its own failure.
	_ = s.Start(ctx)
	return s
}
