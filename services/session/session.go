// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

/*
Package session owns the workspace's tooling backend.

Exactly one session exists per process, chosen once at activation by
ChooseModeAndRun:

  - ProtocolClientSession runs a language server (rls, rust-analyzer)
    over stdio when the protocol_client config section is present.
  - LegacySession checks the toolchain and leaves the work to direct
    cargo invocations otherwise.

The choice is never revisited, even when the configuration reloads.
*/
package session

import (
	"context"

	"github.com/AleutianAI/ferrule/services/workspace/config"
)

// Kind identifies the session variant.
type Kind int

const (
	// KindProtocolClient is the language-server session.
	KindProtocolClient Kind = iota

	// KindLegacy is the direct-toolchain session.
	KindLegacy
)

// String returns "protocol_client" or "legacy".
func (k Kind) String() string {
	switch k {
	case KindProtocolClient:
		return "protocol_client"
	case KindLegacy:
		return "legacy"
	default:
		return "unknown"
	}
}

// Session is the active tooling backend.
//
// Implemented by *ProtocolClientSession and *LegacySession only.
type Session interface {
	// Kind reports the variant.
	Kind() Kind

	// Start brings the session up. Failures are also logged by the
	// session itself.
	Start(ctx context.Context) error

	// Stop tears the session down. Safe to call more than once.
	Stop(ctx context.Context) error

	// State is a short human-readable state, e.g. "ready".
	State() string
}

// ConfigProvider is the part of config.Manager sessions read.
type ConfigProvider interface {
	ProtocolClientConfiguration() (*config.ProtocolClientConfig, bool)
	RustSourcePath() string
	Snapshot() config.Config
}

// DirResolver picks the working directory for a file.
type DirResolver interface {
	Resolve(file string) (string, error)
}

// Compile-time interface compliance checks.
var (
	_ Session = (*ProtocolClientSession)(nil)
	_ Session = (*LegacySession)(nil)
)
