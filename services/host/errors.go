// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package host

import "errors"

// Sentinel errors for host operations.
var (
	// ErrLoopStopped indicates the event loop is no longer accepting work.
	ErrLoopStopped = errors.New("event loop stopped")

	// ErrLoopRunning indicates Run was called on a loop that already runs.
	ErrLoopRunning = errors.New("event loop already running")

	// ErrUnknownCommand indicates a command name no runner handles.
	ErrUnknownCommand = errors.New("unknown command")

	// ErrNoCommandRunner indicates the bridge has no runner for commands.
	ErrNoCommandRunner = errors.New("no command runner configured")
)
