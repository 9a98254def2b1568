// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cargo runs cargo subcommands for the workspace.
//
// Tasks are fire-and-forget from the caller's point of view. The runner
// owns their lifecycle: it serialises them, streams their output to the
// host bus, and logs and records failures.
package cargo

import (
	"fmt"
	"strings"
)

// TaskKind is one of the six cargo subcommands ferrule runs.
type TaskKind int

const (
	// TaskBuild runs `cargo build`.
	TaskBuild TaskKind = iota

	// TaskCheck runs `cargo check`.
	TaskCheck

	// TaskClippy runs `cargo clippy`.
	TaskClippy

	// TaskDoc runs `cargo doc`.
	TaskDoc

	// TaskRun runs `cargo run`.
	TaskRun

	// TaskTest runs `cargo test`.
	TaskTest
)

var taskNames = [...]string{"build", "check", "clippy", "doc", "run", "test"}

// String returns the subcommand name, e.g. "clippy".
func (k TaskKind) String() string {
	if k >= 0 && int(k) < len(taskNames) {
		return taskNames[k]
	}
	return fmt.Sprintf("TaskKind(%d)", int(k))
}

// Valid reports whether k is one of the six kinds.
func (k TaskKind) Valid() bool {
	return k >= 0 && int(k) < len(taskNames)
}

// AllTaskKinds returns every kind in declaration order.
func AllTaskKinds() []TaskKind {
	return []TaskKind{TaskBuild, TaskCheck, TaskClippy, TaskDoc, TaskRun, TaskTest}
}

// ParseTaskKind maps a subcommand name to its kind.
//
// Matching is exact: on-save actions are case-sensitive. Returns an error
// wrapping ErrUnknownTask otherwise.
func ParseTaskKind(name string) (TaskKind, error) {
	for i, n := range taskNames {
		if n == name {
			return TaskKind(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q (want one of %s)", ErrUnknownTask, name, strings.Join(taskNames[:], ", "))
}

// InvocationReason records why a task started. It is used only for logs,
// events and metrics.
type InvocationReason int

const (
	// CommandInvocation is an explicit user command.
	CommandInvocation InvocationReason = iota

	// ActionOnSave is the configured action after a document save.
	ActionOnSave
)

// String returns "command_invocation" or "action_on_save".
func (r InvocationReason) String() string {
	switch r {
	case CommandInvocation:
		return "command_invocation"
	case ActionOnSave:
		return "action_on_save"
	default:
		return "unknown"
	}
}
