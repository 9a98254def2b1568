// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package dispatch runs the configured cargo task when a Rust document is
// saved in the active editor.
package dispatch

import (
	"context"
	"strings"

	"github.com/AleutianAI/ferrule/pkg/logging"
	"github.com/AleutianAI/ferrule/services/cargo"
	"github.com/AleutianAI/ferrule/services/host"
)

// Document is a saved or active editor document.
type Document = host.Document

const (
	// TargetLanguage is the language ID of documents that trigger tasks.
	TargetLanguage = "rust"

	// TargetSuffix is the file name suffix of documents that trigger tasks.
	TargetSuffix = ".rs"
)

// ActionSource supplies the on-save action. It is read on every event.
type ActionSource interface {
	ActionOnSave() string
}

// TaskRunner runs one cargo subcommand per method.
type TaskRunner interface {
	ExecuteBuildTask(reason cargo.InvocationReason)
	ExecuteCheckTask(reason cargo.InvocationReason)
	ExecuteClippyTask(reason cargo.InvocationReason)
	ExecuteDocTask(reason cargo.InvocationReason)
	ExecuteRunTask(reason cargo.InvocationReason)
	ExecuteTestTask(reason cargo.InvocationReason)
}

var _ TaskRunner = (*cargo.TaskRunner)(nil)

// Outcome describes what HandleSave did with one event.
type Outcome string

const (
	OutcomeDispatched    Outcome = "dispatched"
	OutcomeNotActive     Outcome = "not_active"
	OutcomeWrongLanguage Outcome = "wrong_language"
	OutcomeNoAction      Outcome = "no_action"
	OutcomeUnknownAction Outcome = "unknown_action"
)

// Dispatcher maps document saves onto task runner calls.
//
// Description:
//
//	Each save passes a filter chain: the saved document must be the
//	active one, it must be a Rust source file, and an action must be
//	configured. The action then selects exactly one runner method, which
//	is called with cargo.ActionOnSave. Nothing is retained between events.
//
// Thread Safety:
//
//	HandleSave is meant to run on the host event loop. It holds no state
//	of its own, so concurrent calls are safe if the collaborators are.
type Dispatcher struct {
	actions ActionSource
	runner  TaskRunner
	logger  *logging.Logger
}

// NewDispatcher creates a Dispatcher. Nil logger discards.
func NewDispatcher(actions ActionSource, runner TaskRunner, logger *logging.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Dispatcher{actions: actions, runner: runner, logger: logger}
}

// HandleSave handles one document-saved event.
//
// Inputs:
//
//	saved - The document that was saved
//	active - The active editor's document, or nil when there is none
//
// Outputs:
//
//	bool - True when exactly one task method was called
func (d *Dispatcher) HandleSave(saved Document, active *Document) bool {
	return d.handle(saved, active) == OutcomeDispatched
}

func (d *Dispatcher) handle(saved Document, active *Document) (outcome Outcome) {
	ctx, span := startDispatchSpan(context.Background(), saved.FileName)
	action := ""
	defer func() { endDispatchSpan(ctx, span, outcome, action) }()

	if active == nil || saved.ID != active.ID {
		return OutcomeNotActive
	}
	if saved.LanguageID != TargetLanguage || !strings.HasSuffix(saved.FileName, TargetSuffix) {
		return OutcomeWrongLanguage
	}
	action = d.actions.ActionOnSave()
	if action == "" {
		return OutcomeNoAction
	}

	switch action {
	case "build":
		d.runner.ExecuteBuildTask(cargo.ActionOnSave)
	case "check":
		d.runner.ExecuteCheckTask(cargo.ActionOnSave)
	case "clippy":
		d.runner.ExecuteClippyTask(cargo.ActionOnSave)
	case "doc":
		d.runner.ExecuteDocTask(cargo.ActionOnSave)
	case "run":
		d.runner.ExecuteRunTask(cargo.ActionOnSave)
	case "test":
		d.runner.ExecuteTestTask(cargo.ActionOnSave)
	default:
		d.logger.Debug("Ignoring unrecognised action_on_save", "action", action, "path", saved.FileName)
		return OutcomeUnknownAction
	}
	return OutcomeDispatched
}

// KnownAction reports whether action selects a task.
func KnownAction(action string) bool {
	_, err := cargo.ParseTaskKind(action)
	return err == nil
}
