// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package activation wires ferrule together for one workspace.
//
// Activate builds the task runner, picks and starts the session, and
// subscribes the save dispatcher. Everything it creates is registered in
// a disposal registry that Deactivate tears down in reverse order.
package activation

import (
	"context"
	"errors"
	"sync"

	"github.com/AleutianAI/ferrule/pkg/logging"
	"github.com/AleutianAI/ferrule/services/cargo"
	"github.com/AleutianAI/ferrule/services/dispatch"
	"github.com/AleutianAI/ferrule/services/host"
	"github.com/AleutianAI/ferrule/services/process"
	"github.com/AleutianAI/ferrule/services/session"
	"github.com/AleutianAI/ferrule/services/workspace/config"
	"github.com/AleutianAI/ferrule/services/workspace/cwd"
)

// CargoLoggerName names the task runner's child logger.
const CargoLoggerName = "Cargo Manager"

// DispatcherLoggerName names the save dispatcher's child logger.
const DispatcherLoggerName = "Save Dispatcher"

// ErrMissingDependency indicates a required Deps field is nil.
var ErrMissingDependency = errors.New("activation: missing dependency")

// Deps are the collaborators Activate wires together.
type Deps struct {
	// Config is the live configuration. Required.
	Config *config.Manager

	// Dirs resolves task working directories. Required.
	Dirs *cwd.Resolver

	// Editor delivers save events and the active document. Required.
	Editor *host.Editor

	// Bus receives task and session events. May be nil.
	Bus *host.Bus

	// Process spawns cargo and the language server. Nil uses the real one.
	Process process.Manager

	// Logger is the root logger. Nil discards.
	Logger *logging.Logger

	// ClientVersion is reported to the language server.
	ClientVersion string
}

// Extension is an activated workspace.
//
// Thread Safety:
//
//	Safe for concurrent use.
type Extension struct {
	config      *config.Manager
	dirs        *cwd.Resolver
	editor      *host.Editor
	runner      *cargo.TaskRunner
	dispatcher  *dispatch.Dispatcher
	session     session.Session
	disposables *host.Disposables
	logger      *logging.Logger

	deactivateOnce sync.Once
	deactivateErr  error
}

// Activate starts ferrule for a workspace.
//
// Description:
//
//	Child loggers are created up front. The session is chosen once from
//	the current configuration; a protocol-client start runs in the
//	background. The save subscription is registered last, so it is the
//	first thing released on Deactivate.
//
// Outputs:
//
//	*Extension - The running workspace
//	error - ErrMissingDependency when a required dependency is nil
func Activate(ctx context.Context, deps Deps) (*Extension, error) {
	if deps.Config == nil || deps.Dirs == nil || deps.Editor == nil {
		return nil, ErrMissingDependency
	}
	if deps.Logger == nil {
		deps.Logger = logging.Nop()
	}
	if deps.Process == nil {
		deps.Process = process.NewDefaultManager()
	}

	cargoLogger := deps.Logger.Child(CargoLoggerName)

	ext := &Extension{
		config:      deps.Config,
		dirs:        deps.Dirs,
		editor:      deps.Editor,
		disposables: host.NewDisposables(),
		logger:      deps.Logger,
	}

	ext.session = session.ChooseModeAndRun(ctx, session.SelectorDeps{
		Config:        deps.Config,
		Dirs:          deps.Dirs,
		Process:       deps.Process,
		Bus:           deps.Bus,
		Logger:        deps.Logger,
		RootPath:      deps.Dirs.Root(),
		ClientVersion: deps.ClientVersion,
	})

	ext.runner = cargo.NewTaskRunner(cargo.RunnerDeps{
		Process: deps.Process,
		Config:  deps.Config,
		Dirs:    deps.Dirs,
		Editor:  deps.Editor,
		Bus:     deps.Bus,
		Logger:  cargoLogger,
	})
	ext.dispatcher = dispatch.NewDispatcher(deps.Config, ext.runner, deps.Logger.Child(DispatcherLoggerName))

	err := ext.disposables.Add(ctx,
		host.DisposableFunc(ext.session.Stop),
		ext.runner,
		deps.Editor.OnDidSave(ext.onDidSave),
	)
	if err != nil {
		return nil, err
	}

	deps.Logger.Info("Workspace activated",
		"mode", ext.session.Kind().String(),
		"workspace", deps.Dirs.Root(),
		"action_on_save", deps.Config.ActionOnSave())
	return ext, nil
}

// onDidSave runs on the host loop for each save.
func (e *Extension) onDidSave(doc host.Document) {
	e.dispatcher.HandleSave(doc, e.editor.Active())
	if pcs, ok := e.session.(*session.ProtocolClientSession); ok {
		pcs.NotifySaved(doc)
	}
}

// Session returns the active session.
func (e *Extension) Session() session.Session {
	return e.session
}

// Runner returns the cargo task runner.
func (e *Extension) Runner() *cargo.TaskRunner {
	return e.runner
}

// Dispatcher returns the save dispatcher.
func (e *Extension) Dispatcher() *dispatch.Dispatcher {
	return e.dispatcher
}

// Status summarises the workspace for the editor bridge.
func (e *Extension) Status() host.Status {
	return host.Status{
		Mode:         e.session.Kind().String(),
		SessionState: e.session.State(),
		ActionOnSave: e.config.ActionOnSave(),
		Workspace:    e.dirs.Root(),
	}
}

// Deactivate releases everything Activate registered.
//
// Later calls return the first call's result.
func (e *Extension) Deactivate(ctx context.Context) error {
	e.deactivateOnce.Do(func() {
		e.deactivateErr = e.disposables.Dispose(ctx)
		if e.deactivateErr != nil {
			e.logger.Warn("Deactivation finished with errors", "error", e.deactivateErr)
			return
		}
		e.logger.Info("Workspace deactivated")
	})
	return e.deactivateErr
}
