// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cargo

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/ferrule/pkg/logging"
	"github.com/AleutianAI/ferrule/services/host"
	"github.com/AleutianAI/ferrule/services/process"
	"github.com/AleutianAI/ferrule/services/workspace/config"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
)

// stopTimeout bounds how long a new task waits for its predecessor.
const stopTimeout = process.StopGracePeriod + 2*time.Second

// =============================================================================
// DEPENDENCIES
// =============================================================================

// ConfigProvider supplies the configuration snapshot read at each start.
type ConfigProvider interface {
	Snapshot() config.Config
}

// DirResolver picks the working directory for a file.
type DirResolver interface {
	Resolve(file string) (string, error)
}

// ActiveDocument reports the editor's active document.
type ActiveDocument interface {
	Active() *host.Document
}

// RunnerDeps are the collaborators of a TaskRunner.
type RunnerDeps struct {
	// Process starts cargo. Nil uses process.NewDefaultManager.
	Process process.Manager

	// Config supplies the cargo section. Required.
	Config ConfigProvider

	// Dirs resolves the working directory. Required.
	Dirs DirResolver

	// Editor supplies the active document. May be nil.
	Editor ActiveDocument

	// Bus receives task events. May be nil.
	Bus *host.Bus

	// Logger is the "Cargo Manager" logger. Nil discards.
	Logger *logging.Logger
}

// TaskInfo describes a running task.
type TaskInfo struct {
	RunID   string
	Kind    TaskKind
	Reason  InvocationReason
	Dir     string
	Started time.Time
}

// =============================================================================
// RUNNER
// =============================================================================

// TaskRunner runs cargo tasks one at a time.
//
// Description:
//
//	Each task runs `<cargo.binary> <subcommand> <cargo.extra_args[task]...>`
//	with cargo.env merged over the process environment, in the directory
//	resolved for the active document (or the workspace root). Starting a
//	task stops the one already running, including its child processes.
//
// Thread Safety:
//
//	Safe for concurrent use. Starts are serialised. The Execute methods
//	and RunCommand only queue the task and return; a runner-owned worker
//	stops the previous task and spawns the new one. When several tasks
//	queue while a stop is in progress, only the latest one runs.
type TaskRunner struct {
	proc   process.Manager
	config ConfigProvider
	dirs   DirResolver
	editor ActiveDocument
	bus    *host.Bus
	logger *logging.Logger

	// startMu serialises Start so stop-then-spawn is atomic.
	startMu sync.Mutex

	mu      sync.Mutex
	current *runningTask
	closed  bool

	// pending holds at most one queued request; newer requests replace it.
	pending    chan taskRequest
	quit       chan struct{}
	workerOnce sync.Once
	quitOnce   sync.Once
}

// taskRequest is a queued Execute or RunCommand call.
type taskRequest struct {
	kind       TaskKind
	reason     InvocationReason
	activeFile string
}

type runningTask struct {
	info    TaskInfo
	handle  process.Handle
	stopped atomic.Bool
	done    chan struct{}
}

// NewTaskRunner creates a runner.
func NewTaskRunner(deps RunnerDeps) *TaskRunner {
	if deps.Process == nil {
		deps.Process = process.NewDefaultManager()
	}
	if deps.Logger == nil {
		deps.Logger = logging.Nop()
	}
	return &TaskRunner{
		proc:   deps.Process,
		config: deps.Config,
		dirs:   deps.Dirs,
		editor: deps.Editor,
		bus:    deps.Bus,
		logger: deps.Logger,

		pending: make(chan taskRequest, 1),
		quit:    make(chan struct{}),
	}
}

// ExecuteBuildTask runs `cargo build`.
func (r *TaskRunner) ExecuteBuildTask(reason InvocationReason) {
	r.ExecuteCommand(TaskBuild, reason)
}

// ExecuteCheckTask runs `cargo check`.
func (r *TaskRunner) ExecuteCheckTask(reason InvocationReason) {
	r.ExecuteCommand(TaskCheck, reason)
}

// ExecuteClippyTask runs `cargo clippy`.
func (r *TaskRunner) ExecuteClippyTask(reason InvocationReason) {
	r.ExecuteCommand(TaskClippy, reason)
}

// ExecuteDocTask runs `cargo doc`.
func (r *TaskRunner) ExecuteDocTask(reason InvocationReason) {
	r.ExecuteCommand(TaskDoc, reason)
}

// ExecuteRunTask runs `cargo run`.
func (r *TaskRunner) ExecuteRunTask(reason InvocationReason) {
	r.ExecuteCommand(TaskRun, reason)
}

// ExecuteTestTask runs `cargo test`.
func (r *TaskRunner) ExecuteTestTask(reason InvocationReason) {
	r.ExecuteCommand(TaskTest, reason)
}

// ExecuteCommand queues kind and returns without waiting for it.
//
// Failures are logged, published on the bus and recorded as metrics.
func (r *TaskRunner) ExecuteCommand(kind TaskKind, reason InvocationReason) {
	if err := r.enqueue(kind, reason); err != nil {
		r.logger.Debug("Task not queued", "task", kind.String(), "reason", reason.String(), "error", err)
	}
}

// RunCommand queues the task named name as a user command.
//
// Returns an error only when name is not a task or the runner is
// disposed; spawn failures are reported like ExecuteCommand's.
//
// Implements host.CommandRunner.
func (r *TaskRunner) RunCommand(name string) error {
	kind, err := ParseTaskKind(name)
	if err != nil {
		return err
	}
	return r.enqueue(kind, CommandInvocation)
}

// enqueue hands a request to the worker, replacing any request that is
// still waiting.
func (r *TaskRunner) enqueue(kind TaskKind, reason InvocationReason) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: %s", ErrUnknownTask, kind)
	}
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return ErrRunnerClosed
	}

	req := taskRequest{kind: kind, reason: reason, activeFile: r.activeFile()}
	r.workerOnce.Do(func() { go r.work() })
	for {
		select {
		case r.pending <- req:
			return nil
		default:
		}
		select {
		case old := <-r.pending:
			r.logger.Debug("Queued task superseded", "task", old.kind.String(), "by", kind.String())
		default:
		}
	}
}

// work runs queued requests one at a time until Dispose.
func (r *TaskRunner) work() {
	for {
		select {
		case <-r.quit:
			return
		case req := <-r.pending:
			_, _ = r.start(context.Background(), req.kind, req.reason, req.activeFile)
		}
	}
}

func (r *TaskRunner) activeFile() string {
	if r.editor == nil {
		return ""
	}
	if doc := r.editor.Active(); doc != nil {
		return doc.FileName
	}
	return ""
}

// Start stops the running task, if any, and starts kind.
//
// Unlike ExecuteCommand, Start blocks until the previous task is reaped.
//
// Outputs:
//
//	TaskInfo - The started task
//	error - Non-nil when the task could not be started
//
// Errors:
//
//	ErrUnknownTask - kind is not one of the six kinds
//	ErrRunnerClosed - Dispose was called
//	ErrNoWorkingDirectory - the working directory could not be resolved
func (r *TaskRunner) Start(ctx context.Context, kind TaskKind, reason InvocationReason) (TaskInfo, error) {
	return r.start(ctx, kind, reason, r.activeFile())
}

func (r *TaskRunner) start(ctx context.Context, kind TaskKind, reason InvocationReason, activeFile string) (info TaskInfo, err error) {
	if !kind.Valid() {
		return TaskInfo{}, fmt.Errorf("%w: %s", ErrUnknownTask, kind)
	}

	ctx, span := startTaskSpan(ctx, kind, reason)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	r.startMu.Lock()
	defer r.startMu.Unlock()

	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return TaskInfo{}, ErrRunnerClosed
	}

	r.stopCurrent(ctx)

	cargoCfg := r.config.Snapshot().Cargo
	args := append([]string{kind.String()}, cargoCfg.ExtraArgs[kind.String()]...)

	dir, err := r.dirs.Resolve(activeFile)
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrNoWorkingDirectory, err)
		r.logger.Error("Cannot start task", "task", kind.String(), "reason", reason.String(), "error", err)
		recordTaskOutcome(ctx, kind, outcomeSpawnError, 0)
		r.bus.Publish(host.Event{Type: host.EventTaskFinished, Task: kind.String(), Reason: reason.String(), Error: err.Error()})
		return TaskInfo{}, err
	}

	info = TaskInfo{
		RunID:   uuid.NewString(),
		Kind:    kind,
		Reason:  reason,
		Dir:     dir,
		Started: time.Now(),
	}
	span.SetAttributes(runIDAttr(info.RunID))

	logger := r.logger.With("run_id", info.RunID, "task", kind.String())
	logger.Info("Starting task", "reason", reason.String(), "dir", dir, "args", args)
	recordTaskStart(ctx, kind, reason)

	// Published before spawning so output lines never precede it.
	r.bus.Publish(host.Event{
		Type:   host.EventTaskStarted,
		Time:   info.Started,
		RunID:  info.RunID,
		Task:   kind.String(),
		Reason: reason.String(),
		Dir:    dir,
	})

	handle, err := r.proc.Start(ctx, process.Spec{
		Name:     cargoCfg.Binary,
		Args:     args,
		Dir:      dir,
		Env:      cargoCfg.Env,
		OnStdout: r.outputPublisher(info, "stdout"),
		OnStderr: r.outputPublisher(info, "stderr"),
	})
	if err != nil {
		logger.Error("Task failed to start", "error", err)
		recordTaskOutcome(ctx, kind, outcomeSpawnError, 0)
		r.bus.Publish(host.Event{
			Type:   host.EventTaskFinished,
			RunID:  info.RunID,
			Task:   kind.String(),
			Reason: reason.String(),
			Dir:    dir,
			Error:  err.Error(),
		})
		return TaskInfo{}, fmt.Errorf("start %s %s: %w", cargoCfg.Binary, kind, err)
	}

	task := &runningTask{info: info, handle: handle, done: make(chan struct{})}
	r.mu.Lock()
	r.current = task
	r.mu.Unlock()

	go r.wait(task, logger)
	return info, nil
}

// wait reaps task and reports its outcome.
func (r *TaskRunner) wait(task *runningTask, logger *logging.Logger) {
	defer close(task.done)

	waitErr := task.handle.Wait()
	duration := time.Since(task.info.Started)

	r.mu.Lock()
	if r.current == task {
		r.current = nil
	}
	r.mu.Unlock()

	ev := host.Event{
		Type:     host.EventTaskFinished,
		RunID:    task.info.RunID,
		Task:     task.info.Kind.String(),
		Reason:   task.info.Reason.String(),
		Dir:      task.info.Dir,
		Duration: duration.Milliseconds(),
		Stopped:  task.stopped.Load(),
	}

	outcome := outcomeSuccess
	switch {
	case task.stopped.Load():
		outcome = outcomeStopped
		logger.Info("Task stopped", "duration", duration)
	case waitErr != nil:
		outcome = outcomeFailure
		ev.Error = waitErr.Error()
		code := exitCode(waitErr)
		ev.ExitCode = &code
		logger.Error("Task failed", "exit_code", code, "duration", duration, "error", waitErr)
	default:
		code := 0
		ev.ExitCode = &code
		logger.Info("Task finished", "duration", duration)
	}

	recordTaskOutcome(context.Background(), task.info.Kind, outcome, duration)
	r.bus.Publish(ev)
}

// stopCurrent stops the running task and waits for it to be reaped.
func (r *TaskRunner) stopCurrent(ctx context.Context) {
	r.mu.Lock()
	task := r.current
	r.mu.Unlock()
	if task == nil {
		return
	}

	task.stopped.Store(true)
	r.logger.Info("Stopping running task", "run_id", task.info.RunID, "task", task.info.Kind.String())

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stopTimeout)
	defer cancel()
	if err := task.handle.Stop(stopCtx); err != nil {
		r.logger.Warn("Stopping task failed", "run_id", task.info.RunID, "error", err)
	}
	select {
	case <-task.done:
	case <-stopCtx.Done():
		r.logger.Warn("Task did not exit after stop", "run_id", task.info.RunID)
	}
}

// Stop stops the running task, if any.
func (r *TaskRunner) Stop(ctx context.Context) {
	r.startMu.Lock()
	defer r.startMu.Unlock()
	r.stopCurrent(ctx)
}

// Running returns the running task, if any.
func (r *TaskRunner) Running() (TaskInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return TaskInfo{}, false
	}
	return r.current.info, true
}

// Dispose stops the running task and rejects further starts.
//
// A queued task that has not started is dropped. Safe to call more than
// once. Implements host.Disposable.
func (r *TaskRunner) Dispose(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.quitOnce.Do(func() { close(r.quit) })

	r.startMu.Lock()
	defer r.startMu.Unlock()

	r.stopCurrent(ctx)
	return nil
}

func (r *TaskRunner) outputPublisher(info TaskInfo, stream string) func(string) {
	return func(line string) {
		r.bus.Publish(host.Event{
			Type:   host.EventTaskOutput,
			RunID:  info.RunID,
			Task:   info.Kind.String(),
			Stream: stream,
			Line:   line,
		})
	}
}

// exitCode extracts the process exit code, or -1 when unavailable.
func exitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// Compile-time interface compliance checks.
var (
	_ host.CommandRunner = (*TaskRunner)(nil)
	_ host.Disposable    = (*TaskRunner)(nil)
)
