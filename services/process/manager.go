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
Package process abstracts external process execution for ferrule.

Every toolchain invocation (cargo, rustc, racer, rustfmt) goes through the
Manager interface so the session and task runner can be tested without a
Rust toolchain installed.

Long-running processes are started in their own process group. Stopping a
Handle signals the whole group so cargo's child processes (rustc, test
binaries, the program started by `cargo run`) go down with it.
*/
package process

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"
)

// -----------------------------------------------------------------------------
// Interface Definition
// -----------------------------------------------------------------------------

// Manager handles external process operations.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use from multiple goroutines.
type Manager interface {
	// Run executes a command synchronously and returns its stdout.
	//
	// # Inputs
	//
	//   - ctx: Context for cancellation/timeout
	//   - name: The executable name or path
	//   - args: Command arguments (variadic)
	//
	// # Outputs
	//
	//   - []byte: Stdout output
	//   - error: Non-nil if the command fails or is cancelled. Stderr is
	//     appended to the error text.
	//
	// # Examples
	//
	//   out, err := pm.Run(ctx, "rustc", "--print", "sysroot")
	Run(ctx context.Context, name string, args ...string) ([]byte, error)

	// LookPath resolves an executable name against PATH.
	//
	// Returns ErrNotFound (wrapped) when the executable does not exist.
	LookPath(name string) (string, error)

	// Start launches a long-running process and streams its output.
	//
	// # Description
	//
	// The process runs in its own process group in spec.Dir with spec.Env
	// merged over the current environment. Output lines are delivered to
	// spec.OnStdout / spec.OnStderr from reader goroutines.
	//
	// # Outputs
	//
	//   - Handle: Used to wait for or stop the process
	//   - error: Non-nil if the process could not be started
	//
	// # Limitations
	//
	//   - ctx only bounds the start itself, not the process lifetime.
	//     Use Handle.Stop to terminate.
	Start(ctx context.Context, spec Spec) (Handle, error)
}

// Spec describes a process to start.
type Spec struct {
	// Name is the executable name or path.
	Name string

	// Args are the command arguments.
	Args []string

	// Dir is the working directory. Empty means the current directory.
	Dir string

	// Env is merged over os.Environ(). Keys in Env win.
	Env map[string]string

	// OnStdout receives each stdout line without the trailing newline.
	OnStdout func(line string)

	// OnStderr receives each stderr line without the trailing newline.
	OnStderr func(line string)
}

// Handle controls a started process.
type Handle interface {
	// PID returns the process ID.
	PID() int

	// Wait blocks until the process exits and all output was delivered.
	// Calling Wait more than once returns the same result.
	Wait() error

	// Stop terminates the process group. It sends SIGTERM, waits up to the
	// grace period, then sends SIGKILL. Stopping an exited process is a no-op.
	Stop(ctx context.Context) error
}

// StopGracePeriod is how long Stop waits after SIGTERM before SIGKILL.
const StopGracePeriod = 3 * time.Second

// -----------------------------------------------------------------------------
// Implementation
// -----------------------------------------------------------------------------

// DefaultManager implements Manager using os/exec.
//
// This is the production implementation. Use MockManager in tests instead.
type DefaultManager struct{}

// NewDefaultManager creates a new DefaultManager.
func NewDefaultManager() *DefaultManager {
	return &DefaultManager{}
}

// Run executes a command synchronously and returns its output.
func (pm *DefaultManager) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		// Include stderr in error for debugging
		if stderr.Len() > 0 {
			return nil, fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
		}
		return nil, err
	}

	return stdout.Bytes(), nil
}

// LookPath resolves name against PATH.
func (pm *DefaultManager) LookPath(name string) (string, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return path, nil
}

// Start launches a process in its own process group.
func (pm *DefaultManager) Start(ctx context.Context, spec Spec) (Handle, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if spec.Name == "" {
		return nil, ErrEmptyCommand
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cmd := exec.Command(spec.Name, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = MergeEnv(os.Environ(), spec.Env)
	setProcessGroup(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", spec.Name, err)
	}

	h := &execHandle{cmd: cmd, done: make(chan struct{})}

	var readers sync.WaitGroup
	readers.Add(2)
	go func() {
		defer readers.Done()
		scanLines(stdout, spec.OnStdout)
	}()
	go func() {
		defer readers.Done()
		scanLines(stderr, spec.OnStderr)
	}()

	go func() {
		// Pipes must be drained before cmd.Wait closes them.
		readers.Wait()
		h.err = cmd.Wait()
		close(h.done)
	}()

	return h, nil
}

// execHandle is the Handle for a process started by DefaultManager.
type execHandle struct {
	cmd  *exec.Cmd
	done chan struct{}
	err  error
}

func (h *execHandle) PID() int {
	return h.cmd.Process.Pid
}

func (h *execHandle) Wait() error {
	<-h.done
	return h.err
}

func (h *execHandle) Stop(ctx context.Context) error {
	select {
	case <-h.done:
		return nil
	default:
	}

	if err := signalGroup(h.cmd, false); err != nil {
		return fmt.Errorf("terminate pid %d: %w", h.PID(), err)
	}

	timer := time.NewTimer(StopGracePeriod)
	defer timer.Stop()

	select {
	case <-h.done:
		return nil
	case <-timer.C:
	case <-ctx.Done():
	}

	if err := signalGroup(h.cmd, true); err != nil {
		return fmt.Errorf("kill pid %d: %w", h.PID(), err)
	}
	<-h.done
	return nil
}

// scanLines delivers each line of r to fn. A nil fn drains r.
func scanLines(r io.Reader, fn func(string)) {
	if fn == nil {
		_, _ = io.Copy(io.Discard, r)
		return
	}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		fn(scanner.Text())
	}
	// Drain the rest if a line exceeded the buffer.
	_, _ = io.Copy(io.Discard, r)
}

// MergeEnv returns base with overrides applied, in "KEY=VALUE" form.
//
// Keys present in overrides replace those in base. New keys are appended in
// sorted order so the result is deterministic.
func MergeEnv(base []string, overrides map[string]string) []string {
	out := make([]string, 0, len(base)+len(overrides))
	seen := make(map[string]bool, len(overrides))

	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		if v, ok := overrides[key]; ok {
			out = append(out, key+"="+v)
			seen[key] = true
			continue
		}
		out = append(out, kv)
	}

	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		if !seen[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, k+"="+overrides[k])
	}
	return out
}

// Compile-time interface compliance check.
var (
	_ Manager = (*DefaultManager)(nil)
	_ Handle  = (*execHandle)(nil)
)
