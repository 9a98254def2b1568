// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package process

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// -----------------------------------------------------------------------------
// Mock Implementation for Testing
// -----------------------------------------------------------------------------

// MockManager is a test double for Manager.
//
// Configure the mock by setting function fields before use. Unlike Run and
// Start, a nil LookPathFunc reports every executable as found at
// "/usr/bin/<name>".
//
// # Examples
//
//	mock := &process.MockManager{
//	    RunFunc: func(ctx context.Context, name string, args ...string) ([]byte, error) {
//	        if name == "cargo" && args[0] == "--version" {
//	            return []byte("cargo 1.79.0 (ffa9cf99a 2024-06-03)"), nil
//	        }
//	        return nil, fmt.Errorf("unexpected command: %s", name)
//	    },
//	}
type MockManager struct {
	// RunFunc is called when Run is invoked
	RunFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

	// LookPathFunc is called when LookPath is invoked
	LookPathFunc func(name string) (string, error)

	// StartFunc is called when Start is invoked
	StartFunc func(ctx context.Context, spec Spec) (Handle, error)

	// Calls records all method invocations for verification
	Calls []Call

	// mu protects Calls for concurrent access
	mu sync.Mutex
}

// Call records a single method invocation.
type Call struct {
	Method string
	Name   string
	Args   []string
	Dir    string
	Env    map[string]string
}

// Run delegates to RunFunc and records the call.
func (m *MockManager) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	m.record(Call{Method: "Run", Name: name, Args: args})
	if m.RunFunc == nil {
		panic("MockManager.RunFunc not set")
	}
	return m.RunFunc(ctx, name, args...)
}

// LookPath delegates to LookPathFunc and records the call.
func (m *MockManager) LookPath(name string) (string, error) {
	m.record(Call{Method: "LookPath", Name: name})
	if m.LookPathFunc == nil {
		return "/usr/bin/" + name, nil
	}
	return m.LookPathFunc(name)
}

// Start delegates to StartFunc and records the call.
func (m *MockManager) Start(ctx context.Context, spec Spec) (Handle, error) {
	m.record(Call{Method: "Start", Name: spec.Name, Args: spec.Args, Dir: spec.Dir, Env: spec.Env})
	if m.StartFunc == nil {
		panic("MockManager.StartFunc not set")
	}
	return m.StartFunc(ctx, spec)
}

func (m *MockManager) record(c Call) {
	m.mu.Lock()
	m.Calls = append(m.Calls, c)
	m.mu.Unlock()
}

// Reset clears all recorded calls.
func (m *MockManager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = nil
}

// GetCalls returns a copy of all recorded calls.
func (m *MockManager) GetCalls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]Call, len(m.Calls))
	copy(result, m.Calls)
	return result
}

// CallsTo returns the recorded calls for one method.
func (m *MockManager) CallsTo(method string) []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []Call
	for _, c := range m.Calls {
		if c.Method == method {
			result = append(result, c)
		}
	}
	return result
}

// -----------------------------------------------------------------------------
// FakeHandle
// -----------------------------------------------------------------------------

var fakePID atomic.Int64

// FakeHandle is a Handle whose lifetime is controlled by the test.
//
// The process "runs" until Exit or Stop is called.
type FakeHandle struct {
	pid     int
	done    chan struct{}
	once    sync.Once
	err     error
	stopped atomic.Bool
}

// NewFakeHandle returns a running FakeHandle with a unique PID.
func NewFakeHandle() *FakeHandle {
	return &FakeHandle{
		pid:  int(fakePID.Add(1)) + 1000,
		done: make(chan struct{}),
	}
}

// Exit finishes the fake process with err.
func (h *FakeHandle) Exit(err error) {
	h.once.Do(func() {
		h.err = err
		close(h.done)
	})
}

// Stopped reports whether Stop was called before the process exited.
func (h *FakeHandle) Stopped() bool {
	return h.stopped.Load()
}

// Done is closed when the fake process has exited.
func (h *FakeHandle) Done() <-chan struct{} {
	return h.done
}

// PID returns the fake process ID.
func (h *FakeHandle) PID() int { return h.pid }

// Wait blocks until Exit or Stop.
func (h *FakeHandle) Wait() error {
	<-h.done
	return h.err
}

// Stop finishes the process with a "signal: terminated" error.
func (h *FakeHandle) Stop(context.Context) error {
	select {
	case <-h.done:
		return nil
	default:
	}
	h.stopped.Store(true)
	h.Exit(fmt.Errorf("signal: terminated"))
	return nil
}

// Compile-time interface compliance check.
var (
	_ Manager = (*MockManager)(nil)
	_ Handle  = (*FakeHandle)(nil)
)
