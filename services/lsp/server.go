// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lsp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/AleutianAI/ferrule/pkg/logging"
	"github.com/AleutianAI/ferrule/services/process"
	"go.opentelemetry.io/otel/codes"
)

// =============================================================================
// SERVER STATE
// =============================================================================

// ServerState represents the lifecycle state of an LSP server.
type ServerState int

const (
	// ServerStateUninitialized is the initial state before Start is called.
	ServerStateUninitialized ServerState = iota

	// ServerStateStarting means the server process is starting.
	ServerStateStarting

	// ServerStateReady means the server is initialized and ready for requests.
	ServerStateReady

	// ServerStateStopping means the server is shutting down.
	ServerStateStopping

	// ServerStateStopped means the server has terminated.
	ServerStateStopped

	// ServerStateCrashed means the connection dropped without Shutdown.
	ServerStateCrashed
)

// String returns a human-readable state name.
func (s ServerState) String() string {
	names := []string{"uninitialized", "starting", "ready", "stopping", "stopped", "crashed"}
	if s >= 0 && int(s) < len(names) {
		return names[s]
	}
	return "unknown"
}

// ShutdownTimeout bounds the graceful shutdown before the process is killed.
const ShutdownTimeout = 5 * time.Second

// =============================================================================
// CONFIG
// =============================================================================

// Config describes the language server to run.
type Config struct {
	// Executable is the server binary name or path.
	Executable string

	// Args are passed to the executable.
	Args []string

	// Env is merged over the current process environment.
	Env map[string]string

	// RootPath is the absolute workspace root. It is the process working
	// directory and the initialize rootUri.
	RootPath string

	// ClientVersion is reported in initialize clientInfo.
	ClientVersion string

	// InitializationOptions are passed through to the server.
	InitializationOptions interface{}

	// OnNotification receives server notifications. May be nil.
	OnNotification NotificationHandler

	// OnExit is called once if the connection drops while the server is
	// not being shut down. May be nil.
	OnExit func(err error)
}

// =============================================================================
// SERVER
// =============================================================================

// Server represents a running LSP server process.
//
// Description:
//
//	Manages the lifecycle of an LSP server process: starting, initializing
//	and shutting down. A Server is started at most once; restart by
//	creating a new Server.
//
// Thread Safety:
//
//	Safe for concurrent use. Shutdown may be called while Start is still
//	spawning or initializing; Start then kills the process and returns
//	ErrServerStopped.
type Server struct {
	config Config
	logger *logging.Logger

	// procMu guards the process fields. Shutdown holds it for the whole
	// teardown so a concurrent spawn either sees Stopping or is reaped.
	procMu     sync.Mutex
	cmd        *exec.Cmd
	stdin      io.WriteCloser
	stdout     io.ReadCloser
	cancel     context.CancelFunc
	serverInfo *ServerInfo

	// protocol is set before the state becomes Ready and never changes.
	protocol *Protocol

	state   ServerState
	stateMu sync.RWMutex

	readDone chan struct{}
}

// NewServer creates a new server instance (not started).
//
// Inputs:
//
//	config - Server executable, arguments, environment and root
//	logger - Destination for lifecycle logs. Nil discards.
//
// Outputs:
//
//	*Server - The configured (but not started) server
func NewServer(config Config, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Server{
		config:   config,
		logger:   logger,
		state:    ServerStateUninitialized,
		readDone: make(chan struct{}),
	}
}

// Start starts the LSP server process and initializes it.
//
// Description:
//
//	Starts the server process, establishes communication, and performs
//	the LSP initialize handshake. On success, the server is ready to
//	receive requests.
//
// Errors:
//
//	ErrNoExecutable - Config.Executable is empty
//	ErrServerNotInstalled - Server binary not found
//	ErrServerAlreadyStarted - Start called on a non-uninitialized server
//	ErrInitializeFailed - LSP initialize handshake failed
//	ErrServerStopped - Shutdown was called before Start finished
//
// Thread Safety:
//
//	Safe for concurrent use, but only the first caller will start the server.
func (s *Server) Start(ctx context.Context) (err error) {
	if ctx == nil {
		return fmt.Errorf("ctx must not be nil")
	}
	if s.config.Executable == "" {
		return ErrNoExecutable
	}

	s.stateMu.Lock()
	if s.state != ServerStateUninitialized {
		s.stateMu.Unlock()
		return ErrServerAlreadyStarted
	}
	s.state = ServerStateStarting
	s.stateMu.Unlock()

	started := time.Now()
	ctx, span := startServerSpan(ctx, s.config.Executable, s.config.RootPath)
	defer func() {
		recordServerSpawn(ctx, s.config.Executable, time.Since(started), err == nil)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	path, err := exec.LookPath(s.config.Executable)
	if err != nil {
		s.setState(ServerStateStopped)
		s.logger.Warn("LSP server not installed", "executable", s.config.Executable)
		return fmt.Errorf("%w: %s", ErrServerNotInstalled, s.config.Executable)
	}

	s.logger.Info("Starting LSP server",
		"executable", path,
		"args", s.config.Args,
		"root_path", s.config.RootPath,
	)

	protocol, pid, err := s.spawn(path)
	if err != nil {
		return err
	}

	if err = s.initialize(ctx, protocol); err != nil {
		if s.stopRequested() {
			return fmt.Errorf("%w: %v", ErrServerStopped, err)
		}
		_ = s.Shutdown(context.Background())
		return fmt.Errorf("%w: %v", ErrInitializeFailed, err)
	}

	s.stateMu.Lock()
	state := s.state
	if state == ServerStateStarting {
		s.state = ServerStateReady
	}
	s.stateMu.Unlock()
	switch state {
	case ServerStateStarting:
	case ServerStateCrashed:
		return ErrServerCrashed
	default:
		return ErrServerStopped
	}

	attrs := []any{"pid", pid}
	if info := s.ServerInfo(); info != nil {
		attrs = append(attrs, "server", info.Name, "server_version", info.Version)
	}
	s.logger.Info("LSP server ready", attrs...)

	return nil
}

// spawn starts the process and its read loop under procMu.
//
// The state is checked before and after the process starts. When
// Shutdown has begun, a started process is killed and reaped here.
func (s *Server) spawn(path string) (*Protocol, int, error) {
	s.procMu.Lock()
	defer s.procMu.Unlock()

	if s.stopRequested() {
		return nil, 0, ErrServerStopped
	}

	// Server context is independent of the caller's context.
	ctx, cancel := context.WithCancel(context.Background())

	cmd := exec.Command(path, s.config.Args...)
	cmd.Dir = s.config.RootPath
	cmd.Env = process.MergeEnv(os.Environ(), s.config.Env)
	cmd.Stderr = &lineWriter{fn: func(line string) {
		s.logger.Debug("LSP server stderr", "line", line)
	}}

	fail := func(err error) (*Protocol, int, error) {
		cancel()
		s.setState(ServerStateStopped)
		return nil, 0, err
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fail(fmt.Errorf("stdin pipe: %w", err))
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		_ = stdin.Close()
		return fail(fmt.Errorf("stdout pipe: %w", err))
	}
	if err := cmd.Start(); err != nil {
		return fail(fmt.Errorf("start process: %w", err))
	}

	if s.stopRequested() {
		s.logger.Info("LSP server stopped during start, killing", "pid", cmd.Process.Pid)
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		cancel()
		return nil, 0, ErrServerStopped
	}

	protocol := NewProtocol(stdout, stdin, s.onNotification)
	s.cmd = cmd
	s.stdin = stdin
	s.stdout = stdout
	s.cancel = cancel
	s.protocol = protocol

	go s.readLoop(ctx, protocol)
	return protocol, cmd.Process.Pid, nil
}

// stopRequested reports whether Shutdown has begun.
func (s *Server) stopRequested() bool {
	state := s.State()
	return state == ServerStateStopping || state == ServerStateStopped
}

// readLoop runs the protocol read loop and reports unexpected exits.
func (s *Server) readLoop(ctx context.Context, protocol *Protocol) {
	defer close(s.readDone)

	err := protocol.ReadLoop(ctx)

	s.stateMu.Lock()
	expected := s.state == ServerStateStopping || s.state == ServerStateStopped
	if !expected {
		s.state = ServerStateCrashed
	}
	s.stateMu.Unlock()

	if expected || errors.Is(err, context.Canceled) {
		recordServerExit(context.Background(), false)
		return
	}

	if err == nil {
		err = ErrServerCrashed
	}
	recordServerExit(context.Background(), true)
	s.logger.Error("LSP server connection lost", "error", err)

	// Fail anything still waiting on a response.
	protocol.Close()

	if s.config.OnExit != nil {
		s.config.OnExit(err)
	}
}

func (s *Server) onNotification(method string, params json.RawMessage) {
	recordNotification(context.Background(), method)
	if s.config.OnNotification != nil {
		s.config.OnNotification(method, params)
	}
}

// initialize performs the LSP initialize handshake.
func (s *Server) initialize(ctx context.Context, protocol *Protocol) error {
	root := s.config.RootPath
	params := InitializeParams{
		ProcessID:  os.Getpid(),
		ClientInfo: &ClientInfo{Name: "ferrule", Version: s.config.ClientVersion},
		RootURI:    PathToURI(root),
		RootPath:   root,
		Capabilities: ClientCapabilities{
			TextDocument: TextDocumentClientCapabilities{
				Synchronization: &TextDocumentSyncClientCapabilities{
					DidSave: true,
				},
			},
		},
		WorkspaceFolders: []WorkspaceFolder{
			{
				URI:  PathToURI(root),
				Name: filepath.Base(root),
			},
		},
		InitializationOptions: s.config.InitializationOptions,
	}

	resp, err := protocol.SendRequest(ctx, "initialize", params)
	if err != nil {
		return fmt.Errorf("initialize request: %w", err)
	}

	var result InitializeResult
	if len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, &result); err != nil {
			return fmt.Errorf("parse initialize result: %w", err)
		}
	}
	s.procMu.Lock()
	s.serverInfo = result.ServerInfo
	s.procMu.Unlock()

	if err := protocol.SendNotification("initialized", struct{}{}); err != nil {
		return fmt.Errorf("initialized notification: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server.
//
// Description:
//
//	Sends shutdown and exit messages to a ready server, then waits for
//	the process to terminate. If the server doesn't exit within
//	ShutdownTimeout, it is killed. A server that is still starting is
//	killed without the handshake.
//
// Thread Safety:
//
//	Safe for concurrent use. Multiple calls are idempotent.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stateMu.Lock()
	prev := s.state
	if prev == ServerStateStopped || prev == ServerStateStopping {
		s.stateMu.Unlock()
		return nil
	}
	s.state = ServerStateStopping
	s.stateMu.Unlock()

	s.logger.Info("Shutting down LSP server", "executable", s.config.Executable, "state", prev.String())

	s.procMu.Lock()
	defer s.procMu.Unlock()
	defer s.cleanupLocked()

	if s.cmd == nil {
		return nil
	}

	graceful := prev == ServerStateReady
	if graceful {
		shutdownCtx, cancel := context.WithTimeout(ctx, ShutdownTimeout)
		defer cancel()

		_, _ = s.protocol.SendRequest(shutdownCtx, "shutdown", nil)
		_ = s.protocol.SendNotification("exit", nil)
	}
	// Fails a pending initialize request, if any.
	s.protocol.Close()

	// Close stdin to signal EOF to server
	_ = s.stdin.Close()

	done := make(chan error, 1)
	go func() { done <- s.cmd.Wait() }()

	if !graceful {
		_ = s.cmd.Process.Kill()
		<-done
	} else {
		select {
		case <-time.After(ShutdownTimeout):
			s.logger.Warn("LSP server did not exit, killing", "pid", s.cmd.Process.Pid)
			_ = s.cmd.Process.Kill()
			<-done
		case <-done:
		}
	}

	s.cancel()

	select {
	case <-s.readDone:
	case <-time.After(time.Second):
	}

	return nil
}

// cleanupLocked releases resources and sets state to stopped.
// The caller holds procMu.
func (s *Server) cleanupLocked() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.stdin != nil {
		_ = s.stdin.Close()
	}
	if s.stdout != nil {
		_ = s.stdout.Close()
	}
	s.setState(ServerStateStopped)
}

// =============================================================================
// ACCESSORS
// =============================================================================

// State returns the current server state.
func (s *Server) State() ServerState {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// Config returns the server configuration.
func (s *Server) Config() Config {
	return s.config
}

// ServerInfo returns what the server reported during initialize, or nil.
func (s *Server) ServerInfo() *ServerInfo {
	s.procMu.Lock()
	defer s.procMu.Unlock()
	return s.serverInfo
}

// =============================================================================
// REQUEST METHODS
// =============================================================================

// Request sends an LSP request and waits for the response.
func (s *Server) Request(ctx context.Context, method string, params interface{}) (*Response, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}
	if s.State() != ServerStateReady {
		return nil, ErrServerNotRunning
	}
	return s.protocol.SendRequest(ctx, method, params)
}

// Notify sends an LSP notification.
func (s *Server) Notify(method string, params interface{}) error {
	if s.State() != ServerStateReady {
		return ErrServerNotRunning
	}
	return s.protocol.SendNotification(method, params)
}

// DidSave sends textDocument/didSave for an absolute file path.
func (s *Server) DidSave(path string) error {
	return s.Notify("textDocument/didSave", DidSaveTextDocumentParams{
		TextDocument: TextDocumentIdentifier{URI: PathToURI(path)},
	})
}

// =============================================================================
// INTERNAL HELPERS
// =============================================================================

func (s *Server) setState(state ServerState) {
	s.stateMu.Lock()
	s.state = state
	s.stateMu.Unlock()
}

// lineWriter splits written bytes into lines for fn.
type lineWriter struct {
	mu  sync.Mutex
	buf []byte
	fn  func(string)
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		line := string(bytes.TrimRight(w.buf[:i], "\r"))
		w.buf = w.buf[i+1:]
		if line != "" {
			w.fn(line)
		}
	}
	return len(p), nil
}
