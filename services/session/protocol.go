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
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/AleutianAI/ferrule/pkg/logging"
	"github.com/AleutianAI/ferrule/services/host"
	"github.com/AleutianAI/ferrule/services/lsp"
)

// languageServer is the part of *lsp.Server the session drives.
type languageServer interface {
	Start(ctx context.Context) error
	Shutdown(ctx context.Context) error
	State() lsp.ServerState
	DidSave(path string) error
}

type serverFactory func(cfg lsp.Config, logger *logging.Logger) languageServer

func newLSPServer(cfg lsp.Config, logger *logging.Logger) languageServer {
	return lsp.NewServer(cfg, logger)
}

// ProtocolClientOptions configures a ProtocolClientSession.
type ProtocolClientOptions struct {
	// Executable, Args and Env come from the protocol_client config
	// section; Env has already been through ResolveEnvironment.
	Executable string
	Args       []string
	Env        map[string]string

	// RevealOutputOn is the lowest message level surfaced to the user:
	// "info", "warn", "error" or "never". Empty means "info".
	RevealOutputOn string

	// RootPath is the absolute workspace root.
	RootPath string

	// ClientVersion is reported to the server.
	ClientVersion string
}

// ProtocolClientSession runs a language server for the workspace.
//
// Description:
//
//	Start spawns the server and completes the initialize handshake.
//	InitialStart does the same on a detached goroutine so activation
//	never waits on the server. Server window messages are logged
//	according to the reveal policy.
//
// Thread Safety:
//
//	Safe for concurrent use.
type ProtocolClientSession struct {
	opts      ProtocolClientOptions
	bus       *host.Bus
	logger    *logging.Logger
	newServer serverFactory

	mu     sync.Mutex
	server languageServer
	closed bool

	initialDone chan struct{}
	initialOnce sync.Once
}

// NewProtocolClientSession creates a session. Nothing is started.
//
// logger is the "Language Client Manager" logger; nil discards.
func NewProtocolClientSession(opts ProtocolClientOptions, bus *host.Bus, logger *logging.Logger) *ProtocolClientSession {
	if logger == nil {
		logger = logging.Nop()
	}
	if opts.RevealOutputOn == "" {
		opts.RevealOutputOn = "info"
	}
	return &ProtocolClientSession{
		opts:        opts,
		bus:         bus,
		logger:      logger,
		newServer:   newLSPServer,
		initialDone: make(chan struct{}),
	}
}

// Kind returns KindProtocolClient.
func (s *ProtocolClientSession) Kind() Kind {
	return KindProtocolClient
}

// InitialStart starts the session on a detached goroutine.
//
// A failure is logged through the session's logger and goes nowhere
// else. A start abandoned because Stop was called is not a failure.
// Only the first call has an effect.
func (s *ProtocolClientSession) InitialStart(ctx context.Context) {
	s.initialOnce.Do(func() {
		ctx := context.WithoutCancel(ctx)
		go func() {
			defer close(s.initialDone)
			err := s.Start(ctx)
			switch {
			case err == nil:
			case errors.Is(err, ErrSessionClosed):
				s.logger.Debug("Language client start abandoned", "error", err)
			default:
				s.logger.Error("Failed to start language client", "error", err)
			}
		}()
	})
}

// InitialStartDone is closed when the InitialStart goroutine finishes.
func (s *ProtocolClientSession) InitialStartDone() <-chan struct{} {
	return s.initialDone
}

// Start spawns and initializes the language server.
//
// Errors:
//
//	ErrSessionClosed - Stop was called, before or during the start
//	ErrAlreadyRunning - a server is starting or ready
//	lsp.ErrServerNotInstalled - the executable was not found
//	lsp.ErrInitializeFailed - the handshake failed
func (s *ProtocolClientSession) Start(ctx context.Context) (err error) {
	ctx, span := startSessionSpan(ctx, KindProtocolClient)
	defer func() { endSessionSpan(ctx, span, KindProtocolClient, err) }()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.server != nil {
		switch s.server.State() {
		case lsp.ServerStateStarting, lsp.ServerStateReady:
			s.mu.Unlock()
			return ErrAlreadyRunning
		}
	}
	server := s.newServer(lsp.Config{
		Executable:     s.opts.Executable,
		Args:           s.opts.Args,
		Env:            s.opts.Env,
		RootPath:       s.opts.RootPath,
		ClientVersion:  s.opts.ClientVersion,
		OnNotification: s.handleNotification,
		OnExit:         s.handleExit,
	}, s.logger)
	s.server = server
	s.mu.Unlock()

	s.logger.Info("Starting language client",
		"executable", s.opts.Executable,
		"rust_src_path", s.opts.Env[RustSrcPathVar])

	if err := server.Start(ctx); err != nil {
		if s.isClosed() {
			return fmt.Errorf("%w: start %s: %w", ErrSessionClosed, s.opts.Executable, err)
		}
		s.publish("start_failed", err)
		return fmt.Errorf("start %s: %w", s.opts.Executable, err)
	}
	s.publish("ready", nil)
	return nil
}

// Stop shuts the server down. Later Starts fail with ErrSessionClosed.
func (s *ProtocolClientSession) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return s.shutdown(ctx)
}

func (s *ProtocolClientSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Restart stops the running server, if any, and starts a new one.
func (s *ProtocolClientSession) Restart(ctx context.Context) error {
	if err := s.shutdown(ctx); err != nil {
		return err
	}
	return s.Start(ctx)
}

func (s *ProtocolClientSession) shutdown(ctx context.Context) error {
	s.mu.Lock()
	server := s.server
	s.mu.Unlock()
	if server == nil {
		return nil
	}
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown %s: %w", s.opts.Executable, err)
	}
	s.publish("stopped", nil)
	return nil
}

// ServerState returns the language server state.
func (s *ProtocolClientSession) ServerState() lsp.ServerState {
	s.mu.Lock()
	server := s.server
	s.mu.Unlock()
	if server == nil {
		return lsp.ServerStateUninitialized
	}
	return server.State()
}

// State returns the server state name, e.g. "ready" or "crashed".
func (s *ProtocolClientSession) State() string {
	return s.ServerState().String()
}

// NotifySaved forwards a save of a Rust document to the server.
//
// Other documents and saves while the server is not ready are ignored.
func (s *ProtocolClientSession) NotifySaved(doc host.Document) {
	if doc.LanguageID != "rust" {
		return
	}
	s.mu.Lock()
	server := s.server
	s.mu.Unlock()
	if server == nil || server.State() != lsp.ServerStateReady {
		return
	}
	if err := server.DidSave(doc.FileName); err != nil {
		s.logger.Debug("didSave not delivered", "path", doc.FileName, "error", err)
	}
}

// =============================================================================
// NOTIFICATIONS
// =============================================================================

// revealThreshold maps reveal_output_on to the least severe message type
// that is revealed. Zero reveals nothing.
func revealThreshold(level string) lsp.MessageType {
	switch level {
	case "error":
		return lsp.MessageTypeError
	case "warn":
		return lsp.MessageTypeWarning
	case "never":
		return 0
	default:
		return lsp.MessageTypeInfo
	}
}

func (s *ProtocolClientSession) handleNotification(method string, params json.RawMessage) {
	if method != lsp.MethodLogMessage && method != lsp.MethodShowMessage {
		s.logger.Debug("server notification", "method", method)
		return
	}

	var msg lsp.LogMessageParams
	if err := json.Unmarshal(params, &msg); err != nil {
		s.logger.Debug("malformed window message", "method", method, "error", err)
		return
	}

	threshold := revealThreshold(s.opts.RevealOutputOn)
	reveal := threshold != 0 && msg.Type >= lsp.MessageTypeError && msg.Type <= threshold
	if !reveal {
		s.logger.Debug(msg.Message, "method", method, "type", msg.Type.String(), "reveal", false)
		return
	}

	level := logging.LevelInfo
	switch msg.Type {
	case lsp.MessageTypeError:
		level = logging.LevelError
	case lsp.MessageTypeWarning:
		level = logging.LevelWarn
	}
	s.logger.Log(level, msg.Message, "method", method, "type", msg.Type.String(), "reveal", true)
	recordRevealed(context.Background(), msg.Type.String())
	s.bus.Publish(host.Event{
		Type:    host.EventSession,
		Mode:    KindProtocolClient.String(),
		Level:   msg.Type.String(),
		Message: msg.Message,
	})
}

func (s *ProtocolClientSession) handleExit(err error) {
	s.publish("crashed", err)
}

func (s *ProtocolClientSession) publish(state string, err error) {
	ev := host.Event{
		Type:  host.EventSession,
		Mode:  KindProtocolClient.String(),
		State: state,
	}
	if err != nil {
		ev.Error = err.Error()
	}
	s.bus.Publish(ev)
}
