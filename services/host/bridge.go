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

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/AleutianAI/ferrule/pkg/logging"
	"github.com/AleutianAI/ferrule/pkg/telemetry"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/time/rate"
)

// =============================================================================
// TYPES
// =============================================================================

// CommandRunner runs a named user command.
//
// RunCommand returns an error wrapping ErrUnknownCommand for names it
// does not handle.
type CommandRunner interface {
	RunCommand(name string) error
}

// Status is the session summary reported by GET /v1/editor/state.
type Status struct {
	Mode         string `json:"mode"`
	SessionState string `json:"session_state,omitempty"`
	ActionOnSave string `json:"action_on_save,omitempty"`
	Workspace    string `json:"workspace,omitempty"`
}

// BridgeConfig configures the HTTP bridge.
type BridgeConfig struct {
	// Addr is the listen address, e.g. 127.0.0.1:27631.
	Addr string

	// RequestsPerSecond limits API requests. Zero disables limiting.
	RequestsPerSecond float64

	// Burst is the limiter bucket size. Zero with a positive rate uses 1.
	Burst int

	// ServiceName tags request spans.
	ServiceName string

	// Version is reported by /v1/health.
	Version string

	// Metrics, when set, is served at GET /metrics.
	Metrics http.Handler
}

// BridgeDeps are the host components the bridge drives.
type BridgeDeps struct {
	Loop   *Loop
	Editor *Editor
	Bus    *Bus

	// Runner handles POST /v1/tasks/:kind. May be nil.
	Runner CommandRunner

	// Status reports session state. May be nil.
	Status func() Status
}

// ActiveRequest is the body of POST /v1/editor/active.
//
// An empty Path clears the active document.
type ActiveRequest struct {
	Path       string `json:"path" validate:"omitempty,max=4096"`
	ID         string `json:"id,omitempty" validate:"max=4096"`
	LanguageID string `json:"language_id,omitempty" validate:"max=64"`
}

// SavedRequest is the body of POST /v1/editor/saved.
type SavedRequest struct {
	Path       string `json:"path" validate:"required,max=4096"`
	ID         string `json:"id,omitempty" validate:"max=4096"`
	LanguageID string `json:"language_id,omitempty" validate:"max=64"`
}

// HealthResponse is returned by GET /v1/health.
type HealthResponse struct {
	Status    string    `json:"status"`
	Version   string    `json:"version,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// StateResponse is returned by GET /v1/editor/state.
type StateResponse struct {
	Active *Document `json:"active"`
	Status Status    `json:"status"`
}

// TaskResponse is returned by POST /v1/tasks/:kind.
type TaskResponse struct {
	Task     string `json:"task"`
	Accepted bool   `json:"accepted"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is the error code (optional).
	Code string `json:"code,omitempty"`
}

// requestValidate validates bridge request bodies.
var requestValidate *validator.Validate

func init() {
	requestValidate = validator.New()
}

// Validate checks the request fields.
func (r *ActiveRequest) Validate() error {
	return requestValidate.Struct(r)
}

// Validate checks the request fields.
func (r *SavedRequest) Validate() error {
	return requestValidate.Struct(r)
}

// =============================================================================
// BRIDGE
// =============================================================================

// Bridge is the local HTTP API editors use to drive ferrule.
//
// Endpoints:
//
//	GET  /v1/health - Liveness
//	GET  /v1/editor/state - Active document and session status
//	POST /v1/editor/active - Set or clear the active document
//	POST /v1/editor/saved - Report a document save
//	POST /v1/tasks/:kind - Run a cargo task as a user command
//	GET  /v1/editor/events - Websocket stream of bus events
//	GET  /metrics - Prometheus metrics, when configured
//
// Editor state changes are applied on the Loop, so they are ordered with
// watcher saves.
type Bridge struct {
	cfg    BridgeConfig
	deps   BridgeDeps
	logger *logging.Logger
	router *gin.Engine
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 16 * 1024,
}

// NewBridge builds the router. Nil logger discards.
func NewBridge(cfg BridgeConfig, deps BridgeDeps, logger *logging.Logger) *Bridge {
	if logger == nil {
		logger = logging.Nop()
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "ferrule"
	}
	b := &Bridge{cfg: cfg, deps: deps, logger: logger}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.ServiceName))
	if limiter := newRateLimiter(cfg.RequestsPerSecond, cfg.Burst); limiter != nil {
		router.Use(rateLimitMiddleware(limiter))
	}

	v1 := router.Group("/v1")
	{
		v1.GET("/health", b.HandleHealth)

		editor := v1.Group("/editor")
		{
			editor.GET("/state", b.HandleState)
			editor.POST("/active", b.HandleActive)
			editor.POST("/saved", b.HandleSaved)
			editor.GET("/events", b.HandleEvents)
		}

		v1.POST("/tasks/:kind", b.HandleTask)
	}
	if cfg.Metrics != nil {
		router.GET("/metrics", gin.WrapH(cfg.Metrics))
	}

	b.router = router
	return b
}

// Handler returns the bridge's http.Handler.
func (b *Bridge) Handler() http.Handler {
	return b.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (b *Bridge) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", b.cfg.Addr)
	if err != nil {
		return fmt.Errorf("bridge listen %s: %w", b.cfg.Addr, err)
	}
	return b.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (b *Bridge) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           b.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		b.logger.Info("editor bridge listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("bridge serve: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			b.logger.Warn("bridge shutdown incomplete", "error", err)
			_ = srv.Close()
		}
		return nil
	}
}

// =============================================================================
// HANDLERS
// =============================================================================

// HandleHealth handles GET /v1/health.
func (b *Bridge) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "healthy",
		Version:   b.cfg.Version,
		Timestamp: time.Now().UTC(),
	})
}

// HandleState handles GET /v1/editor/state.
func (b *Bridge) HandleState(c *gin.Context) {
	resp := StateResponse{Active: b.deps.Editor.Active()}
	if b.deps.Status != nil {
		resp.Status = b.deps.Status()
	}
	c.JSON(http.StatusOK, resp)
}

// HandleActive handles POST /v1/editor/active.
//
// Response:
//
//	200 OK: StateResponse
//	400 Bad Request: Invalid body
//	503 Service Unavailable: Event loop stopped
func (b *Bridge) HandleActive(c *gin.Context) {
	logger := b.requestLogger(c, "HandleActive")

	var req ActiveRequest
	if !b.bind(c, logger, &req, req.Validate) {
		return
	}

	var doc *Document
	if req.Path != "" {
		d := b.documentFrom(req.Path, req.ID, req.LanguageID)
		doc = &d
	}

	err := b.deps.Loop.Call(c.Request.Context(), func() {
		b.deps.Editor.SetActive(doc)
	})
	if err != nil {
		b.loopUnavailable(c, logger, err)
		return
	}
	logger.Debug("active document changed", "path", req.Path)
	b.HandleState(c)
}

// HandleSaved handles POST /v1/editor/saved.
//
// Response:
//
//	202 Accepted: Document
//	400 Bad Request: Invalid body
//	503 Service Unavailable: Event loop stopped
func (b *Bridge) HandleSaved(c *gin.Context) {
	logger := b.requestLogger(c, "HandleSaved")

	var req SavedRequest
	if !b.bind(c, logger, &req, req.Validate) {
		return
	}
	doc := b.documentFrom(req.Path, req.ID, req.LanguageID)

	if !b.deps.Loop.Post(func() {
		b.deps.Bus.Publish(Event{Type: EventDocumentSaved, Path: doc.FileName})
		b.deps.Editor.Save(doc)
	}) {
		b.loopUnavailable(c, logger, ErrLoopStopped)
		return
	}
	c.JSON(http.StatusAccepted, doc)
}

// HandleTask handles POST /v1/tasks/:kind.
//
// Response:
//
//	202 Accepted: TaskResponse
//	400 Bad Request: Unknown task kind
//	501 Not Implemented: No runner configured
//	503 Service Unavailable: Event loop stopped
func (b *Bridge) HandleTask(c *gin.Context) {
	logger := b.requestLogger(c, "HandleTask")
	kind := strings.ToLower(strings.TrimSpace(c.Param("kind")))

	if b.deps.Runner == nil {
		c.JSON(http.StatusNotImplemented, ErrorResponse{
			Error: ErrNoCommandRunner.Error(),
			Code:  "NO_RUNNER",
		})
		return
	}

	var runErr error
	err := b.deps.Loop.Call(c.Request.Context(), func() {
		runErr = b.deps.Runner.RunCommand(kind)
	})
	if err != nil {
		b.loopUnavailable(c, logger, err)
		return
	}
	if runErr != nil {
		status, code := http.StatusInternalServerError, "TASK_FAILED"
		if errors.Is(runErr, ErrUnknownCommand) {
			status, code = http.StatusBadRequest, "UNKNOWN_TASK"
		}
		logger.Warn("task command rejected", "task", kind, "error", runErr)
		c.JSON(status, ErrorResponse{Error: runErr.Error(), Code: code})
		return
	}
	c.JSON(http.StatusAccepted, TaskResponse{Task: kind, Accepted: true})
}

// HandleEvents handles GET /v1/editor/events.
//
// Upgrades to a websocket and streams bus events as JSON until the client
// disconnects or the request context ends.
func (b *Bridge) HandleEvents(c *gin.Context) {
	logger := b.requestLogger(c, "HandleEvents")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	events, cancel := b.deps.Bus.Subscribe()
	defer cancel()
	logger.Debug("event stream client connected")

	// Reader goroutine only detects the client going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-closed:
			logger.Debug("event stream client disconnected")
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			_ = ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := ws.WriteJSON(ev); err != nil {
				logger.Debug("event stream write failed", "error", err)
				return
			}
		}
	}
}

// =============================================================================
// HELPERS
// =============================================================================

func (b *Bridge) documentFrom(path, id, languageID string) Document {
	doc := b.deps.Editor.DocumentFor(path)
	if id != "" {
		doc.ID = id
	}
	if languageID != "" {
		doc.LanguageID = languageID
	}
	return doc
}

func (b *Bridge) bind(c *gin.Context, logger *logging.Logger, req any, validate func() error) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		logger.Warn("invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return false
	}
	if err := validate(); err != nil {
		logger.Warn("request validation failed", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: err.Error(),
			Code:  "VALIDATION_FAILED",
		})
		return false
	}
	return true
}

func (b *Bridge) loopUnavailable(c *gin.Context, logger *logging.Logger, err error) {
	logger.Warn("event loop unavailable", "error", err)
	c.JSON(http.StatusServiceUnavailable, ErrorResponse{
		Error: err.Error(),
		Code:  "LOOP_UNAVAILABLE",
	})
}

func (b *Bridge) requestLogger(c *gin.Context, handler string) *logging.Logger {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	logger := telemetry.LoggerWithTrace(c.Request.Context(), b.logger)
	return logger.With("request_id", requestID, "handler", handler)
}

// =============================================================================
// RATE LIMITING
// =============================================================================

func newRateLimiter(rps float64, burst int) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

// rateLimitMiddleware rejects requests over the limit with 429. The
// event stream and health check are exempt.
func rateLimitMiddleware(limiter *rate.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.FullPath() {
		case "/v1/health", "/v1/editor/events":
			c.Next()
			return
		}
		if !limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{
				Error: "rate limit exceeded",
				Code:  "RATE_LIMITED",
			})
			return
		}
		c.Next()
	}
}
