// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/AleutianAI/ferrule/pkg/telemetry"
	"github.com/AleutianAI/ferrule/services/activation"
	"github.com/AleutianAI/ferrule/services/host"
	"github.com/AleutianAI/ferrule/services/workspace/config"
	"github.com/AleutianAI/ferrule/services/workspace/cwd"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// deactivateTimeout bounds shutdown of the session and running task.
const deactivateTimeout = 10 * time.Second

type serveOptions struct {
	active      string
	noWatch     bool
	noBridge    bool
	followSaves bool
	bridgeAddr  string
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	var so serveOptions
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the session, save dispatcher and editor bridge",
		Long: `Activate the workspace and run until interrupted.

The session is chosen once at startup: a language server when the
protocol_client section is configured, legacy mode otherwise. Saves of
the active Rust document run action_on_save. Saves arrive from the
editor bridge and, unless --no-watch is given, from the file watcher.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts, so)
		},
	}
	cmd.Flags().StringVar(&so.active, "active", "", "file to treat as the active editor document")
	cmd.Flags().BoolVar(&so.noWatch, "no-watch", false, "do not watch the workspace for saves")
	cmd.Flags().BoolVar(&so.noBridge, "no-bridge", false, "do not start the editor bridge")
	cmd.Flags().BoolVar(&so.followSaves, "follow-saves", false, "make each file seen by the watcher the active document")
	cmd.Flags().StringVar(&so.bridgeAddr, "bridge-addr", "", "override bridge.addr")
	return cmd
}

func runServe(ctx context.Context, opts *rootOptions, so serveOptions) (err error) {
	ws, err := opts.load()
	if err != nil {
		return err
	}
	cfg := ws.cfg
	if so.bridgeAddr != "" {
		cfg.Bridge.Addr = so.bridgeAddr
	}

	logger, err := opts.newLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Close()

	tel, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    "ferrule",
		ServiceVersion: version,
		TraceExporter:  cfg.Telemetry.TraceExporter,
		MetricExporter: cfg.Telemetry.MetricExporter,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure:   cfg.Telemetry.OTLPInsecure,
		Output:         opts.stderr,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := tel.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("telemetry shutdown failed", "error", shutdownErr)
		}
	}()

	proc := newProcessManager()
	mgr := config.NewManager(cfg, ws.path, proc, logger.Child("Config"))
	mgr.Watch()

	dirs, err := cwd.NewResolver(ws.root)
	if err != nil {
		return err
	}

	editor := host.NewEditor(nil)
	bus := host.NewBus(logger.Child("Bus"))
	loop := host.NewLoop(host.DefaultLoopQueue, logger.Child("Loop"))

	if so.active != "" {
		path := so.active
		if !filepath.IsAbs(path) {
			path = filepath.Join(ws.root, path)
		}
		doc := editor.DocumentFor(path)
		editor.SetActive(&doc)
	}

	ext, err := activation.Activate(ctx, activation.Deps{
		Config:        mgr,
		Dirs:          dirs,
		Editor:        editor,
		Bus:           bus,
		Process:       proc,
		Logger:        logger,
		ClientVersion: version,
	})
	if err != nil {
		return fmt.Errorf("activate: %w", err)
	}
	defer func() {
		deactivateCtx, cancel := context.WithTimeout(context.Background(), deactivateTimeout)
		defer cancel()
		if deactivateErr := ext.Deactivate(deactivateCtx); deactivateErr != nil && err == nil {
			err = deactivateErr
		}
	}()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return loop.Run(gctx)
	})

	if cfg.Bridge.Enabled && !so.noBridge {
		gin.SetMode(gin.ReleaseMode)
		bridge := host.NewBridge(host.BridgeConfig{
			Addr:              cfg.Bridge.Addr,
			RequestsPerSecond: cfg.Bridge.RequestsPerSecond,
			Burst:             cfg.Bridge.Burst,
			ServiceName:       "ferrule",
			Version:           version,
			Metrics:           tel.MetricsHandler(),
		}, host.BridgeDeps{
			Loop:   loop,
			Editor: editor,
			Bus:    bus,
			Runner: ext.Runner(),
			Status: ext.Status,
		}, logger.Child("Bridge"))
		g.Go(func() error {
			return bridge.Run(gctx)
		})
	}

	if cfg.Watcher.Enabled && !so.noWatch {
		wopts := host.DefaultWatcherOptions()
		wopts.Debounce = time.Duration(cfg.Watcher.DebounceMS) * time.Millisecond
		watcher := host.NewWatcher(ws.root, wopts, func(path string) {
			loop.Post(func() {
				doc := editor.DocumentFor(path)
				if so.followSaves {
					editor.SetActive(&doc)
				}
				bus.Publish(host.Event{Type: host.EventDocumentSaved, Path: doc.FileName})
				editor.Save(doc)
			})
		}, logger.Child("Watcher"))
		g.Go(func() error {
			return watcher.Run(gctx)
		})
	}

	logger.Info("ferrule serving",
		"workspace", ws.root,
		"config", ws.path,
		"mode", ext.Status().Mode,
		"bridge", cfg.Bridge.Enabled && !so.noBridge,
		"watcher", cfg.Watcher.Enabled && !so.noWatch)

	err = g.Wait()
	logger.Info("ferrule stopping")
	return err
}
