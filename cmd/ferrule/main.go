// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command ferrule runs cargo tasks and a Rust language server for a
// workspace.
//
// Usage:
//
//	ferrule serve --workspace ~/src/mycrate
//	ferrule serve --active src/main.rs --no-watch
//	ferrule config init
//	ferrule config show
//	ferrule doctor
//
// Editors talk to `ferrule serve` over the local bridge:
//
//	curl http://127.0.0.1:27631/v1/health
//	curl -X POST http://127.0.0.1:27631/v1/editor/saved -d '{"path":"src/main.rs"}'
//	curl -X POST http://127.0.0.1:27631/v1/tasks/clippy
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/AleutianAI/ferrule/pkg/logging"
	"github.com/AleutianAI/ferrule/pkg/ux"
	"github.com/AleutianAI/ferrule/services/process"
	"github.com/AleutianAI/ferrule/services/workspace/config"
	"github.com/spf13/cobra"
)

// Set with -ldflags "-X main.version=...".
var version = "dev"

// newProcessManager is replaced in tests.
var newProcessManager = func() process.Manager { return process.NewDefaultManager() }

// errReported means the command already printed its failure.
var errReported = errors.New("reported")

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		if !errors.Is(err, errReported) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}

// rootOptions are the persistent flags.
type rootOptions struct {
	configPath string
	workspace  string
	logLevel   string

	stdout io.Writer
	stderr io.Writer
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &rootOptions{stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:           "ferrule",
		Short:         "Cargo tasks and a Rust language server for your editor",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (default: <workspace>/.ferrule.yaml, then the user config dir)")
	root.PersistentFlags().StringVarP(&opts.workspace, "workspace", "w", "", "workspace root (default: workspace_root from config, then the current directory)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")

	root.AddCommand(
		newServeCmd(opts),
		newConfigCmd(opts),
		newDoctorCmd(opts),
		newVersionCmd(opts),
	)
	return root
}

// workspaceConfig is a loaded configuration and where it came from.
type workspaceConfig struct {
	cfg  config.Config
	path string
	root string
}

// load resolves the workspace root and loads its configuration.
//
// The root comes from --workspace, then workspace_root, then the
// current directory. The result's cfg.WorkspaceRoot is the absolute root.
func (o *rootOptions) load() (workspaceConfig, error) {
	root := o.workspace
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return workspaceConfig{}, fmt.Errorf("get working directory: %w", err)
		}
		root = wd
	}

	path, err := config.ResolvePath(o.configPath, root)
	if err != nil {
		return workspaceConfig{}, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return workspaceConfig{}, err
	}

	if o.workspace == "" && cfg.WorkspaceRoot != "" {
		root = cfg.WorkspaceRoot
	}
	root, err = filepath.Abs(root)
	if err != nil {
		return workspaceConfig{}, fmt.Errorf("resolve workspace root: %w", err)
	}
	cfg.WorkspaceRoot = root
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	return workspaceConfig{cfg: cfg, path: path, root: root}, nil
}

// newLogger builds the root logger from the logging section.
//
// Format "auto" writes JSON when stderr is not a terminal.
func (o *rootOptions) newLogger(cfg config.LoggingConfig) (*logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	jsonOut := cfg.Format == "json"
	if cfg.Format == "" || cfg.Format == "auto" {
		jsonOut = true
		if f, ok := o.stderr.(*os.File); ok && ux.IsTerminal(f) {
			jsonOut = false
		}
	}

	return logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.LogDir,
		Service: "ferrule",
		JSON:    jsonOut,
		Output:  o.stderr,
	}), nil
}
