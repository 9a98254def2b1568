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
	"strings"

	"github.com/AleutianAI/ferrule/pkg/logging"
	"github.com/AleutianAI/ferrule/pkg/ux"
	"github.com/AleutianAI/ferrule/services/cargo"
	"github.com/AleutianAI/ferrule/services/dispatch"
	"github.com/AleutianAI/ferrule/services/process"
	"github.com/AleutianAI/ferrule/services/session"
	"github.com/AleutianAI/ferrule/services/workspace/config"
	"github.com/spf13/cobra"
)

func newDoctorCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check the workspace, configuration and toolchain",
		Long: `Report the mode serve would select, whether its tools are installed,
and whether action_on_save names a task. Exits non-zero when a
problem would stop ferrule from working.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := opts.load()
			if err != nil {
				return err
			}
			p := ux.NewPrinter(opts.stdout)
			if !runDoctor(cmd.Context(), p, ws, newProcessManager()) {
				return errReported
			}
			return nil
		},
	}
}

// runDoctor prints the report and returns false when any check failed.
func runDoctor(ctx context.Context, p *ux.Printer, ws workspaceConfig, proc process.Manager) bool {
	if ctx == nil {
		ctx = context.Background()
	}
	ok := true
	mgr := config.NewManager(ws.cfg, ws.path, proc, logging.Nop())

	p.Title("ferrule doctor")
	p.Field("Workspace", ws.root)
	configNote := ws.path
	if _, err := os.Stat(ws.path); err != nil {
		configNote += " (not found, using defaults)"
	}
	p.Field("Config", configNote)

	pc, protocol := mgr.ProtocolClientConfiguration()
	mode := session.KindLegacy.String()
	if protocol {
		mode = session.KindProtocolClient.String()
	}
	p.Field("Mode", mode)
	p.Blank()

	if _, err := os.Stat(ws.root); err != nil {
		p.Check(ux.IconError, "workspace root", err.Error())
		ok = false
	} else {
		p.Check(ux.IconSuccess, "workspace root", "")
	}

	if protocol {
		if path, err := proc.LookPath(pc.Executable); err != nil {
			p.Check(ux.IconError, pc.Executable, "not found")
			p.Hint("install it or set protocol_client.executable")
			ok = false
		} else {
			p.Check(ux.IconSuccess, pc.Executable, path)
		}
		env := session.ResolveEnvironment(pc.Env, mgr.RustSourcePath())
		if src := env[session.RustSrcPathVar]; src != "" {
			p.Check(ux.IconSuccess, session.RustSrcPathVar, src)
		} else {
			p.Check(ux.IconWarning, session.RustSrcPathVar, "not resolved")
			p.Hint("rustup component add rust-src")
		}
	} else {
		report := session.ProbeToolchain(ctx, proc, ws.cfg)
		for _, tool := range report.Tools {
			if tool.Found {
				p.Check(ux.IconSuccess, tool.Name, tool.Path)
				continue
			}
			p.Check(ux.IconWarning, tool.Name, "not found")
			p.Hint(tool.Hint)
		}
		switch {
		case report.CargoError != nil:
			p.Check(ux.IconError, "cargo", report.CargoError.Error())
			ok = false
		case report.CargoVersion == "":
			p.Check(ux.IconWarning, "cargo", "unrecognised version output")
		case report.CargoTooOld():
			p.Check(ux.IconWarning, "cargo "+report.CargoVersion, "older than "+report.MinimumCargoVersion)
			p.Hint("rustup update")
		default:
			p.Check(ux.IconSuccess, "cargo "+report.CargoVersion, "")
		}
	}

	action := mgr.ActionOnSave()
	switch {
	case action == "":
		p.Check(ux.IconPending, "action_on_save", "not set; saves run nothing")
	case dispatch.KnownAction(action):
		p.Check(ux.IconSuccess, "action_on_save", action)
	default:
		p.Check(ux.IconError, "action_on_save", fmt.Sprintf("%q is not a task; saves will run nothing", action))
		p.Hint("use one of " + strings.Join(taskNames(), ", "))
		ok = false
	}

	p.Blank()
	if ok {
		p.Box("Ready: ferrule serve")
	} else {
		p.Box("Problems found")
	}
	return ok
}

func taskNames() []string {
	kinds := cargo.AllTaskKinds()
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = k.String()
	}
	return names
}
