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
	"regexp"
	"strings"
	"time"

	"github.com/AleutianAI/ferrule/services/process"
	"github.com/AleutianAI/ferrule/services/workspace/config"
	"golang.org/x/mod/semver"
)

// versionProbeTimeout bounds `cargo --version`.
const versionProbeTimeout = 10 * time.Second

// ToolStatus is the result of looking up one legacy tool.
type ToolStatus struct {
	Name  string
	Path  string
	Found bool
	Hint  string
}

// ToolchainReport summarises the toolchain the legacy session relies on.
type ToolchainReport struct {
	Tools []ToolStatus

	// CargoVersion is the semver reported by cargo, e.g. "v1.79.0".
	// Empty when cargo could not be run.
	CargoVersion string

	// MinimumCargoVersion is the configured floor in semver form.
	MinimumCargoVersion string

	// CargoError is set when `cargo --version` failed.
	CargoError error
}

// CargoTooOld reports whether cargo is older than the configured minimum.
func (r ToolchainReport) CargoTooOld() bool {
	if r.CargoVersion == "" || r.MinimumCargoVersion == "" {
		return false
	}
	return semver.Compare(r.CargoVersion, r.MinimumCargoVersion) < 0
}

// Missing returns the tools that were not found.
func (r ToolchainReport) Missing() []ToolStatus {
	var out []ToolStatus
	for _, t := range r.Tools {
		if !t.Found {
			out = append(out, t)
		}
	}
	return out
}

// legacyTool is a tool legacy mode depends on and how to install it.
type legacyTool struct {
	name string
	path func(config.LegacyConfig) string
	hint string
}

var legacyTools = []legacyTool{
	{
		name: "racer",
		path: func(c config.LegacyConfig) string { return c.RacerPath },
		hint: "cargo install racer",
	},
	{
		name: "rustfmt",
		path: func(c config.LegacyConfig) string { return c.RustfmtPath },
		hint: "rustup component add rustfmt",
	},
	{
		name: "rustsym",
		path: func(c config.LegacyConfig) string { return c.RustsymPath },
		hint: "cargo install rustsym",
	},
}

var cargoVersionRe = regexp.MustCompile(`^cargo\s+(\d+\.\d+\.\d+(?:-[0-9A-Za-z.-]+)?)`)

// ParseCargoVersion extracts the semver from `cargo --version` output.
//
// "cargo 1.79.0 (ffa9cf99a 2024-06-03)" gives "v1.79.0". Returns "" when
// the output is not recognised.
func ParseCargoVersion(output string) string {
	m := cargoVersionRe.FindStringSubmatch(strings.TrimSpace(output))
	if m == nil {
		return ""
	}
	v := "v" + m[1]
	if !semver.IsValid(v) {
		return ""
	}
	return v
}

// canonicalVersion turns "1.56" or "v1.56.0" into "v1.56.0", or "".
func canonicalVersion(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return ""
	}
	return semver.Canonical(v)
}

// ProbeToolchain looks up the legacy tools and cargo's version.
//
// It never fails; problems are recorded in the report.
func ProbeToolchain(ctx context.Context, proc process.Manager, cfg config.Config) ToolchainReport {
	report := ToolchainReport{
		MinimumCargoVersion: canonicalVersion(cfg.Legacy.MinimumCargoVersion),
	}

	for _, tool := range legacyTools {
		name := tool.path(cfg.Legacy)
		if name == "" {
			name = tool.name
		}
		status := ToolStatus{Name: tool.name, Hint: tool.hint}
		if path, err := proc.LookPath(name); err == nil {
			status.Path = path
			status.Found = true
		}
		report.Tools = append(report.Tools, status)
	}

	ctx, cancel := context.WithTimeout(ctx, versionProbeTimeout)
	defer cancel()
	out, err := proc.Run(ctx, cfg.Cargo.Binary, "--version")
	if err != nil {
		report.CargoError = err
		return report
	}
	report.CargoVersion = ParseCargoVersion(string(out))
	return report
}
