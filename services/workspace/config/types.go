// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads and serves ferrule's workspace configuration.
//
// Configuration is YAML read through viper, with FERRULE_* environment
// overrides for scalar keys. A Manager holds the current snapshot and can
// watch the file for changes.
//
// The presence of the protocol_client section selects protocol-client mode
// at activation. That decision is never re-evaluated on reload; only
// action_on_save and other per-event values change live.
package config

// CurrentConfigVersion marks the supported config version.
const CurrentConfigVersion = 1

// DefaultBridgeAddr is the loopback address the editor bridge listens on.
const DefaultBridgeAddr = "127.0.0.1:27631"

// Config is the top-level workspace configuration.
type Config struct {
	ConfigVersion  int                   `mapstructure:"config_version" yaml:"config_version" validate:"eq=1"`
	WorkspaceRoot  string                `mapstructure:"workspace_root" yaml:"workspace_root"`
	RustSourcePath string                `mapstructure:"rust_source_path" yaml:"rust_source_path"`
	ActionOnSave   string                `mapstructure:"action_on_save" yaml:"action_on_save"`
	ProtocolClient *ProtocolClientConfig `mapstructure:"protocol_client" yaml:"protocol_client,omitempty"`
	Cargo          CargoConfig           `mapstructure:"cargo" yaml:"cargo"`
	Legacy         LegacyConfig          `mapstructure:"legacy" yaml:"legacy"`
	Watcher        WatcherConfig         `mapstructure:"watcher" yaml:"watcher"`
	Bridge         BridgeConfig          `mapstructure:"bridge" yaml:"bridge"`
	Telemetry      TelemetryConfig       `mapstructure:"telemetry" yaml:"telemetry"`
	Logging        LoggingConfig         `mapstructure:"logging" yaml:"logging"`
}

// ProtocolClientConfig describes the language server to run.
//
// When the section is present the workspace runs in protocol-client mode.
type ProtocolClientConfig struct {
	Executable     string            `mapstructure:"executable" yaml:"executable" validate:"required"`
	Args           []string          `mapstructure:"args" yaml:"args,omitempty"`
	Env            map[string]string `mapstructure:"env" yaml:"env,omitempty"`
	RevealOutputOn string            `mapstructure:"reveal_output_on" yaml:"reveal_output_on" validate:"omitempty,oneof=info warn error never"`
}

// Clone returns a deep copy.
func (p *ProtocolClientConfig) Clone() *ProtocolClientConfig {
	if p == nil {
		return nil
	}
	out := *p
	if p.Args != nil {
		out.Args = append([]string(nil), p.Args...)
	}
	if p.Env != nil {
		out.Env = make(map[string]string, len(p.Env))
		for k, v := range p.Env {
			out.Env[k] = v
		}
	}
	return &out
}

// CargoConfig configures the task runner.
type CargoConfig struct {
	Binary    string              `mapstructure:"binary" yaml:"binary" validate:"required"`
	Env       map[string]string   `mapstructure:"env" yaml:"env,omitempty"`
	ExtraArgs map[string][]string `mapstructure:"extra_args" yaml:"extra_args,omitempty" validate:"omitempty,dive,keys,oneof=build check clippy doc run test,endkeys"`
}

// LegacyConfig configures the legacy session's tool checks.
type LegacyConfig struct {
	RacerPath           string `mapstructure:"racer_path" yaml:"racer_path"`
	RustfmtPath         string `mapstructure:"rustfmt_path" yaml:"rustfmt_path"`
	RustsymPath         string `mapstructure:"rustsym_path" yaml:"rustsym_path"`
	MinimumCargoVersion string `mapstructure:"minimum_cargo_version" yaml:"minimum_cargo_version"`
}

// WatcherConfig configures the filesystem save source.
type WatcherConfig struct {
	Enabled    bool `mapstructure:"enabled" yaml:"enabled"`
	DebounceMS int  `mapstructure:"debounce_ms" yaml:"debounce_ms" validate:"gte=0,lte=10000"`
}

// BridgeConfig configures the editor HTTP bridge.
type BridgeConfig struct {
	Enabled           bool    `mapstructure:"enabled" yaml:"enabled"`
	Addr              string  `mapstructure:"addr" yaml:"addr" validate:"omitempty,hostname_port"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second" validate:"gte=0"`
	Burst             int     `mapstructure:"burst" yaml:"burst" validate:"gte=0"`
}

// TelemetryConfig selects trace and metric exporters.
type TelemetryConfig struct {
	TraceExporter  string `mapstructure:"trace_exporter" yaml:"trace_exporter" validate:"oneof=none stdout otlp"`
	MetricExporter string `mapstructure:"metric_exporter" yaml:"metric_exporter" validate:"oneof=none stdout prometheus"`
	OTLPEndpoint   string `mapstructure:"otlp_endpoint" yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `mapstructure:"otlp_insecure" yaml:"otlp_insecure"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level" validate:"oneof=debug info warn warning error"`
	Format string `mapstructure:"format" yaml:"format" validate:"oneof=auto text json"`
	LogDir string `mapstructure:"log_dir" yaml:"log_dir"`
}

// DefaultConfig returns the configuration used when no file exists.
//
// The default selects legacy mode: there is no protocol_client section.
func DefaultConfig() Config {
	return Config{
		ConfigVersion: CurrentConfigVersion,
		Cargo: CargoConfig{
			Binary: "cargo",
		},
		Legacy: LegacyConfig{
			RacerPath:           "racer",
			RustfmtPath:         "rustfmt",
			RustsymPath:         "rustsym",
			MinimumCargoVersion: "1.56.0",
		},
		Watcher: WatcherConfig{
			Enabled:    true,
			DebounceMS: 100,
		},
		Bridge: BridgeConfig{
			Enabled:           true,
			Addr:              DefaultBridgeAddr,
			RequestsPerSecond: 20,
			Burst:             40,
		},
		Telemetry: TelemetryConfig{
			TraceExporter:  "none",
			MetricExporter: "prometheus",
			OTLPEndpoint:   "localhost:4317",
			OTLPInsecure:   true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}
