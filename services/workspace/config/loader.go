// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix for environment overrides, e.g.
// FERRULE_ACTION_ON_SAVE=check or FERRULE_LOGGING_LEVEL=debug.
const EnvPrefix = "FERRULE"

// WorkspaceConfigName is the per-workspace config file name.
const WorkspaceConfigName = ".ferrule.yaml"

// configValidate validates loaded configs. Field paths use mapstructure
// names so errors read like the YAML keys.
var configValidate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("mapstructure"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// DefaultConfigPath returns $XDG_CONFIG_HOME/ferrule/config.yaml (or the
// platform equivalent).
func DefaultConfigPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve user config dir: %w", err)
	}
	return filepath.Join(dir, "ferrule", "config.yaml"), nil
}

// ResolvePath picks the config file to load.
//
// Order: explicit path, <workspace>/.ferrule.yaml when it exists, then
// DefaultConfigPath. The returned file need not exist.
func ResolvePath(explicit, workspace string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if workspace != "" {
		candidate := filepath.Join(workspace, WorkspaceConfigName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return DefaultConfigPath()
}

// Load reads configuration from path.
//
// A missing file is not an error: defaults (legacy mode) apply, with
// FERRULE_* overrides. A present file must carry config_version.
//
// Errors:
//
//	ErrUnsupportedVersion - config_version missing or not CurrentConfigVersion
//	ErrInvalidConfig - a field failed validation
func Load(path string) (Config, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return Config{}, err
		}
		path = defaultPath
	}

	cfg := DefaultConfig()

	v := newViper(path, cfg)

	configLoaded := false
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		configLoaded = true
	}

	if configLoaded {
		// IsSet also sees defaults; the key must come from the file.
		if !v.InConfig("config_version") {
			return Config{}, fmt.Errorf("%w: config_version is required; expected %d", ErrUnsupportedVersion, CurrentConfigVersion)
		}
		if got := v.GetInt("config_version"); got != CurrentConfigVersion {
			return Config{}, fmt.Errorf("%w: config_version %d; expected %d", ErrUnsupportedVersion, got, CurrentConfigVersion)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config %s: %w", path, err)
	}

	if configLoaded {
		if err := restoreEnvCase(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	normalize(&cfg)

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// newViper builds a viper instance with defaults and env overrides.
//
// protocol_client has no defaults so that its absence stays observable.
func newViper(path string, cfg Config) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("config_version", cfg.ConfigVersion)
	v.SetDefault("workspace_root", cfg.WorkspaceRoot)
	v.SetDefault("rust_source_path", cfg.RustSourcePath)
	v.SetDefault("action_on_save", cfg.ActionOnSave)
	v.SetDefault("cargo.binary", cfg.Cargo.Binary)
	v.SetDefault("legacy.racer_path", cfg.Legacy.RacerPath)
	v.SetDefault("legacy.rustfmt_path", cfg.Legacy.RustfmtPath)
	v.SetDefault("legacy.rustsym_path", cfg.Legacy.RustsymPath)
	v.SetDefault("legacy.minimum_cargo_version", cfg.Legacy.MinimumCargoVersion)
	v.SetDefault("watcher.enabled", cfg.Watcher.Enabled)
	v.SetDefault("watcher.debounce_ms", cfg.Watcher.DebounceMS)
	v.SetDefault("bridge.enabled", cfg.Bridge.Enabled)
	v.SetDefault("bridge.addr", cfg.Bridge.Addr)
	v.SetDefault("bridge.requests_per_second", cfg.Bridge.RequestsPerSecond)
	v.SetDefault("bridge.burst", cfg.Bridge.Burst)
	v.SetDefault("telemetry.trace_exporter", cfg.Telemetry.TraceExporter)
	v.SetDefault("telemetry.metric_exporter", cfg.Telemetry.MetricExporter)
	v.SetDefault("telemetry.otlp_endpoint", cfg.Telemetry.OTLPEndpoint)
	v.SetDefault("telemetry.otlp_insecure", cfg.Telemetry.OTLPInsecure)
	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("logging.log_dir", cfg.Logging.LogDir)
	return v
}

// envSections captures the environment maps with their original key case.
type envSections struct {
	ProtocolClient *struct {
		Env map[string]string `yaml:"env"`
	} `yaml:"protocol_client"`
	Cargo struct {
		Env map[string]string `yaml:"env"`
	} `yaml:"cargo"`
}

// restoreEnvCase re-reads environment maps from the raw YAML. viper folds
// map keys to lower case, which breaks variables like RUST_SRC_PATH.
func restoreEnvCase(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	var raw envSections
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	if cfg.ProtocolClient != nil && raw.ProtocolClient != nil {
		cfg.ProtocolClient.Env = raw.ProtocolClient.Env
	}
	if raw.Cargo.Env != nil {
		cfg.Cargo.Env = raw.Cargo.Env
	}
	return nil
}

// normalize expands environment references in paths and fills defaults
// that depend on other fields.
func normalize(cfg *Config) {
	cfg.WorkspaceRoot = expandPath(cfg.WorkspaceRoot)
	cfg.RustSourcePath = expandPath(cfg.RustSourcePath)
	cfg.ActionOnSave = strings.TrimSpace(cfg.ActionOnSave)
	cfg.Cargo.Binary = expandPath(cfg.Cargo.Binary)
	cfg.Legacy.RacerPath = expandPath(cfg.Legacy.RacerPath)
	cfg.Legacy.RustfmtPath = expandPath(cfg.Legacy.RustfmtPath)
	cfg.Legacy.RustsymPath = expandPath(cfg.Legacy.RustsymPath)
	cfg.Logging.LogDir = expandPath(cfg.Logging.LogDir)

	if pc := cfg.ProtocolClient; pc != nil {
		pc.Executable = expandPath(pc.Executable)
		if pc.RevealOutputOn == "" {
			pc.RevealOutputOn = "info"
		}
	}
}

// expandPath expands $VARS and a leading ~.
func expandPath(value string) string {
	if value == "" {
		return value
	}
	value = os.ExpandEnv(value)
	if value == "~" || strings.HasPrefix(value, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			value = filepath.Join(home, strings.TrimPrefix(value, "~"))
		}
	}
	return value
}

// Validate checks cfg against its validation tags.
//
// Each failing field is reported with its YAML path, e.g.
// "protocol_client.executable: required".
func Validate(cfg Config) error {
	err := configValidate.Struct(cfg)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "Config.")
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: %s=%s (got %v)", field, fe.Tag(), fe.Param(), fe.Value()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s: %s", field, fe.Tag()))
		}
	}
	return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
}
