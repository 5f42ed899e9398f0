// SPDX-License-Identifier: MIT

// Package config loads and validates the supervisor's run table: the
// declared service commands, the global listen/umask settings, and the
// logger settings, per the layered defaults -> YAML -> environment
// precedence in internal/config/koanf.go.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/tomtom215/svctl/internal/engine"
)

// DefaultConfigPath is where `svctl run` looks for a config file absent
// an explicit -config flag.
const DefaultConfigPath = "/etc/svctl/config.yaml"

// Config is the top-level shape the loader produces: the declared run
// table, supervisor-global settings, and logger settings.
type Config struct {
	Run    map[string]RawService `yaml:"run" koanf:"run"`
	Global GlobalConfig          `yaml:"global" koanf:"global"`
	Log    LogConfig             `yaml:"log" koanf:"log"`
}

// RawService is the on-disk shape of one run entry before defaulting: a
// bare string is promoted to {cmd: <string>}, so every other field must
// stay optional (pointers or zero-meaning-unset).
type RawService struct {
	Cmd          string   `yaml:"cmd" koanf:"cmd"`
	StartRetries *int     `yaml:"start_retries" koanf:"start_retries"`
	RestartDelay *float64 `yaml:"restart_delay" koanf:"restart_delay"`
	StartWait    *float64 `yaml:"start_wait" koanf:"start_wait"`
	StopWait     *float64 `yaml:"stop_wait" koanf:"stop_wait"`
	Umask        *int     `yaml:"umask" koanf:"umask"`
	User         string   `yaml:"user" koanf:"user"`
	Group        string   `yaml:"group" koanf:"group"`
}

// UnmarshalYAML implements the string-or-mapping promotion spec §6
// describes: `run: {a: "a"}` is equivalent to `run: {a: {cmd: "a"}}`. A
// null node (an entry present with no value) decodes to a zero
// RawService, which Build reports as a missing command.
func (r *RawService) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode && value.Tag != "!!null" {
		var s string
		if err := value.Decode(&s); err != nil {
			return err
		}
		r.Cmd = s
		return nil
	}
	if value.Kind == 0 || value.Tag == "!!null" {
		return nil
	}
	type plain RawService
	return value.Decode((*plain)(r))
}

// GlobalConfig holds supervisor-wide settings.
type GlobalConfig struct {
	// Listen is the control endpoint: "unix:/path/to.sock" or "host:port".
	Listen string `yaml:"listen" koanf:"listen"`
	Umask  *int   `yaml:"umask" koanf:"umask"`

	// HealthAddr, when set, binds the /healthz and /metrics endpoints
	// (ambient observability surface, not part of the engine itself).
	HealthAddr string `yaml:"health_addr" koanf:"health_addr"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level    int    `yaml:"level" koanf:"level"`
	File     string `yaml:"file" koanf:"file"`
	TSFormat string `yaml:"ts_format" koanf:"ts_format"`
}

// Default retry value applied when a RawService's start_retries is unset
// (an explicit 0 or negative value is kept), mirroring engine.DefaultStartRetries.
const (
	defaultStartRetries = engine.DefaultStartRetries
)

// Build validates raw and produces the engine-ready service table,
// applying spec defaults and the fatal validation rules:
//
//	run missing/not-a-mapping  -> "Commands must be passed as a HASH ref"
//	run empty                  -> "Missing command list"
//	a falsy entry or one with no cmd -> "Missing command for '<name>'"
func (c *Config) Build() ([]*engine.ServiceConfig, error) {
	if c.Run == nil {
		return nil, fmt.Errorf("Commands must be passed as a HASH ref")
	}
	if len(c.Run) == 0 {
		return nil, fmt.Errorf("Missing command list")
	}

	out := make([]*engine.ServiceConfig, 0, len(c.Run))
	for name, raw := range c.Run {
		if raw.Cmd == "" {
			return nil, fmt.Errorf("Missing command for '%s'", name)
		}

		sc := &engine.ServiceConfig{
			Name:         name,
			Cmd:          raw.Cmd,
			StartRetries: defaultStartRetries,
			RestartDelay: engine.DefaultRestartDelay,
			StartWait:    engine.DefaultStartWait,
			StopWait:     engine.DefaultStopWait,
			Umask:        raw.Umask,
			User:         raw.User,
			Group:        raw.Group,
		}

		if raw.StartRetries != nil {
			sc.StartRetries = *raw.StartRetries
		}
		if d, ok := positiveSeconds(raw.RestartDelay); ok {
			sc.RestartDelay = d
		}
		if d, ok := positiveSeconds(raw.StartWait); ok {
			sc.StartWait = d
		}
		if d, ok := positiveSeconds(raw.StopWait); ok {
			sc.StopWait = d
		}

		out = append(out, sc)
	}

	return out, nil
}

// positiveSeconds converts a config-file seconds value to a duration,
// returning ok=false when the field was unset or non-positive so the
// caller falls back to the spec default.
func positiveSeconds(v *float64) (time.Duration, bool) {
	if v == nil || *v <= 0 {
		return 0, false
	}
	return time.Duration(*v * float64(time.Second)), true
}

// Load reads and parses path, then builds the engine service table.
func Load(path string) (*Config, []*engine.ServiceConfig, error) {
	// #nosec G304 - path is operator-controlled, not web request input
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	services, err := cfg.Build()
	if err != nil {
		return nil, nil, err
	}

	return &cfg, services, nil
}

// Save writes cfg to path atomically: write to a temp file in the same
// directory, fsync, chmod, then rename over the target. os.Rename is
// atomic on the same filesystem, so a crash mid-write leaves either the
// old file or the new one, never a partial one.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	// #nosec G304 - dir derived from operator-controlled path
	tmp, err := os.CreateTemp(dir, ".config.*.yaml")
	if err != nil {
		return fmt.Errorf("failed to create temp config file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("failed to write temp config file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync temp config file: %w", err)
	}
	// #nosec G302 - config may contain service commands/user/group; owner+group only
	if err := tmp.Chmod(0640); err != nil {
		return fmt.Errorf("failed to set config file permissions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp config file: %w", err)
	}
	// #nosec G703 -- path is from CLI flag/config, not web request input
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename temp config file: %w", err)
	}

	success = true
	return nil
}

// IsDebugEnv reports whether SV_DEBUG is set to a truthy value, per
// spec §6: when true the logger level is forced to 8 regardless of the
// configured log.level.
func IsDebugEnv() bool {
	v := os.Getenv("SV_DEBUG")
	switch v {
	case "", "0", "false", "no":
		return false
	default:
		return true
	}
}
