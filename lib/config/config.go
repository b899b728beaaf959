// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for runnerguard.
//
// Configuration is loaded from a single file specified by:
//   - the --config flag passed to the command, or
//   - the RUNNERGUARD_CONFIG environment variable.
//
// There are no fallbacks or automatic discovery. This ensures
// deterministic, auditable configuration with no hidden overrides.
// When neither source is set, the zero config is used and every value
// falls back to its built-in default. Command-line flags always win
// over config file values.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds the defaults file for runnerguard invocations.
type Config struct {
	// AgentBinary is the agent executable name or path. Defaults to
	// "codex".
	AgentBinary string `yaml:"agent_binary"`

	// CodexHome overrides the agent's configuration directory.
	CodexHome string `yaml:"codex_home"`

	// Model is the default model override passed to the agent.
	Model string `yaml:"model"`

	// SandboxMode is the default sandbox policy requested for the
	// agent.
	SandboxMode string `yaml:"sandbox_mode"`

	// DropSudo configures the privilege-revocation defaults.
	DropSudo DropSudoConfig `yaml:"drop_sudo"`
}

// DropSudoConfig holds defaults for the drop-sudo operation.
type DropSudoConfig struct {
	// User is the account stripped of elevated access. Defaults to
	// "runner".
	User string `yaml:"user"`

	// Group is the elevation group. Defaults to "sudo".
	Group string `yaml:"group"`
}

// Load resolves the configuration from flagPath or, when that is
// empty, the RUNNERGUARD_CONFIG environment variable. When neither is
// set the zero Config is returned.
func Load(flagPath string) (*Config, error) {
	path := flagPath
	if path == "" {
		path = os.Getenv("RUNNERGUARD_CONFIG")
	}
	if path == "" {
		return &Config{}, nil
	}
	return LoadFile(path)
}

// LoadFile reads and parses the config file at path. Unknown fields
// are rejected so a typo cannot silently disable a setting.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	var c Config
	if err := decoder.Decode(&c); err != nil {
		if errors.Is(err, io.EOF) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return &c, nil
}
