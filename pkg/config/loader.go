package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// configFileName is the broker configuration file inside the config
// directory.
const configFileName = "carapace.yaml"

// Initialize loads, merges, and validates configuration.
//
// Steps performed:
//  1. Read carapace.yaml from configDir (absence falls back to defaults)
//  2. Expand environment variables
//  3. Parse YAML
//  4. Merge with built-in defaults
//  5. Validate
func Initialize(configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)

	cfg := Config{}
	path := filepath.Join(configDir, configFileName)
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		log.Info("No configuration file found, using defaults", "path", path)
	case err != nil:
		return nil, fmt.Errorf("read %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(ExpandEnv(data), &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	defaults := Defaults()
	if err := mergo.Merge(&cfg, defaults); err != nil {
		return nil, fmt.Errorf("merge configuration defaults: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	log.Info("Configuration initialized",
		"socket_dir", cfg.Transport.SocketDir,
		"audit_dir", cfg.Audit.Dir,
		"rate_limit_rpm", cfg.RateLimit.RequestsPerMinute,
		"rate_limit_burst", cfg.RateLimit.BurstSize,
		"restricted_tools", len(cfg.ToolRestrictions))
	return &cfg, nil
}
