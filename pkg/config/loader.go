package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Initialize loads, merges and validates the running configuration. This
// is the primary entry point used by cmd/secauditd.
//
// Steps:
//  1. Start from the built-in defaults.
//  2. Load secaudit.yaml from configDir, if present, expanding env vars.
//  3. Merge the loaded document over the defaults (user values win).
//  4. Validate the result.
func Initialize(_ context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("initializing configuration")

	cfg := defaultConfig()
	cfg.configDir = configDir

	path := filepath.Join(configDir, "secaudit.yaml")
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		data = ExpandEnv(data)
		var loaded Config
		if err := yaml.Unmarshal(data, &loaded); err != nil {
			return nil, NewLoadError(path, fmt.Errorf("%w: %v", ErrInvalidYAML, err))
		}
		if err := mergo.Merge(cfg, loaded, mergo.WithOverride); err != nil {
			return nil, NewLoadError(path, err)
		}
		log.Info("loaded configuration overrides", "file", path)
	case os.IsNotExist(err):
		log.Warn("no secaudit.yaml found, using built-in defaults", "file", path)
	default:
		return nil, NewLoadError(path, err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	log.Info("configuration initialized",
		"llm_provider", cfg.LLM.Provider,
		"roles", len(cfg.Roles))
	return cfg, nil
}
