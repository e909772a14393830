// Package config loads Hypershard runtime configuration from YAML.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds all Hypershard runtime settings.
type Config struct {
	// DatabasePath locates the SQLite checkpoint store.
	DatabasePath string `yaml:"database_path"`

	// MaxConcurrentShards bounds concurrent shard dispatch.
	MaxConcurrentShards int `yaml:"max_concurrent_shards"`

	// ProofSampleSize is how many inclusion proofs are sampled when
	// certifying a plan's Merkle root.
	ProofSampleSize int `yaml:"proof_sample_size"`

	// WatchDir is scanned by the watch command for dropped-in plan
	// documents.
	WatchDir string `yaml:"watch_dir"`

	Logging LoggingConfig `yaml:"logging"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level       string `yaml:"level"`       // debug, info, warn, error
	Development bool   `yaml:"development"` // console encoder, caller info
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		DatabasePath:        "hypershard.db",
		MaxConcurrentShards: 8,
		ProofSampleSize:     10,
		WatchDir:            "plans",
		Logging:             LoggingConfig{Level: "info"},
	}
}

// Load reads a YAML config file, filling unset fields with defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.MaxConcurrentShards <= 0 {
		cfg.MaxConcurrentShards = 8
	}
	if cfg.ProofSampleSize <= 0 {
		cfg.ProofSampleSize = 10
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	return cfg, nil
}
