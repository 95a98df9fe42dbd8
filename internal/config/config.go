// Package config loads spraydryfs settings from a YAML file. Command-line
// flags are applied on top by the commands that own them.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable the commands share.
type Config struct {
	Store StoreConfig `yaml:"store"`
	Mount MountConfig `yaml:"mount"`
	Log   LogConfig   `yaml:"log"`
	// MetricsAddr serves Prometheus metrics while mounted; empty disables it.
	MetricsAddr string `yaml:"metrics_addr"`
}

type StoreConfig struct {
	Path       string `yaml:"path"`
	InMemory   bool   `yaml:"in_memory"`
	SyncWrites bool   `yaml:"sync_writes"`
	// ChunkCacheMB bounds the verified-chunk cache; 0 disables it.
	ChunkCacheMB int `yaml:"chunk_cache_mb"`
}

type MountConfig struct {
	PathCacheEntries int64         `yaml:"path_cache_entries"`
	MaxDepth         int           `yaml:"max_depth"`
	AttrValidity     time.Duration `yaml:"attr_validity"`
	AllowOther       bool          `yaml:"allow_other"`
}

type LogConfig struct {
	Level   string `yaml:"level"`
	NoColor bool   `yaml:"no_color"`
}

// Default returns the settings used when no file is given.
func Default() Config {
	return Config{
		Store: StoreConfig{
			ChunkCacheMB: 256,
		},
		Mount: MountConfig{
			PathCacheEntries: 100_000,
			MaxDepth:         256,
			AttrValidity:     time.Minute,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects values no component can run with.
func (c Config) Validate() error {
	var errs []error
	if c.Store.ChunkCacheMB < 0 {
		errs = append(errs, fmt.Errorf("store.chunk_cache_mb must not be negative"))
	}
	if c.Mount.PathCacheEntries <= 0 {
		errs = append(errs, fmt.Errorf("mount.path_cache_entries must be positive"))
	}
	if c.Mount.MaxDepth <= 0 {
		errs = append(errs, fmt.Errorf("mount.max_depth must be positive"))
	}
	if c.Mount.AttrValidity < 0 {
		errs = append(errs, fmt.Errorf("mount.attr_validity must not be negative"))
	}
	return errors.Join(errs...)
}
