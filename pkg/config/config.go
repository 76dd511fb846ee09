// Package config loads and validates the run configuration: which
// inventory to reconcile, which projection rules to use, where the
// identity state lives and how the backend is reached.
package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the full run configuration.
type Config struct {
	// Inventory is the path to the desired-state inventory file.
	Inventory string `yaml:"inventory" validate:"required"`

	// Rules is the path to the projection rule set. Empty means no
	// projection.
	Rules string `yaml:"rules"`

	// State is the path to the identity store database.
	State string `yaml:"state" validate:"required"`

	// AllowDelete enables delete execution during apply.
	AllowDelete bool `yaml:"allow_delete"`

	// Backend selects and configures the backend adapter.
	Backend BackendConfig `yaml:"backend"`

	// Log configures structured logging.
	Log LogConfig `yaml:"log"`

	// Tracing enables span export to stdout.
	Tracing bool `yaml:"tracing"`

	// MetricsAddr serves Prometheus metrics on this address for the
	// lifetime of a command. Empty disables the endpoint.
	MetricsAddr string `yaml:"metrics_addr"`
}

// BackendConfig selects a backend adapter.
type BackendConfig struct {
	// Name is the adapter name. Only "memory" is built in.
	Name string `yaml:"name" validate:"required,oneof=memory"`

	// Snapshot is the path the memory adapter loads and saves its
	// records from. Empty means it starts empty and persists nothing.
	Snapshot string `yaml:"snapshot"`

	// StringIDs makes the memory adapter assign opaque string ids
	// instead of sequential ints.
	StringIDs bool `yaml:"string_ids"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=trace debug info warn error"`
	Format string `yaml:"format" validate:"oneof=console json"`
}

// Default returns the configuration used before any file or flag
// overrides it.
func Default() *Config {
	return &Config{
		Inventory: "inventory.yaml",
		Rules:     "",
		State:     "crucible.db",
		Backend: BackendConfig{
			Name: "memory",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads a configuration file over the defaults and validates the
// result.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}
	return nil
}
