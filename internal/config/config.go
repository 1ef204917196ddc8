// Package config provides configuration management for the trace-mcp server.
//
// Configuration controls:
//   - Trace source: the directory holding materialized trace dumps
//   - Output bounds: default scope summary depth and dynamic length ceiling
//   - Decoding: size of the per-session decoded value cache
//   - Observability: log level and optional metrics listen address
//
// Configuration can be loaded from a JSON or YAML file or use sensible defaults.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/ctagard/trace-mcp/internal/errors"
)

// Config holds the server configuration
type Config struct {
	// Directory containing <txHash>.json trace dumps
	TraceDir string `json:"traceDir" yaml:"traceDir"`

	// Output bounds
	MaxDepth         int `json:"maxDepth" yaml:"maxDepth"`
	MaxDynamicLength int `json:"maxDynamicLength" yaml:"maxDynamicLength"`

	// Decoded values cached per session
	DecodeCacheSize int `json:"decodeCacheSize" yaml:"decodeCacheSize"`

	LogLevel    string `json:"logLevel" yaml:"logLevel"`
	MetricsAddr string `json:"metricsAddr" yaml:"metricsAddr"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		TraceDir:         "traces",
		MaxDepth:         3,
		MaxDynamicLength: 4096,
		DecodeCacheSize:  1024,
		LogLevel:         "info",
	}
}

// LoadConfig loads configuration from a JSON or YAML file.
// The format is chosen by file extension; anything other than .yaml/.yml is JSON.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks field ranges
func (c *Config) Validate() error {
	if c.MaxDepth < 0 {
		return errors.ConfigInvalid("maxDepth", "must not be negative")
	}
	if c.MaxDynamicLength <= 0 {
		return errors.ConfigInvalid("maxDynamicLength", "must be positive")
	}
	if c.DecodeCacheSize <= 0 {
		return errors.ConfigInvalid("decodeCacheSize", "must be positive")
	}
	if _, err := c.Level(); err != nil {
		return errors.ConfigInvalid("logLevel", err.Error()).WithCause(err)
	}
	return nil
}

// Level parses LogLevel; an empty value means info
func (c *Config) Level() (zerolog.Level, error) {
	if c.LogLevel == "" {
		return zerolog.InfoLevel, nil
	}
	return zerolog.ParseLevel(c.LogLevel)
}

// MetricsEnabled returns true if a metrics listener should be started
func (c *Config) MetricsEnabled() bool {
	return c.MetricsAddr != ""
}
