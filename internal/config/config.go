// Package config loads the read-only inputs the core needs: where the
// backend lives, which tenant database to use, and where the local store is.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full configuration for a till process. YAML file first,
// environment variables win.
type Config struct {
	// Endpoint is the backend's JSON-RPC URL.
	Endpoint string `yaml:"endpoint"`
	// Database is the tenant database identifier.
	Database string `yaml:"database"`
	// StorePath is the local SQLite database file.
	StorePath string `yaml:"store_path"`
	// ListenAddr is where the local HTTP surface binds.
	ListenAddr string `yaml:"listen_addr"`
	// CacheTTLMinutes overrides the reference-data freshness window.
	CacheTTLMinutes int `yaml:"cache_ttl_minutes"`
	// HTTPTimeoutSeconds bounds every remote call.
	HTTPTimeoutSeconds int `yaml:"http_timeout_seconds"`
}

// Default returns the settings a till runs with when nothing is configured.
func Default() Config {
	return Config{
		StorePath:          "possync.db",
		ListenAddr:         ":8080",
		CacheTTLMinutes:    15,
		HTTPTimeoutSeconds: 30,
	}
}

// Load reads an optional YAML file, applies env overrides, and validates.
// path may be empty.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if v := os.Getenv("POSSYNC_ENDPOINT"); v != "" {
		cfg.Endpoint = v
	}
	if v := os.Getenv("POSSYNC_DATABASE"); v != "" {
		cfg.Database = v
	}
	if v := os.Getenv("POSSYNC_STORE_PATH"); v != "" {
		cfg.StorePath = v
	}
	if v := os.Getenv("POSSYNC_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}

	if cfg.Endpoint == "" {
		return cfg, fmt.Errorf("endpoint is required (config file or POSSYNC_ENDPOINT)")
	}
	if cfg.CacheTTLMinutes <= 0 {
		cfg.CacheTTLMinutes = 15
	}
	if cfg.HTTPTimeoutSeconds <= 0 {
		cfg.HTTPTimeoutSeconds = 30
	}
	return cfg, nil
}

// CacheTTL returns the freshness window as a duration.
func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLMinutes) * time.Minute
}

// HTTPTimeout returns the remote call timeout as a duration.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTPTimeoutSeconds) * time.Second
}
