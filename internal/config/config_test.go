package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_FileAndDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "possync.yaml")
	err := os.WriteFile(path, []byte(`
endpoint: https://backend.example.com/jsonrpc
database: till_main
cache_ttl_minutes: 5
`), 0o600)
	if err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Endpoint != "https://backend.example.com/jsonrpc" || cfg.Database != "till_main" {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.CacheTTL() != 5*time.Minute {
		t.Fatalf("ttl override not applied: %v", cfg.CacheTTL())
	}
	// untouched fields keep defaults
	if cfg.StorePath != "possync.db" || cfg.ListenAddr != ":8080" {
		t.Fatalf("defaults lost: %+v", cfg)
	}
}

func TestLoad_EnvWinsOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "possync.yaml")
	_ = os.WriteFile(path, []byte("endpoint: https://file.example.com\n"), 0o600)

	t.Setenv("POSSYNC_ENDPOINT", "https://env.example.com")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Endpoint != "https://env.example.com" {
		t.Fatalf("env must win, got %s", cfg.Endpoint)
	}
}

func TestLoad_EndpointRequired(t *testing.T) {
	t.Setenv("POSSYNC_ENDPOINT", "")
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error for missing endpoint")
	}
}
