// internal/config/loader_test.go
//
// Layering behaviour: YAML base, SATLINK_ env overrides, defaults for
// anything left unset, and validation failures for a config missing its
// required keys.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "conf"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "conf", "global.yaml"), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return root
}

const validYAML = `
http:
  listen_addr: ":8085"
database:
  dsn: "satlink:satlink@tcp(127.0.0.1:3306)/satlink?parseTime=true"
site:
  origin: "https://alpha.example.com"
sync:
  batch_interval: 120s
`

func TestLoadLayersEnvOverYAML(t *testing.T) {
	root := writeYAML(t, validYAML)
	t.Setenv("SATLINK_ROOT", root)
	t.Setenv("SATLINK_SYNC__BATCH_SIZE", "250")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.HTTP.ListenAddr != ":8085" {
		t.Errorf("listen_addr = %q", cfg.HTTP.ListenAddr)
	}
	if cfg.Site.Origin != "https://alpha.example.com" {
		t.Errorf("origin = %q", cfg.Site.Origin)
	}
	// YAML value survives, env wins over YAML, defaults fill the rest.
	if cfg.Sync.BatchInterval != 120*time.Second {
		t.Errorf("batch_interval = %v, want 120s from YAML", cfg.Sync.BatchInterval)
	}
	if cfg.Sync.BatchSize != 250 {
		t.Errorf("batch_size = %d, want 250 from env", cfg.Sync.BatchSize)
	}
	if cfg.Sync.FullInterval != 3600*time.Second {
		t.Errorf("full_interval = %v, want default 3600s", cfg.Sync.FullInterval)
	}
	if cfg.Sync.MaxRetries != 3 || cfg.Sync.ConflictStrategy != "latest_wins" {
		t.Errorf("defaults not applied: retries=%d strategy=%q",
			cfg.Sync.MaxRetries, cfg.Sync.ConflictStrategy)
	}
	if cfg.Paths.Root != root {
		t.Errorf("root = %q, want %q", cfg.Paths.Root, root)
	}
	if Get() != cfg {
		t.Error("Get() does not return the loaded config")
	}
}

func TestLoadRejectsIncompleteConfig(t *testing.T) {
	root := writeYAML(t, "http:\n  listen_addr: \":8085\"\n")
	t.Setenv("SATLINK_ROOT", root)

	if _, err := Load(); err == nil {
		t.Fatal("config without dsn and origin passed validation")
	}
}
