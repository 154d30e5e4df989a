package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("expected missing config to be ignored, got %v", err)
	}
	if cfg.Engine.Rscript != nil || cfg.Session.Keep != nil {
		t.Fatalf("expected zero config, got %+v", cfg)
	}
}

func TestLoadConfigValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	body := `[engine]
rscript = "/opt/R/bin/Rscript"
package = "JADE"

[session]
keep = true
dataset-dir = "/tmp/sessions"
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Engine.Rscript == nil || *cfg.Engine.Rscript != "/opt/R/bin/Rscript" {
		t.Fatalf("unexpected rscript: %v", cfg.Engine.Rscript)
	}
	if cfg.Session.Keep == nil || !*cfg.Session.Keep {
		t.Fatalf("expected keep=true")
	}
	if cfg.Session.DatasetDir == nil || *cfg.Session.DatasetDir != "/tmp/sessions" {
		t.Fatalf("unexpected dataset dir: %v", cfg.Session.DatasetDir)
	}
	if cfg.Engine.Repo != nil {
		t.Fatalf("expected unset repo")
	}
}

func TestLoadConfigRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[engine]\nrscrpt = \"R\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Fatalf("expected error for unknown key")
	}
}
