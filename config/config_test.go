package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg := LoadConfig("")
	if cfg.Web.Port != 1816 {
		t.Fatalf("default web port = %d", cfg.Web.Port)
	}
	if cfg.Session.CommandTimeout != 30*time.Second {
		t.Fatalf("default command timeout = %v", cfg.Session.CommandTimeout)
	}
	if cfg.Webhook.MaxAttempts != 5 {
		t.Fatalf("default webhook attempts = %d", cfg.Webhook.MaxAttempts)
	}
	if !cfg.Session.ReconnectEnable {
		t.Fatal("reconnect should default to enabled")
	}
}

func TestLoadConfigFileOverridesDefaults(t *testing.T) {
	cfile := filepath.Join(t.TempDir(), "wagate.yml")
	data := `
web:
  host: 127.0.0.1
  port: 9090
session:
  command_timeout: 5s
  reconnect_max_retries: 2
webhook:
  max_attempts: 1
`
	if err := os.WriteFile(cfile, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := LoadConfig(cfile)
	if cfg.Web.Port != 9090 || cfg.Web.Host != "127.0.0.1" {
		t.Fatalf("web config not applied: %+v", cfg.Web)
	}
	if cfg.Session.CommandTimeout != 5*time.Second {
		t.Fatalf("command timeout = %v", cfg.Session.CommandTimeout)
	}
	if cfg.Session.ReconnectMaxRetries != 2 {
		t.Fatalf("reconnect retries = %d", cfg.Session.ReconnectMaxRetries)
	}
	// untouched sections keep their defaults
	if cfg.Database.Port != 5432 {
		t.Fatalf("database default lost: %+v", cfg.Database)
	}
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("WAGATE_WEB_SECRET", "env-secret")
	t.Setenv("WAGATE_DB_HOST", "db.internal")

	cfg := LoadConfig("")
	if cfg.Web.Secret != "env-secret" {
		t.Fatalf("web secret = %q", cfg.Web.Secret)
	}
	if cfg.Database.Host != "db.internal" {
		t.Fatalf("db host = %q", cfg.Database.Host)
	}
}
