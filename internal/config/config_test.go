// internal/config/config_test.go
package config

import (
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("REMCLI_HOME_DIR", "")
	t.Setenv("REMCLI_VARIANT", "")
	t.Setenv("REMCLI_HEARTBEAT_INTERVAL", "")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.HomeDir == "" {
		t.Error("expected derived home dir")
	}
	if filepath.Base(cfg.HomeDir) != ".remcli" {
		t.Errorf("expected .remcli home for stable variant, got %s", cfg.HomeDir)
	}
	if cfg.HeartbeatInterval != 60*time.Second {
		t.Errorf("expected 60s heartbeat, got %s", cfg.HeartbeatInterval)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("expected info log level, got %s", cfg.LogLevel)
	}
}

func TestLoadOverrides(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("REMCLI_HOME_DIR", dir)
	t.Setenv("REMCLI_VARIANT", "dev")
	t.Setenv("REMCLI_TUNNEL", "true")
	t.Setenv("REMCLI_HEARTBEAT_INTERVAL", "5s")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.HomeDir != dir {
		t.Errorf("expected home override %s, got %s", dir, cfg.HomeDir)
	}
	if !cfg.Tunnel {
		t.Error("expected tunnel enabled")
	}
	if cfg.HeartbeatInterval != 5*time.Second {
		t.Errorf("expected 5s heartbeat, got %s", cfg.HeartbeatInterval)
	}
}

func TestVariantHome(t *testing.T) {
	t.Setenv("REMCLI_HOME_DIR", "")
	t.Setenv("REMCLI_VARIANT", "dev")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(cfg.HomeDir) != ".remcli-dev" {
		t.Errorf("expected .remcli-dev home for dev variant, got %s", cfg.HomeDir)
	}
}

func TestDerivedPaths(t *testing.T) {
	cfg := &Config{HomeDir: "/tmp/x"}
	if cfg.StateFilePath() != "/tmp/x/daemon.state.json" {
		t.Errorf("unexpected state path %s", cfg.StateFilePath())
	}
	if filepath.Dir(cfg.LockFilePath()) != filepath.Dir(cfg.StateFilePath()) {
		t.Error("lock file must be a sibling of the state file")
	}
}
