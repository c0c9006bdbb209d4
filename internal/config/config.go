// internal/config/config.go

// Package config resolves daemon configuration from the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the daemon configuration. Every knob is overridable through
// the environment; defaults produce a working local daemon.
type Config struct {
	// HomeDir is the daemon home. Holds the state file, lock file, store
	// snapshot, version file, logs and disposable credentials directories.
	HomeDir string `env:"REMCLI_HOME_DIR"`

	// Variant labels the install ("stable" or "dev"); a non-stable variant
	// keeps its state under a suffixed home so both can run side by side.
	Variant string `env:"REMCLI_VARIANT" envDefault:"stable"`

	// Experimental enables in-progress features.
	Experimental bool `env:"REMCLI_EXPERIMENTAL"`

	// InhibitSleep asks for the workstation to stay awake while sessions are
	// active. The daemon only logs a warning when it is set; no sleep
	// inhibitor is installed.
	InhibitSleep bool `env:"REMCLI_INHIBIT_SLEEP"`

	// WebBundleDir points at a precompiled web app bundle to serve from
	// the public plane. Empty serves a built-in placeholder page.
	WebBundleDir string `env:"REMCLI_WEB_BUNDLE_DIR"`

	// Tunnel enables the public tunnel to the p2p port.
	Tunnel bool `env:"REMCLI_TUNNEL"`

	// HeartbeatInterval is the daemon heartbeat period.
	HeartbeatInterval time.Duration `env:"REMCLI_HEARTBEAT_INTERVAL" envDefault:"60s"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `env:"REMCLI_LOG_LEVEL" envDefault:"info"`
}

// Load parses the environment into a Config and fills derived defaults.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if cfg.HomeDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home dir: %w", err)
		}
		dir := ".remcli"
		if cfg.Variant != "" && cfg.Variant != "stable" {
			dir = ".remcli-" + cfg.Variant
		}
		cfg.HomeDir = filepath.Join(home, dir)
	}

	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 60 * time.Second
	}

	return cfg, nil
}

// EnsureHome creates the daemon home directory tree.
func (c *Config) EnsureHome() error {
	for _, dir := range []string{c.HomeDir, c.LogsDir(), c.CredentialsDir()} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create daemon home: %w", err)
		}
	}
	return nil
}

// StateFilePath is the daemon state file location.
func (c *Config) StateFilePath() string {
	return filepath.Join(c.HomeDir, "daemon.state.json")
}

// LockFilePath is the exclusive daemon lock, a sibling of the state file.
func (c *Config) LockFilePath() string {
	return filepath.Join(c.HomeDir, "daemon.lock")
}

// SnapshotPath is the debounced store snapshot file.
func (c *Config) SnapshotPath() string {
	return filepath.Join(c.HomeDir, "store.snapshot.json")
}

// VersionFilePath is the on-disk package version file consulted by the
// heartbeat's self-upgrade check.
func (c *Config) VersionFilePath() string {
	return filepath.Join(c.HomeDir, "version")
}

// LogsDir holds daemon log files.
func (c *Config) LogsDir() string {
	return filepath.Join(c.HomeDir, "logs")
}

// CredentialsDir holds disposable per-spawn credential directories.
func (c *Config) CredentialsDir() string {
	return filepath.Join(c.HomeDir, "credentials")
}
