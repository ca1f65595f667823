// Package config loads the YAML station configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied when the file is absent or a field is unset.
const (
	DefaultDatabase    = "packline.db"
	DefaultListen      = "127.0.0.1:8760"
	DefaultCredentials = "operators.json"
	DefaultSyncTimeout = 10
)

// Config is the full station configuration.
type Config struct {
	Database    string `yaml:"database"`
	Listen      string `yaml:"listen"`
	Credentials string `yaml:"credentials"`
	Sync        Sync   `yaml:"sync"`
}

// Sync configures the cloud upload bridge.
type Sync struct {
	Enabled        bool   `yaml:"enabled"`
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the upload timeout as a duration.
func (s Sync) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Database:    DefaultDatabase,
		Listen:      DefaultListen,
		Credentials: DefaultCredentials,
		Sync: Sync{
			Enabled:        false,
			TimeoutSeconds: DefaultSyncTimeout,
		},
	}
}

// Load reads the configuration from path. A missing file is not an error:
// the defaults apply, so a station can run with zero setup.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	// KnownFields makes typos fail loudly instead of silently falling back
	// to a default.
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks field values; it does not touch the filesystem.
func (c Config) Validate() error {
	if c.Database == "" {
		return errors.New("database path must not be empty")
	}
	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		return fmt.Errorf("invalid listen address %q: %w", c.Listen, err)
	}
	if c.Sync.TimeoutSeconds <= 0 {
		return fmt.Errorf("sync timeout must be positive, got %d", c.Sync.TimeoutSeconds)
	}
	if c.Sync.Enabled {
		u, err := url.Parse(c.Sync.BaseURL)
		if err != nil || !u.IsAbs() || u.Host == "" {
			return fmt.Errorf("sync enabled but base_url %q is not an absolute URL", c.Sync.BaseURL)
		}
	}
	return nil
}
