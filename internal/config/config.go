// Package config loads server configuration from an optional YAML file
// with environment variable overrides. Environment wins over file, file
// wins over defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML accepts "24h" style strings.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the full server configuration.
type Config struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string `yaml:"addr"`

	// DBPath is the SQLite database file. Parent directories are created
	// on startup.
	DBPath string `yaml:"db_path"`

	// JWTSecret signs owner tokens. Must be set in production; the
	// default exists so a local server starts without ceremony.
	JWTSecret string `yaml:"jwt_secret"`

	// OwnerTokenTTL bounds how long a minted owner token stays valid.
	OwnerTokenTTL Duration `yaml:"owner_token_ttl"`

	// LogLevel is debug, info, warn, or error.
	LogLevel string `yaml:"log_level"`
}

// Default returns the configuration a bare local server runs with.
func Default() *Config {
	return &Config{
		Addr:          ":8080",
		DBPath:        "./data/ledgers.db",
		JWTSecret:     "dev-only-insecure-secret",
		OwnerTokenTTL: Duration(30 * 24 * time.Hour),
		LogLevel:      "info",
	}
}

// Load builds the configuration from defaults, an optional YAML file, and
// environment overrides, in that order. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("SPLITPOT_ADDR"); v != "" {
		c.Addr = v
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		c.JWTSecret = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("OWNER_TOKEN_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.OwnerTokenTTL = Duration(d)
		}
	}
}
