package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/reviso/reviso/internal/inference"
	"github.com/reviso/reviso/internal/jobs"
	"github.com/reviso/reviso/internal/risk"
	"github.com/reviso/reviso/pkg/database"
)

const (
	BaseConfigFile       = "config.toml"
	OverlayConfigPattern = "config.%s.toml"

	EnvRevisoEnv             = "REVISO_ENV"
	EnvRevisoShutdownTimeout = "REVISO_SHUTDOWN_TIMEOUT"
	EnvRevisoVersion         = "REVISO_VERSION"
)

var databaseEnv = &database.Env{
	Host:            "REVISO_DB_HOST",
	Port:            "REVISO_DB_PORT",
	Name:            "REVISO_DB_NAME",
	User:            "REVISO_DB_USER",
	Password:        "REVISO_DB_PASSWORD",
	SSLMode:         "REVISO_DB_SSL_MODE",
	MaxOpenConns:    "REVISO_DB_MAX_OPEN_CONNS",
	MaxIdleConns:    "REVISO_DB_MAX_IDLE_CONNS",
	ConnMaxLifetime: "REVISO_DB_CONN_MAX_LIFETIME",
	ConnTimeout:     "REVISO_DB_CONN_TIMEOUT",
}

// Config is the root configuration for the Reviso service.
type Config struct {
	Server          ServerConfig     `toml:"server"`
	Database        database.Config  `toml:"database"`
	API             APIConfig        `toml:"api"`
	Inference       inference.Config `toml:"inference"`
	Orchestrator    jobs.Config      `toml:"orchestrator"`
	Risk            risk.Config      `toml:"risk"`
	ShutdownTimeout string           `toml:"shutdown_timeout"`
	Version         string           `toml:"version"`
}

// Env returns the REVISO_ENV value, defaulting to "local".
func (c *Config) Env() string {
	if env := os.Getenv(EnvRevisoEnv); env != "" {
		return env
	}
	return "local"
}

// ShutdownTimeoutDuration returns ShutdownTimeout as a time.Duration.
func (c *Config) ShutdownTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.ShutdownTimeout)
	return d
}

// Load reads the base config (if present), applies any environment overlay,
// and finalizes all values. If no config.toml exists, defaults and environment
// variables provide all configuration.
func Load() (*Config, error) {
	cfg := &Config{}

	if _, err := os.Stat(BaseConfigFile); err == nil {
		loaded, err := load(BaseConfigFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if path := overlayPath(); path != "" {
		overlay, err := load(path)
		if err != nil {
			return nil, fmt.Errorf("load overlay %s: %w", path, err)
		}
		cfg.Merge(overlay)
	}

	if err := cfg.finalize(); err != nil {
		return nil, fmt.Errorf("finalize config: %w", err)
	}

	return cfg, nil
}

// Merge overwrites non-zero fields from overlay across all sub-configs.
func (c *Config) Merge(overlay *Config) {
	if overlay.ShutdownTimeout != "" {
		c.ShutdownTimeout = overlay.ShutdownTimeout
	}
	if overlay.Version != "" {
		c.Version = overlay.Version
	}
	c.Server.Merge(&overlay.Server)
	c.Database.Merge(&overlay.Database)
	c.API.Merge(&overlay.API)
	c.Inference.Merge(&overlay.Inference)
	c.Orchestrator.Merge(&overlay.Orchestrator)
	c.Risk.Merge(&overlay.Risk)
}

func (c *Config) finalize() error {
	c.loadDefaults()
	c.loadEnv()

	if err := c.validate(); err != nil {
		return err
	}
	if err := c.Server.Finalize(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := c.Database.Finalize(databaseEnv); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := c.API.Finalize(); err != nil {
		return fmt.Errorf("api: %w", err)
	}
	if err := c.Inference.Finalize(); err != nil {
		return fmt.Errorf("inference: %w", err)
	}
	if err := c.Orchestrator.Finalize(); err != nil {
		return fmt.Errorf("orchestrator: %w", err)
	}
	if err := c.Risk.Finalize(); err != nil {
		return fmt.Errorf("risk: %w", err)
	}
	return nil
}

func (c *Config) loadDefaults() {
	if c.ShutdownTimeout == "" {
		c.ShutdownTimeout = "30s"
	}
	if c.Version == "" {
		c.Version = "0.1.0"
	}
}

func (c *Config) loadEnv() {
	if v := os.Getenv(EnvRevisoShutdownTimeout); v != "" {
		c.ShutdownTimeout = v
	}
	if v := os.Getenv(EnvRevisoVersion); v != "" {
		c.Version = v
	}
}

func (c *Config) validate() error {
	if _, err := time.ParseDuration(c.ShutdownTimeout); err != nil {
		return fmt.Errorf("invalid shutdown_timeout: %w", err)
	}
	return nil
}

func load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

func overlayPath() string {
	if env := os.Getenv(EnvRevisoEnv); env != "" {
		path := fmt.Sprintf(OverlayConfigPattern, env)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}
