package jobs

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

const (
	EnvConcurrency            = "REVISO_ORCHESTRATOR_CONCURRENCY"
	EnvMaxRetries             = "REVISO_ORCHESTRATOR_MAX_RETRIES"
	EnvRetryBaseMS            = "REVISO_ORCHESTRATOR_RETRY_BASE_MS"
	EnvRetryCapMS             = "REVISO_ORCHESTRATOR_RETRY_CAP_MS"
	EnvBreakerThreshold       = "REVISO_ORCHESTRATOR_BREAKER_THRESHOLD"
	EnvBreakerCooldownSeconds = "REVISO_ORCHESTRATOR_BREAKER_COOLDOWN_SECONDS"
)

// Config holds orchestrator scheduling and resilience settings.
type Config struct {
	Concurrency            int `toml:"concurrency"`
	MaxRetries             int `toml:"max_retries"`
	RetryBaseMS            int `toml:"retry_base_ms"`
	RetryCapMS             int `toml:"retry_cap_ms"`
	BreakerThreshold       int `toml:"breaker_threshold"`
	BreakerCooldownSeconds int `toml:"breaker_cooldown_seconds"`
}

// Finalize applies defaults, environment variable overrides, and validation.
func (c *Config) Finalize() error {
	c.loadDefaults()
	c.loadEnv()
	return c.validate()
}

// Merge overwrites non-zero fields from overlay.
func (c *Config) Merge(overlay *Config) {
	if overlay.Concurrency != 0 {
		c.Concurrency = overlay.Concurrency
	}
	if overlay.MaxRetries != 0 {
		c.MaxRetries = overlay.MaxRetries
	}
	if overlay.RetryBaseMS != 0 {
		c.RetryBaseMS = overlay.RetryBaseMS
	}
	if overlay.RetryCapMS != 0 {
		c.RetryCapMS = overlay.RetryCapMS
	}
	if overlay.BreakerThreshold != 0 {
		c.BreakerThreshold = overlay.BreakerThreshold
	}
	if overlay.BreakerCooldownSeconds != 0 {
		c.BreakerCooldownSeconds = overlay.BreakerCooldownSeconds
	}
}

// RetryBase returns the initial backoff delay.
func (c *Config) RetryBase() time.Duration {
	return time.Duration(c.RetryBaseMS) * time.Millisecond
}

// RetryCap returns the backoff ceiling.
func (c *Config) RetryCap() time.Duration {
	return time.Duration(c.RetryCapMS) * time.Millisecond
}

// BreakerCooldown returns the open-state cooldown window.
func (c *Config) BreakerCooldown() time.Duration {
	return time.Duration(c.BreakerCooldownSeconds) * time.Second
}

func (c *Config) loadDefaults() {
	if c.Concurrency == 0 {
		c.Concurrency = 4
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBaseMS == 0 {
		c.RetryBaseMS = 1000
	}
	if c.RetryCapMS == 0 {
		c.RetryCapMS = 8000
	}
	if c.BreakerThreshold == 0 {
		c.BreakerThreshold = 5
	}
	if c.BreakerCooldownSeconds == 0 {
		c.BreakerCooldownSeconds = 30
	}
}

func (c *Config) loadEnv() {
	setInt := func(env string, target *int) {
		if v := os.Getenv(env); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*target = n
			}
		}
	}
	setInt(EnvConcurrency, &c.Concurrency)
	setInt(EnvMaxRetries, &c.MaxRetries)
	setInt(EnvRetryBaseMS, &c.RetryBaseMS)
	setInt(EnvRetryCapMS, &c.RetryCapMS)
	setInt(EnvBreakerThreshold, &c.BreakerThreshold)
	setInt(EnvBreakerCooldownSeconds, &c.BreakerCooldownSeconds)
}

func (c *Config) validate() error {
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency)
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("max_retries must be at least 1, got %d", c.MaxRetries)
	}
	if c.RetryCapMS < c.RetryBaseMS {
		return fmt.Errorf(
			"retry_cap_ms (%d) must not be below retry_base_ms (%d)",
			c.RetryCapMS, c.RetryBaseMS,
		)
	}
	if c.BreakerThreshold < 1 {
		return fmt.Errorf("breaker_threshold must be at least 1, got %d", c.BreakerThreshold)
	}
	return nil
}
