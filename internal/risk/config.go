package risk

import (
	"fmt"
	"os"
	"strconv"
)

const (
	EnvCriticalSimilarity = "REVISO_RISK_CRITICAL_SIMILARITY"
	EnvHighSimilarity     = "REVISO_RISK_HIGH_SIMILARITY"
	EnvMinLengthRatio     = "REVISO_RISK_MIN_LENGTH_RATIO"
	EnvMaxLengthRatio     = "REVISO_RISK_MAX_LENGTH_RATIO"
)

// Config holds the analyzer thresholds. Similarity values are cosine
// similarities in [0, 1]; a rewrite scoring below HighSimilarity raises a
// high finding and below CriticalSimilarity a critical one, so
// CriticalSimilarity must sit strictly below HighSimilarity.
type Config struct {
	CriticalSimilarity float64 `toml:"critical_similarity"`
	HighSimilarity     float64 `toml:"high_similarity"`
	MinLengthRatio     float64 `toml:"min_length_ratio"`
	MaxLengthRatio     float64 `toml:"max_length_ratio"`
}

// Finalize applies defaults, environment variable overrides, and validation.
func (c *Config) Finalize() error {
	c.loadDefaults()
	c.loadEnv()
	return c.validate()
}

// Merge overwrites non-zero fields from overlay.
func (c *Config) Merge(overlay *Config) {
	if overlay.CriticalSimilarity != 0 {
		c.CriticalSimilarity = overlay.CriticalSimilarity
	}
	if overlay.HighSimilarity != 0 {
		c.HighSimilarity = overlay.HighSimilarity
	}
	if overlay.MinLengthRatio != 0 {
		c.MinLengthRatio = overlay.MinLengthRatio
	}
	if overlay.MaxLengthRatio != 0 {
		c.MaxLengthRatio = overlay.MaxLengthRatio
	}
}

func (c *Config) loadDefaults() {
	if c.CriticalSimilarity == 0 {
		c.CriticalSimilarity = 0.4
	}
	if c.HighSimilarity == 0 {
		c.HighSimilarity = 0.65
	}
	if c.MinLengthRatio == 0 {
		c.MinLengthRatio = 0.2
	}
	if c.MaxLengthRatio == 0 {
		c.MaxLengthRatio = 5.0
	}
}

func (c *Config) loadEnv() {
	setFloat := func(env string, target *float64) {
		if v := os.Getenv(env); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				*target = f
			}
		}
	}
	setFloat(EnvCriticalSimilarity, &c.CriticalSimilarity)
	setFloat(EnvHighSimilarity, &c.HighSimilarity)
	setFloat(EnvMinLengthRatio, &c.MinLengthRatio)
	setFloat(EnvMaxLengthRatio, &c.MaxLengthRatio)
}

func (c *Config) validate() error {
	if c.CriticalSimilarity >= c.HighSimilarity {
		return fmt.Errorf(
			"critical_similarity (%v) must be strictly below high_similarity (%v)",
			c.CriticalSimilarity, c.HighSimilarity,
		)
	}
	if c.MinLengthRatio <= 0 || c.MaxLengthRatio <= c.MinLengthRatio {
		return fmt.Errorf(
			"length ratio band [%v, %v] is invalid",
			c.MinLengthRatio, c.MaxLengthRatio,
		)
	}
	return nil
}
