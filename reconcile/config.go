package reconcile

import (
	"fmt"
	"time"
)

// Config controls the reconciliation system. It is read once at startup.
type Config struct {
	Enabled bool `json:"enabled" yaml:"enabled"`

	// DryRun computes and audits the heal without applying it.
	DryRun bool `json:"dry_run" yaml:"dry_run"`

	// QueryTimeout bounds one broker snapshot query. 0 means no timeout.
	QueryTimeout time.Duration `json:"query_timeout" yaml:"query_timeout"`

	// MaxFailures is the number of consecutive failed queries after which a
	// reconnecting link is declared disconnected.
	MaxFailures int `json:"max_failures" yaml:"max_failures"`

	PriceTolerance  float64 `json:"price_tolerance" yaml:"price_tolerance"`
	VolumeTolerance float64 `json:"volume_tolerance" yaml:"volume_tolerance"`
}

func DefaultConfig() Config {
	return Config{
		Enabled:      true,
		QueryTimeout: 10 * time.Second,
		MaxFailures:  3,
	}
}

func (c Config) Validate() error {
	if c.QueryTimeout < 0 {
		return fmt.Errorf("reconciliation: query_timeout must not be negative")
	}
	if c.MaxFailures < 1 {
		return fmt.Errorf("reconciliation: max_failures must be at least 1, got %d", c.MaxFailures)
	}
	if c.PriceTolerance < 0 || c.VolumeTolerance < 0 {
		return fmt.Errorf("reconciliation: tolerances must not be negative")
	}
	return nil
}

func (c Config) Tolerance() Tolerance {
	return Tolerance{Price: c.PriceTolerance, Volume: c.VolumeTolerance}
}
