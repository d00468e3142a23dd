package risk

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig wraps every circuit breaker configuration error.
var ErrInvalidConfig = errors.New("invalid circuit breaker config")

// Config holds the circuit breaker thresholds. It is read once at startup.
//
//   - DailyLossLimit: daily P/L fraction at or below which trading halts,
//     negative (e.g. -0.05 for -5%).
//   - MaxConsecutiveLosses: losing closes in a row that halt trading.
//   - VolatilityThreshold: multiple of average ATR at which the volatility
//     advisory fires (e.g. 2.0).
type Config struct {
	DailyLossLimit       float64 `json:"daily_loss_limit" yaml:"daily_loss_limit"`
	MaxConsecutiveLosses int     `json:"max_consecutive_losses" yaml:"max_consecutive_losses"`
	VolatilityThreshold  float64 `json:"volatility_threshold" yaml:"volatility_threshold"`
}

func DefaultConfig() Config {
	return Config{
		DailyLossLimit:       -0.05,
		MaxConsecutiveLosses: 3,
		VolatilityThreshold:  2.0,
	}
}

func (c Config) Validate() error {
	if c.DailyLossLimit >= 0 {
		return fmt.Errorf("%w: daily_loss_limit must be negative, got %v", ErrInvalidConfig, c.DailyLossLimit)
	}
	if c.DailyLossLimit <= -1 {
		return fmt.Errorf("%w: daily_loss_limit must be above -1, got %v", ErrInvalidConfig, c.DailyLossLimit)
	}
	if c.MaxConsecutiveLosses < 1 {
		return fmt.Errorf("%w: max_consecutive_losses must be at least 1, got %d", ErrInvalidConfig, c.MaxConsecutiveLosses)
	}
	if c.VolatilityThreshold <= 0 {
		return fmt.Errorf("%w: volatility_threshold must be positive, got %v", ErrInvalidConfig, c.VolatilityThreshold)
	}
	return nil
}
