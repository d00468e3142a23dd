package bot

import (
	"fmt"
	"time"
)

// Config drives the trading cycle.
type Config struct {
	Symbols      []string
	ContractSize float64

	Interval         time.Duration
	MaxOpenPositions int

	// RiskPercent is the equity fraction risked per trade (0.01 = 1%).
	RiskPercent float64

	// StopDistance is the price distance used when a signal carries no stop.
	StopDistance float64

	// VolatilityStopMultiplier widens the stop when the ATR advisory fires.
	VolatilityStopMultiplier float64
	ATRPeriod                int
	CandleLookback           int
	VolumeStep               float64

	// StartingEquity is the daily P/L base when the broker account cannot
	// be read.
	StartingEquity float64

	// HaltAfterStoreErrors stops new entries after this many consecutive
	// failed cycles. 0 never halts.
	HaltAfterStoreErrors int
}

func DefaultConfig() Config {
	return Config{
		ContractSize:             1,
		Interval:                 time.Minute,
		MaxOpenPositions:         3,
		RiskPercent:              0.01,
		StopDistance:             10,
		VolatilityStopMultiplier: 1.5,
		ATRPeriod:                14,
		CandleLookback:           100,
		VolumeStep:               1,
		StartingEquity:           10000,
		HaltAfterStoreErrors:     3,
	}
}

func (c Config) Validate() error {
	switch {
	case c.Interval <= 0:
		return fmt.Errorf("trading: interval must be positive")
	case c.MaxOpenPositions < 0:
		return fmt.Errorf("trading: max_open_positions must not be negative")
	case c.RiskPercent <= 0 || c.RiskPercent >= 1:
		return fmt.Errorf("trading: risk_percent must be in (0, 1), got %v", c.RiskPercent)
	case c.StopDistance <= 0:
		return fmt.Errorf("trading: stop_distance must be positive")
	case c.VolatilityStopMultiplier < 1:
		return fmt.Errorf("trading: volatility_stop_multiplier must be at least 1")
	case c.ATRPeriod < 1:
		return fmt.Errorf("trading: atr_period must be at least 1")
	case c.CandleLookback <= c.ATRPeriod:
		return fmt.Errorf("trading: candle_lookback must exceed atr_period")
	case c.ContractSize <= 0:
		return fmt.Errorf("trading: contract_size must be positive")
	case c.VolumeStep < 0:
		return fmt.Errorf("trading: volume_step must not be negative")
	case c.HaltAfterStoreErrors < 0:
		return fmt.Errorf("trading: halt_after_store_errors must not be negative")
	}
	return nil
}
