// Package indicators provides streaming technical indicators over candles.
package indicators

import "github.com/rustyeddy/futuresbot/market"

// Indicator computes a single streaming value from candles.
// It is deterministic and safe to use in live and replayed cycles.
type Indicator interface {
	// Name returns a stable identifier like "ATR(14)".
	Name() string

	// Warmup returns how many updates are needed before Ready() can be true.
	Warmup() int

	Update(c market.Candle)
	Ready() bool
	Value() float64
	Reset()
}
