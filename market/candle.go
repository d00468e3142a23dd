package market

import "time"

// Candle represents OHLC (Open, High, Low, Close) bar data for one symbol.
type Candle struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}
