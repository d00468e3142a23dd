package indicators

import (
	"fmt"
	"math"

	"github.com/rustyeddy/futuresbot/market"
)

// ATRFunc calculates the Average True Range over candles with Wilder
// smoothing. It needs at least period+1 candles.
func ATRFunc(candles []market.Candle, period int) (float64, error) {
	series, err := ATRSeries(candles, period)
	if err != nil {
		return 0, err
	}
	return series[len(series)-1], nil
}

// ATRSeries returns every ATR value once the indicator is warm, oldest first.
func ATRSeries(candles []market.Candle, period int) ([]float64, error) {
	if period <= 0 {
		return nil, fmt.Errorf("period must be positive, got %d", period)
	}
	if len(candles) < period+1 {
		return nil, fmt.Errorf("not enough candles: need %d, got %d", period+1, len(candles))
	}

	a := NewATR(period)
	out := make([]float64, 0, len(candles)-period)
	for _, c := range candles {
		a.Update(c)
		if a.Ready() {
			out = append(out, a.Value())
		}
	}
	return out, nil
}

// Volatility returns the latest ATR and the mean of the ATR series, the two
// inputs of the volatility advisory.
func Volatility(candles []market.Candle, period int) (current, average float64, err error) {
	series, err := ATRSeries(candles, period)
	if err != nil {
		return 0, 0, err
	}
	sum := 0.0
	for _, v := range series {
		sum += v
	}
	return series[len(series)-1], sum / float64(len(series)), nil
}

// ATR is a streaming Average True Range indicator.
type ATR struct {
	period      int
	atr         float64
	count       int
	warmupSum   float64
	prevCandle  market.Candle
	hasPrevious bool
}

var _ Indicator = (*ATR)(nil)

func NewATR(period int) *ATR {
	return &ATR{period: period}
}

func (a *ATR) Name() string {
	return fmt.Sprintf("ATR(%d)", a.period)
}

func (a *ATR) Warmup() int {
	// TR needs the previous candle
	return a.period + 1
}

func (a *ATR) Reset() {
	a.atr = 0
	a.count = 0
	a.warmupSum = 0
	a.hasPrevious = false
}

func (a *ATR) Update(c market.Candle) {
	if !a.hasPrevious {
		a.prevCandle = c
		a.hasPrevious = true
		return
	}

	tr := trueRange(c, a.prevCandle)
	if a.count < a.period {
		a.warmupSum += tr
		a.count++
		if a.count == a.period {
			a.atr = a.warmupSum / float64(a.period)
		}
	} else {
		a.atr = (a.atr*float64(a.period-1) + tr) / float64(a.period)
	}
	a.prevCandle = c
}

func (a *ATR) Ready() bool {
	return a.count >= a.period
}

func (a *ATR) Value() float64 {
	if !a.Ready() {
		return 0
	}
	return a.atr
}

func trueRange(current, previous market.Candle) float64 {
	highLow := current.High - current.Low
	highClose := math.Abs(current.High - previous.Close)
	lowClose := math.Abs(current.Low - previous.Close)
	return math.Max(highLow, math.Max(highClose, lowClose))
}
