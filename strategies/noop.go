package strategies

import (
	"context"

	"github.com/rustyeddy/futuresbot/market"
	"github.com/rustyeddy/futuresbot/store"
)

// NoopStrategy never trades. The cycle still reconciles and polls.
type NoopStrategy struct{}

func (NoopStrategy) Name() string { return "noop" }

func (NoopStrategy) Entry(context.Context, string, []market.Candle) (Signal, bool, error) {
	return Signal{}, false, nil
}

func (NoopStrategy) Exits(context.Context, []store.Position, map[string]float64) ([]Exit, error) {
	return nil, nil
}
