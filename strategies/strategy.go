// Package strategies holds the entry/exit deciders the trading cycle
// consults. Deciding trades is deliberately thin here; the cycle owns risk,
// sizing and persistence.
package strategies

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rustyeddy/futuresbot/market"
	"github.com/rustyeddy/futuresbot/store"
)

// Signal asks the cycle to open a position. StopLoss of 0 lets the cycle
// apply its configured stop distance.
type Signal struct {
	Side       market.Side
	StopLoss   float64
	TakeProfit float64
	Reason     string
}

// Exit asks the cycle to close an open position.
type Exit struct {
	PositionID string
	Reason     store.CloseReason
}

// Strategy decides entries per symbol and exits over the open set.
// quotes maps symbol to the latest close.
type Strategy interface {
	Name() string
	Entry(ctx context.Context, symbol string, candles []market.Candle) (Signal, bool, error)
	Exits(ctx context.Context, positions []store.Position, quotes map[string]float64) ([]Exit, error)
}

type factory func() Strategy

var registry = map[string]factory{
	"noop":      func() Strategy { return NoopStrategy{} },
	"open-once": func() Strategy { return NewOpenOnce(market.Buy) },
}

// Register adds a named strategy. It panics on a duplicate name.
func Register(name string, f func() Strategy) {
	name = strings.ToLower(strings.TrimSpace(name))
	if _, ok := registry[name]; ok {
		panic("strategies: duplicate " + name)
	}
	registry[name] = f
}

// ByName returns a fresh instance of the named strategy.
func ByName(name string) (Strategy, error) {
	f, ok := registry[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q (supported: %s)", name, strings.Join(Names(), ", "))
	}
	return f(), nil
}

func Names() []string {
	out := make([]string, 0, len(registry))
	for n := range registry {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
