package strategies

import (
	"context"
	"sync"

	"github.com/rustyeddy/futuresbot/market"
	"github.com/rustyeddy/futuresbot/store"
)

// OpenOnce opens one position per symbol for the life of the process and
// exits when the latest quote crosses the position's stop or target. It is
// meant for paper smoke runs.
type OpenOnce struct {
	Side market.Side

	mu     sync.Mutex
	opened map[string]bool
}

func NewOpenOnce(side market.Side) *OpenOnce {
	return &OpenOnce{Side: side, opened: make(map[string]bool)}
}

func (s *OpenOnce) Name() string { return "open-once" }

func (s *OpenOnce) Entry(_ context.Context, symbol string, candles []market.Candle) (Signal, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.opened[symbol] || len(candles) == 0 {
		return Signal{}, false, nil
	}
	s.opened[symbol] = true
	return Signal{Side: s.Side, Reason: "open-once"}, true, nil
}

func (s *OpenOnce) Exits(_ context.Context, positions []store.Position, quotes map[string]float64) ([]Exit, error) {
	var out []Exit
	for _, p := range positions {
		px, ok := quotes[p.Symbol]
		if !ok {
			continue
		}
		if r, hit := Protective(p, px); hit {
			out = append(out, Exit{PositionID: p.ID, Reason: r})
		}
	}
	return out, nil
}

// Protective reports whether price has reached p's stop or target.
func Protective(p store.Position, price float64) (store.CloseReason, bool) {
	switch p.Side {
	case market.Buy:
		if p.StopLoss > 0 && price <= p.StopLoss {
			return store.StopLoss, true
		}
		if p.TakeProfit > 0 && price >= p.TakeProfit {
			return store.TakeProfit, true
		}
	case market.Sell:
		if p.StopLoss > 0 && price >= p.StopLoss {
			return store.StopLoss, true
		}
		if p.TakeProfit > 0 && price <= p.TakeProfit {
			return store.TakeProfit, true
		}
	}
	return "", false
}
