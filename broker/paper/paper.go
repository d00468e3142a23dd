// Package paper is an in-memory broker used for dry runs and tests. It can
// simulate outages so the reconciliation path sees real failures.
package paper

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/rustyeddy/futuresbot/broker"
	"github.com/rustyeddy/futuresbot/market"
)

var _ broker.Broker = (*Broker)(nil)

type Broker struct {
	mu           sync.Mutex
	acct         broker.Account
	contractSize float64
	positions    map[string]*broker.Position
	prices       map[string]float64
	candles      map[string][]market.Candle
	replay       map[string][]market.Candle
	byClientID   map[string]broker.Fill
	nextID       int64
	offline      bool
	failNext     []error
	calls        int
}

// New returns a paper broker with the given starting balance. contractSize
// scales P/L like the store does.
func New(balance, contractSize float64) *Broker {
	if contractSize <= 0 {
		contractSize = 1
	}
	return &Broker{
		acct: broker.Account{
			ID:       "PAPER",
			Currency: "USD",
			Balance:  balance,
			Equity:   balance,
		},
		contractSize: contractSize,
		positions:    make(map[string]*broker.Position),
		prices:       make(map[string]float64),
		candles:      make(map[string][]market.Candle),
		replay:       make(map[string][]market.Candle),
		byClientID:   make(map[string]broker.Fill),
		nextID:       1000,
	}
}

// SetOffline makes every call fail with broker.ErrOffline until cleared.
func (b *Broker) SetOffline(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.offline = v
}

// FailNext queues errors returned by the next calls, one per call.
func (b *Broker) FailNext(errs ...error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failNext = append(b.failNext, errs...)
}

// Calls counts broker calls, including failed ones.
func (b *Broker) Calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

func (b *Broker) SetPrice(symbol string, price float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prices[symbol] = price
	b.markLocked()
}

func (b *Broker) SetCandles(symbol string, cs []market.Candle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.candles[symbol] = append([]market.Candle(nil), cs...)
}

// Replay queues recorded bars for symbol. Each Candles call for the symbol
// releases the next bar and marks the price at its close, so a paper run
// walks forward one bar per trading cycle.
func (b *Broker) Replay(symbol string, cs []market.Candle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.replay[symbol] = append(b.replay[symbol], cs...)
}

// Remaining reports how many replay bars are still queued for symbol.
func (b *Broker) Remaining(symbol string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.replay[symbol])
}

// Seed places a position directly, as if it had been opened elsewhere.
func (b *Broker) Seed(p broker.Position) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := p
	b.positions[p.PositionID] = &cp
}

// CloseExternally drops a position without going through the bot, the way a
// broker-side stop loss would.
func (b *Broker) CloseExternally(positionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.positions, positionID)
}

// check must be called with mu held.
func (b *Broker) check() error {
	b.calls++
	if len(b.failNext) > 0 {
		err := b.failNext[0]
		b.failNext = b.failNext[1:]
		if err != nil {
			return err
		}
	}
	if b.offline {
		return broker.ErrOffline
	}
	return nil
}

func (b *Broker) markLocked() {
	for _, p := range b.positions {
		if px, ok := b.prices[p.Symbol]; ok {
			p.CurrentPnL = (px - p.EntryPrice) * p.Volume * b.contractSize * p.Side.Sign()
		}
	}
}

func (b *Broker) Positions(ctx context.Context) ([]broker.Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.check(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([]broker.Position, 0, len(b.positions))
	for _, p := range b.positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PositionID < out[j].PositionID })
	return out, nil
}

func (b *Broker) Account(ctx context.Context) (broker.Account, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.check(); err != nil {
		return broker.Account{}, err
	}

	acct := b.acct
	for _, p := range b.positions {
		acct.Equity += p.CurrentPnL
	}
	return acct, nil
}

func (b *Broker) Candles(ctx context.Context, symbol string, n int) ([]market.Candle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.check(); err != nil {
		return nil, err
	}
	if q := b.replay[symbol]; len(q) > 0 {
		next := q[0]
		b.replay[symbol] = q[1:]
		b.candles[symbol] = append(b.candles[symbol], next)
		b.prices[symbol] = next.Close
		b.markLocked()
	}
	cs := b.candles[symbol]
	if n > 0 && len(cs) > n {
		cs = cs[len(cs)-n:]
	}
	return append([]market.Candle(nil), cs...), nil
}

func (b *Broker) OpenPosition(ctx context.Context, req broker.OrderRequest) (broker.Fill, error) {
	if err := req.Validate(); err != nil {
		return broker.Fill{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.check(); err != nil {
		return broker.Fill{}, err
	}
	if req.ClientOrderID != "" {
		if f, ok := b.byClientID[req.ClientOrderID]; ok {
			return f, nil
		}
	}
	px, ok := b.prices[req.Symbol]
	if !ok || px <= 0 {
		return broker.Fill{}, fmt.Errorf("paper: no price for %s", req.Symbol)
	}

	b.nextID++
	id := strconv.FormatInt(b.nextID, 10)
	b.positions[id] = &broker.Position{
		PositionID: id,
		Symbol:     req.Symbol,
		Side:       req.Side,
		EntryPrice: px,
		Volume:     req.Volume,
	}
	fill := broker.Fill{
		PositionID:    id,
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Volume:        req.Volume,
		Price:         px,
	}
	if req.ClientOrderID != "" {
		b.byClientID[req.ClientOrderID] = fill
	}
	return fill, nil
}

func (b *Broker) ClosePosition(ctx context.Context, positionID string, volume float64) (broker.Fill, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.check(); err != nil {
		return broker.Fill{}, err
	}

	p, ok := b.positions[positionID]
	if !ok {
		return broker.Fill{}, fmt.Errorf("paper close %s: %w", positionID, broker.ErrUnknownPosition)
	}
	px, ok := b.prices[p.Symbol]
	if !ok || px <= 0 {
		return broker.Fill{}, fmt.Errorf("paper: no price for %s", p.Symbol)
	}
	if volume <= 0 || volume > p.Volume {
		volume = p.Volume
	}

	pnl := (px - p.EntryPrice) * volume * b.contractSize * p.Side.Sign()
	b.acct.Balance += pnl
	b.acct.Equity = b.acct.Balance

	p.Volume -= volume
	if p.Volume <= 0 {
		delete(b.positions, positionID)
	}

	return broker.Fill{
		PositionID: positionID,
		Symbol:     p.Symbol,
		Side:       p.Side,
		Volume:     volume,
		Price:      px,
	}, nil
}
