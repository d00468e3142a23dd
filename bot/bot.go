// Package bot runs the trading cycle: reconcile against the broker, consult
// the circuit breakers, let the strategy decide, place orders and persist
// the result.
package bot

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rustyeddy/futuresbot/broker"
	"github.com/rustyeddy/futuresbot/indicators"
	"github.com/rustyeddy/futuresbot/market"
	"github.com/rustyeddy/futuresbot/metrics"
	"github.com/rustyeddy/futuresbot/reconcile"
	"github.com/rustyeddy/futuresbot/risk"
	"github.com/rustyeddy/futuresbot/store"
	"github.com/rustyeddy/futuresbot/strategies"
)

// ErrResetPending is returned when the reset queue is full.
var ErrResetPending = errors.New("breaker reset already pending")

type Deps struct {
	Config   Config
	Broker   broker.Broker
	Store    *store.Store
	System   *reconcile.System
	Breakers *risk.Breakers
	Strategy strategies.Strategy
	Metrics  *metrics.Metrics
	Log      *zap.Logger
	Now      func() time.Time
}

// CycleReport summarizes one Step.
type CycleReport struct {
	At             time.Time           `json:"at"`
	Duration       time.Duration       `json:"duration"`
	Resets         int                 `json:"resets"`
	DayRolled      bool                `json:"day_rolled"`
	Reconcile      reconcile.Report    `json:"reconcile"`
	TradingAllowed bool                `json:"trading_allowed"`
	Halted         bool                `json:"halted"`
	Closed         []store.ClosedTrade `json:"closed,omitempty"`
	Opened         []store.Position    `json:"opened,omitempty"`
	Widened        int                 `json:"volatility_widened"`
	OpenPositions  int                 `json:"open_positions"`
}

// Status is the read-only view served by the status API.
type Status struct {
	Connection    reconcile.ConnectionState `json:"connection"`
	LastSuccess   time.Time                 `json:"last_success"`
	Failures      int                       `json:"failures"`
	Breakers      risk.Status               `json:"breakers"`
	OpenPositions int                       `json:"open_positions"`
	PendingCloses int                       `json:"pending_closes"`
	Halted        bool                      `json:"halted"`
	LastCycle     time.Time                 `json:"last_cycle"`
	Day           string                    `json:"day"`
}

type Bot struct {
	cfg      Config
	broker   broker.Broker
	store    *store.Store
	sys      *reconcile.System
	breakers *risk.Breakers
	strategy strategies.Strategy
	metrics  *metrics.Metrics
	log      *zap.Logger
	now      func() time.Time

	resets chan string

	// cycle-owned
	day       string
	dayEquity float64
	errStreak int
	pending   map[string]pendingClose

	mu        sync.RWMutex
	halted    bool
	lastCycle time.Time
	openCount int
}

func New(d Deps) (*Bot, error) {
	switch {
	case d.Broker == nil:
		return nil, fmt.Errorf("bot: Broker is required")
	case d.Store == nil:
		return nil, fmt.Errorf("bot: Store is required")
	case d.System == nil:
		return nil, fmt.Errorf("bot: System is required")
	case d.Breakers == nil:
		return nil, fmt.Errorf("bot: Breakers is required")
	}
	if err := d.Config.Validate(); err != nil {
		return nil, err
	}
	if d.Strategy == nil {
		d.Strategy = strategies.NoopStrategy{}
	}
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Metrics == nil {
		d.Metrics = metrics.New(nil)
	}
	if d.System.OnStateChange == nil {
		d.System.OnStateChange = func(_, to reconcile.ConnectionState) {
			d.Metrics.SetConnectionState(to)
		}
	}
	return &Bot{
		cfg:      d.Config,
		broker:   d.Broker,
		store:    d.Store,
		sys:      d.System,
		breakers: d.Breakers,
		strategy: d.Strategy,
		metrics:  d.Metrics,
		log:      d.Log.With(zap.String("component", "bot")),
		now:      d.Now,
		resets:   make(chan string, 8),
		pending:  make(map[string]pendingClose),
	}, nil
}

// pendingClose is a close the broker filled but the store failed to record.
type pendingClose struct {
	price  float64
	reason store.CloseReason
}

// RequestBreakerReset queues an operator reset. The next Step applies it,
// so breaker state keeps a single writer.
func (b *Bot) RequestBreakerReset(reason string) error {
	select {
	case b.resets <- reason:
		return nil
	default:
		return ErrResetPending
	}
}

func (b *Bot) Status() Status {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return Status{
		Connection:    b.sys.State(),
		LastSuccess:   b.sys.LastSuccess(),
		Failures:      b.sys.Failures(),
		Breakers:      b.breakers.Snapshot(),
		OpenPositions: b.openCount,
		PendingCloses: len(b.pending),
		Halted:        b.halted,
		LastCycle:     b.lastCycle,
		Day:           store.DateKey(b.now()),
	}
}

// Run steps every Interval until ctx is done. Cycle errors are logged and
// the loop continues.
func (b *Bot) Run(ctx context.Context) error {
	b.log.Info("trading cycle started",
		zap.Strings("symbols", b.cfg.Symbols),
		zap.Duration("interval", b.cfg.Interval),
		zap.String("strategy", b.strategy.Name()),
	)
	ticker := time.NewTicker(b.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := b.Step(ctx); err != nil && ctx.Err() == nil {
			b.log.Error("cycle failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			b.log.Info("trading cycle stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Step runs one cycle. A returned error means a store write failed or ctx
// was cancelled; broker trouble is logged and never returned.
func (b *Bot) Step(ctx context.Context) (CycleReport, error) {
	start := b.now()
	rep := CycleReport{At: start.UTC()}

	err := b.step(ctx, &rep)

	rep.Duration = b.now().Sub(start)
	b.metrics.ObserveCycle(rep.Duration, err)
	b.metrics.SetTradingAllowed(b.breakers.IsTradingAllowed())

	b.mu.Lock()
	b.lastCycle = rep.At
	if err != nil && ctx.Err() == nil {
		b.errStreak++
		if b.cfg.HaltAfterStoreErrors > 0 && b.errStreak >= b.cfg.HaltAfterStoreErrors && !b.halted {
			b.halted = true
			b.log.Error("halting new entries after repeated cycle failures", zap.Int("failures", b.errStreak))
		}
	} else if err == nil {
		b.errStreak = 0
	}
	rep.Halted = b.halted
	b.mu.Unlock()

	return rep, err
}

func (b *Bot) step(ctx context.Context, rep *CycleReport) error {
	rep.Resets = b.drainResets()

	if err := b.rollover(ctx, rep); err != nil {
		return err
	}

	// before Sync, or the snapshot would delete these rows as orphans
	if err := b.settlePending(ctx, rep); err != nil {
		return err
	}

	rr, err := b.sys.Sync(ctx, b.broker)
	rep.Reconcile = rr
	b.metrics.ObserveReconcile(rr)
	if err != nil {
		return err
	}

	positions, err := b.store.GetOpenPositions(ctx)
	if err != nil {
		return fmt.Errorf("load open positions: %w", err)
	}

	candles := b.fetchCandles(ctx)
	quotes := make(map[string]float64, len(candles))
	for sym, cs := range candles {
		if len(cs) > 0 {
			quotes[sym] = cs[len(cs)-1].Close
		}
	}

	if err := b.exits(ctx, rep, positions, quotes); err != nil {
		return err
	}

	rep.TradingAllowed = b.breakers.IsTradingAllowed()
	b.mu.RLock()
	halted := b.halted
	b.mu.RUnlock()

	if rep.TradingAllowed && !halted {
		if err := b.entries(ctx, rep, candles); err != nil {
			return err
		}
	} else if !rep.TradingAllowed {
		b.log.Debug("trading not allowed", zap.Any("breakers", b.breakers.Snapshot()))
	}

	n, err := b.store.CountOpenPositions(ctx)
	if err != nil {
		return fmt.Errorf("count open positions: %w", err)
	}
	rep.OpenPositions = n
	b.metrics.SetOpenPositions(n)
	b.mu.Lock()
	b.openCount = n
	b.mu.Unlock()
	return nil
}

func (b *Bot) drainResets() int {
	n := 0
	for {
		select {
		case reason := <-b.resets:
			b.breakers.ForceReset()
			b.mu.Lock()
			b.halted = false
			b.errStreak = 0
			b.mu.Unlock()
			b.log.Warn("operator reset applied", zap.String("reason", reason))
			n++
		default:
			return n
		}
	}
}

// rollover resets breakers at a new UTC day. On the first cycle it rebuilds
// breaker state from today's closed trades so a restart does not forget a
// trip.
func (b *Bot) rollover(ctx context.Context, rep *CycleReport) error {
	day := store.DateKey(b.now())
	if day == b.day {
		return nil
	}
	first := b.day == ""
	b.day = day
	b.dayEquity = b.cfg.StartingEquity
	if acct, err := b.broker.Account(ctx); err == nil && acct.Equity > 0 {
		b.dayEquity = acct.Equity
	} else if err != nil {
		b.log.Warn("account unavailable, using starting equity", zap.Error(err))
	}

	if !first {
		b.breakers.ResetDaily()
		rep.DayRolled = true
		return nil
	}

	trades, err := b.store.GetTodayTrades(ctx)
	if err != nil {
		return fmt.Errorf("restore breakers: %w", err)
	}
	for _, t := range trades {
		b.breakers.RecordTradeResult(t.Win())
	}
	stats, err := b.store.GetDailyStats(ctx, day)
	if err != nil {
		return fmt.Errorf("restore breakers: %w", err)
	}
	if len(trades) > 0 {
		b.checkDailyLoss(stats)
		b.log.Info("breakers restored", zap.Int("trades", len(trades)), zap.Any("breakers", b.breakers.Snapshot()))
	}
	return nil
}

func (b *Bot) checkDailyLoss(stats store.DailyStats) {
	if b.dayEquity <= 0 {
		return
	}
	b.breakers.CheckDailyLoss(stats.TotalPnL / b.dayEquity)
}

func (b *Bot) fetchCandles(ctx context.Context) map[string][]market.Candle {
	out := make(map[string][]market.Candle, len(b.cfg.Symbols))
	for _, sym := range b.cfg.Symbols {
		cs, err := b.broker.Candles(ctx, sym, b.cfg.CandleLookback)
		if err != nil {
			b.log.Warn("candles unavailable", zap.String("symbol", sym), zap.Error(err))
			continue
		}
		out[sym] = cs
	}
	return out
}

func (b *Bot) exits(ctx context.Context, rep *CycleReport, positions []store.Position, quotes map[string]float64) error {
	if len(positions) == 0 {
		return nil
	}
	exits, err := b.strategy.Exits(ctx, positions, quotes)
	if err != nil {
		b.log.Warn("strategy exits failed", zap.Error(err))
		return nil
	}

	byID := make(map[string]store.Position, len(positions))
	for _, p := range positions {
		byID[p.ID] = p
	}

	for _, x := range exits {
		p, ok := byID[x.PositionID]
		if !ok {
			continue
		}
		fill, err := b.broker.ClosePosition(ctx, p.ID, p.Volume)
		if err != nil {
			// unknown at the broker: reconciliation removes it once a
			// confirmed snapshot agrees
			b.log.Warn("broker close failed", zap.String("position_id", p.ID), zap.Error(err))
			continue
		}

		trade, err := b.store.ClosePosition(ctx, p.ID, fill.Price, x.Reason)
		if errors.Is(err, store.ErrNotFound) {
			b.log.Warn("closed at broker but not open locally", zap.String("position_id", p.ID))
			continue
		}
		if err != nil {
			b.setPending(p.ID, pendingClose{price: fill.Price, reason: x.Reason})
			b.log.Error("close filled at broker but not recorded, will retry",
				zap.String("position_id", p.ID),
				zap.Float64("fill_price", fill.Price),
				zap.String("reason", string(x.Reason)),
				zap.Error(err),
			)
			return fmt.Errorf("record close %s: %w", p.ID, err)
		}
		if err := b.recordClose(ctx, rep, trade); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bot) setPending(id string, pc pendingClose) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending[id] = pc
}

// settlePending retries store closes for fills the broker already confirmed.
func (b *Bot) settlePending(ctx context.Context, rep *CycleReport) error {
	b.mu.RLock()
	ids := make([]string, 0, len(b.pending))
	for id := range b.pending {
		ids = append(ids, id)
	}
	b.mu.RUnlock()
	sort.Strings(ids)

	for _, id := range ids {
		b.mu.RLock()
		pc := b.pending[id]
		b.mu.RUnlock()

		trade, err := b.store.ClosePosition(ctx, id, pc.price, pc.reason)
		if errors.Is(err, store.ErrNotFound) {
			b.log.Warn("pending close dropped: not open locally",
				zap.String("position_id", id), zap.Float64("fill_price", pc.price))
			b.dropPending(id)
			continue
		}
		if err != nil {
			return fmt.Errorf("settle close %s: %w", id, err)
		}
		b.dropPending(id)
		if err := b.recordClose(ctx, rep, trade); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bot) dropPending(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.pending, id)
}

// recordClose feeds a recorded trade to the breakers and metrics.
func (b *Bot) recordClose(ctx context.Context, rep *CycleReport, trade store.ClosedTrade) error {
	rep.Closed = append(rep.Closed, trade)

	b.breakers.RecordTradeResult(trade.Win())
	b.metrics.TradeClosed(trade.Win())

	stats, err := b.store.GetDailyStats(ctx, store.DateKey(trade.ClosedAt))
	if err != nil {
		return fmt.Errorf("daily stats: %w", err)
	}
	b.checkDailyLoss(stats)

	b.log.Info("position closed",
		zap.String("position_id", trade.ID),
		zap.String("symbol", trade.Symbol),
		zap.String("reason", string(trade.CloseReason)),
		zap.Float64("pnl", trade.PnL),
	)
	return nil
}

func (b *Bot) entries(ctx context.Context, rep *CycleReport, candles map[string][]market.Candle) error {
	open, err := b.store.GetOpenPositions(ctx)
	if err != nil {
		return fmt.Errorf("load open positions: %w", err)
	}
	held := make(map[string]bool, len(open))
	for _, p := range open {
		held[p.Symbol] = true
	}
	count := len(open)

	for _, sym := range b.cfg.Symbols {
		if b.cfg.MaxOpenPositions > 0 && count >= b.cfg.MaxOpenPositions {
			return nil
		}
		cs := candles[sym]
		if held[sym] || len(cs) == 0 {
			continue
		}

		sig, ok, err := b.strategy.Entry(ctx, sym, cs)
		if err != nil {
			b.log.Warn("strategy entry failed", zap.String("symbol", sym), zap.Error(err))
			continue
		}
		if !ok {
			continue
		}

		p, err := b.open(ctx, rep, sym, sig, cs)
		if err != nil {
			return err
		}
		if p.ID != "" {
			rep.Opened = append(rep.Opened, p)
			held[sym] = true
			count++
		}
	}
	return nil
}

// open places one order. A zero Position with a nil error means the order
// was not placed.
func (b *Bot) open(ctx context.Context, rep *CycleReport, sym string, sig strategies.Signal, cs []market.Candle) (store.Position, error) {
	entry := cs[len(cs)-1].Close
	stop := sig.StopLoss
	if stop <= 0 {
		stop = entry - b.cfg.StopDistance*sig.Side.Sign()
	}

	if cur, avg, err := indicators.Volatility(cs, b.cfg.ATRPeriod); err == nil && b.breakers.CheckVolatility(cur, avg) {
		dist := math.Abs(entry-stop) * b.cfg.VolatilityStopMultiplier
		stop = entry - dist*sig.Side.Sign()
		rep.Widened++
		b.log.Info("volatility advisory: stop widened",
			zap.String("symbol", sym),
			zap.Float64("atr", cur),
			zap.Float64("avg_atr", avg),
			zap.Float64("stop", stop),
		)
	}

	equity := b.dayEquity
	if acct, err := b.broker.Account(ctx); err == nil && acct.Equity > 0 {
		equity = acct.Equity
	}
	size := risk.SizeVolume(risk.Inputs{
		Equity:       equity,
		RiskPct:      b.cfg.RiskPercent,
		EntryPrice:   entry,
		StopPrice:    stop,
		ContractSize: b.cfg.ContractSize,
		VolumeStep:   b.cfg.VolumeStep,
		MinVolume:    b.cfg.VolumeStep,
	})
	if size.Volume <= 0 {
		b.log.Info("entry skipped: size below minimum", zap.String("symbol", sym), zap.Float64("risk_amount", size.RiskAmount))
		return store.Position{}, nil
	}

	req := broker.NewOrderRequest(sym, sig.Side, size.Volume)
	req.StopLoss = stop
	req.TakeProfit = sig.TakeProfit
	fill, err := b.broker.OpenPosition(ctx, req)
	if err != nil {
		b.log.Warn("order rejected", zap.String("symbol", sym), zap.String("client_order_id", req.ClientOrderID), zap.Error(err))
		return store.Position{}, nil
	}

	p := store.Position{
		ID:         fill.PositionID,
		Symbol:     sym,
		Side:       sig.Side,
		EntryPrice: fill.Price,
		Volume:     fill.Volume,
		OpenedAt:   b.now().UTC(),
		StopLoss:   stop,
		TakeProfit: sig.TakeProfit,
	}
	if err := b.store.UpsertPosition(ctx, p); err != nil {
		// the broker holds it; the next confirmed snapshot re-adds it
		return store.Position{}, fmt.Errorf("persist opened position %s: %w", fill.PositionID, err)
	}
	b.log.Info("position opened",
		zap.String("position_id", p.ID),
		zap.String("symbol", sym),
		zap.Stringer("side", sig.Side),
		zap.Float64("volume", p.Volume),
		zap.Float64("entry", p.EntryPrice),
		zap.Float64("stop", stop),
		zap.String("reason", sig.Reason),
	)
	return p, nil
}
