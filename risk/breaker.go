package risk

import (
	"sync"

	"go.uber.org/zap"
)

// Status is a point-in-time copy of breaker state.
type Status struct {
	DailyPnLPercent        float64 `json:"daily_pnl_percent"`
	ConsecutiveLosses      int     `json:"consecutive_losses"`
	DailyLossTripped       bool    `json:"daily_loss_tripped"`
	ConsecutiveLossTripped bool    `json:"consecutive_loss_tripped"`
	TradingAllowed         bool    `json:"trading_allowed"`
}

// Breakers is the risk gate consulted before opening trades and updated after
// every close. Trips are sticky until ResetDaily or ForceReset.
//
// Only the trading cycle mutates a Breakers; other goroutines may read it.
type Breakers struct {
	mu  sync.RWMutex
	cfg Config
	log *zap.Logger

	dailyPnLPercent        float64
	consecutiveLosses      int
	dailyLossTripped       bool
	consecutiveLossTripped bool
}

// NewBreakers returns breakers with cfg. cfg should already be validated.
func NewBreakers(cfg Config, log *zap.Logger) *Breakers {
	if log == nil {
		log = zap.NewNop()
	}
	return &Breakers{cfg: cfg, log: log.With(zap.String("component", "breakers"))}
}

func (b *Breakers) Config() Config { return b.cfg }

// CheckDailyLoss records the day's P/L fraction and reports whether the
// daily loss breaker is tripped. Once tripped it stays tripped regardless of
// later, better readings.
func (b *Breakers) CheckDailyLoss(pnlPercent float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.dailyPnLPercent = pnlPercent
	if !b.dailyLossTripped && pnlPercent <= b.cfg.DailyLossLimit {
		b.dailyLossTripped = true
		b.log.Warn("daily loss breaker tripped",
			zap.Float64("pnl_percent", pnlPercent),
			zap.Float64("limit", b.cfg.DailyLossLimit),
		)
	}
	return b.dailyLossTripped
}

// RecordTradeResult updates the losing streak. A win resets it.
func (b *Breakers) RecordTradeResult(isWin bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if isWin {
		b.consecutiveLosses = 0
		return
	}
	b.consecutiveLosses++
	if !b.consecutiveLossTripped && b.consecutiveLosses >= b.cfg.MaxConsecutiveLosses {
		b.consecutiveLossTripped = true
		b.log.Warn("consecutive loss breaker tripped",
			zap.Int("losses", b.consecutiveLosses),
			zap.Int("max", b.cfg.MaxConsecutiveLosses),
		)
	}
}

// CheckVolatility is advisory: it reports whether current ATR is at least
// VolatilityThreshold times the average and changes no state.
func (b *Breakers) CheckVolatility(currentATR, averageATR float64) bool {
	if averageATR <= 0 {
		return false
	}
	return currentATR >= averageATR*b.cfg.VolatilityThreshold
}

func (b *Breakers) IsTradingAllowed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return !b.dailyLossTripped && !b.consecutiveLossTripped
}

// ResetDaily clears trips and counters at day rollover. The caller owns the
// schedule.
func (b *Breakers) ResetDaily() {
	b.reset()
	b.log.Info("breakers reset for new day")
}

// ForceReset is the operator override. Same effect as ResetDaily.
func (b *Breakers) ForceReset() {
	b.reset()
	b.log.Warn("breakers force reset")
}

func (b *Breakers) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dailyPnLPercent = 0
	b.consecutiveLosses = 0
	b.dailyLossTripped = false
	b.consecutiveLossTripped = false
}

func (b *Breakers) Snapshot() Status {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return Status{
		DailyPnLPercent:        b.dailyPnLPercent,
		ConsecutiveLosses:      b.consecutiveLosses,
		DailyLossTripped:       b.dailyLossTripped,
		ConsecutiveLossTripped: b.consecutiveLossTripped,
		TradingAllowed:         !b.dailyLossTripped && !b.consecutiveLossTripped,
	}
}
