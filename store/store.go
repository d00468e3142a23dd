// Package store is the durable, crash-safe record of open positions, closed
// trades and per-day statistics. It is the bot's single source of truth on
// restart.
package store

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rustyeddy/futuresbot/market"
)

// DateLayout keys the daily_stats table.
const DateLayout = "2006-01-02"

// ErrNotFound is returned when an id is not currently open.
var ErrNotFound = errors.New("not found")

// Position is a locally tracked open position. ID is the broker's position
// identifier.
type Position struct {
	ID         string
	Symbol     string
	Side       market.Side
	EntryPrice float64
	Volume     float64
	OpenedAt   time.Time

	// Optional protective levels; 0 means unset.
	StopLoss   float64
	TakeProfit float64
}

// Validate checks the fields every persisted position must carry.
func (p Position) Validate() error {
	switch {
	case strings.TrimSpace(p.ID) == "":
		return fmt.Errorf("position: id is required")
	case p.Symbol == "":
		return fmt.Errorf("position %s: symbol is required", p.ID)
	case !p.Side.Valid():
		return fmt.Errorf("position %s: invalid side", p.ID)
	case p.EntryPrice <= 0:
		return fmt.Errorf("position %s: entry price must be positive", p.ID)
	case p.Volume <= 0:
		return fmt.Errorf("position %s: volume must be positive", p.ID)
	}
	return nil
}

// CloseReason explains why a position left the open set with a fill.
type CloseReason string

const (
	TakeProfit     CloseReason = "TAKE_PROFIT"
	StopLoss       CloseReason = "STOP_LOSS"
	Manual         CloseReason = "MANUAL"
	Reconciliation CloseReason = "RECONCILIATION"
)

func (r CloseReason) Valid() bool {
	switch r {
	case TakeProfit, StopLoss, Manual, Reconciliation:
		return true
	}
	return false
}

// ClosedTrade is the immutable record written when a position is closed.
type ClosedTrade struct {
	ID          string // position id
	Symbol      string
	Side        market.Side
	EntryPrice  float64
	ExitPrice   float64
	Volume      float64
	PnL         float64
	CloseReason CloseReason
	OpenedAt    time.Time
	ClosedAt    time.Time
}

// Win reports whether the trade counts as a winner. Break-even is a loss.
func (t ClosedTrade) Win() bool { return t.PnL > 0 }

// DailyStats aggregates closed trades for one UTC calendar date.
type DailyStats struct {
	Date          string
	TotalTrades   int
	WinningTrades int
	LosingTrades  int
	TotalPnL      float64
}

// PnL is the realized profit of closing p at exit. contractSize converts a
// price move per lot into account currency.
func PnL(p Position, exit, contractSize float64) float64 {
	if contractSize <= 0 {
		contractSize = 1
	}
	return (exit - p.EntryPrice) * p.Volume * contractSize * p.Side.Sign()
}

// DateKey returns the daily_stats key for t.
func DateKey(t time.Time) string {
	return t.UTC().Format(DateLayout)
}
