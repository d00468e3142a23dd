// Package broker is the typed boundary between the bot and whatever speaks
// the broker's wire protocol. Nothing here knows about framing; adapters
// translate protocol messages into these types.
package broker

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/rustyeddy/futuresbot/market"
)

// ErrOffline is returned by adapters when the link to the broker is down.
var ErrOffline = errors.New("broker offline")

// ErrUnknownPosition is returned when a close names a position the broker
// does not hold.
var ErrUnknownPosition = errors.New("unknown position")

// Position is one position as the broker reports it. It is never persisted
// directly; reconciliation turns it into a local position when needed.
type Position struct {
	PositionID string
	SymbolID   int64
	Symbol     string
	Side       market.Side
	EntryPrice float64
	Volume     float64
	CurrentPnL float64
}

// PositionSource supplies position snapshots. An error means the snapshot is
// unknown, never that the broker holds nothing.
type PositionSource interface {
	Positions(ctx context.Context) ([]Position, error)
}

type Account struct {
	ID       string
	Currency string
	Balance  float64
	Equity   float64
}

// OrderRequest opens a market position. ClientOrderID lets the broker drop a
// retried duplicate.
type OrderRequest struct {
	ClientOrderID string
	Symbol        string
	Side          market.Side
	Volume        float64
	StopLoss      float64
	TakeProfit    float64
}

// NewOrderRequest fills in a fresh ClientOrderID.
func NewOrderRequest(symbol string, side market.Side, volume float64) OrderRequest {
	return OrderRequest{
		ClientOrderID: uuid.New().String(),
		Symbol:        symbol,
		Side:          side,
		Volume:        volume,
	}
}

func (r OrderRequest) Validate() error {
	switch {
	case r.Symbol == "":
		return fmt.Errorf("order: symbol is required")
	case !r.Side.Valid():
		return fmt.Errorf("order: invalid side")
	case r.Volume <= 0:
		return fmt.Errorf("order: volume must be positive")
	}
	return nil
}

// Fill is the broker's confirmation of an open or close.
type Fill struct {
	PositionID    string
	ClientOrderID string
	Symbol        string
	Side          market.Side
	Volume        float64
	Price         float64
}

type Broker interface {
	PositionSource

	Account(ctx context.Context) (Account, error)

	// Candles returns the last n closed bars for symbol, oldest first.
	Candles(ctx context.Context, symbol string, n int) ([]market.Candle, error)

	OpenPosition(ctx context.Context, req OrderRequest) (Fill, error)

	// ClosePosition closes volume lots of positionID at market.
	ClosePosition(ctx context.Context, positionID string, volume float64) (Fill, error)
}
