package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rustyeddy/futuresbot/market"
)

// ClosePosition removes the open row for id, appends a ClosedTrade and folds
// its P/L into that day's DailyStats, all in one transaction. It returns
// ErrNotFound when id is not open.
func (s *Store) ClosePosition(ctx context.Context, id string, exitPrice float64, reason CloseReason) (ClosedTrade, error) {
	if exitPrice <= 0 {
		return ClosedTrade{}, fmt.Errorf("close position %s: exit price must be positive", id)
	}
	if !reason.Valid() {
		return ClosedTrade{}, fmt.Errorf("close position %s: unknown reason %q", id, reason)
	}

	var ct ClosedTrade
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT `+positionColumns+` FROM positions WHERE id = ?`, id)
		p, err := scanPosition(row)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("close position %q: %w", id, ErrNotFound)
		}
		if err != nil {
			return err
		}

		closedAt := s.now().UTC()
		ct = ClosedTrade{
			ID:          p.ID,
			Symbol:      p.Symbol,
			Side:        p.Side,
			EntryPrice:  p.EntryPrice,
			ExitPrice:   exitPrice,
			Volume:      p.Volume,
			PnL:         PnL(p, exitPrice, s.contractSize),
			CloseReason: reason,
			OpenedAt:    p.OpenedAt,
			ClosedAt:    closedAt,
		}

		if err := deletePositionTx(ctx, tx, id); err != nil {
			return err
		}
		if err := insertClosedTradeTx(ctx, tx, ct); err != nil {
			return err
		}
		return updateDailyStatsTx(ctx, tx, DateKey(closedAt), ct.PnL, ct.Win())
	})
	if err != nil {
		return ClosedTrade{}, err
	}

	s.log.Info("position closed",
		zap.String("id", ct.ID),
		zap.String("symbol", ct.Symbol),
		zap.String("reason", string(ct.CloseReason)),
		zap.Float64("pnl", ct.PnL),
	)
	return ct, nil
}

func insertClosedTradeTx(ctx context.Context, tx *sql.Tx, t ClosedTrade) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO closed_trades
		(id, symbol, side, entry_price, exit_price, volume, pnl, close_reason, opened_at, closed_at, close_date)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Symbol, t.Side.String(), t.EntryPrice, t.ExitPrice, t.Volume, t.PnL,
		string(t.CloseReason), t.OpenedAt.UTC(), t.ClosedAt.UTC(), DateKey(t.ClosedAt),
	)
	if err != nil {
		return fmt.Errorf("insert closed trade %s: %w", t.ID, err)
	}
	return nil
}

// UpdateDailyStats folds one trade result into date's row, creating it if
// needed. date must be YYYY-MM-DD.
func (s *Store) UpdateDailyStats(ctx context.Context, date string, pnl float64, isWin bool) error {
	if _, err := time.Parse(DateLayout, date); err != nil {
		return fmt.Errorf("daily stats: bad date %q: %w", date, err)
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return updateDailyStatsTx(ctx, tx, date, pnl, isWin)
	})
}

func updateDailyStatsTx(ctx context.Context, tx *sql.Tx, date string, pnl float64, isWin bool) error {
	win, loss := 0, 1
	if isWin {
		win, loss = 1, 0
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO daily_stats (date, total_trades, winning_trades, losing_trades, total_pnl)
		VALUES (?, 1, ?, ?, ?)
		ON CONFLICT(date) DO UPDATE SET
			total_trades = total_trades + 1,
			winning_trades = winning_trades + excluded.winning_trades,
			losing_trades = losing_trades + excluded.losing_trades,
			total_pnl = total_pnl + excluded.total_pnl`,
		date, win, loss, pnl,
	)
	if err != nil {
		return fmt.Errorf("update daily stats %s: %w", date, err)
	}
	return nil
}

// GetDailyStats returns the row for date. A date with no trades yields
// zeroed stats, not an error.
func (s *Store) GetDailyStats(ctx context.Context, date string) (DailyStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ds := DailyStats{Date: date}
	err := s.db.QueryRowContext(ctx, `
		SELECT total_trades, winning_trades, losing_trades, total_pnl
		FROM daily_stats WHERE date = ?`, date).
		Scan(&ds.TotalTrades, &ds.WinningTrades, &ds.LosingTrades, &ds.TotalPnL)
	if errors.Is(err, sql.ErrNoRows) {
		return ds, nil
	}
	if err != nil {
		return DailyStats{}, err
	}
	return ds, nil
}

// Today returns the current UTC date key.
func (s *Store) Today() string {
	return DateKey(s.now())
}

// ListDailyStats returns every day's row in date order.
func (s *Store) ListDailyStats(ctx context.Context) ([]DailyStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT date, total_trades, winning_trades, losing_trades, total_pnl
		FROM daily_stats ORDER BY date ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DailyStats
	for rows.Next() {
		var ds DailyStats
		if err := rows.Scan(&ds.Date, &ds.TotalTrades, &ds.WinningTrades, &ds.LosingTrades, &ds.TotalPnL); err != nil {
			return nil, err
		}
		out = append(out, ds)
	}
	return out, rows.Err()
}

const closedTradeColumns = `id, symbol, side, entry_price, exit_price, volume, pnl, close_reason, opened_at, closed_at`

func (s *Store) queryClosedTrades(ctx context.Context, where string, args ...any) ([]ClosedTrade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT `+closedTradeColumns+` FROM closed_trades `+where+` ORDER BY seq ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ClosedTrade
	for rows.Next() {
		var (
			t            ClosedTrade
			side, reason string
		)
		if err := rows.Scan(&t.ID, &t.Symbol, &side, &t.EntryPrice, &t.ExitPrice, &t.Volume,
			&t.PnL, &reason, &t.OpenedAt, &t.ClosedAt); err != nil {
			return nil, err
		}
		if t.Side, err = market.ParseSide(side); err != nil {
			return nil, fmt.Errorf("closed trade %s: %w", t.ID, err)
		}
		t.CloseReason = CloseReason(reason)
		t.OpenedAt = t.OpenedAt.UTC()
		t.ClosedAt = t.ClosedAt.UTC()
		out = append(out, t)
	}
	return out, rows.Err()
}

// GetTodayTrades returns trades closed on the current UTC date.
func (s *Store) GetTodayTrades(ctx context.Context) ([]ClosedTrade, error) {
	return s.GetTradesOn(ctx, s.Today())
}

// GetTradesOn returns trades closed on date (YYYY-MM-DD), in close order.
func (s *Store) GetTradesOn(ctx context.Context, date string) ([]ClosedTrade, error) {
	return s.queryClosedTrades(ctx, `WHERE close_date = ?`, date)
}

// GetClosedTrades returns the whole closed-trade history in close order.
func (s *Store) GetClosedTrades(ctx context.Context) ([]ClosedTrade, error) {
	return s.queryClosedTrades(ctx, ``)
}
