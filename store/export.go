package store

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/parquet-go/parquet-go"
)

var (
	closedTradeHeader = []string{"id", "symbol", "side", "entry_price", "exit_price", "volume", "pnl", "close_reason", "closed_at"}
	dailyStatsHeader  = []string{"date", "total_trades", "winning_trades", "losing_trades", "total_pnl"}
)

// closedTradeRecord is the JSON and Parquet shape of a closed trade.
type closedTradeRecord struct {
	ID          string  `json:"id" parquet:"id"`
	Symbol      string  `json:"symbol" parquet:"symbol"`
	Side        string  `json:"side" parquet:"side"`
	EntryPrice  float64 `json:"entry_price" parquet:"entry_price"`
	ExitPrice   float64 `json:"exit_price" parquet:"exit_price"`
	Volume      float64 `json:"volume" parquet:"volume"`
	PnL         float64 `json:"pnl" parquet:"pnl"`
	CloseReason string  `json:"close_reason" parquet:"close_reason"`
	ClosedAt    string  `json:"closed_at" parquet:"closed_at"`
}

func toRecord(t ClosedTrade) closedTradeRecord {
	return closedTradeRecord{
		ID:          t.ID,
		Symbol:      t.Symbol,
		Side:        t.Side.String(),
		EntryPrice:  t.EntryPrice,
		ExitPrice:   t.ExitPrice,
		Volume:      t.Volume,
		PnL:         t.PnL,
		CloseReason: string(t.CloseReason),
		ClosedAt:    t.ClosedAt.UTC().Format(time.RFC3339),
	}
}

// ExportClosedTradesCSV writes the closed-trade history to path and returns
// the number of rows written.
func (s *Store) ExportClosedTradesCSV(ctx context.Context, path string) (int, error) {
	trades, err := s.GetClosedTrades(ctx)
	if err != nil {
		return 0, err
	}
	rows := make([][]string, 0, len(trades))
	for _, t := range trades {
		rows = append(rows, []string{
			t.ID,
			t.Symbol,
			t.Side.String(),
			f(t.EntryPrice),
			f(t.ExitPrice),
			f(t.Volume),
			f(t.PnL),
			string(t.CloseReason),
			t.ClosedAt.UTC().Format(time.RFC3339),
		})
	}
	return len(rows), writeCSV(path, closedTradeHeader, rows)
}

// ExportClosedTradesJSON writes the closed-trade history to path as a JSON
// array.
func (s *Store) ExportClosedTradesJSON(ctx context.Context, path string) (int, error) {
	trades, err := s.GetClosedTrades(ctx)
	if err != nil {
		return 0, err
	}
	recs := make([]closedTradeRecord, 0, len(trades))
	for _, t := range trades {
		recs = append(recs, toRecord(t))
	}
	data, err := json.MarshalIndent(recs, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("marshal trades: %w", err)
	}
	if err := writeFile(path, data); err != nil {
		return 0, err
	}
	return len(recs), nil
}

// ExportClosedTradesParquet writes the closed-trade history to path as a
// Parquet file for notebook analysis.
func (s *Store) ExportClosedTradesParquet(ctx context.Context, path string) (int, error) {
	trades, err := s.GetClosedTrades(ctx)
	if err != nil {
		return 0, err
	}
	recs := make([]closedTradeRecord, 0, len(trades))
	for _, t := range trades {
		recs = append(recs, toRecord(t))
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, err
	}
	if err := parquet.WriteFile(path, recs); err != nil {
		return 0, fmt.Errorf("write parquet %s: %w", path, err)
	}
	return len(recs), nil
}

// ExportDailyStatsCSV writes every daily_stats row to path.
func (s *Store) ExportDailyStatsCSV(ctx context.Context, path string) (int, error) {
	stats, err := s.ListDailyStats(ctx)
	if err != nil {
		return 0, err
	}
	rows := make([][]string, 0, len(stats))
	for _, d := range stats {
		rows = append(rows, []string{
			d.Date,
			strconv.Itoa(d.TotalTrades),
			strconv.Itoa(d.WinningTrades),
			strconv.Itoa(d.LosingTrades),
			f(d.TotalPnL),
		})
	}
	return len(rows), writeCSV(path, dailyStatsHeader, rows)
}

func writeCSV(path string, header []string, rows [][]string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	fh, err := os.Create(path)
	if err != nil {
		return err
	}
	w := csv.NewWriter(fh)
	if err := w.Write(header); err != nil {
		fh.Close()
		return err
	}
	if err := w.WriteAll(rows); err != nil {
		fh.Close()
		return err
	}
	if err := fh.Sync(); err != nil {
		fh.Close()
		return err
	}
	return fh.Close()
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func f(x float64) string {
	return strconv.FormatFloat(x, 'f', 6, 64)
}
