package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/futuresbot/audit"
	"github.com/rustyeddy/futuresbot/market"
)

var testNow = time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T, opts ...Option) (*Store, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	opts = append([]Option{WithClock(func() time.Time { return testNow })}, opts...)
	s, err := Open(path, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

func pos(id string, side market.Side, entry, volume float64) Position {
	return Position{
		ID:         id,
		Symbol:     "EURUSD",
		Side:       side,
		EntryPrice: entry,
		Volume:     volume,
		OpenedAt:   testNow.Add(-time.Hour),
	}
}

func TestSchemaCreated(t *testing.T) {
	t.Parallel()

	s, path := newTestStore(t)
	require.NoError(t, s.Close())

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	rows, err := db.Query(`SELECT name FROM sqlite_master WHERE type='table'`)
	require.NoError(t, err)
	defer rows.Close()

	found := map[string]bool{}
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		found[name] = true
	}
	require.NoError(t, rows.Err())

	for _, tbl := range []string{"positions", "closed_trades", "daily_stats", "audit_events"} {
		assert.True(t, found[tbl], tbl)
	}
}

func TestUpsertIsIdempotent(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	ctx := context.Background()
	p := pos("101", market.Buy, 1.1, 2)

	require.NoError(t, s.UpsertPosition(ctx, p))
	require.NoError(t, s.UpsertPosition(ctx, p))

	n, err := s.CountOpenPositions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.GetPosition(ctx, "101")
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
	assert.Equal(t, p.Side, got.Side)
	assert.InDelta(t, p.EntryPrice, got.EntryPrice, 1e-12)
	assert.InDelta(t, p.Volume, got.Volume, 1e-12)
	assert.True(t, p.OpenedAt.Equal(got.OpenedAt))
}

func TestUpsertOverwrites(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertPosition(ctx, pos("101", market.Buy, 1.1, 2)))
	require.NoError(t, s.UpsertPosition(ctx, pos("101", market.Buy, 1.2, 3)))

	got, err := s.GetPosition(ctx, "101")
	require.NoError(t, err)
	assert.InDelta(t, 1.2, got.EntryPrice, 1e-12)
	assert.InDelta(t, 3.0, got.Volume, 1e-12)
}

func TestUpsertRejectsInvalid(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name string
		p    Position
	}{
		{"no id", pos("", market.Buy, 1, 1)},
		{"bad side", pos("1", market.Side(0), 1, 1)},
		{"zero entry", pos("1", market.Buy, 0, 1)},
		{"negative volume", pos("1", market.Sell, 1, -1)},
	}
	for _, tt := range tests {
		assert.Error(t, s.UpsertPosition(ctx, tt.p), tt.name)
	}
}

func TestGetPositionNotFound(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	_, err := s.GetPosition(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReopenRecoversState(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "recover.db")
	ctx := context.Background()
	clock := WithClock(func() time.Time { return testNow })

	s1, err := Open(path, clock)
	require.NoError(t, err)
	require.NoError(t, s1.UpsertPosition(ctx, pos("101", market.Buy, 1.10, 1)))
	require.NoError(t, s1.UpsertPosition(ctx, pos("202", market.Sell, 1.20, 1)))
	require.NoError(t, s1.UpsertPosition(ctx, pos("303", market.Buy, 1.00, 1)))
	_, err = s1.ClosePosition(ctx, "303", 1.05, TakeProfit)
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := Open(path, clock)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s2.Close() })

	open, err := s2.GetOpenPositions(ctx)
	require.NoError(t, err)
	require.Len(t, open, 2)
	ids := map[string]market.Side{}
	for _, p := range open {
		ids[p.ID] = p.Side
	}
	assert.Equal(t, market.Buy, ids["101"])
	assert.Equal(t, market.Sell, ids["202"])

	trades, err := s2.GetClosedTrades(ctx)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "303", trades[0].ID)

	ds, err := s2.GetDailyStats(ctx, "2024-06-03")
	require.NoError(t, err)
	assert.Equal(t, 1, ds.TotalTrades)
	assert.InDelta(t, 0.05, ds.TotalPnL, 1e-9)
}

func TestClosePositionAtomicAndAccumulates(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertPosition(ctx, pos("A", market.Buy, 100, 1)))
	require.NoError(t, s.UpsertPosition(ctx, pos("B", market.Sell, 50, 2)))

	win, err := s.ClosePosition(ctx, "A", 200, TakeProfit)
	require.NoError(t, err)
	assert.InDelta(t, 100.0, win.PnL, 0.01)
	assert.True(t, win.Win())

	loss, err := s.ClosePosition(ctx, "B", 70, StopLoss)
	require.NoError(t, err)
	assert.InDelta(t, -40.0, loss.PnL, 0.01)
	assert.False(t, loss.Win())

	n, err := s.CountOpenPositions(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	ds, err := s.GetDailyStats(ctx, s.Today())
	require.NoError(t, err)
	assert.Equal(t, 2, ds.TotalTrades)
	assert.Equal(t, 1, ds.WinningTrades)
	assert.Equal(t, 1, ds.LosingTrades)
	assert.InDelta(t, 60.0, ds.TotalPnL, 0.01)

	today, err := s.GetTodayTrades(ctx)
	require.NoError(t, err)
	require.Len(t, today, 2)

	var sum float64
	for _, tr := range today {
		sum += tr.PnL
	}
	assert.InDelta(t, ds.TotalPnL, sum, 1e-9)
}

func TestCloseUnknownIsNotFound(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.ClosePosition(ctx, "nope", 1.1, Manual)
	assert.ErrorIs(t, err, ErrNotFound)

	ds, err := s.GetDailyStats(ctx, s.Today())
	require.NoError(t, err)
	assert.Zero(t, ds.TotalTrades)
}

func TestClosedPositionDoesNotReappear(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertPosition(ctx, pos("X", market.Buy, 10, 1)))
	_, err := s.ClosePosition(ctx, "X", 11, Manual)
	require.NoError(t, err)

	_, err = s.GetPosition(ctx, "X")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.ClosePosition(ctx, "X", 11, Manual)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCloseRejectsBadInput(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertPosition(ctx, pos("X", market.Buy, 10, 1)))

	_, err := s.ClosePosition(ctx, "X", 0, Manual)
	assert.Error(t, err)
	_, err = s.ClosePosition(ctx, "X", 11, CloseReason("BOGUS"))
	assert.Error(t, err)

	_, err = s.GetPosition(ctx, "X")
	assert.NoError(t, err)
}

func TestContractSizeScalesPnL(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t, WithContractSize(100000))
	ctx := context.Background()
	require.NoError(t, s.UpsertPosition(ctx, pos("F", market.Buy, 1.1000, 0.1)))

	ct, err := s.ClosePosition(ctx, "F", 1.1010, TakeProfit)
	require.NoError(t, err)
	assert.InDelta(t, 10.0, ct.PnL, 1e-6)
}

func TestDeletePositionRecordsNothing(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertPosition(ctx, pos("O", market.Sell, 3, 1)))

	require.NoError(t, s.DeletePosition(ctx, "O"))
	require.NoError(t, s.DeletePosition(ctx, "O"))

	trades, err := s.GetClosedTrades(ctx)
	require.NoError(t, err)
	assert.Empty(t, trades)

	stats, err := s.ListDailyStats(ctx)
	require.NoError(t, err)
	assert.Empty(t, stats)
}

func TestUpdateDailyStats(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpdateDailyStats(ctx, "2024-01-02", 25, true))
	require.NoError(t, s.UpdateDailyStats(ctx, "2024-01-02", -5, false))
	require.NoError(t, s.UpdateDailyStats(ctx, "2024-01-03", -1, false))
	assert.Error(t, s.UpdateDailyStats(ctx, "Jan 2", 1, true))

	ds, err := s.GetDailyStats(ctx, "2024-01-02")
	require.NoError(t, err)
	assert.Equal(t, DailyStats{Date: "2024-01-02", TotalTrades: 2, WinningTrades: 1, LosingTrades: 1, TotalPnL: 20}, ds)

	all, err := s.ListDailyStats(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "2024-01-03", all[1].Date)

	empty, err := s.GetDailyStats(ctx, "2030-01-01")
	require.NoError(t, err)
	assert.Equal(t, DailyStats{Date: "2030-01-01"}, empty)
}

func TestApplyHeal(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertPosition(ctx, pos("A", market.Buy, 1, 1)))

	require.NoError(t, s.ApplyHeal(ctx, []Position{pos("B", market.Sell, 2, 1)}, []string{"A"}))

	m, err := s.OpenPositionMap(ctx)
	require.NoError(t, err)
	assert.Len(t, m, 1)
	assert.Contains(t, m, "B")
}

func TestApplyHealIsAllOrNothing(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertPosition(ctx, pos("A", market.Buy, 1, 1)))

	bad := pos("C", market.Buy, -1, 1)
	err := s.ApplyHeal(ctx, []Position{pos("B", market.Sell, 2, 1), bad}, []string{"A"})
	require.Error(t, err)

	m, err := s.OpenPositionMap(ctx)
	require.NoError(t, err)
	assert.Len(t, m, 1)
	assert.Contains(t, m, "A")
}

func TestConcurrentReadersSeeWholeCloses(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	ctx := context.Background()

	const n = 40
	for i := 0; i < n; i++ {
		require.NoError(t, s.UpsertPosition(ctx, pos(string(rune('a'+i%26))+string(rune('0'+i/26)), market.Buy, 10, 1)))
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		open, err := s.GetOpenPositions(ctx)
		if !assert.NoError(t, err) {
			return
		}
		for _, p := range open {
			_, err := s.ClosePosition(ctx, p.ID, 11, TakeProfit)
			assert.NoError(t, err)
		}
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				s.mu.RLock()
				var openN, closedN, statN int
				_ = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM positions`).Scan(&openN)
				_ = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM closed_trades`).Scan(&closedN)
				_ = s.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(total_trades),0) FROM daily_stats`).Scan(&statN)
				s.mu.RUnlock()
				assert.Equal(t, n, openN+closedN)
				assert.Equal(t, closedN, statN)
			}
		}()
	}
	wg.Wait()

	ds, err := s.GetDailyStats(ctx, s.Today())
	require.NoError(t, err)
	assert.Equal(t, n, ds.TotalTrades)
	assert.InDelta(t, float64(n), ds.TotalPnL, 1e-9)
}

func TestAuditAppendAndList(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	ctx := context.Background()

	var sink audit.Sink = s
	kinds := []audit.Kind{audit.ReconciliationSkipped, audit.PositionAdded, audit.PositionRemoved}
	for i, k := range kinds {
		require.NoError(t, sink.Append(ctx, audit.NewEvent(k, "p", testNow.Add(time.Duration(i)*time.Second), "d")))
	}

	all, err := s.ListAudit(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	for i, e := range all {
		assert.Equal(t, kinds[i], e.Kind)
	}

	last, err := s.ListAudit(ctx, 2)
	require.NoError(t, err)
	require.Len(t, last, 2)
	assert.Equal(t, audit.PositionAdded, last[0].Kind)
	assert.Equal(t, audit.PositionRemoved, last[1].Kind)
}

func TestAuditKeepsAppendOrderWhenClockStepsBack(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, audit.NewEvent(audit.PositionAdded, "p1", testNow, "first")))
	require.NoError(t, s.Append(ctx, audit.NewEvent(audit.PositionRemoved, "p1", testNow.Add(-time.Second), "second")))

	all, err := s.ListAudit(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "first", all[0].Detail)
	assert.Equal(t, "second", all[1].Detail)

	last, err := s.ListAudit(ctx, 1)
	require.NoError(t, err)
	require.Len(t, last, 1)
	assert.Equal(t, "second", last[0].Detail)
}

func TestOpenReadOnly(t *testing.T) {
	t.Parallel()

	s, path := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertPosition(ctx, pos("R", market.Buy, 1, 1)))
	require.NoError(t, s.Close())

	ro, err := OpenReadOnly(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ro.Close() })

	n, err := ro.CountOpenPositions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Error(t, ro.UpsertPosition(ctx, pos("W", market.Buy, 1, 1)))
}

func TestOpenReadOnlyMissingFile(t *testing.T) {
	t.Parallel()

	_, err := OpenReadOnly(filepath.Join(t.TempDir(), "absent.db"))
	assert.Error(t, err)
}

func TestResolvePath(t *testing.T) {
	t.Setenv(EnvDBPath, "")
	assert.Equal(t, DefaultPath, ResolvePath(""))
	assert.Equal(t, "/data/bot.db", ResolvePath("/data/bot.db"))

	t.Setenv(EnvDBPath, "/env/override.db")
	assert.Equal(t, "/env/override.db", ResolvePath("/data/bot.db"))
}
