package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/rustyeddy/futuresbot/market"
)

// EnvDBPath overrides the configured database location.
const EnvDBPath = "PERSISTENCE_DB_PATH"

// DefaultPath is used when neither config nor environment name a location.
const DefaultPath = "./futuresbot.sqlite"

// ResolvePath picks the database location: environment, then configured,
// then DefaultPath.
func ResolvePath(configured string) string {
	if v := os.Getenv(EnvDBPath); v != "" {
		return v
	}
	if configured != "" {
		return configured
	}
	return DefaultPath
}

// Store is the SQLite-backed position store. Writes are serialized through
// mu and each runs in a single transaction; readers take the read lock so
// they never observe a half-applied close or heal.
type Store struct {
	mu           sync.RWMutex
	db           *sql.DB
	path         string
	readOnly     bool
	contractSize float64
	now          func() time.Time
	log          *zap.Logger
}

type Option func(*Store)

// WithClock replaces time.Now, for tests and replay.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithContractSize sets the multiplier used for realized P/L.
func WithContractSize(v float64) Option {
	return func(s *Store) {
		if v > 0 {
			s.contractSize = v
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

// Open opens (or creates) the store at path and applies the schema.
func Open(path string, opts ...Option) (*Store, error) {
	dsn := "file:" + path + "?_journal_mode=WAL&_synchronous=FULL&_busy_timeout=5000&_txlock=immediate"
	return open(path, dsn, false, opts)
}

// OpenReadOnly opens an existing store for reporting. It never creates the
// file or the schema and every write fails.
func OpenReadOnly(path string, opts ...Option) (*Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	dsn := "file:" + path + "?_busy_timeout=5000&_query_only=1"
	return open(path, dsn, true, opts)
}

func open(path, dsn string, readOnly bool, opts []Option) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	// single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{
		db:           db,
		path:         path,
		readOnly:     readOnly,
		contractSize: 1,
		now:          time.Now,
		log:          zap.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}

	if readOnly {
		// Fails on a file that was never initialized as a store.
		if _, err := db.Exec(`SELECT 1 FROM positions LIMIT 1`); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite schema: %w", err)
		}
	} else if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	s.log.Debug("store opened", zap.String("path", path), zap.Bool("read_only", readOnly))
	return s, nil
}

func (s *Store) Path() string { return s.path }

func (s *Store) Close() error {
	return s.db.Close()
}

// withTx runs fn inside one transaction under the write lock.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// UpsertPosition inserts p or overwrites the row with the same id.
func (s *Store) UpsertPosition(ctx context.Context, p Position) error {
	if err := p.Validate(); err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return upsertPositionTx(ctx, tx, p)
	})
}

func upsertPositionTx(ctx context.Context, tx *sql.Tx, p Position) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO positions (id, symbol, side, entry_price, volume, stop_loss, take_profit, opened_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			symbol = excluded.symbol,
			side = excluded.side,
			entry_price = excluded.entry_price,
			volume = excluded.volume,
			stop_loss = excluded.stop_loss,
			take_profit = excluded.take_profit,
			opened_at = excluded.opened_at`,
		p.ID, p.Symbol, p.Side.String(), p.EntryPrice, p.Volume, p.StopLoss, p.TakeProfit, p.OpenedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert position %s: %w", p.ID, err)
	}
	return nil
}

const positionColumns = `id, symbol, side, entry_price, volume, stop_loss, take_profit, opened_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanPosition(r scanner) (Position, error) {
	var (
		p    Position
		side string
	)
	if err := r.Scan(&p.ID, &p.Symbol, &side, &p.EntryPrice, &p.Volume, &p.StopLoss, &p.TakeProfit, &p.OpenedAt); err != nil {
		return Position{}, err
	}
	sd, err := market.ParseSide(side)
	if err != nil {
		return Position{}, fmt.Errorf("position %s: %w", p.ID, err)
	}
	p.Side = sd
	p.OpenedAt = p.OpenedAt.UTC()
	return p, nil
}

// GetPosition returns the open position with id, or ErrNotFound.
func (s *Store) GetPosition(ctx context.Context, id string) (Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+positionColumns+` FROM positions WHERE id = ?`, id)
	p, err := scanPosition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Position{}, fmt.Errorf("position %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return Position{}, err
	}
	return p, nil
}

// GetOpenPositions returns every open position ordered by open time then id.
func (s *Store) GetOpenPositions(ctx context.Context) ([]Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT `+positionColumns+` FROM positions ORDER BY opened_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// OpenPositionMap returns the open set keyed by id, the shape reconciliation
// works on.
func (s *Store) OpenPositionMap(ctx context.Context) (map[string]Position, error) {
	list, err := s.GetOpenPositions(ctx)
	if err != nil {
		return nil, err
	}
	m := make(map[string]Position, len(list))
	for _, p := range list {
		m[p.ID] = p
	}
	return m, nil
}

func (s *Store) CountOpenPositions(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM positions`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// DeletePosition removes the open row for id without recording a closed
// trade. Deleting an id that is not open is not an error.
func (s *Store) DeletePosition(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return deletePositionTx(ctx, tx, id)
	})
}

func deletePositionTx(ctx context.Context, tx *sql.Tx, id string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM positions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete position %s: %w", id, err)
	}
	return nil
}

// ApplyHeal upserts toAdd and deletes toRemove in one transaction, so a
// crash leaves either the whole heal or none of it.
func (s *Store) ApplyHeal(ctx context.Context, toAdd []Position, toRemove []string) error {
	if len(toAdd) == 0 && len(toRemove) == 0 {
		return nil
	}
	for _, p := range toAdd {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("apply heal: %w", err)
		}
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, id := range toRemove {
			if err := deletePositionTx(ctx, tx, id); err != nil {
				return err
			}
		}
		for _, p := range toAdd {
			if err := upsertPositionTx(ctx, tx, p); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("apply heal: %w", err)
	}
	s.log.Info("heal applied", zap.Int("added", len(toAdd)), zap.Int("removed", len(toRemove)))
	return nil
}
