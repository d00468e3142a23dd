package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rustyeddy/futuresbot/audit"
)

var _ audit.Sink = (*Store)(nil)

// Append writes e to the audit_events table, making the store an audit.Sink.
func (s *Store) Append(ctx context.Context, e audit.Event) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO audit_events (id, kind, position_id, ts, detail)
			VALUES (?, ?, ?, ?, ?)`,
			e.ID, string(e.Kind), e.PositionID, e.Time.UTC(), e.Detail,
		)
		if err != nil {
			return fmt.Errorf("append audit %s: %w", e.Kind, err)
		}
		return nil
	})
}

// ListAudit returns the most recent limit events in append order. limit <= 0
// returns everything. Order follows insertion, not event time or id.
func (s *Store) ListAudit(ctx context.Context, limit int) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, position_id, ts, detail
		FROM audit_events ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []audit.Event
	for rows.Next() {
		var (
			e    audit.Event
			kind string
		)
		if err := rows.Scan(&e.ID, &kind, &e.PositionID, &e.Time, &e.Detail); err != nil {
			return nil, err
		}
		e.Kind = audit.Kind(kind)
		e.Time = e.Time.UTC()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
