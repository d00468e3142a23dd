// Package reconcile keeps the local position store consistent with the
// broker. The engine half is a pure diff; System decides when a broker
// snapshot can be trusted and applies the result.
package reconcile

import (
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/rustyeddy/futuresbot/broker"
	"github.com/rustyeddy/futuresbot/store"
)

// Result is the id-level diff between the local open set and one broker
// snapshot. Every slice is sorted ascending.
type Result struct {
	Matched         []string `json:"matched"`
	MissingLocally  []string `json:"missing_locally"`
	OrphanedLocally []string `json:"orphaned_locally"`
}

// InSync reports whether the diff calls for no action.
func (r Result) InSync() bool {
	return len(r.MissingLocally) == 0 && len(r.OrphanedLocally) == 0
}

// Reconcile compares local against remote by id. When remote repeats an
// id the last occurrence wins.
func Reconcile(local map[string]store.Position, remote []broker.Position) Result {
	rm := indexRemote(remote)

	var res Result
	for id := range rm {
		if _, ok := local[id]; ok {
			res.Matched = append(res.Matched, id)
		} else {
			res.MissingLocally = append(res.MissingLocally, id)
		}
	}
	for id := range local {
		if _, ok := rm[id]; !ok {
			res.OrphanedLocally = append(res.OrphanedLocally, id)
		}
	}
	sort.Strings(res.Matched)
	sort.Strings(res.MissingLocally)
	sort.Strings(res.OrphanedLocally)
	return res
}

// AutoHeal turns a diff into store actions: every missing id becomes a
// position copied from the broker snapshot and every orphaned id is removed.
// OpenedAt is left zero for the caller to stamp.
func AutoHeal(res Result, remote []broker.Position) (toAdd []store.Position, toRemove []string) {
	rm := indexRemote(remote)
	for _, id := range res.MissingLocally {
		bp, ok := rm[id]
		if !ok {
			continue
		}
		toAdd = append(toAdd, fromBroker(bp))
	}
	toRemove = append(toRemove, res.OrphanedLocally...)
	return toAdd, toRemove
}

func fromBroker(bp broker.Position) store.Position {
	return store.Position{
		ID:         bp.PositionID,
		Symbol:     bp.Symbol,
		Side:       bp.Side,
		EntryPrice: bp.EntryPrice,
		Volume:     bp.Volume,
	}
}

func indexRemote(remote []broker.Position) map[string]broker.Position {
	m := make(map[string]broker.Position, len(remote))
	for _, bp := range remote {
		m[bp.PositionID] = bp
	}
	return m
}

// Tolerance bounds acceptable drift on matched positions. Zero means any
// difference is reported.
type Tolerance struct {
	Price  float64
	Volume float64
}

// Mismatch is one drifted field on a matched position. Nothing corrects it;
// it is reported for the audit trail only.
type Mismatch struct {
	PositionID string `json:"position_id"`
	Field      string `json:"field"`
	Local      string `json:"local"`
	Broker     string `json:"broker"`
}

func (m Mismatch) Detail() string {
	return fmt.Sprintf("%s local=%s broker=%s", m.Field, m.Local, m.Broker)
}

// Mismatches lists field drift for ids present on both sides, ordered by id
// then field.
func Mismatches(local map[string]store.Position, remote []broker.Position, tol Tolerance) []Mismatch {
	rm := indexRemote(remote)
	ids := make([]string, 0, len(rm))
	for id := range rm {
		if _, ok := local[id]; ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	var out []Mismatch
	for _, id := range ids {
		l, r := local[id], rm[id]
		if l.Symbol != r.Symbol {
			out = append(out, Mismatch{id, "symbol", l.Symbol, r.Symbol})
		}
		if l.Side != r.Side {
			out = append(out, Mismatch{id, "side", l.Side.String(), r.Side.String()})
		}
		if math.Abs(l.EntryPrice-r.EntryPrice) > tol.Price {
			out = append(out, Mismatch{id, "entry_price", ff(l.EntryPrice), ff(r.EntryPrice)})
		}
		if math.Abs(l.Volume-r.Volume) > tol.Volume {
			out = append(out, Mismatch{id, "volume", ff(l.Volume), ff(r.Volume)})
		}
	}
	return out
}

func ff(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
