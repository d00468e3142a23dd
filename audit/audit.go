// Package audit defines the append-only trail of reconciliation decisions.
//
// Every decision the reconciliation system makes (adding a position the broker
// reports, removing a local orphan, noticing field drift, or refusing to
// reconcile because the broker could not be trusted) is recorded as an Event.
// Sinks only ever append; pruning is left to whoever consumes the trail.
package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rustyeddy/futuresbot/id"
)

// Kind is the type of an audit event.
type Kind string

const (
	PositionAdded         Kind = "POSITION_ADDED"
	PositionRemoved       Kind = "POSITION_REMOVED"
	Mismatch              Kind = "MISMATCH"
	ReconciliationSkipped Kind = "RECONCILIATION_SKIPPED"
	// StateChange records a broker connection state transition.
	StateChange Kind = "STATE_CHANGE"
)

func (k Kind) Valid() bool {
	switch k {
	case PositionAdded, PositionRemoved, Mismatch, ReconciliationSkipped, StateChange:
		return true
	}
	return false
}

// ParseKind is the inverse of Kind's string value.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToUpper(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", fmt.Errorf("unknown audit kind %q", s)
	}
	return k, nil
}

// Event is one immutable audit record.
type Event struct {
	ID         string    `json:"id"`
	Kind       Kind      `json:"kind"`
	PositionID string    `json:"position_id,omitempty"`
	Time       time.Time `json:"ts"`
	Detail     string    `json:"detail"`
}

// NewEvent stamps an event with t and a sortable id.
func NewEvent(kind Kind, positionID string, t time.Time, detail string) Event {
	t = t.UTC()
	return Event{
		ID:         id.At(t),
		Kind:       kind,
		PositionID: positionID,
		Time:       t,
		Detail:     detail,
	}
}

func (e Event) String() string {
	return fmt.Sprintf("%s %s %s %s", e.Time.Format(time.RFC3339Nano), e.Kind, e.PositionID, e.Detail)
}

// Sink receives audit events in order. Implementations must not reorder or
// drop events they acknowledged with a nil error.
type Sink interface {
	Append(ctx context.Context, e Event) error
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(ctx context.Context, e Event) error

func (f SinkFunc) Append(ctx context.Context, e Event) error { return f(ctx, e) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(context.Context, Event) error { return nil })
