package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/rustyeddy/futuresbot/audit"
	"github.com/rustyeddy/futuresbot/broker"
	"github.com/rustyeddy/futuresbot/store"
)

// Store is the slice of the position store reconciliation needs.
type Store interface {
	OpenPositionMap(ctx context.Context) (map[string]store.Position, error)
	ApplyHeal(ctx context.Context, toAdd []store.Position, toRemove []string) error
}

// Report describes one Sync call.
type Report struct {
	At      time.Time       `json:"at"`
	State   ConnectionState `json:"state"`
	Skipped bool            `json:"skipped"`
	Reason  string          `json:"reason,omitempty"`
	DryRun  bool            `json:"dry_run"`

	Remote     int        `json:"remote"`
	Result     Result     `json:"result"`
	Added      []string   `json:"added,omitempty"`
	Removed    []string   `json:"removed,omitempty"`
	Rejected   []string   `json:"rejected,omitempty"`
	Mismatches []Mismatch `json:"mismatches,omitempty"`
}

// System tracks broker connectivity and only lets a snapshot drive the
// store after a query that actually returned. A failed or timed out query
// skips the cycle; it is never read as "the broker holds nothing".
//
// Sync must be called from a single goroutine. The accessors may be called
// from any goroutine.
type System struct {
	cfg  Config
	st   Store
	sink audit.Sink
	log  *zap.Logger
	now  func() time.Time

	// OnStateChange, when set before the first Sync, is called after every
	// connection state transition.
	OnStateChange func(from, to ConnectionState)

	mu          sync.RWMutex
	state       ConnectionState
	lastSuccess time.Time
	failures    int
}

func NewSystem(cfg Config, st Store, sink audit.Sink, log *zap.Logger) *System {
	if sink == nil {
		sink = audit.Discard
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &System{
		cfg:   cfg,
		st:    st,
		sink:  sink,
		log:   log.With(zap.String("component", "reconcile")),
		now:   time.Now,
		state: Disconnected,
	}
}

// WithClock replaces the time source. Tests only.
func (s *System) WithClock(now func() time.Time) *System {
	s.now = now
	return s
}

func (s *System) Config() Config { return s.cfg }

func (s *System) State() ConnectionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// LastSuccess is the time of the last query that returned. Zero until the
// first one.
func (s *System) LastSuccess() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSuccess
}

// Failures is the number of consecutive failed queries.
func (s *System) Failures() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.failures
}

// Sync queries src and, if the query returned, heals the store to match.
// A broker failure is reported as a skipped Report with a nil error. Store
// failures and cancellation of ctx are returned as errors and nothing is
// applied.
func (s *System) Sync(ctx context.Context, src broker.PositionSource) (Report, error) {
	rep := Report{At: s.now().UTC(), DryRun: s.cfg.DryRun}

	remote, err := s.query(ctx, src)
	if err != nil {
		if ctx.Err() != nil {
			rep.State = s.State()
			return rep, fmt.Errorf("reconcile: %w", ctx.Err())
		}
		s.observe(ctx, false)
		rep.State = s.State()
		rep.Skipped = true
		rep.Reason = "broker query failed: " + err.Error()
		s.log.Warn("reconciliation skipped",
			zap.Error(err),
			zap.Stringer("state", rep.State),
			zap.Int("failures", s.Failures()),
		)
		s.emit(ctx, audit.NewEvent(audit.ReconciliationSkipped, "", s.now(), rep.Reason))
		return rep, nil
	}

	s.observe(ctx, true)
	rep.State = Connected
	rep.Remote = len(remote)

	if !s.cfg.Enabled {
		rep.Skipped = true
		rep.Reason = "disabled"
		s.emit(ctx, audit.NewEvent(audit.ReconciliationSkipped, "", s.now(), rep.Reason))
		return rep, nil
	}

	local, err := s.st.OpenPositionMap(ctx)
	if err != nil {
		return rep, fmt.Errorf("reconcile: load local positions: %w", err)
	}

	rep.Result = Reconcile(local, remote)
	rep.Mismatches = Mismatches(local, remote, s.cfg.Tolerance())
	candidates, toRemove := AutoHeal(rep.Result, remote)

	stamp := s.now().UTC()
	toAdd := make([]store.Position, 0, len(candidates))
	var rejected []audit.Event
	for _, p := range candidates {
		if p.OpenedAt.IsZero() {
			p.OpenedAt = stamp
		}
		if err := p.Validate(); err != nil {
			rep.Rejected = append(rep.Rejected, p.ID)
			rejected = append(rejected, audit.NewEvent(audit.ReconciliationSkipped, p.ID, stamp, "invalid broker position: "+err.Error()))
			continue
		}
		toAdd = append(toAdd, p)
	}

	// the snapshot's round trip completed but the cycle is being torn down
	if err := ctx.Err(); err != nil {
		return rep, fmt.Errorf("reconcile: cancelled before apply: %w", err)
	}

	if !s.cfg.DryRun {
		if err := s.st.ApplyHeal(ctx, toAdd, toRemove); err != nil {
			return rep, fmt.Errorf("reconcile: %w", err)
		}
	}
	for _, p := range toAdd {
		rep.Added = append(rep.Added, p.ID)
	}
	rep.Removed = toRemove

	events := rejected
	prefix := ""
	if s.cfg.DryRun {
		prefix = "dry-run: "
	}
	for _, p := range toAdd {
		events = append(events, audit.NewEvent(audit.PositionAdded, p.ID, stamp,
			fmt.Sprintf("%s%s %s %s@%s from broker snapshot", prefix, p.Symbol, p.Side, ff(p.Volume), ff(p.EntryPrice))))
	}
	for _, id := range toRemove {
		events = append(events, audit.NewEvent(audit.PositionRemoved, id, stamp,
			prefix+"orphaned: absent from confirmed broker snapshot"))
	}
	for _, m := range rep.Mismatches {
		events = append(events, audit.NewEvent(audit.Mismatch, m.PositionID, stamp, m.Detail()))
	}
	s.emit(ctx, events...)

	if !rep.Result.InSync() || len(rep.Mismatches) > 0 {
		s.log.Info("reconciled",
			zap.Int("remote", rep.Remote),
			zap.Int("local", len(local)),
			zap.Strings("added", rep.Added),
			zap.Strings("removed", rep.Removed),
			zap.Int("mismatches", len(rep.Mismatches)),
			zap.Bool("dry_run", s.cfg.DryRun),
		)
	}
	return rep, nil
}

func (s *System) query(ctx context.Context, src broker.PositionSource) ([]broker.Position, error) {
	if s.cfg.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.QueryTimeout)
		defer cancel()
	}
	return src.Positions(ctx)
}

func (s *System) observe(ctx context.Context, ok bool) {
	s.mu.Lock()
	from := s.state
	if ok {
		s.failures = 0
		s.lastSuccess = s.now().UTC()
	} else {
		s.failures++
	}
	to := next(from, ok, s.failures, s.cfg.MaxFailures)
	s.state = to
	s.mu.Unlock()

	if from == to {
		return
	}
	s.log.Info("connection state changed", zap.Stringer("from", from), zap.Stringer("to", to))
	s.emit(ctx, audit.NewEvent(audit.StateChange, "", s.now(), from.String()+" -> "+to.String()))
	if s.OnStateChange != nil {
		s.OnStateChange(from, to)
	}
}

// emit appends events in order. Audit failures are logged, not returned:
// the store writes they describe have already committed.
func (s *System) emit(ctx context.Context, events ...audit.Event) {
	var err error
	for _, e := range events {
		err = multierr.Append(err, s.sink.Append(context.WithoutCancel(ctx), e))
	}
	if err != nil {
		s.log.Error("audit append failed", zap.Error(err), zap.Int("events", len(events)))
	}
}
