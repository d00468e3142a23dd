package reconcile

import (
	"math/rand"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/futuresbot/broker"
	"github.com/rustyeddy/futuresbot/market"
	"github.com/rustyeddy/futuresbot/store"
)

func localPos(id string) store.Position {
	return store.Position{
		ID:         id,
		Symbol:     "ES",
		Side:       market.Buy,
		EntryPrice: 5000,
		Volume:     1,
		OpenedAt:   time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC),
	}
}

func remotePos(id string) broker.Position {
	return broker.Position{
		PositionID: id,
		SymbolID:   1,
		Symbol:     "ES",
		Side:       market.Buy,
		EntryPrice: 5000,
		Volume:     1,
	}
}

func localMap(ids ...string) map[string]store.Position {
	m := make(map[string]store.Position, len(ids))
	for _, id := range ids {
		m[id] = localPos(id)
	}
	return m
}

func remoteList(ids ...string) []broker.Position {
	out := make([]broker.Position, 0, len(ids))
	for _, id := range ids {
		out = append(out, remotePos(id))
	}
	return out
}

func TestReconcileDiff(t *testing.T) {
	t.Parallel()

	local := localMap("A")
	remote := remoteList("B")

	res := Reconcile(local, remote)
	assert.Empty(t, res.Matched)
	assert.Equal(t, []string{"B"}, res.MissingLocally)
	assert.Equal(t, []string{"A"}, res.OrphanedLocally)

	toAdd, toRemove := AutoHeal(res, remote)
	require.Len(t, toAdd, 1)
	assert.Equal(t, "B", toAdd[0].ID)
	assert.Equal(t, []string{"A"}, toRemove)

	// applying the heal leaves local == broker
	for _, id := range toRemove {
		delete(local, id)
	}
	for _, p := range toAdd {
		local[p.ID] = p
	}
	assert.True(t, Reconcile(local, remote).InSync())
	assert.Equal(t, []string{"B"}, keys(local))
}

func TestReconcileNoop(t *testing.T) {
	t.Parallel()

	res := Reconcile(localMap("1", "2", "3"), remoteList("3", "1", "2"))
	assert.Equal(t, []string{"1", "2", "3"}, res.Matched)
	assert.True(t, res.InSync())

	toAdd, toRemove := AutoHeal(res, remoteList("3", "1", "2"))
	assert.Empty(t, toAdd)
	assert.Empty(t, toRemove)
}

func TestReconcileEmpty(t *testing.T) {
	t.Parallel()

	res := Reconcile(nil, nil)
	assert.True(t, res.InSync())

	// a confirmed empty snapshot orphans everything
	res = Reconcile(localMap("X", "Y"), nil)
	assert.Equal(t, []string{"X", "Y"}, res.OrphanedLocally)
}

func TestAutoHealCopiesBrokerFields(t *testing.T) {
	t.Parallel()

	bp := broker.Position{PositionID: "77", Symbol: "NQ", Side: market.Sell, EntryPrice: 18000.25, Volume: 2, CurrentPnL: -10}
	toAdd, _ := AutoHeal(Reconcile(nil, []broker.Position{bp}), []broker.Position{bp})
	require.Len(t, toAdd, 1)
	assert.Equal(t, store.Position{ID: "77", Symbol: "NQ", Side: market.Sell, EntryPrice: 18000.25, Volume: 2}, toAdd[0])
}

func TestDuplicateRemoteLastWins(t *testing.T) {
	t.Parallel()

	first := remotePos("9")
	second := remotePos("9")
	second.Volume = 3

	res := Reconcile(nil, []broker.Position{first, second})
	assert.Equal(t, []string{"9"}, res.MissingLocally)

	toAdd, _ := AutoHeal(res, []broker.Position{first, second})
	require.Len(t, toAdd, 1)
	assert.Equal(t, 3.0, toAdd[0].Volume)
}

// Order of the broker slice and map iteration must not change the result.
func TestReconcileOrderIndependent(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(42))
	for round := 0; round < 50; round++ {
		var lids, rids []string
		for i := 0; i < 20; i++ {
			id := string(rune('a' + i))
			if rng.Intn(2) == 0 {
				lids = append(lids, id)
			}
			if rng.Intn(2) == 0 {
				rids = append(rids, id)
			}
		}
		local := localMap(lids...)
		remote := remoteList(rids...)
		want := Reconcile(local, remote)

		shuffled := append([]broker.Position(nil), remote...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		got := Reconcile(local, shuffled)
		assert.Equal(t, want, got)

		// every id is in exactly one bucket
		all := append(append(append([]string{}, got.Matched...), got.MissingLocally...), got.OrphanedLocally...)
		sort.Strings(all)
		assert.Equal(t, union(lids, rids), all)

		// the heal always converges
		toAdd, toRemove := AutoHeal(got, shuffled)
		for _, id := range toRemove {
			delete(local, id)
		}
		for _, p := range toAdd {
			local[p.ID] = p
		}
		assert.Equal(t, sorted(rids), keys(local))
	}
}

func TestMismatches(t *testing.T) {
	t.Parallel()

	local := localMap("1", "2", "3")
	remote := remoteList("1", "2", "3", "4")
	remote[0].EntryPrice = 5000.1
	remote[1].Volume = 2
	remote[1].Side = market.Sell

	got := Mismatches(local, remote, Tolerance{Price: 0.25})
	assert.Equal(t, []Mismatch{
		{PositionID: "2", Field: "side", Local: "BUY", Broker: "SELL"},
		{PositionID: "2", Field: "volume", Local: "1", Broker: "2"},
	}, got)

	got = Mismatches(local, remote, Tolerance{})
	require.Len(t, got, 3)
	assert.Equal(t, "entry_price local=5000 broker=5000.1", got[0].Detail())
}

func TestConnectionTransitions(t *testing.T) {
	t.Parallel()

	assert.Equal(t, Connected, next(Disconnected, true, 0, 3))
	assert.Equal(t, Reconnecting, next(Connected, false, 1, 3))
	assert.Equal(t, Reconnecting, next(Reconnecting, false, 2, 3))
	assert.Equal(t, Disconnected, next(Reconnecting, false, 3, 3))
	assert.Equal(t, Disconnected, next(Disconnected, false, 4, 3))
	assert.Equal(t, Connected, next(Reconnecting, true, 0, 3))

	assert.Equal(t, "RECONNECTING", Reconnecting.String())
	assert.Equal(t, "ConnectionState(9)", ConnectionState(9).String())
}

func keys(m map[string]store.Position) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sorted(in []string) []string {
	out := append([]string{}, in...)
	sort.Strings(out)
	return out
}

func union(a, b []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range append(append([]string{}, a...), b...) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	if out == nil {
		return []string{}
	}
	return out
}
