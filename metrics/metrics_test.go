package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/futuresbot/reconcile"
)

func TestObserveReconcile(t *testing.T) {
	t.Parallel()

	m := New(nil)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ConnectionState))

	m.ObserveReconcile(reconcile.Report{State: reconcile.Connected, Added: []string{"1", "2"}, Removed: []string{"3"}})
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ConnectionState))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ReconcileActions.WithLabelValues("added")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReconcileActions.WithLabelValues("removed")))

	m.ObserveReconcile(reconcile.Report{State: reconcile.Reconnecting, Skipped: true})
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConnectionState))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReconcileSkipped))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ReconcileActions.WithLabelValues("added")))
}

func TestGauges(t *testing.T) {
	t.Parallel()

	m := New(nil)
	m.SetTradingAllowed(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.TradingAllowed))
	m.SetTradingAllowed(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TradingAllowed))

	m.SetOpenPositions(4)
	assert.Equal(t, 4.0, testutil.ToFloat64(m.OpenPositions))

	m.TradeClosed(true)
	m.TradeClosed(false)
	m.TradeClosed(false)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TradesClosed.WithLabelValues("win")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.TradesClosed.WithLabelValues("loss")))

	m.ObserveCycle(20*time.Millisecond, errors.New("boom"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CycleErrors))
}

func TestHandlerExposesMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := New(reg)
	m.SetOpenPositions(3)

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "futuresbot_open_positions 3")
	assert.Contains(t, string(body), "futuresbot_connection_state 2")
}
