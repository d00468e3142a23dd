// Package metrics holds the Prometheus collectors for the trading cycle.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rustyeddy/futuresbot/reconcile"
)

// Metrics holds all Prometheus metrics for the bot.
type Metrics struct {
	OpenPositions   prometheus.Gauge
	ConnectionState prometheus.Gauge // 0=connected, 1=reconnecting, 2=disconnected
	TradingAllowed  prometheus.Gauge // 0=tripped, 1=allowed

	ReconcileActions *prometheus.CounterVec // labels: action=added|removed|mismatch|rejected
	ReconcileSkipped prometheus.Counter

	TradesClosed  *prometheus.CounterVec // labels: result=win|loss
	CycleDuration prometheus.Histogram
	CycleErrors   prometheus.Counter
}

// New builds the collectors and registers them on reg. A nil reg registers
// nothing, which keeps tests independent.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		OpenPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "futuresbot_open_positions",
			Help: "Open positions in the local store",
		}),
		ConnectionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "futuresbot_connection_state",
			Help: "Broker connection state (0=connected, 1=reconnecting, 2=disconnected)",
		}),
		TradingAllowed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "futuresbot_trading_allowed",
			Help: "1 when no circuit breaker is tripped",
		}),
		ReconcileActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "futuresbot_reconcile_actions_total",
			Help: "Reconciliation actions by kind",
		}, []string{"action"}),
		ReconcileSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "futuresbot_reconcile_skipped_total",
			Help: "Reconciliation cycles skipped because the broker snapshot could not be trusted",
		}),
		TradesClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "futuresbot_trades_closed_total",
			Help: "Closed trades by result",
		}, []string{"result"}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "futuresbot_cycle_duration_seconds",
			Help:    "Trading cycle wall time",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}),
		CycleErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "futuresbot_cycle_errors_total",
			Help: "Trading cycles that returned an error",
		}),
	}
	// before the first successful query
	m.ConnectionState.Set(float64(reconcile.Disconnected))
	m.TradingAllowed.Set(1)

	if reg != nil {
		reg.MustRegister(
			m.OpenPositions,
			m.ConnectionState,
			m.TradingAllowed,
			m.ReconcileActions,
			m.ReconcileSkipped,
			m.TradesClosed,
			m.CycleDuration,
			m.CycleErrors,
		)
	}
	return m
}

func (m *Metrics) SetConnectionState(s reconcile.ConnectionState) {
	m.ConnectionState.Set(float64(s))
}

func (m *Metrics) SetTradingAllowed(ok bool) {
	if ok {
		m.TradingAllowed.Set(1)
		return
	}
	m.TradingAllowed.Set(0)
}

func (m *Metrics) SetOpenPositions(n int) {
	m.OpenPositions.Set(float64(n))
}

// ObserveReconcile records one Sync report.
func (m *Metrics) ObserveReconcile(rep reconcile.Report) {
	m.SetConnectionState(rep.State)
	if rep.Skipped {
		m.ReconcileSkipped.Inc()
		return
	}
	m.ReconcileActions.WithLabelValues("added").Add(float64(len(rep.Added)))
	m.ReconcileActions.WithLabelValues("removed").Add(float64(len(rep.Removed)))
	m.ReconcileActions.WithLabelValues("mismatch").Add(float64(len(rep.Mismatches)))
	m.ReconcileActions.WithLabelValues("rejected").Add(float64(len(rep.Rejected)))
}

func (m *Metrics) TradeClosed(win bool) {
	if win {
		m.TradesClosed.WithLabelValues("win").Inc()
		return
	}
	m.TradesClosed.WithLabelValues("loss").Inc()
}

func (m *Metrics) ObserveCycle(d time.Duration, err error) {
	m.CycleDuration.Observe(d.Seconds())
	if err != nil {
		m.CycleErrors.Inc()
	}
}

// Handler serves g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
