package statusapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/futuresbot/audit"
	"github.com/rustyeddy/futuresbot/bot"
	"github.com/rustyeddy/futuresbot/broker/paper"
	"github.com/rustyeddy/futuresbot/reconcile"
	"github.com/rustyeddy/futuresbot/risk"
	"github.com/rustyeddy/futuresbot/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeCtrl struct {
	status  bot.Status
	resets  []string
	failErr error
}

func (f *fakeCtrl) Status() bot.Status { return f.status }

func (f *fakeCtrl) RequestBreakerReset(reason string) error {
	if f.failErr != nil {
		return f.failErr
	}
	f.resets = append(f.resets, reason)
	return nil
}

type fakeAudit struct {
	events []audit.Event
	limit  int
	err    error
}

func (f *fakeAudit) ListAudit(_ context.Context, limit int) ([]audit.Event, error) {
	f.limit = limit
	return f.events, f.err
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return w, resp
}

func TestHealthz(t *testing.T) {
	s := New(&fakeCtrl{}, nil, nil)
	w, resp := do(t, s.Handler(), http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, resp.Code)
	assert.NotEmpty(t, resp.RequestID)
	assert.Equal(t, resp.RequestID, w.Header().Get(requestIDHeader))
}

func TestStatus(t *testing.T) {
	ctrl := &fakeCtrl{status: bot.Status{
		Connection:    reconcile.Reconnecting,
		Failures:      2,
		OpenPositions: 4,
		Breakers:      risk.Status{ConsecutiveLosses: 3, ConsecutiveLossTripped: true},
	}}
	s := New(ctrl, nil, nil)

	w, resp := do(t, s.Handler(), http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	data := resp.Data.(map[string]any)
	assert.Equal(t, "RECONNECTING", data["connection"])
	assert.Equal(t, float64(4), data["open_positions"])
	br := data["breakers"].(map[string]any)
	assert.Equal(t, false, br["trading_allowed"])
	assert.Equal(t, true, br["consecutive_loss_tripped"])
}

func TestAuditLimit(t *testing.T) {
	al := &fakeAudit{events: []audit.Event{
		audit.NewEvent(audit.ReconciliationSkipped, "", time.Now(), "broker query failed"),
	}}
	s := New(&fakeCtrl{}, al, nil)

	w, resp := do(t, s.Handler(), http.MethodGet, "/audit", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, defaultAuditLimit, al.limit)
	assert.Len(t, resp.Data, 1)

	_, _ = do(t, s.Handler(), http.MethodGet, "/audit?limit=5000", "")
	assert.Equal(t, maxAuditLimit, al.limit)

	w, resp = do(t, s.Handler(), http.MethodGet, "/audit?limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	al.err = errors.New("disk I/O error")
	w, _ = do(t, s.Handler(), http.MethodGet, "/audit", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	w, _ = do(t, New(&fakeCtrl{}, nil, nil).Handler(), http.MethodGet, "/audit", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestResetQueued(t *testing.T) {
	ctrl := &fakeCtrl{}
	s := New(ctrl, nil, nil)

	w, _ := do(t, s.Handler(), http.MethodPost, "/breakers/reset", `{"reason":"losses reviewed"}`)
	assert.Equal(t, http.StatusAccepted, w.Code)
	w, _ = do(t, s.Handler(), http.MethodPost, "/breakers/reset", "")
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, []string{"losses reviewed", "status api"}, ctrl.resets)

	w, _ = do(t, s.Handler(), http.MethodPost, "/breakers/reset", `{"reason":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	ctrl.failErr = bot.ErrResetPending
	w, _ = do(t, s.Handler(), http.MethodPost, "/breakers/reset", "")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestNoRoute(t *testing.T) {
	w, resp := do(t, New(&fakeCtrl{}, nil, nil).Handler(), http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, resp.Message, "/nope")
}

// A reset posted to the API only takes effect when the cycle runs.
func TestResetRoundTripThroughCycle(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open(filepath.Join(t.TempDir(), "api.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	pb := paper.New(10000, 1)
	sys := reconcile.NewSystem(reconcile.DefaultConfig(), st, st, nil)
	br := risk.NewBreakers(risk.DefaultConfig(), nil)
	cfg := bot.DefaultConfig()
	cfg.Symbols = []string{"ES"}
	b, err := bot.New(bot.Deps{Config: cfg, Broker: pb, Store: st, System: sys, Breakers: br})
	require.NoError(t, err)

	_, err = b.Step(ctx)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		br.RecordTradeResult(false)
	}
	require.False(t, br.IsTradingAllowed())

	s := New(b, st, nil)
	w, _ := do(t, s.Handler(), http.MethodPost, "/breakers/reset", `{"reason":"ops"}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.False(t, br.IsTradingAllowed())

	rep, err := b.Step(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Resets)

	w, resp := do(t, s.Handler(), http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	data := resp.Data.(map[string]any)
	assert.Equal(t, true, data["breakers"].(map[string]any)["trading_allowed"])
	assert.Equal(t, "CONNECTED", data["connection"])

	// the store doubles as the audit sink
	w, resp = do(t, s.Handler(), http.MethodGet, "/audit?limit=10", "")
	require.Equal(t, http.StatusOK, w.Code)
	events := resp.Data.([]any)
	require.NotEmpty(t, events)
	assert.Equal(t, string(audit.StateChange), events[0].(map[string]any)["kind"])
}
