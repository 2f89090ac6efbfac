package metrics

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freshy/clanwars/ledger"
)

func TestOutcome(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{fmt.Errorf("wrap: %w", ledger.ErrValidation), "validation"},
		{ledger.ErrUnauthorized, "unauthorized"},
		{ledger.ErrStale, "stale"},
		{ledger.ErrPrecondition, "precondition"},
		{ledger.ErrNotFound, "not_found"},
		{ledger.ErrRecordNotFound, "not_found"},
		{ledger.ErrConcurrentModification, "conflict"},
		{errors.New("disk on fire"), "error"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Outcome(tt.err))
	}
}

func TestCounters(t *testing.T) {
	m := New()

	m.ObserveStock("create", nil)
	m.ObserveStock("create", nil)
	m.ObserveStock("confirm", ledger.ErrStale)
	m.ObserveRedeem(ledger.ErrPrecondition)
	m.ObserveRedeemOutcome("rate_limited")
	m.AddExpired(3)
	m.AddExpired(0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.stockOps.WithLabelValues("create", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.stockOps.WithLabelValues("confirm", "stale")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.redeems.WithLabelValues("precondition")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.redeems.WithLabelValues("rate_limited")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.expired))
}

func TestMiddlewareAndHandler(t *testing.T) {
	m := New()
	m.WatchClients(func() int { return 4 })

	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/clans/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	r.Handle("/metrics", m.Handler())

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/clans/abc", nil))
	require.Equal(t, http.StatusTeapot, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `route="/clans/{id}"`), "latency is labelled by route pattern")
	assert.Contains(t, body, `status="418"`)
	assert.Contains(t, body, "clanwars_realtime_clients 4")
}
