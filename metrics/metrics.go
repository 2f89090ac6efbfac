// Package metrics exposes engine outcomes and HTTP latency to Prometheus.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/freshy/clanwars/ledger"
)

// Metrics owns a registry so that tests and multiple servers never collide
// on the global one.
type Metrics struct {
	registry *prometheus.Registry

	stockOps     *prometheus.CounterVec
	redeems      *prometheus.CounterVec
	expired      prometheus.Counter
	httpDuration *prometheus.HistogramVec
}

// New creates and registers every collector, plus the Go runtime and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		stockOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clanwars",
			Name:      "stock_operations_total",
			Help:      "Stock transaction operations by operation and outcome.",
		}, []string{"op", "outcome"}),
		redeems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clanwars",
			Name:      "redeem_attempts_total",
			Help:      "Planet redeem attempts by outcome.",
		}, []string{"outcome"}),
		expired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clanwars",
			Name:      "expired_transactions_total",
			Help:      "Pending stock transactions rejected by the market-close sweeper.",
		}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clanwars",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}

	m.registry.MustRegister(
		m.stockOps,
		m.redeems,
		m.expired,
		m.httpDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveStock counts one stock operation (create, confirm, reject).
func (m *Metrics) ObserveStock(op string, err error) {
	m.stockOps.WithLabelValues(op, Outcome(err)).Inc()
}

// ObserveRedeem counts one redeem attempt. Limited attempts pass outcome
// "rate_limited" through ObserveRedeemOutcome instead.
func (m *Metrics) ObserveRedeem(err error) {
	m.redeems.WithLabelValues(Outcome(err)).Inc()
}

func (m *Metrics) ObserveRedeemOutcome(outcome string) {
	m.redeems.WithLabelValues(outcome).Inc()
}

// AddExpired counts transactions rejected at market close.
func (m *Metrics) AddExpired(n int) {
	if n > 0 {
		m.expired.Add(float64(n))
	}
}

// WatchClients exports the number of realtime connections.
func (m *Metrics) WatchClients(count func() int) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "clanwars",
		Name:      "realtime_clients",
		Help:      "Connected realtime clients.",
	}, func() float64 { return float64(count()) }))
}

// Middleware records request latency labelled by chi route pattern, so
// that /clans/{id} is one series regardless of the id.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.httpDuration.WithLabelValues(r.Method, route, strconv.Itoa(status)).
			Observe(time.Since(start).Seconds())
	})
}

// Outcome classifies an engine result for metric labels.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ledger.ErrValidation):
		return "validation"
	case errors.Is(err, ledger.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ledger.ErrStale):
		return "stale"
	case errors.Is(err, ledger.ErrPrecondition):
		return "precondition"
	case ledger.IsNotFound(err):
		return "not_found"
	case errors.Is(err, ledger.ErrConcurrentModification):
		return "conflict"
	default:
		return "error"
	}
}
