// Package metrics provides Prometheus instrumentation for the kitty market
// service.
package metrics

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/kittymarket/internal/domain"
	"github.com/alanyoungcy/kittymarket/internal/lifecycle"
)

var (
	// EventDeliveries counts subscriber callbacks per channel and outcome.
	EventDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kittymarket_event_deliveries_total",
		Help: "Event deliveries to channel subscribers",
	}, []string{"channel", "outcome"})

	// UpstreamErrors counts errors reported by upstream event subscriptions.
	UpstreamErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kittymarket_upstream_errors_total",
		Help: "Errors reported by the upstream event subscription",
	}, []string{"channel"})

	// RequestTransitions counts request tracker transitions by capability and
	// target status.
	RequestTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kittymarket_request_transitions_total",
		Help: "Request lifecycle transitions",
	}, []string{"capability", "status"})

	// ConfirmLatency tracks time from a request entering loading until it is
	// confirmed by a ledger event.
	ConfirmLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kittymarket_confirm_latency_seconds",
		Help:    "Seconds from request start to event confirmation",
		Buckets: []float64{1, 2, 5, 10, 20, 30, 60, 120, 300},
	}, []string{"capability"})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kittymarket_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "route", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kittymarket_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 5.0},
	}, []string{"method", "route"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kittymarket_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})
)

// Recorder feeds event channel statistics into Prometheus. It satisfies
// events.Recorder.
type Recorder struct{}

// ObserveDelivery counts one subscriber callback.
func (Recorder) ObserveDelivery(channel string, failed bool) {
	outcome := "ok"
	if failed {
		outcome = "failed"
	}
	EventDeliveries.WithLabelValues(channel, outcome).Inc()
}

// ObserveUpstreamError counts one upstream subscription error.
func (Recorder) ObserveUpstreamError(channel string) {
	UpstreamErrors.WithLabelValues(channel).Inc()
}

// ObserveTransition is a lifecycle.Observer. Register it with
// lifecycle.Registry.Watch.
func ObserveTransition(name string, from, to domain.RequestState) {
	capability := lifecycle.Capability(name)
	RequestTransitions.WithLabelValues(capability, string(to.Status)).Inc()
	if to.Status == domain.RequestConfirmed && from.Status != domain.RequestConfirmed {
		if started := startedAt(from); !started.IsZero() {
			ConfirmLatency.WithLabelValues(capability).Observe(to.UpdatedAt.Sub(started).Seconds())
		}
	}
}

// startedAt approximates when the run began from the prior state. A tracker
// confirmed straight from loading carries the start time itself.
func startedAt(from domain.RequestState) time.Time {
	switch from.Status {
	case domain.RequestLoading, domain.RequestSucceeded:
		return from.UpdatedAt
	default:
		return time.Time{}
	}
}

// RegisterOfferGauges exposes the offer cache partition sizes. sizes is
// called on every scrape.
func RegisterOfferGauges(reg prometheus.Registerer, sizes func() map[domain.OfferKind]int) error {
	for _, kind := range []domain.OfferKind{domain.OfferKindSell, domain.OfferKindSire} {
		kind := kind
		g := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name:        "kittymarket_offers_cached",
			Help:        "Active offers held in the cache",
			ConstLabels: prometheus.Labels{"kind": string(kind)},
		}, func() float64 { return float64(sizes()[kind]) })
		if err := reg.Register(g); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				return err
			}
		}
	}
	return nil
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request metrics, labelled by the chi route pattern to
// keep cardinality bounded.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				route = p
			}
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets WebSocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}
