// Package metrics collects the proxy's operational metrics and exposes
// them on the support listener in Prometheus format.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the collector interface the proxy and its filters report to.
type Metrics interface {
	IncCounter(key string)
	MeasureSince(key string, start time.Time)
	IncRoutingFailure()
	IncCacheHit(tier string)
	IncCacheMiss()
	IncBackendError(backend string)
	MeasureServe(method string, code int, start time.Time)
	MeasureBackend(backend string, start time.Time)
}

// Prometheus implements Metrics on a dedicated registry.
type Prometheus struct {
	registry *prometheus.Registry

	counters        *prometheus.CounterVec
	custom          *prometheus.HistogramVec
	routingFailures prometheus.Counter
	cacheHits       *prometheus.CounterVec
	cacheMisses     prometheus.Counter
	backendErrors   *prometheus.CounterVec
	serveLatency    *prometheus.HistogramVec
	backendLatency  *prometheus.HistogramVec
}

// NewPrometheus registers the proxy collectors on a fresh registry.
func NewPrometheus() *Prometheus {
	r := prometheus.NewRegistry()
	p := &Prometheus{
		registry: r,
		counters: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "proxycraft",
			Name:      "custom_total",
			Help:      "Number of custom events.",
		}, []string{"key"}),
		custom: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "proxycraft",
			Name:      "custom_duration_seconds",
			Help:      "Duration of custom measurements.",
		}, []string{"key"}),
		routingFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "proxycraft",
			Name:      "routing_failures_total",
			Help:      "Number of requests no endpoint matched.",
		}),
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "proxycraft",
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Number of cache hits by tier.",
		}, []string{"tier"}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "proxycraft",
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Number of cache misses.",
		}),
		backendErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "proxycraft",
			Subsystem: "backend",
			Name:      "errors_total",
			Help:      "Number of backend failures by backend kind.",
		}, []string{"backend"}),
		serveLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "proxycraft",
			Name:      "serve_duration_seconds",
			Help:      "Duration of serving a request.",
		}, []string{"method", "code"}),
		backendLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "proxycraft",
			Subsystem: "backend",
			Name:      "duration_seconds",
			Help:      "Duration of backend calls by backend kind.",
		}, []string{"backend"}),
	}

	r.MustRegister(
		p.counters,
		p.custom,
		p.routingFailures,
		p.cacheHits,
		p.cacheMisses,
		p.backendErrors,
		p.serveLatency,
		p.backendLatency,
	)

	return p
}

func (p *Prometheus) IncCounter(key string) {
	p.counters.WithLabelValues(key).Inc()
}

func (p *Prometheus) MeasureSince(key string, start time.Time) {
	p.custom.WithLabelValues(key).Observe(time.Since(start).Seconds())
}

func (p *Prometheus) IncRoutingFailure() {
	p.routingFailures.Inc()
}

func (p *Prometheus) IncCacheHit(tier string) {
	p.cacheHits.WithLabelValues(tier).Inc()
}

func (p *Prometheus) IncCacheMiss() {
	p.cacheMisses.Inc()
}

func (p *Prometheus) IncBackendError(backend string) {
	p.backendErrors.WithLabelValues(backend).Inc()
}

func (p *Prometheus) MeasureServe(method string, code int, start time.Time) {
	p.serveLatency.WithLabelValues(method, strconv.Itoa(code)).
		Observe(time.Since(start).Seconds())
}

func (p *Prometheus) MeasureBackend(backend string, start time.Time) {
	p.backendLatency.WithLabelValues(backend).Observe(time.Since(start).Seconds())
}

// Handler exposes the registry for the support listener.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Void is a no-op Metrics, used when metrics are disabled and in tests.
type Void struct{}

func (Void) IncCounter(string)                        {}
func (Void) MeasureSince(string, time.Time)           {}
func (Void) IncRoutingFailure()                       {}
func (Void) IncCacheHit(string)                       {}
func (Void) IncCacheMiss()                            {}
func (Void) IncBackendError(string)                   {}
func (Void) MeasureServe(string, int, time.Time)      {}
func (Void) MeasureBackend(string, time.Time)         {}
