// Package observability holds the Prometheus metric set of the server.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Cache names used as the "cache" label.
const (
	CachePolicy = "policy"
	CacheView   = "view"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records
// nothing, so components can be built without metrics in tests.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	queriesTotal   *prometheus.CounterVec
	queryDuration  *prometheus.HistogramVec
	sandboxDenials *prometheus.CounterVec

	cacheLookups        *prometheus.CounterVec
	policyInvalidations *prometheus.CounterVec

	schemaSyncs *prometheus.CounterVec
}

// NewMetrics creates the metric set on its own registry, together with the
// Go runtime and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "duck_sandbox_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "duck_sandbox_http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "route"},
		),
		queriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "duck_sandbox_queries_total",
				Help: "Total number of gateway query executions",
			},
			[]string{"status", "sandboxed"},
		),
		queryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "duck_sandbox_query_duration_seconds",
				Help:    "Gateway query latency in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"sandboxed"},
		),
		sandboxDenials: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "duck_sandbox_sandbox_denials_total",
				Help: "Queries refused because a sandbox policy could not be applied",
			},
			[]string{"reason"},
		),
		cacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "duck_sandbox_cache_lookups_total",
				Help: "Policy and view cache lookups",
			},
			[]string{"cache", "result"},
		),
		policyInvalidations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "duck_sandbox_policy_invalidations_total",
				Help: "Policy cache invalidations by origin",
			},
			[]string{"origin"},
		),
		schemaSyncs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "duck_sandbox_schema_syncs_total",
				Help: "Warehouse metadata synchronisations",
			},
			[]string{"status"},
		),
	}
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// ObserveQuery records one gateway execution.
func (m *Metrics) ObserveQuery(status string, sandboxed bool, d time.Duration) {
	if m == nil {
		return
	}
	s := strconv.FormatBool(sandboxed)
	m.queriesTotal.WithLabelValues(status, s).Inc()
	m.queryDuration.WithLabelValues(s).Observe(d.Seconds())
}

// SandboxDenied counts a fail-closed refusal.
func (m *Metrics) SandboxDenied(reason string) {
	if m == nil {
		return
	}
	m.sandboxDenials.WithLabelValues(reason).Inc()
}

// CacheLookup counts a cache hit or miss.
func (m *Metrics) CacheLookup(cache string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(cache, result).Inc()
}

// PolicyInvalidated counts an invalidation; origin is "local" or "remote".
func (m *Metrics) PolicyInvalidated(origin string) {
	if m == nil {
		return
	}
	m.policyInvalidations.WithLabelValues(origin).Inc()
}

// SchemaSynced counts a metadata sync run.
func (m *Metrics) SchemaSynced(err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.schemaSyncs.WithLabelValues(status).Inc()
}
