// Package metrics provides Prometheus metrics for the servedir tree and
// its HTTP listener.
//
// Every method is safe to call on a nil *Metrics, which is how tests and
// embedders that do not care about metrics opt out.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors registered for one tree.
type Metrics struct {
	registry *prometheus.Registry

	reads           *prometheus.CounterVec
	refreshes       *prometheus.CounterVec
	pluginResults   *prometheus.CounterVec
	cacheLookups    *prometheus.CounterVec
	nodes           prometheus.Gauge
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	bytesServed     prometheus.Counter
}

// New creates a Metrics instance backed by its own registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		reads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "servedir_reads_total",
				Help: "Content reads by resulting source kind",
			},
			[]string{"kind"},
		),
		refreshes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "servedir_refreshes_total",
				Help: "Background staleness checks by outcome",
			},
			[]string{"result"},
		),
		pluginResults: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "servedir_plugin_results_total",
				Help: "Plugin hook invocations by plugin, hook and outcome",
			},
			[]string{"plugin", "hook", "result"},
		),
		cacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "servedir_cache_lookups_total",
				Help: "Source lookups answered from cache or by a synchronous read",
			},
			[]string{"result"},
		),
		nodes: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "servedir_nodes",
				Help: "Number of nodes materialized in the tree",
			},
		),
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "servedir_http_requests_total",
				Help: "HTTP requests by method and status",
			},
			[]string{"method", "status"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "servedir_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		bytesServed: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "servedir_bytes_served_total",
				Help: "Total body bytes written to clients",
			},
		),
	}
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler returns an HTTP handler exposing the registry
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRead counts a content read producing a source of the given kind
func (m *Metrics) ObserveRead(kind string) {
	if m == nil {
		return
	}
	m.reads.WithLabelValues(kind).Inc()
}

// ObserveRefresh counts a staleness check outcome
func (m *Metrics) ObserveRefresh(result string) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(result).Inc()
}

// ObservePlugin counts a plugin hook outcome
func (m *Metrics) ObservePlugin(plugin, hook, result string) {
	if m == nil {
		return
	}
	m.pluginResults.WithLabelValues(plugin, hook, result).Inc()
}

// ObserveLookup counts a source lookup as a cache hit or miss
func (m *Metrics) ObserveLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// NodeCreated increments the materialized node gauge
func (m *Metrics) NodeCreated() {
	if m == nil {
		return
	}
	m.nodes.Inc()
}

// ObserveRequest records a finished HTTP request
func (m *Metrics) ObserveRequest(method string, status int, bytes int64, duration time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method).Observe(duration.Seconds())
	if bytes > 0 {
		m.bytesServed.Add(float64(bytes))
	}
}
