package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder is what the lookup pipeline and HTTP layer report to.
type Recorder interface {
	IncRequestsTotal(endpoint string, status int)
	ObserveRequestDuration(endpoint string, duration time.Duration)
	IncLookupOutcome(outcome string)
	IncCacheHits()
	IncCacheMisses()
	ObserveUpstreamCall(status int, attempts int, duration time.Duration)
	IncPersistFailures()
}

type Prometheus struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	lookupOutcomes   *prometheus.CounterVec
	cacheHits        prometheus.Counter
	cacheMisses      prometheus.Counter
	upstreamCalls    *prometheus.CounterVec
	upstreamAttempts prometheus.Histogram
	upstreamDuration prometheus.Histogram
	persistFailures  prometheus.Counter
}

func (m *Prometheus) IncRequestsTotal(endpoint string, status int) {
	m.requestsTotal.WithLabelValues(endpoint, httpStatusBucket(status)).Inc()
}

func (m *Prometheus) ObserveRequestDuration(endpoint string, duration time.Duration) {
	m.requestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

func (m *Prometheus) IncLookupOutcome(outcome string) {
	m.lookupOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Prometheus) IncCacheHits() {
	m.cacheHits.Inc()
}

func (m *Prometheus) IncCacheMisses() {
	m.cacheMisses.Inc()
}

// ObserveUpstreamCall records one full call sequence. status is 0 when no
// attempt produced an HTTP response.
func (m *Prometheus) ObserveUpstreamCall(status int, attempts int, duration time.Duration) {
	label := "transport_error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	m.upstreamCalls.WithLabelValues(label).Inc()
	m.upstreamAttempts.Observe(float64(attempts))
	m.upstreamDuration.Observe(duration.Seconds())
}

func (m *Prometheus) IncPersistFailures() {
	m.persistFailures.Inc()
}

func httpStatusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}

// New returns a Prometheus-backed recorder registered on reg, or a no-op
// recorder when metrics are disabled.
func New(enabled bool, reg prometheus.Registerer) Recorder {
	if !enabled {
		return Noop{}
	}

	factory := promauto.With(reg)
	return &Prometheus{
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tagtrack_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"endpoint", "status"}),

		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tagtrack_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),

		lookupOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tagtrack_lookup_outcomes_total",
			Help: "Location lookups by outcome",
		}, []string{"outcome"}),

		cacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "tagtrack_cache_hits_total",
			Help: "Lookups answered from the latest stored observation",
		}),

		cacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "tagtrack_cache_misses_total",
			Help: "Lookups that required an upstream call",
		}),

		upstreamCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tagtrack_upstream_calls_total",
			Help: "Upstream call sequences by final status",
		}, []string{"status"}),

		upstreamAttempts: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "tagtrack_upstream_attempts",
			Help:    "Attempts used per upstream call sequence",
			Buckets: []float64{1, 2, 3, 4, 5},
		}),

		upstreamDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "tagtrack_upstream_duration_seconds",
			Help:    "Duration of upstream call sequences including backoff",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40},
		}),

		persistFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "tagtrack_persist_failures_total",
			Help: "Location records that could not be written",
		}),
	}
}

// Noop is used when metrics are disabled.
type Noop struct{}

func (Noop) IncRequestsTotal(_ string, _ int)                  {}
func (Noop) ObserveRequestDuration(_ string, _ time.Duration)  {}
func (Noop) IncLookupOutcome(_ string)                         {}
func (Noop) IncCacheHits()                                     {}
func (Noop) IncCacheMisses()                                   {}
func (Noop) ObserveUpstreamCall(_ int, _ int, _ time.Duration) {}
func (Noop) IncPersistFailures()                               {}
