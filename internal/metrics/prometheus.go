// Package metrics provides Prometheus metrics for the client.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all villus metrics.
type Metrics struct {
	operationsTotal    *prometheus.CounterVec
	operationDuration  *prometheus.HistogramVec
	operationErrors    *prometheus.CounterVec
	inflightOperations prometheus.Gauge

	cacheHitsTotal          *prometheus.CounterVec
	cacheMissesTotal        *prometheus.CounterVec
	cacheInvalidationsTotal prometheus.Counter

	activeSubscriptions       prometheus.Gauge
	subscriptionMessagesTotal prometheus.Counter

	dedupCoalescedTotal prometheus.Counter

	registry *prometheus.Registry
}

// New creates a new metrics instance with its own registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		operationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "villus",
				Name:      "operations_total",
				Help:      "Total number of dispatched operations",
			},
			[]string{"type", "policy"},
		),
		operationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "villus",
				Name:      "operation_duration_seconds",
				Help:      "Operation dispatch duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"type"},
		),
		operationErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "villus",
				Name:      "operation_errors_total",
				Help:      "Total number of operations that ended in a terminal error",
			},
			[]string{"type"},
		),
		inflightOperations: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "villus",
				Name:      "inflight_operations",
				Help:      "Number of operations currently being dispatched",
			},
		),
		cacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "villus",
				Name:      "cache_hits_total",
				Help:      "Total number of cache hits",
			},
			[]string{"policy"},
		),
		cacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "villus",
				Name:      "cache_misses_total",
				Help:      "Total number of cache misses",
			},
			[]string{"policy"},
		),
		cacheInvalidationsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "villus",
				Name:      "cache_invalidations_total",
				Help:      "Total number of tag-scoped cache invalidation requests",
			},
		),
		activeSubscriptions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "villus",
				Name:      "active_subscriptions",
				Help:      "Number of active subscriptions",
			},
		),
		subscriptionMessagesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "villus",
				Name:      "subscription_messages_total",
				Help:      "Total number of subscription messages delivered",
			},
		),
		dedupCoalescedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "villus",
				Name:      "dedup_coalesced_total",
				Help:      "Total number of queries coalesced into an in-flight call",
			},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.operationsTotal,
		m.operationDuration,
		m.operationErrors,
		m.inflightOperations,
		m.cacheHitsTotal,
		m.cacheMissesTotal,
		m.cacheInvalidationsTotal,
		m.activeSubscriptions,
		m.subscriptionMessagesTotal,
		m.dedupCoalescedTotal,
	)

	return m
}

// Handler returns the Prometheus HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// RecordOperation records a completed dispatch.
func (m *Metrics) RecordOperation(opType, policy string, duration time.Duration, err error) {
	m.operationsTotal.WithLabelValues(opType, policy).Inc()
	m.operationDuration.WithLabelValues(opType).Observe(duration.Seconds())
	if err != nil {
		m.operationErrors.WithLabelValues(opType).Inc()
	}
}

// OperationStarted marks a dispatch as in flight.
func (m *Metrics) OperationStarted() {
	m.inflightOperations.Inc()
}

// OperationFinished marks a dispatch as done.
func (m *Metrics) OperationFinished() {
	m.inflightOperations.Dec()
}

// RecordCacheHit records a cache hit for a policy.
func (m *Metrics) RecordCacheHit(policy string) {
	m.cacheHitsTotal.WithLabelValues(policy).Inc()
}

// RecordCacheMiss records a cache miss for a policy.
func (m *Metrics) RecordCacheMiss(policy string) {
	m.cacheMissesTotal.WithLabelValues(policy).Inc()
}

// RecordCacheInvalidation records a tag-clear request.
func (m *Metrics) RecordCacheInvalidation() {
	m.cacheInvalidationsTotal.Inc()
}

// SubscriptionStarted marks a subscription as active.
func (m *Metrics) SubscriptionStarted() {
	m.activeSubscriptions.Inc()
}

// SubscriptionEnded marks a subscription as finished.
func (m *Metrics) SubscriptionEnded() {
	m.activeSubscriptions.Dec()
}

// RecordSubscriptionMessage records one delivered subscription message.
func (m *Metrics) RecordSubscriptionMessage() {
	m.subscriptionMessagesTotal.Inc()
}

// RecordDedupCoalesced records a coalesced identical query.
func (m *Metrics) RecordDedupCoalesced() {
	m.dedupCoalescedTotal.Inc()
}
