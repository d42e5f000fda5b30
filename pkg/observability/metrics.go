package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the tenancy core.
type Metrics struct {
	// Resolution metrics
	ResolutionsTotal   *prometheus.CounterVec // outcome = "ok" or the error code
	ResolutionDuration prometheus.Histogram

	// Access control metrics
	AccessDecisionsTotal *prometheus.CounterVec // decision = "granted"/"denied"

	// Quota metrics
	QuotaChecksTotal  *prometheus.CounterVec // axis, allowed
	QuotaResetsTotal  prometheus.Counter
	QuotaAlertsTotal  *prometheus.CounterVec // threshold
	QuotaUsageRecords prometheus.Counter

	// Store metrics
	CacheHitsTotal    *prometheus.CounterVec // entity
	CacheMissesTotal  *prometheus.CounterVec // entity
	AuditAppendsTotal prometheus.Counter

	// Usage tracker metrics
	UsageEventsQueued  prometheus.Counter
	UsageFlushesTotal  *prometheus.CounterVec // result = "ok"/"requeued"
	UsageQueueDepth    prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Metrics{
		ResolutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentstore_tenant_resolutions_total",
				Help: "Total tenant resolutions by outcome",
			},
			[]string{"outcome"},
		),
		ResolutionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "agentstore_tenant_resolution_duration_seconds",
				Help:    "Tenant resolution duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		AccessDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentstore_access_decisions_total",
				Help: "Access control decisions",
			},
			[]string{"decision"},
		),
		QuotaChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentstore_quota_checks_total",
				Help: "Quota admission checks by axis and outcome",
			},
			[]string{"axis", "allowed"},
		),
		QuotaResetsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "agentstore_quota_resets_total",
				Help: "Monthly quota resets performed",
			},
		),
		QuotaAlertsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentstore_quota_alerts_total",
				Help: "Quota usage alerts fired by threshold",
			},
			[]string{"threshold"},
		),
		QuotaUsageRecords: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "agentstore_quota_usage_records_total",
				Help: "Usage recording calls applied to quotas",
			},
		),
		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentstore_store_cache_hits_total",
				Help: "Store cache hits by entity type",
			},
			[]string{"entity"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentstore_store_cache_misses_total",
				Help: "Store cache misses by entity type",
			},
			[]string{"entity"},
		),
		AuditAppendsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "agentstore_audit_appends_total",
				Help: "Audit log entries appended",
			},
		),
		UsageEventsQueued: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "agentstore_usage_events_queued_total",
				Help: "Usage events accepted into the tracking queue",
			},
		),
		UsageFlushesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentstore_usage_flushes_total",
				Help: "Usage tracker flushes by result",
			},
			[]string{"result"},
		),
		UsageQueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "agentstore_usage_queue_depth",
				Help: "Current usage tracker queue depth",
			},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.ResolutionsTotal,
		m.ResolutionDuration,
		m.AccessDecisionsTotal,
		m.QuotaChecksTotal,
		m.QuotaResetsTotal,
		m.QuotaAlertsTotal,
		m.QuotaUsageRecords,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.AuditAppendsTotal,
		m.UsageEventsQueued,
		m.UsageFlushesTotal,
		m.UsageQueueDepth,
	)

	return m
}

// RecordCacheHit implements store.Metrics.
func (m *Metrics) RecordCacheHit(entity string) {
	m.CacheHitsTotal.WithLabelValues(entity).Inc()
}

// RecordCacheMiss implements store.Metrics.
func (m *Metrics) RecordCacheMiss(entity string) {
	m.CacheMissesTotal.WithLabelValues(entity).Inc()
}

// RecordAuditAppend implements store.Metrics.
func (m *Metrics) RecordAuditAppend() {
	m.AuditAppendsTotal.Inc()
}

// RecordResolution records a resolution outcome and its duration.
func (m *Metrics) RecordResolution(outcome string, duration time.Duration) {
	m.ResolutionsTotal.WithLabelValues(outcome).Inc()
	m.ResolutionDuration.Observe(duration.Seconds())
}

// Handler returns the HTTP handler serving this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
