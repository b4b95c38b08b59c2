package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/codewandler/evbuf-go/core/es"
	"github.com/codewandler/evbuf-go/core/metrics"
)

// ESMetrics implements es.ESMetrics.
type ESMetrics struct {
	storeLoadDuration   *prometheus.HistogramVec
	storeAppendDuration *prometheus.HistogramVec
	eventsAppended      *prometheus.CounterVec

	repoLoadDuration     *prometheus.HistogramVec
	repoSaveDuration     *prometheus.HistogramVec
	concurrencyConflicts *prometheus.CounterVec
	validationRejected   *prometheus.CounterVec

	eventsReplayed *prometheus.CounterVec
	unknownEvents  *prometheus.CounterVec

	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec
}

func NewESMetrics(reg prometheus.Registerer) *ESMetrics {
	aggLabel := []string{"aggregate_type"}
	m := &ESMetrics{
		storeLoadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "es_store_load_duration_seconds",
			Help:      "Event store load latency in seconds",
			Buckets:   defaultBuckets,
		}, aggLabel),

		storeAppendDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "es_store_append_duration_seconds",
			Help:      "Event store append latency in seconds",
			Buckets:   defaultBuckets,
		}, aggLabel),

		eventsAppended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "es_events_appended_total",
			Help:      "Total number of events appended",
		}, aggLabel),

		repoLoadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "es_repo_load_duration_seconds",
			Help:      "Repository load latency in seconds",
			Buckets:   defaultBuckets,
		}, aggLabel),

		repoSaveDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "es_repo_save_duration_seconds",
			Help:      "Repository save latency in seconds",
			Buckets:   defaultBuckets,
		}, aggLabel),

		concurrencyConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "es_concurrency_conflicts_total",
			Help:      "Total number of appends rejected for a stale expected version",
		}, aggLabel),

		validationRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "es_validation_rejected_total",
			Help:      "Total number of event applications rejected by the validator",
		}, aggLabel),

		eventsReplayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "es_events_replayed_total",
			Help:      "Total number of stored events replayed into aggregates",
		}, aggLabel),

		unknownEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "es_unknown_events_skipped_total",
			Help:      "Total number of stored events skipped because their type is not registered",
		}, []string{"aggregate_type", "event_type"}),

		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "es_cache_hits_total",
			Help:      "Total number of repository cache hits",
		}, aggLabel),

		cacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "es_cache_misses_total",
			Help:      "Total number of repository cache misses",
		}, aggLabel),
	}

	reg.MustRegister(
		m.storeLoadDuration,
		m.storeAppendDuration,
		m.eventsAppended,
		m.repoLoadDuration,
		m.repoSaveDuration,
		m.concurrencyConflicts,
		m.validationRejected,
		m.eventsReplayed,
		m.unknownEvents,
		m.cacheHits,
		m.cacheMisses,
	)

	return m
}

func (m *ESMetrics) StoreLoadDuration(aggType string) metrics.Timer {
	return newTimer(m.storeLoadDuration.WithLabelValues(aggType))
}

func (m *ESMetrics) StoreAppendDuration(aggType string) metrics.Timer {
	return newTimer(m.storeAppendDuration.WithLabelValues(aggType))
}

func (m *ESMetrics) EventsAppended(aggType string, count int) {
	m.eventsAppended.WithLabelValues(aggType).Add(float64(count))
}

func (m *ESMetrics) RepoLoadDuration(aggType string) metrics.Timer {
	return newTimer(m.repoLoadDuration.WithLabelValues(aggType))
}

func (m *ESMetrics) RepoSaveDuration(aggType string) metrics.Timer {
	return newTimer(m.repoSaveDuration.WithLabelValues(aggType))
}

func (m *ESMetrics) ConcurrencyConflict(aggType string) {
	m.concurrencyConflicts.WithLabelValues(aggType).Inc()
}

func (m *ESMetrics) ValidationRejected(aggType string) {
	m.validationRejected.WithLabelValues(aggType).Inc()
}

func (m *ESMetrics) EventsReplayed(aggType string, count int) {
	m.eventsReplayed.WithLabelValues(aggType).Add(float64(count))
}

func (m *ESMetrics) UnknownEventSkipped(aggType, eventType string) {
	m.unknownEvents.WithLabelValues(aggType, eventType).Inc()
}

func (m *ESMetrics) CacheHit(aggType string)  { m.cacheHits.WithLabelValues(aggType).Inc() }
func (m *ESMetrics) CacheMiss(aggType string) { m.cacheMisses.WithLabelValues(aggType).Inc() }

var _ es.ESMetrics = (*ESMetrics)(nil)
