// Package metrics defines the Prometheus collectors exposed by the
// engine. The export format and HTTP handler belong to the outer layer;
// only the instruments live here.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the engine's instruments. A nil *Metrics is valid and
// records nothing, so tests and embedded uses can skip registration.
type Metrics struct {
	QueryDuration     *prometheus.HistogramVec
	UpsertedDocuments *prometheus.CounterVec
	WALAppends        *prometheus.CounterVec
	WALRecoveries     prometheus.Counter
	SegmentsPublished *prometheus.CounterVec
	CompactionRuns    prometheus.Counter
	CacheHits         prometheus.Counter
	CacheMisses       prometheus.Counter
}

// New creates and registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		QueryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "elacsym",
			Name:      "query_duration_seconds",
			Help:      "End-to-end query latency per namespace.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 16),
		}, []string{"namespace"}),
		UpsertedDocuments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "elacsym",
			Name:      "upserted_documents_total",
			Help:      "Documents accepted by upserts.",
		}, []string{"namespace"}),
		WALAppends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "elacsym",
			Name:      "wal_appends_total",
			Help:      "WAL entries appended.",
		}, []string{"namespace"}),
		WALRecoveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "elacsym",
			Name:      "wal_recoveries_total",
			Help:      "Namespace startups that replayed WAL entries.",
		}),
		SegmentsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "elacsym",
			Name:      "segments_published_total",
			Help:      "Segments published through manifest swaps.",
		}, []string{"namespace"}),
		CompactionRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "elacsym",
			Name:      "compaction_runs_total",
			Help:      "Completed compaction passes.",
		}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "elacsym",
			Name:      "cache_hits_total",
			Help:      "Cache lookups served from a tier.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "elacsym",
			Name:      "cache_misses_total",
			Help:      "Cache lookups that fell through to the store.",
		}),
	}
	reg.MustRegister(
		m.QueryDuration, m.UpsertedDocuments, m.WALAppends, m.WALRecoveries,
		m.SegmentsPublished, m.CompactionRuns, m.CacheHits, m.CacheMisses,
	)
	return m
}

// ObserveQuery records one query's latency.
func (m *Metrics) ObserveQuery(namespace string, seconds float64) {
	if m == nil {
		return
	}
	m.QueryDuration.WithLabelValues(namespace).Observe(seconds)
}

// AddUpserted records accepted documents.
func (m *Metrics) AddUpserted(namespace string, n int) {
	if m == nil {
		return
	}
	m.UpsertedDocuments.WithLabelValues(namespace).Add(float64(n))
}

// IncWALAppend records one WAL append.
func (m *Metrics) IncWALAppend(namespace string) {
	if m == nil {
		return
	}
	m.WALAppends.WithLabelValues(namespace).Inc()
}

// IncWALRecovery records a startup replay.
func (m *Metrics) IncWALRecovery() {
	if m == nil {
		return
	}
	m.WALRecoveries.Inc()
}

// IncSegmentPublished records one published segment.
func (m *Metrics) IncSegmentPublished(namespace string) {
	if m == nil {
		return
	}
	m.SegmentsPublished.WithLabelValues(namespace).Inc()
}

// IncCompaction records one compaction pass.
func (m *Metrics) IncCompaction() {
	if m == nil {
		return
	}
	m.CompactionRuns.Inc()
}
