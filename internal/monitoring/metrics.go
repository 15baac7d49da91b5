package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the sync engine.
type Metrics struct {
	Registry *prometheus.Registry

	SyncRunsTotal    *prometheus.CounterVec
	SyncItemsTotal   *prometheus.CounterVec
	QueueDepth       prometheus.Gauge
	RemoteCallsTotal *prometheus.CounterVec
	RemoteCallTime   prometheus.Histogram
	QuotaUsed        prometheus.Gauge
	IngestRunsTotal  *prometheus.CounterVec
	UnmappedGauge    prometheus.Gauge
}

// NewMetrics constructs and registers all collectors on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	syncRuns := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "merchant_sync_runs_total",
			Help: "Total batch sync runs by result.",
		},
		[]string{"result"},
	)
	syncItems := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "merchant_sync_items_total",
			Help: "Total queue items processed by disposition.",
		},
		[]string{"disposition"},
	)
	queueDepth := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "merchant_sync_queue_depth",
			Help: "Number of items waiting in the sync queue.",
		},
	)
	remoteCalls := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "merchant_remote_calls_total",
			Help: "Total remote platform calls by action and result.",
		},
		[]string{"action", "result"},
	)
	remoteCallTime := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "merchant_remote_call_duration_seconds",
			Help:    "Remote platform call latency.",
			Buckets: prometheus.DefBuckets,
		},
	)
	quotaUsed := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "merchant_quota_used",
			Help: "Remote call quota consumed for the current day.",
		},
	)
	ingestRuns := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "merchant_analytics_ingest_runs_total",
			Help: "Total analytics ingestion runs by result.",
		},
		[]string{"result"},
	)
	unmapped := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "merchant_unmapped_entities",
			Help: "Remote offers currently lacking a local mapping.",
		},
	)

	registry.MustRegister(
		syncRuns, syncItems, queueDepth,
		remoteCalls, remoteCallTime, quotaUsed,
		ingestRuns, unmapped,
	)

	return &Metrics{
		Registry:         registry,
		SyncRunsTotal:    syncRuns,
		SyncItemsTotal:   syncItems,
		QueueDepth:       queueDepth,
		RemoteCallsTotal: remoteCalls,
		RemoteCallTime:   remoteCallTime,
		QuotaUsed:        quotaUsed,
		IngestRunsTotal:  ingestRuns,
		UnmappedGauge:    unmapped,
	}
}

// ObserveRemoteCall records one remote platform call.
func (m *Metrics) ObserveRemoteCall(action, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.RemoteCallsTotal.WithLabelValues(action, result).Inc()
	m.RemoteCallTime.Observe(d.Seconds())
}

// SetQuotaUsed updates the current quota consumption gauge.
func (m *Metrics) SetQuotaUsed(used int) {
	if m == nil {
		return
	}
	m.QuotaUsed.Set(float64(used))
}
