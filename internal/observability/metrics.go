package observability

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus instruments shared by the server and client
// processes. Both register against the default registry; each process only
// touches the subset relevant to its role.
type Metrics struct {
	// Transfer metrics (client: C11/C12/C13)
	TransfersTotal    *prometheus.CounterVec
	TransfersActive   prometheus.Gauge
	TransferDuration  *prometheus.HistogramVec
	BytesTransferred  *prometheus.CounterVec
	ChunksUploaded    prometheus.Counter
	ChunksDownloaded  prometheus.Counter
	ChunksDeduped     prometheus.Counter
	ConflictsTotal    *prometheus.CounterVec
	ScannerFallbacks  prometheus.Counter

	// Queue/coordinator metrics (C10/C11)
	QueueDepth        prometheus.Gauge
	QueueDedupDrops   prometheus.Counter

	// Network-aware retry metrics (C12)
	NetworkWaitsTotal prometheus.Counter
	RetriesTotal      *prometheus.CounterVec

	// Crypto metrics (C1)
	CryptoOperationsTotal   *prometheus.CounterVec
	CryptoOperationDuration prometheus.Histogram

	// Server metrics (C3/C4/C5)
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HubConnectionsActive *prometheus.GaugeVec
	ChangeLogAppendsTotal prometheus.Counter
	DatabaseOperationsTotal *prometheus.CounterVec

	activeTransfers int64
}

// NewMetrics creates and registers all SyncAgent Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		TransfersTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "syncagent_transfers_total",
			Help: "Total transfers completed, by type and result",
		}, []string{"type", "result"}),

		TransfersActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "syncagent_transfers_active",
			Help: "Currently active transfers",
		}),

		TransferDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "syncagent_transfer_duration_seconds",
			Help:    "Transfer completion time distribution, by type",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
		}, []string{"type"}),

		BytesTransferred: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "syncagent_bytes_transferred_total",
			Help: "Total plaintext bytes transferred",
		}, []string{"direction"}),

		ChunksUploaded:   promauto.NewCounter(prometheus.CounterOpts{Name: "syncagent_chunks_uploaded_total", Help: "Chunks uploaded to the server"}),
		ChunksDownloaded: promauto.NewCounter(prometheus.CounterOpts{Name: "syncagent_chunks_downloaded_total", Help: "Chunks downloaded from the server"}),
		ChunksDeduped:    promauto.NewCounter(prometheus.CounterOpts{Name: "syncagent_chunks_deduped_total", Help: "Chunks skipped because the server already had them"}),

		ConflictsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "syncagent_conflicts_total",
			Help: "Conflicts encountered, by kind",
		}, []string{"kind"}), // false_conflict, real_conflict

		ScannerFallbacks: promauto.NewCounter(prometheus.CounterOpts{
			Name: "syncagent_scanner_fallback_total",
			Help: "Times the remote scan fell back to full file listing (cannot see remote deletions)",
		}),

		QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "syncagent_event_queue_depth",
			Help: "Pending events in the coordinator's queue",
		}),

		QueueDedupDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "syncagent_event_queue_dedup_drops_total",
			Help: "Events replaced by a newer event for the same path",
		}),

		NetworkWaitsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "syncagent_network_waits_total",
			Help: "Times the worker pool entered wait_for_network",
		}),

		RetriesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "syncagent_retries_total",
			Help: "Retries performed, by error class",
		}, []string{"class"}),

		CryptoOperationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "syncagent_crypto_operations_total",
			Help: "AEAD seal/open operations performed",
		}, []string{"operation", "result"}),

		CryptoOperationDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "syncagent_crypto_operation_duration_seconds",
			Help:    "AEAD operation latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}),

		HTTPRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "syncagent_http_requests_total",
			Help: "REST API requests, by route and status",
		}, []string{"route", "method", "status"}),

		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "syncagent_http_request_duration_seconds",
			Help:    "REST API request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),

		HubConnectionsActive: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "syncagent_hub_connections_active",
			Help: "Active WebSocket connections, by kind",
		}, []string{"kind"}), // client, dashboard

		ChangeLogAppendsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "syncagent_change_log_appends_total",
			Help: "Change log entries appended",
		}),

		DatabaseOperationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "syncagent_database_operations_total",
			Help: "Metadata store operations, by kind and result",
		}, []string{"operation", "result"}),
	}
}

// RecordTransferStart increments the active-transfer gauge.
func (m *Metrics) RecordTransferStart() {
	n := atomic.AddInt64(&m.activeTransfers, 1)
	m.TransfersActive.Set(float64(n))
}

// RecordTransferComplete records the result and duration of a finished transfer.
func (m *Metrics) RecordTransferComplete(transferType string, success bool, durationSeconds float64) {
	n := atomic.AddInt64(&m.activeTransfers, -1)
	m.TransfersActive.Set(float64(n))

	result := "success"
	if !success {
		result = "failure"
	}
	m.TransfersTotal.WithLabelValues(transferType, result).Inc()
	m.TransferDuration.WithLabelValues(transferType).Observe(durationSeconds)
}

// Handler returns the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
