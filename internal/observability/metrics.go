package observability

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics.
type Metrics struct {
	// Ingest metrics
	BatchesReceived  *prometheus.CounterVec
	BatchesMalformed *prometheus.CounterVec
	ControlBatches   *prometheus.CounterVec
	RecordsFramed    *prometheus.CounterVec
	FragmentsDropped *prometheus.CounterVec

	// Buffer metrics
	BufferSize        *prometheus.GaugeVec
	BufferRecordCount *prometheus.GaugeVec

	// Flush/storage metrics
	Flushes            *prometheus.CounterVec
	FlushRetries       *prometheus.CounterVec
	DeliveryFailures   *prometheus.CounterVec
	ObjectsWritten     *prometheus.CounterVec
	ObjectSize         *prometheus.HistogramVec
	FlushDuration      *prometheus.HistogramVec
	StorageErrors      *prometheus.CounterVec

	// Query metrics
	PathsEnumerated *prometheus.HistogramVec
	ObjectsRead     *prometheus.CounterVec
	ObjectsMissing  *prometheus.CounterVec
	RowsReturned    *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		BatchesReceived: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_batches_received_total",
				Help: "Total number of raw batches received from the log source",
			},
			[]string{"topic", "partition"},
		),
		BatchesMalformed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_batches_malformed_total",
				Help: "Total number of batches dropped for codec or shape violations",
			},
			[]string{"topic", "partition", "reason"},
		),
		ControlBatches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_control_batches_total",
				Help: "Total number of non-data control batches skipped",
			},
			[]string{"topic", "partition"},
		),
		RecordsFramed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_records_framed_total",
				Help: "Total number of log records framed from batches",
			},
			[]string{"topic", "partition"},
		),
		FragmentsDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_fragments_dropped_total",
				Help: "Total number of unparsable trailing fragments dropped",
			},
			[]string{"topic", "partition"},
		),

		BufferSize: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "buffer_size_bytes",
				Help: "Current buffer size in bytes",
			},
			[]string{"shard"},
		),
		BufferRecordCount: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "buffer_record_count",
				Help: "Current number of records in buffer",
			},
			[]string{"shard"},
		),

		Flushes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flushes_total",
				Help: "Total number of buffer flushes by trigger and status",
			},
			[]string{"shard", "trigger", "status"},
		),
		FlushRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flush_retries_total",
				Help: "Total number of flush write retries",
			},
			[]string{"shard"},
		),
		DeliveryFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "delivery_failures_total",
				Help: "Total number of flushes that exhausted the retry budget",
			},
			[]string{"shard"},
		),
		ObjectsWritten: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "objects_written_total",
				Help: "Total number of storage objects written",
			},
			[]string{"shard", "backend"},
		),
		ObjectSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "object_size_bytes",
				Help:    "Compressed size of objects written to storage",
				Buckets: prometheus.ExponentialBuckets(1024, 4, 10), // 1KB to 256MB
			},
			[]string{"shard", "backend"},
		),
		FlushDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "flush_duration_seconds",
				Help:    "Duration of complete flush operations including compression",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"shard"},
		),
		StorageErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storage_errors_total",
				Help: "Total number of object store errors",
			},
			[]string{"backend", "operation"},
		),

		PathsEnumerated: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "query_paths_enumerated",
				Help:    "Number of candidate paths produced per query by projection",
				Buckets: prometheus.ExponentialBuckets(1, 4, 8),
			},
			[]string{},
		),
		ObjectsRead: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "query_objects_read_total",
				Help: "Total number of storage objects read during queries",
			},
			[]string{"backend"},
		),
		ObjectsMissing: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "query_objects_missing_total",
				Help: "Total number of enumerated paths with no object in storage",
			},
			[]string{"backend"},
		),
		RowsReturned: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "query_rows_returned_total",
				Help: "Total number of rows returned to callers",
			},
			[]string{},
		),
	}
}

// IncBatchesReceived increments the batches received counter.
func (m *Metrics) IncBatchesReceived(topic string, partition int32) {
	m.BatchesReceived.WithLabelValues(topic, fmt.Sprintf("%d", partition)).Inc()
}

// IncBatchesMalformed increments the malformed batch counter.
func (m *Metrics) IncBatchesMalformed(topic string, partition int32, reason string) {
	m.BatchesMalformed.WithLabelValues(topic, fmt.Sprintf("%d", partition), reason).Inc()
}

// IncControlBatches increments the control batch counter.
func (m *Metrics) IncControlBatches(topic string, partition int32) {
	m.ControlBatches.WithLabelValues(topic, fmt.Sprintf("%d", partition)).Inc()
}

// AddRecordsFramed adds to the records framed counter.
func (m *Metrics) AddRecordsFramed(topic string, partition int32, n int) {
	m.RecordsFramed.WithLabelValues(topic, fmt.Sprintf("%d", partition)).Add(float64(n))
}

// IncFragmentsDropped increments the dropped fragment counter.
func (m *Metrics) IncFragmentsDropped(topic string, partition int32) {
	m.FragmentsDropped.WithLabelValues(topic, fmt.Sprintf("%d", partition)).Inc()
}

// SetBufferStats sets the buffer gauges for a shard.
func (m *Metrics) SetBufferStats(shard string, sizeBytes int64, recordCount int) {
	m.BufferSize.WithLabelValues(shard).Set(float64(sizeBytes))
	m.BufferRecordCount.WithLabelValues(shard).Set(float64(recordCount))
}

// IncFlushes increments the flush counter.
func (m *Metrics) IncFlushes(shard, trigger, status string) {
	m.Flushes.WithLabelValues(shard, trigger, status).Inc()
}

// IncFlushRetries increments the flush retry counter.
func (m *Metrics) IncFlushRetries(shard string) {
	m.FlushRetries.WithLabelValues(shard).Inc()
}

// IncDeliveryFailures increments the delivery failure counter.
func (m *Metrics) IncDeliveryFailures(shard string) {
	m.DeliveryFailures.WithLabelValues(shard).Inc()
}

// ObserveObjectWritten records a successful object write.
func (m *Metrics) ObserveObjectWritten(shard, backend string, sizeBytes int64, durationSec float64) {
	m.ObjectsWritten.WithLabelValues(shard, backend).Inc()
	m.ObjectSize.WithLabelValues(shard, backend).Observe(float64(sizeBytes))
	m.FlushDuration.WithLabelValues(shard).Observe(durationSec)
}

// IncStorageErrors increments the storage error counter.
func (m *Metrics) IncStorageErrors(backend, operation string) {
	m.StorageErrors.WithLabelValues(backend, operation).Inc()
}

// ObservePathsEnumerated records the candidate path count for one query.
func (m *Metrics) ObservePathsEnumerated(n int) {
	m.PathsEnumerated.WithLabelValues().Observe(float64(n))
}

// IncObjectsRead increments the objects read counter.
func (m *Metrics) IncObjectsRead(backend string) {
	m.ObjectsRead.WithLabelValues(backend).Inc()
}

// IncObjectsMissing increments the missing object counter.
func (m *Metrics) IncObjectsMissing(backend string) {
	m.ObjectsMissing.WithLabelValues(backend).Inc()
}

// AddRowsReturned adds to the rows returned counter.
func (m *Metrics) AddRowsReturned(n int) {
	m.RowsReturned.WithLabelValues().Add(float64(n))
}
