package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

const (
	BatchFailureDeadlineExceeded     = "deadline_exceeded"
	BatchFailureCanceled             = "canceled"
	BatchFailureDBLockTimeout        = "db_lock_timeout"
	BatchFailureSerializationFailure = "serialization_failure"
	BatchFailureConnection           = "connection"
	BatchFailureConstraint           = "constraint"
	BatchFailureUnknown              = "unknown"
)

// BatchMetrics exposes ingestion batch latency and failure signals on /metrics.
type BatchMetrics struct {
	batchDuration  *prometheus.HistogramVec
	batchFailures  *prometheus.CounterVec
	chunkFallbacks *prometheus.CounterVec
	batchSize      *prometheus.HistogramVec
}

var (
	batchMetricsOnce sync.Once
	batchMetrics     *BatchMetrics
)

// Batches returns the singleton batch metrics registry.
func Batches() *BatchMetrics {
	return BatchesWithConfig(Config{})
}

// BatchesWithConfig returns the singleton batch metrics registry using config labels.
func BatchesWithConfig(cfg Config) *BatchMetrics {
	batchMetricsOnce.Do(func() {
		batchMetrics = newBatchMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return batchMetrics
}

func newBatchMetrics(registerer prometheus.Registerer, cfg Config) *BatchMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "cloudunify"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	batchDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "cloudunify_ingest_batch_duration_seconds",
		Help:        "Ingestion batch latency from receipt to commit or abort.",
		Buckets:     []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		ConstLabels: constLabels,
	}, []string{"kind", "status"})
	batchFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "cloudunify_ingest_batch_failures_total",
		Help:        "Aborted ingestion batches by low-cardinality reason.",
		ConstLabels: constLabels,
	}, []string{"kind", "reason"})
	chunkFallbacks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "cloudunify_ingest_chunk_fallbacks_total",
		Help:        "Upsert chunks retried row by row after a constraint violation.",
		ConstLabels: constLabels,
	}, []string{"kind"})
	batchSize := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "cloudunify_ingest_batch_items",
		Help:        "Number of items received per ingestion batch.",
		Buckets:     prometheus.ExponentialBuckets(1, 4, 8),
		ConstLabels: constLabels,
	}, []string{"kind"})

	registerer.MustRegister(batchDuration, batchFailures, chunkFallbacks, batchSize)

	return &BatchMetrics{
		batchDuration:  batchDuration,
		batchFailures:  batchFailures,
		chunkFallbacks: chunkFallbacks,
		batchSize:      batchSize,
	}
}

func (m *BatchMetrics) ObserveBatch(kind, status string, items int, duration time.Duration) {
	if m == nil {
		return
	}
	m.batchDuration.WithLabelValues(kind, status).Observe(duration.Seconds())
	m.batchSize.WithLabelValues(kind).Observe(float64(items))
}

func (m *BatchMetrics) IncBatchFailure(kind string, err error) {
	if m == nil || err == nil {
		return
	}
	m.batchFailures.WithLabelValues(kind, ClassifyBatchFailure(err)).Inc()
}

func (m *BatchMetrics) IncChunkFallback(kind string) {
	if m == nil {
		return
	}
	m.chunkFallbacks.WithLabelValues(kind).Inc()
}

// ClassifyBatchFailure maps storage errors to low-cardinality reasons.
func ClassifyBatchFailure(err error) string {
	if err == nil {
		return BatchFailureUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return BatchFailureDeadlineExceeded
	}
	if errors.Is(err, context.Canceled) {
		return BatchFailureCanceled
	}
	if hasPGCode(err, "55P03") {
		return BatchFailureDBLockTimeout
	}
	if hasPGCode(err, "40001") {
		return BatchFailureSerializationFailure
	}
	if hasPGClass(err, "08") || errors.Is(err, gorm.ErrInvalidDB) {
		return BatchFailureConnection
	}
	if hasPGClass(err, "23") || errors.Is(err, gorm.ErrDuplicatedKey) || errors.Is(err, gorm.ErrForeignKeyViolated) || errors.Is(err, gorm.ErrCheckConstraintViolated) {
		return BatchFailureConstraint
	}
	return BatchFailureUnknown
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}

func hasPGClass(err error, class string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return strings.HasPrefix(pgErr.Code, class)
	}
	return false
}
