package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
	"gorm.io/gorm"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("org_id", "123"),
		attribute.String("resource_id", "i-abc"),
		attribute.String("kind", "resources"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	if attrs[0].Key != "org_id" && attrs[1].Key != "org_id" {
		t.Fatalf("expected org_id to be retained")
	}
	if attrs[0].Key != "kind" && attrs[1].Key != "kind" {
		t.Fatalf("expected kind to be retained")
	}
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	m.RecordIngestRows(context.Background(), "resources", "inserted", 3)
	m.RecordIngestBatch(context.Background(), "resources", "committed")
	m.AddActivitySubscribers(context.Background(), 1)
}

func TestNewWithNoopProvider(t *testing.T) {
	m, err := New(Config{}, noop.NewMeterProvider())
	require.NoError(t, err)
	m.RecordIngestRows(context.Background(), "costs", "updated", 2)
	m.RecordActivityEvent(context.Background(), "costs.bulk")
}

func TestClassifyBatchFailure(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{name: "deadline", err: fmt.Errorf("commit: %w", context.DeadlineExceeded), want: BatchFailureDeadlineExceeded},
		{name: "canceled", err: context.Canceled, want: BatchFailureCanceled},
		{name: "lock_timeout", err: &pgconn.PgError{Code: "55P03"}, want: BatchFailureDBLockTimeout},
		{name: "serialization", err: &pgconn.PgError{Code: "40001"}, want: BatchFailureSerializationFailure},
		{name: "connection", err: &pgconn.PgError{Code: "08006"}, want: BatchFailureConnection},
		{name: "constraint", err: gorm.ErrForeignKeyViolated, want: BatchFailureConstraint},
		{name: "unknown", err: errors.New("boom"), want: BatchFailureUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ClassifyBatchFailure(tc.err))
		})
	}
}

func TestBatchMetricsCounters(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := newBatchMetrics(registry, Config{ServiceName: "cloudunify", Environment: "test"})

	m.ObserveBatch("resources", "committed", 10, 20*time.Millisecond)
	m.IncBatchFailure("costs", context.DeadlineExceeded)
	m.IncChunkFallback("costs")
	m.IncChunkFallback("costs")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.batchFailures.WithLabelValues("costs", BatchFailureDeadlineExceeded)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.chunkFallbacks.WithLabelValues("costs")))
}

func TestHTTPMiddlewareCountsRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	registry := prometheus.NewRegistry()
	m, err := newHTTPMetrics(registry, Config{})
	require.NoError(t, err)

	r := gin.New()
	r.Use(GinMiddleware(m))
	r.POST("/api/resources/bulk", func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/resources/bulk", nil))
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requests.WithLabelValues(http.MethodPost, "/api/resources/bulk", "200")))
}
