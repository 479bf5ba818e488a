package jobmetrics

import (
	"context"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/cloudunify/internal/loader"
	"go.uber.org/zap"
)

type loaderMetrics struct {
	rows        *prometheus.CounterVec
	files       *prometheus.CounterVec
	duration    prometheus.Gauge
	lastRun     prometheus.Gauge
	lastSuccess prometheus.Gauge
}

// LoaderRegistry builds a fresh registry describing one loader run.
func LoaderRegistry(report *loader.Report) *prometheus.Registry {
	registry := prometheus.NewRegistry()
	m := &loaderMetrics{
		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cloudunify_loader_rows_total",
			Help: "Rows handled by the dataset loader, by kind and outcome.",
		}, []string{"kind", "outcome", "dry_run"}),
		files: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cloudunify_loader_files_total",
			Help: "Files handled by the dataset loader, by kind and status.",
		}, []string{"kind", "status", "dry_run"}),
		duration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cloudunify_loader_duration_seconds",
			Help: "Wall time of the last loader run.",
		}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cloudunify_loader_last_run_timestamp_seconds",
			Help: "Unix time the last loader run finished.",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cloudunify_loader_last_run_success",
			Help: "1 when every file of the last run was stored, 0 otherwise.",
		}),
	}
	registry.MustRegister(m.rows, m.files, m.duration, m.lastRun, m.lastSuccess)

	if report == nil {
		return registry
	}

	dryRun := "false"
	if report.DryRun {
		dryRun = "true"
	}
	for _, f := range report.Files {
		kind := normalizeLabel(string(f.Kind))
		status := "stored"
		if f.Error != "" {
			status = "failed"
		}
		m.files.WithLabelValues(kind, status, dryRun).Inc()
		m.rows.WithLabelValues(kind, "inserted", dryRun).Add(float64(f.Inserted))
		m.rows.WithLabelValues(kind, "updated", dryRun).Add(float64(f.Updated))
		m.rows.WithLabelValues(kind, "skipped", dryRun).Add(float64(f.Skipped))
	}

	if !report.FinishedAt.IsZero() {
		m.lastRun.Set(float64(report.FinishedAt.Unix()))
		if !report.StartedAt.IsZero() {
			m.duration.Set(report.FinishedAt.Sub(report.StartedAt).Seconds())
		}
	}
	if report.FailedFiles() == 0 {
		m.lastSuccess.Set(1)
	}
	return registry
}

// PushLoaderReport pushes the run's metrics when a pusher is configured. Failures are logged only.
func PushLoaderReport(ctx context.Context, pusher Pusher, report *loader.Report, log *zap.Logger) {
	if pusher == nil || report == nil {
		return
	}
	if log == nil {
		log = zap.NewNop()
	}
	if err := pusher.Push(ctx, LoaderRegistry(report)); err != nil {
		log.Warn("failed to push loader metrics", zap.Error(err))
		return
	}
	log.Debug("loader metrics pushed", zap.Int("files", len(report.Files)))
}

func normalizeLabel(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "unknown"
	}
	return value
}
