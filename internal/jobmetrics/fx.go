package jobmetrics

import (
	"github.com/smallbiznis/cloudunify/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module provides an optional Pusher; it is nil when JOB_METRICS_EXPORTER is unset.
var Module = fx.Module("jobmetrics",
	fx.Provide(func(cfg config.Config, log *zap.Logger) Pusher {
		return NewPusher(cfg.JobPush, log.Named("jobmetrics"))
	}),
)
