package activity

import (
	"context"

	"github.com/coder/quartz"
	"github.com/smallbiznis/cloudunify/internal/config"
	"github.com/smallbiznis/cloudunify/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("activity",
	fx.Provide(provideHub),
	fx.Provide(func(h *Hub) Publisher { return h }),
	fx.Invoke(runHeartbeat),
)

func provideHub(cfg config.Config, clock quartz.Clock, m *metrics.Metrics, log *zap.Logger) *Hub {
	return NewHub(Params{
		Clock:   clock,
		Config:  cfg.Activity,
		Metrics: m,
		Log:     log,
	})
}

func runHeartbeat(lc fx.Lifecycle, hub *Hub, log *zap.Logger) {
	var (
		cancel context.CancelFunc
		done   = make(chan struct{})
	)
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())
			go func() {
				defer close(done)
				if err := hub.Run(ctx); err != nil {
					log.Error("activity heartbeat stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cancel == nil {
				return nil
			}
			cancel()
			select {
			case <-done:
			case <-ctx.Done():
			}
			return nil
		},
	})
}
