package ingest

import (
	"github.com/coder/quartz"
	"github.com/smallbiznis/cloudunify/internal/cache"
	"github.com/smallbiznis/cloudunify/internal/config"
	"github.com/smallbiznis/cloudunify/internal/ingest/repository"
	"github.com/smallbiznis/cloudunify/internal/ingest/resolve"
	"github.com/smallbiznis/cloudunify/internal/ingest/service"
	"github.com/smallbiznis/cloudunify/internal/ingest/validate"
	"go.uber.org/fx"
)

var Module = fx.Module("ingest",
	fx.Provide(validate.New),
	fx.Provide(provideResourceLinkCache),
	fx.Provide(resolve.New),
	fx.Provide(repository.NewExecutor),
	fx.Provide(service.NewService),
)

func provideResourceLinkCache(cfg config.Config, clock quartz.Clock) cache.ResourceLinkCache {
	return cache.NewResourceLinkCache(clock, cfg.Ingest.ResolverCacheTTL)
}
