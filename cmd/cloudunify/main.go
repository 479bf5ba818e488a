package main

import (
	"github.com/smallbiznis/cloudunify/internal/clock"
	"github.com/smallbiznis/cloudunify/internal/config"
	"github.com/smallbiznis/cloudunify/internal/idgen"
	"github.com/smallbiznis/cloudunify/internal/migration"
	"github.com/smallbiznis/cloudunify/internal/observability"
	"github.com/smallbiznis/cloudunify/internal/server"
	"github.com/smallbiznis/cloudunify/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		clock.Module,
		idgen.Module,
		db.Module,
		migration.Module,

		// Bulk ingestion, activity stream and HTTP
		server.Module,

		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),
	)
	app.Run()
}
