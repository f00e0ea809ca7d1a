// Package app holds the fx options shared by the API and worker binaries.
package app

import (
	"os"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"trackpoints/pkg/config"
	"trackpoints/pkg/db"
	"trackpoints/pkg/featureflags"
	"trackpoints/pkg/hashistack/secretmanager"
	"trackpoints/pkg/logger"
	"trackpoints/pkg/marker"
	"trackpoints/pkg/otelcol"
	"trackpoints/pkg/profiling"
	"trackpoints/pkg/redis"
	"trackpoints/services/account"
	"trackpoints/services/action"
	"trackpoints/services/ledger"
	"trackpoints/services/reward"
)

// Config selects the remote (consul + vault) config source when REMOTE_CONFIG_PROVIDER
// is set and the local file/environment source otherwise.
func Config() fx.Option {
	if _, ok := os.LookupEnv("REMOTE_CONFIG_PROVIDER"); ok {
		return config.RemoteModule
	}
	return config.Module
}

// Core wires infrastructure and the services both binaries settle points with.
func Core() fx.Option {
	return fx.Options(
		secretmanager.Module,
		Config(),
		logger.Module,
		fx.Invoke(func(*zap.Logger) {}),
		otelcol.Module,
		profiling.Module,
		db.Module,
		redis.Module,
		marker.Module,
		featureflags.Module,
		fx.Provide(ProvideSnowflakeNode),

		account.Module,
		ledger.Module,
		action.Module,
		reward.Module,

		FxLogger,
	)
}

var FxLogger = fx.WithLogger(func(cfg *config.Config, log *zap.Logger) fxevent.Logger {
	if cfg.AppEnv == "production" {
		return fxevent.NopLogger
	}
	return &fxevent.ZapLogger{Logger: log.Named("fx")}
})

// ProvideSnowflakeNode gives every replica its own id space; NODE_ID must be unique
// per running process.
func ProvideSnowflakeNode(cfg *config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
