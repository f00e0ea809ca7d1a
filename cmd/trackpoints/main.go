package main

import (
	"log"

	"go.uber.org/fx"

	"trackpoints/internal/app"
	"trackpoints/pkg/db"
	"trackpoints/pkg/hashistack/servicediscover"
	"trackpoints/pkg/health"
	"trackpoints/pkg/httpapi"
	"trackpoints/pkg/server"
	"trackpoints/pkg/task"
	"trackpoints/services/account"
	"trackpoints/services/action"
	"trackpoints/services/leaderboard"
	"trackpoints/services/ledger"
	"trackpoints/services/reward"
	"trackpoints/services/transfer"
)

func main() {
	opts := []fx.Option{
		app.Core(),
		fx.Invoke(db.Migrate),
		task.Client,

		transfer.Module,
		leaderboard.Module,

		health.Module,
		httpapi.Module,
		account.HandlerModule,
		ledger.HandlerModule,
		action.HandlerModule,
		transfer.HandlerModule,
		reward.HandlerModule,
		leaderboard.HandlerModule,

		server.ProvideHTTPServer,
		servicediscover.Module,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	fx.New(opts...).Run()
}
