package transfer

import (
	"go.uber.org/fx"

	"trackpoints/pkg/db"
)

var Module = fx.Module("transfer.service",
	fx.Provide(NewService),
	db.AsModel(&Transaction{}),
)
