package ledger

import (
	"go.uber.org/fx"

	"trackpoints/pkg/db"
)

var Module = fx.Module("ledger.service",
	fx.Provide(NewService),
	db.AsModel(&PointLogEntry{}),
)
