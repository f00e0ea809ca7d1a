package action

import (
	"go.uber.org/fx"

	"trackpoints/pkg/db"
)

var Module = fx.Module("action.service",
	fx.Provide(NewService),
	db.AsModel(&Action{}),
)
