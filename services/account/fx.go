package account

import (
	"go.uber.org/fx"

	"trackpoints/pkg/db"
)

var Module = fx.Module("account.service",
	fx.Provide(NewService),
	db.AsModel(&Organization{}),
	db.AsModel(&User{}),
	db.AsModel(&Account{}),
)
