package reward

import (
	"go.uber.org/fx"

	"trackpoints/pkg/db"
)

var Module = fx.Module("reward.service",
	fx.Provide(NewService),
	db.AsModel(&Reward{}),
)
