package reward

import "errors"

var (
	ErrInvalidReward        = errors.New("invalid reward")
	ErrRewardExists         = errors.New("reward already exists for issue")
	ErrRewardNotFound       = errors.New("reward not found")
	ErrRewardAlreadyClaimed = errors.New("reward already claimed")
)
