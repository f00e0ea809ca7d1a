package taskname

const (
	// Reward tasks
	RewardSettle = "reward:settle"
)
