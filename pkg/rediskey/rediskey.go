package rediskey

import (
	"fmt"
	"time"
)

const (
	LeaderboardPrefix = "leaderboard"
)

func NamespaceKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s", namespace, key)
}

// BuildLeaderboardKey returns "leaderboard:{orgID}:{start}:{end}:{limit}:{offset}" with
// window bounds in unix milliseconds.
func BuildLeaderboardKey(organizationID string, start, end time.Time, limit, offset int) string {
	return NamespaceKey(LeaderboardPrefix, fmt.Sprintf("%s:%d:%d:%d:%d",
		organizationID, start.UnixMilli(), end.UnixMilli(), limit, offset))
}
