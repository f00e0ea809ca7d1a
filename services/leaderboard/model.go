package leaderboard

import (
	"time"

	"trackpoints/pkg/db/pagination"
)

type Query struct {
	OrganizationID string
	WindowStart    time.Time
	WindowEnd      time.Time
	Limit          int
	Offset         int
}

// RankedAccount is one leaderboard row. Points is the sum within the window, TotalPoints
// the current balance.
type RankedAccount struct {
	Rank        int64  `gorm:"column:ranking" json:"rank"`
	AccountID   string `gorm:"column:account_id" json:"account_id"`
	DisplayName string `gorm:"column:display_name" json:"display_name"`
	Points      int64  `gorm:"column:points" json:"points"`
	TotalPoints int64  `gorm:"column:total_points" json:"total_points"`
}

type Page struct {
	Items      []RankedAccount     `json:"items"`
	TotalCount int64               `json:"total_count"`
	PageInfo   pagination.PageInfo `json:"page_info"`
}
