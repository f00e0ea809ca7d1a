package action

import (
	"time"

	"gorm.io/datatypes"
)

type Type string

const (
	TypeTransfer        Type = "transfer"
	TypeRewardCreated   Type = "reward_created"
	TypeRewardUpdated   Type = "reward_updated"
	TypeRewardClaimed   Type = "reward_claimed"
	TypeRewardDeleted   Type = "reward_deleted"
	TypeRewardForfeited Type = "reward_forfeited"
)

// Action is a write-only feed row describing a ledger or reward event.
type Action struct {
	ID             string         `gorm:"column:id;primaryKey;type:varchar(32)" json:"id"`
	OrganizationID string         `gorm:"column:organization_id;type:varchar(32);not null;index:idx_actions_org_created,priority:1" json:"organization_id"`
	ActorAccountID *string        `gorm:"column:actor_account_id;type:varchar(32)" json:"actor_account_id,omitempty"`
	Type           Type           `gorm:"column:type;type:varchar(32);not null" json:"type"`
	TransactionID  *string        `gorm:"column:transaction_id;type:varchar(32);index" json:"transaction_id,omitempty"`
	RewardID       *string        `gorm:"column:reward_id;type:varchar(32);index" json:"reward_id,omitempty"`
	Value          int64          `gorm:"column:value;not null;default:0" json:"value"`
	Metadata       datatypes.JSON `gorm:"column:metadata" json:"metadata,omitempty"`
	CreatedAt      time.Time      `gorm:"column:created_at;index:idx_actions_org_created,priority:2" json:"created_at"`
}

// Entry describes an action to record.
type Entry struct {
	OrganizationID string
	ActorAccountID string
	Type           Type
	TransactionID  string
	RewardID       string
	Value          int64
	Metadata       map[string]any
}
