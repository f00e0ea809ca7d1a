package reward

import (
	"time"
)

// Reward pledges points to whoever completes an issue. Claimed is terminal.
type Reward struct {
	ID                 string     `gorm:"column:id;primaryKey;type:varchar(32)" json:"id"`
	OrganizationID     string     `gorm:"column:organization_id;type:varchar(32);not null;uniqueIndex:idx_rewards_issue,priority:1" json:"organization_id"`
	IssueID            string     `gorm:"column:issue_id;type:varchar(64);not null;uniqueIndex:idx_rewards_issue,priority:2" json:"issue_id"`
	IssueIdentifier    string     `gorm:"column:issue_identifier;type:varchar(64)" json:"issue_identifier"`
	TargetStateID      string     `gorm:"column:target_state_id;type:varchar(64);not null" json:"target_state_id"`
	Value              int64      `gorm:"column:value;not null;check:chk_rewards_value,value >= 0" json:"value"`
	Claimed            bool       `gorm:"column:claimed;not null;default:false" json:"claimed"`
	ClaimedAt          *time.Time `gorm:"column:claimed_at" json:"claimed_at,omitempty"`
	ClaimedByAccountID *string    `gorm:"column:claimed_by_account_id;type:varchar(32)" json:"claimed_by_account_id,omitempty"`
	MarkerID           string     `gorm:"column:marker_id;type:varchar(64)" json:"marker_id,omitempty"`
	CreatorAccountID   string     `gorm:"column:creator_account_id;type:varchar(32)" json:"creator_account_id"`
	CreatedAt          time.Time  `gorm:"column:created_at" json:"created_at"`
	UpdatedAt          time.Time  `gorm:"column:updated_at" json:"updated_at"`
}

type CreateRequest struct {
	OrganizationID   string
	IssueID          string
	IssueIdentifier  string
	TargetStateID    string
	Value            int64
	CreatorAccountID string
}

type UpdateRequest struct {
	TargetStateID string
	Value         int64
}

// SyncStatus reports the post-commit marker call. It never reflects ledger state.
type SyncStatus string

const (
	SyncOK      SyncStatus = "ok"
	SyncFailed  SyncStatus = "failed"
	SyncSkipped SyncStatus = "skipped"
)

type Result struct {
	Reward  *Reward    `json:"reward"`
	Sync    SyncStatus `json:"sync"`
	SyncErr error      `json:"-"`
}

type Assignee struct {
	Provider    string `json:"provider"`
	ExternalID  string `json:"externalId"`
	DisplayName string `json:"displayName,omitempty"`
	Email       string `json:"email,omitempty"`
}

// Event is an issue notification: the issue moved to NewStateID, assigned to Assignee.
type Event struct {
	OrganizationID string    `json:"organizationId"`
	IssueID        string    `json:"issueId"`
	NewStateID     string    `json:"newStateId"`
	Assignee       *Assignee `json:"assignee,omitempty"`
}

type Outcome string

const (
	OutcomeCredited       Outcome = "credited"
	OutcomeNoReward       Outcome = "no_reward"
	OutcomeStateMismatch  Outcome = "state_mismatch"
	OutcomeAlreadyClaimed Outcome = "already_claimed"
)

type SettleResult struct {
	Outcome   Outcome
	Reward    *Reward
	AccountID string
	Sync      SyncStatus
}
