package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"
)

type ReferenceType string

const (
	ReferenceTransaction ReferenceType = "transaction"
	ReferenceReward      ReferenceType = "reward"
)

// PointLogEntry is one immutable balance change. Entries of an account are numbered by
// Sequence and hash-chained through PreviousHash.
type PointLogEntry struct {
	ID              string        `gorm:"column:id;primaryKey;type:varchar(32)" json:"id"`
	OrganizationID  string        `gorm:"column:organization_id;type:varchar(32);not null;index:idx_point_log_org_created,priority:1" json:"organization_id"`
	AccountID       string        `gorm:"column:account_id;type:varchar(32);not null;uniqueIndex:idx_point_log_account_seq,priority:1" json:"account_id"`
	Sequence        int64         `gorm:"column:sequence;not null;uniqueIndex:idx_point_log_account_seq,priority:2" json:"sequence"`
	Difference      int64         `gorm:"column:difference;not null" json:"difference"`
	PreviousBalance int64         `gorm:"column:previous_balance;not null" json:"previous_balance"`
	NewBalance      int64         `gorm:"column:new_balance;not null" json:"new_balance"`
	ReferenceType   ReferenceType `gorm:"column:reference_type;type:varchar(20);not null" json:"reference_type"`
	ReferenceID     string        `gorm:"column:reference_id;type:varchar(32);index" json:"reference_id"`
	PreviousHash    string        `gorm:"column:previous_hash;type:varchar(64)" json:"previous_hash"`
	Hash            string        `gorm:"column:hash;type:varchar(64)" json:"hash"`
	CreatedAt       time.Time     `gorm:"column:created_at;not null;index:idx_point_log_org_created,priority:2" json:"created_at"`
}

// Delta is one (account, difference) pair of an apply batch.
type Delta struct {
	AccountID     string
	Difference    int64
	ReferenceType ReferenceType
	ReferenceID   string
}

// Committed is the outcome of a successful apply.
type Committed struct {
	Entries  []*PointLogEntry
	Balances map[string]int64
}

type Verification struct {
	AccountID      string `json:"account_id"`
	Balance        int64  `json:"balance"`
	LedgerSum      int64  `json:"ledger_sum"`
	EntryCount     int    `json:"entry_count"`
	ChainValid     bool   `json:"chain_valid"`
	BalanceMatches bool   `json:"balance_matches"`
}

func (v Verification) Valid() bool {
	return v.ChainValid && v.BalanceMatches
}

const genesisHash = "GENESIS"

func (m *PointLogEntry) HashFields() map[string]string {
	return map[string]string{
		"id":               m.ID,
		"organization_id":  m.OrganizationID,
		"account_id":       m.AccountID,
		"sequence":         fmt.Sprintf("%d", m.Sequence),
		"difference":       fmt.Sprintf("%d", m.Difference),
		"previous_balance": fmt.Sprintf("%d", m.PreviousBalance),
		"new_balance":      fmt.Sprintf("%d", m.NewBalance),
		"reference_type":   string(m.ReferenceType),
		"reference_id":     m.ReferenceID,
		"created_at":       fmt.Sprintf("%d", m.CreatedAt.UnixMilli()),
		"previous_hash":    m.PreviousHash,
	}
}

func (m *PointLogEntry) GenerateHash() string {
	fields := m.HashFields()
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, fields[k]))
	}

	hash := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(hash[:])
}

func Models() []any {
	return []any{&PointLogEntry{}}
}
