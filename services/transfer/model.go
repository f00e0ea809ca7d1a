package transfer

import "time"

// Transaction records a completed peer transfer. It is written in the same database
// transaction as its two ledger entries and never changes afterwards.
type Transaction struct {
	ID                   string    `gorm:"column:id;primaryKey;type:varchar(32)" json:"id"`
	OrganizationID       string    `gorm:"column:organization_id;type:varchar(32);not null;index;uniqueIndex:idx_transactions_idempotency,priority:1" json:"organization_id"`
	BenefactorAccountID  string    `gorm:"column:benefactor_account_id;type:varchar(32);not null;index" json:"benefactor_account_id"`
	BeneficiaryAccountID string    `gorm:"column:beneficiary_account_id;type:varchar(32);not null;index" json:"beneficiary_account_id"`
	Value                int64     `gorm:"column:value;not null;check:chk_transactions_value,value > 0" json:"value"`
	Message              string    `gorm:"column:message;type:text" json:"message"`
	IdempotencyKey       *string   `gorm:"column:idempotency_key;type:varchar(128);uniqueIndex:idx_transactions_idempotency,priority:2" json:"idempotency_key,omitempty"`
	CreatedAt            time.Time `gorm:"column:created_at" json:"created_at"`
}

type Request struct {
	OrganizationID       string
	BenefactorAccountID  string
	BeneficiaryAccountID string
	Value                int64
	Message              string
	// IdempotencyKey makes a resubmission return the first Transaction instead of moving
	// points again. Empty disables deduplication.
	IdempotencyKey string
}

func (r Request) matches(t *Transaction) bool {
	return t.BenefactorAccountID == r.BenefactorAccountID &&
		t.BeneficiaryAccountID == r.BeneficiaryAccountID &&
		t.Value == r.Value
}
