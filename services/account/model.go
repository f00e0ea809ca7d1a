package account

import "time"

type Organization struct {
	ID            string    `gorm:"column:id;primaryKey;type:varchar(32)" json:"id"`
	ExternalID    string    `gorm:"column:external_id;type:varchar(128);uniqueIndex;not null" json:"external_id"`
	Name          string    `gorm:"column:name;type:varchar(255)" json:"name"`
	Slug          string    `gorm:"column:slug;type:varchar(255);index" json:"slug"`
	APICredential *string   `gorm:"column:api_credential;type:text" json:"-"`
	CreatedAt     time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt     time.Time `gorm:"column:updated_at" json:"updated_at"`
}

type User struct {
	ID             string    `gorm:"column:id;primaryKey;type:varchar(32)" json:"id"`
	OrganizationID string    `gorm:"column:organization_id;type:varchar(32);index;not null" json:"organization_id"`
	DisplayName    string    `gorm:"column:display_name;type:varchar(255)" json:"display_name"`
	Email          *string   `gorm:"column:email;type:varchar(320)" json:"email,omitempty"`
	CreatedAt      time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt      time.Time `gorm:"column:updated_at" json:"updated_at"`
}

// Account holds the point balance of one external identity inside one organization.
// Balance is a denormalized cache of the point log and is only written by the ledger.
type Account struct {
	ID             string    `gorm:"column:id;primaryKey;type:varchar(32)" json:"id"`
	OrganizationID string    `gorm:"column:organization_id;type:varchar(32);not null;uniqueIndex:idx_accounts_identity,priority:1" json:"organization_id"`
	Provider       string    `gorm:"column:provider;type:varchar(64);not null;uniqueIndex:idx_accounts_identity,priority:2" json:"provider"`
	ExternalID     string    `gorm:"column:external_id;type:varchar(128);not null;uniqueIndex:idx_accounts_identity,priority:3" json:"external_id"`
	UserID         string    `gorm:"column:user_id;type:varchar(32);index;not null" json:"user_id"`
	Balance        int64     `gorm:"column:balance;not null;default:0;check:chk_accounts_balance,balance >= 0" json:"balance"`
	CreatedAt      time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt      time.Time `gorm:"column:updated_at" json:"updated_at"`
}

// Identity is the provisioning input supplied by the boundary layer once the
// acting human has been authenticated.
type Identity struct {
	OrganizationID string
	Provider       string
	ExternalID     string
	DisplayName    string
	Email          string
}

// Models lists the tables owned by this package.
func Models() []any {
	return []any{&Organization{}, &User{}, &Account{}}
}
