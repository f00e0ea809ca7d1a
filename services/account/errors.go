package account

import "errors"

var (
	ErrIdentityResolutionFailed = errors.New("identity resolution failed")
	ErrOrganizationNotFound     = errors.New("organization not found")
	ErrAccountNotFound          = errors.New("account not found")
)
