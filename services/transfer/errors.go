package transfer

import (
	"errors"

	"trackpoints/services/ledger"
)

var (
	ErrInvalidTransfer     = errors.New("invalid transfer")
	ErrIdempotencyKeyReuse = errors.New("idempotency key reused with different transfer")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrInsufficientBalance = ledger.ErrInsufficientBalance
)
