package ledger

import (
	"errors"
	"fmt"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrEmptyBatch          = errors.New("empty apply batch")
	ErrInvalidDelta        = errors.New("invalid delta")

	// ErrBalanceOverflow is an ErrInvalidDelta: the delta would take the balance past int64.
	ErrBalanceOverflow = fmt.Errorf("%w: balance overflow", ErrInvalidDelta)
)

// InsufficientBalanceError reports which account of a batch would have gone negative.
type InsufficientBalanceError struct {
	AccountID string
	Available int64
	Requested int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: account %s has %d, needs %d", e.AccountID, e.Available, e.Requested)
}

func (e *InsufficientBalanceError) Is(target error) bool {
	return target == ErrInsufficientBalance
}
