package db

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"

	"gorm.io/gorm"
)

// ErrStoreUnavailable marks failures caused by the database being unreachable.
// Callers report it as transient; no partial write has happened.
var ErrStoreUnavailable = errors.New("store unavailable")

type unavailableError struct {
	err error
}

func (e *unavailableError) Error() string { return ErrStoreUnavailable.Error() + ": " + e.err.Error() }
func (e *unavailableError) Unwrap() []error {
	return []error{ErrStoreUnavailable, e.err}
}

// Classify tags connection-level failures with ErrStoreUnavailable and returns
// every other error unchanged.
func Classify(err error) error {
	if err == nil || errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	if IsUnavailable(err) {
		return &unavailableError{err: err}
	}
	return err
}

func IsUnavailable(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func IsDuplicate(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}
