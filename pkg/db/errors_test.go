package db

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestClassify(t *testing.T) {
	require.Nil(t, Classify(nil))

	plain := errors.New("constraint failed")
	require.Same(t, plain, Classify(plain))

	badConn := Classify(fmt.Errorf("query: %w", driver.ErrBadConn))
	require.ErrorIs(t, badConn, ErrStoreUnavailable)
	require.ErrorIs(t, badConn, driver.ErrBadConn)

	dial := Classify(&net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")})
	require.ErrorIs(t, dial, ErrStoreUnavailable)

	require.ErrorIs(t, Classify(context.DeadlineExceeded), ErrStoreUnavailable)
	require.Equal(t, badConn, Classify(badConn))
}

func TestIsDuplicate(t *testing.T) {
	require.True(t, IsDuplicate(fmt.Errorf("insert: %w", gorm.ErrDuplicatedKey)))
	require.False(t, IsDuplicate(gorm.ErrRecordNotFound))
}

func TestExtractDBNameFromDSN(t *testing.T) {
	require.Equal(t, "points", extractDBNameFromDSN("host=localhost port=5432 dbname=points sslmode=disable"))
	require.Equal(t, "points", extractDBNameFromDSN("user:pass@tcp(localhost:3306)/points?parseTime=true"))
	require.Equal(t, "unknown", extractDBNameFromDSN("host=localhost"))
}
