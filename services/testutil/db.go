package testutil

import (
	"fmt"
	"strings"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"trackpoints/pkg/db"
)

// NewTestDB creates an in-memory SQLite database for testing purposes.
// It auto-migrates the provided models and ensures the underlying connection
// is closed when the test finishes.
//
// The pool is capped at one connection, so concurrent transactions in a test
// are serialized the same way row locks serialize them on postgres. Code under
// test must therefore never reach for the root handle while holding a tx.
func NewTestDB(t *testing.T, models ...any) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=on", name)
	gdb, err := gorm.Open(sqlite.Open(dsn), db.GormConfig(logger.Default.LogMode(logger.Silent)))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	if len(models) > 0 {
		if err := gdb.AutoMigrate(models...); err != nil {
			t.Fatalf("failed to migrate test database: %v", err)
		}
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB from gorm: %v", err)
	}

	sqlDB.SetMaxOpenConns(1)

	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	return gdb
}
