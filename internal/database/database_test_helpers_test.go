package database

import (
	"fmt"
	"testing"

	"paygate/internal/security"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	t.Setenv("SITE_KEY_ENCRYPTION_KEY", "database-test-key")
	security.ResetSiteCipherForTests()
	t.Cleanup(security.ResetSiteCipherForTests)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := SetupDB(
		WithDialector(sqlite.Open(dsn)),
		WithLogger(silentLogger()),
	)
	if err != nil {
		t.Fatalf("setup test database: %v", err)
	}

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
		DB = nil
	})

	return db
}
