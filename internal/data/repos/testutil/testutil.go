// Package testutil provides a real *gorm.DB backed by an in-memory
// sqlite database for repo-layer tests, since this sandbox has no
// Postgres fixture to point a TEST_POSTGRES_DSN-style helper at.
package testutil

import (
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/latticefort/dp-query-service/internal/domain"
	"github.com/latticefort/dp-query-service/internal/platform/logger"
)

func Logger(tb testing.TB) *logger.Logger {
	tb.Helper()
	log, err := logger.New("test")
	if err != nil {
		tb.Fatalf("failed to init logger: %v", err)
	}
	return log
}

// DB returns a fresh in-memory sqlite database, auto-migrated with
// every AS/MCS/TB record shape, isolated per test via a unique DSN.
func DB(tb testing.TB) *gorm.DB {
	tb.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+tb.Name()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		tb.Fatalf("open sqlite: %v", err)
	}
	// A single shared connection avoids SQLITE_BUSY under concurrent
	// writers in the CAS-retry tests; sqlite serializes writes anyway,
	// so this costs nothing beyond that.
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}
	if err := db.AutoMigrate(
		&domain.User{},
		&domain.BudgetEntry{},
		&domain.Dataset{},
		&domain.Metadata{},
		&domain.QueryJobRecord{},
		&domain.Archive{},
	); err != nil {
		tb.Fatalf("automigrate: %v", err)
	}
	return db
}
