package testutil

import (
	"path/filepath"
	"testing"
	"time"

	"paycore/config"
	"paycore/internal/database"

	"gorm.io/gorm"
)

// DefaultLevels mirrors the two-tier table used throughout the commission tests.
const DefaultLevels = "base:0:0.05,pro:10:0.10"

// NewDB opens a migrated SQLite database in a temp dir. A single connection keeps
// SQLite's writer lock from surfacing as SQLITE_BUSY in concurrent tests.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "paycore.db")
	db, err := database.NewDB(&config.DatabaseConfig{
		Driver:          "sqlite",
		DSN:             path + "?_busy_timeout=5000&_foreign_keys=1",
		MaxIdleConns:    1,
		MaxOpenConns:    1,
		ConnMaxLifetime: time.Hour,
	})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	if err := database.AutoMigrate(db); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

// NewDBWithLevels is NewDB plus the DefaultLevels referral tiers.
func NewDBWithLevels(t *testing.T) *gorm.DB {
	t.Helper()
	db := NewDB(t)
	if _, err := database.SeedReferralLevels(db, DefaultLevels); err != nil {
		t.Fatalf("Failed to seed referral levels: %v", err)
	}
	return db
}
