package database

import (
	"fmt"

	"github.com/smmkit/panel-api/internal/database/migrations"
	"github.com/smmkit/panel-api/internal/types"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDatabase opens the sqlite database at path and brings the schema up to
// date.
func NewDatabase(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	return db, nil
}

// Migrate runs auto-migration for all models plus the hand-written
// migrations. Exported so tests can bring up throwaway databases.
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&types.User{},
		&types.Provider{},
		&types.Service{},
		&types.Order{},
		&types.Transaction{},
	)
	if err != nil {
		return fmt.Errorf("failed to run auto-migration: %w", err)
	}

	if err := migrations.AddRefundUniqueIndex(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}
