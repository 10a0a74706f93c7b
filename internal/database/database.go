package database

import (
	"fmt"

	"github.com/ksred/papertrade-api/internal/database/migrations"
	"github.com/ksred/papertrade-api/internal/rules"
	"github.com/ksred/papertrade-api/internal/types"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// NewDatabase initializes and returns a new GORM DB connection
func NewDatabase(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	// Run migrations
	if err := migrations.AddRealizedPnl(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	// Auto-migrate other schemas
	err = db.AutoMigrate(
		&types.TradingRule{},
		&types.Position{},
		&rules.IdempotencyRecord{},
	)
	if err != nil {
		return nil, err
	}

	return db, nil
}
