package engine

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ksred/papertrade-api/internal/types"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "trading.db")), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&types.TradingRule{},
		&types.Position{},
		&types.Transaction{},
	))

	return db
}

func createActiveRule(t *testing.T, db *gorm.DB, symbol, side string, target float64, qty int64) *types.TradingRule {
	t.Helper()

	rule := &types.TradingRule{
		RuleID:      uuid.New().String(),
		Symbol:      symbol,
		Side:        side,
		TargetPrice: target,
		Quantity:    qty,
		Status:      types.StatusActive,
		CreatedAt:   time.Now(),
	}
	require.NoError(t, db.Create(rule).Error)

	return rule
}

func seedPosition(t *testing.T, db *gorm.DB, symbol string, qty int64, avg float64) {
	t.Helper()

	require.NoError(t, db.Create(&types.Position{
		Symbol:    symbol,
		Quantity:  qty,
		AvgPrice:  avg,
		UpdatedAt: time.Now(),
	}).Error)
}

func reloadRule(t *testing.T, db *gorm.DB, ruleID string) *types.TradingRule {
	t.Helper()

	var rule types.TradingRule
	require.NoError(t, db.Where("rule_id = ?", ruleID).First(&rule).Error)

	return &rule
}

func loadPosition(t *testing.T, db *gorm.DB, symbol string) *types.Position {
	t.Helper()

	var position types.Position
	err := db.Where("symbol = ?", symbol).First(&position).Error
	if err == gorm.ErrRecordNotFound {
		return nil
	}
	require.NoError(t, err)

	return &position
}

func countTransactions(t *testing.T, db *gorm.DB) int64 {
	t.Helper()

	var count int64
	require.NoError(t, db.Model(&types.Transaction{}).Count(&count).Error)

	return count
}
