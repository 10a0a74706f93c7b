package rules

import (
	"errors"
	"time"

	"github.com/ksred/papertrade-api/internal/types"
	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) GetRule(ruleID string) (*types.TradingRule, error) {
	var rule types.TradingRule
	if err := d.db.Where("rule_id = ?", ruleID).First(&rule).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &rule, nil
}

// ListActiveRules returns every rule still eligible for evaluation.
// The scheduler calls this fresh on each tick; nothing is cached.
func (d *Database) ListActiveRules() ([]types.TradingRule, error) {
	var rules []types.TradingRule
	if err := d.db.Where("status = ?", types.StatusActive).Find(&rules).Error; err != nil {
		return nil, err
	}
	return rules, nil
}

func (d *Database) ListRulesByStatus(status string) ([]types.TradingRule, error) {
	var rules []types.TradingRule
	if err := d.db.Where("status = ?", status).Order("created_at DESC").Find(&rules).Error; err != nil {
		return nil, err
	}
	return rules, nil
}

// CreateRuleWithIdempotency creates a new rule and idempotency record in a transaction
func (d *Database) CreateRuleWithIdempotency(rule *types.TradingRule, idempotencyKey string) error {
	tx := d.db.Begin()
	if err := tx.Error; err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	if err := tx.Create(rule).Error; err != nil {
		tx.Rollback()
		return err
	}

	record := IdempotencyRecord{
		IdempotencyKey: idempotencyKey,
		ResourceID:     rule.RuleID,
		ResourceType:   "rule",
		ExpiresAt:      time.Now().Add(24 * time.Hour),
	}

	if err := tx.Create(&record).Error; err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit().Error
}

// GetIdempotencyRecord retrieves an idempotency record by key
func (d *Database) GetIdempotencyRecord(key string) (*IdempotencyRecord, error) {
	var record IdempotencyRecord
	if err := d.db.Where("idempotency_key = ?", key).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &record, nil
		}
		return nil, err
	}
	return &record, nil
}

// ClaimTransition moves a rule from one status to another as a single
// conditional update. It reports false when the rule was no longer in the
// expected prior status, which is how concurrent cycles lose the race for
// the same trigger. db may be a transaction handle so the claim commits or
// rolls back together with the portfolio mutation it guards.
func ClaimTransition(db *gorm.DB, ruleID, from, to string, executedAt *time.Time) (bool, error) {
	updates := map[string]interface{}{
		"status":     to,
		"updated_at": time.Now(),
	}
	if executedAt != nil {
		updates["executed_at"] = *executedAt
	}

	result := db.Model(&types.TradingRule{}).
		Where("rule_id = ? AND status = ?", ruleID, from).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}

	return result.RowsAffected > 0, nil
}

// TransitionStatus is ClaimTransition against the service's own connection
func (d *Database) TransitionStatus(ruleID, from, to string, executedAt *time.Time) (bool, error) {
	return ClaimTransition(d.db, ruleID, from, to, executedAt)
}
