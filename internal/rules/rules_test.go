package rules

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/ksred/papertrade-api/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "trading.db")), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&types.TradingRule{}, &IdempotencyRecord{}))

	return db
}

func validRequest() *types.CreateRuleRequest {
	return &types.CreateRuleRequest{
		Symbol:      "aapl",
		Side:        types.SideBuy,
		TargetPrice: 150,
		Quantity:    10,
	}
}

func TestCreateRule(t *testing.T) {
	t.Run("creates an active rule with normalized symbol", func(t *testing.T) {
		service := NewService(setupTestDB(t))

		rule, err := service.CreateRule(validRequest(), "key-1")
		require.NoError(t, err)

		assert.NotEmpty(t, rule.RuleID)
		assert.Equal(t, "AAPL", rule.Symbol)
		assert.Equal(t, types.SideBuy, rule.Side)
		assert.Equal(t, float64(150), rule.TargetPrice)
		assert.Equal(t, int64(10), rule.Quantity)
		assert.Equal(t, types.StatusActive, rule.Status)
		assert.False(t, rule.CreatedAt.IsZero())
		assert.Nil(t, rule.ExecutedAt)
	})

	t.Run("replaying the idempotency key returns the existing rule", func(t *testing.T) {
		service := NewService(setupTestDB(t))

		first, err := service.CreateRule(validRequest(), "key-1")
		require.NoError(t, err)

		second, err := service.CreateRule(validRequest(), "key-1")
		require.NoError(t, err)
		assert.Equal(t, first.RuleID, second.RuleID)

		active, err := service.ListActiveRules()
		require.NoError(t, err)
		assert.Len(t, active, 1)
	})

	t.Run("different idempotency keys create distinct rules", func(t *testing.T) {
		service := NewService(setupTestDB(t))

		first, err := service.CreateRule(validRequest(), "key-1")
		require.NoError(t, err)
		second, err := service.CreateRule(validRequest(), "key-2")
		require.NoError(t, err)

		assert.NotEqual(t, first.RuleID, second.RuleID)
	})

	t.Run("rejects malformed requests without persisting", func(t *testing.T) {
		service := NewService(setupTestDB(t))

		tests := []struct {
			name   string
			mutate func(*types.CreateRuleRequest)
		}{
			{"missing symbol", func(r *types.CreateRuleRequest) { r.Symbol = "  " }},
			{"unknown side", func(r *types.CreateRuleRequest) { r.Side = "short" }},
			{"zero target price", func(r *types.CreateRuleRequest) { r.TargetPrice = 0 }},
			{"negative target price", func(r *types.CreateRuleRequest) { r.TargetPrice = -150 }},
			{"zero quantity", func(r *types.CreateRuleRequest) { r.Quantity = 0 }},
			{"negative quantity", func(r *types.CreateRuleRequest) { r.Quantity = -10 }},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				req := validRequest()
				tt.mutate(req)

				_, err := service.CreateRule(req, "key-"+tt.name)
				require.ErrorIs(t, err, ErrValidation)
			})
		}

		active, err := service.ListActiveRules()
		require.NoError(t, err)
		assert.Empty(t, active)
	})
}

func TestGetRule(t *testing.T) {
	service := NewService(setupTestDB(t))

	created, err := service.CreateRule(validRequest(), "key-1")
	require.NoError(t, err)

	t.Run("returns the rule by ID", func(t *testing.T) {
		rule, err := service.GetRule(created.RuleID)
		require.NoError(t, err)
		require.NotNil(t, rule)
		assert.Equal(t, created.RuleID, rule.RuleID)
	})

	t.Run("returns nil for unknown ID", func(t *testing.T) {
		rule, err := service.GetRule("no-such-rule")
		require.NoError(t, err)
		assert.Nil(t, rule)
	})
}

func TestTransitionStatus(t *testing.T) {
	t.Run("claims an active rule exactly once", func(t *testing.T) {
		service := NewService(setupTestDB(t))

		rule, err := service.CreateRule(validRequest(), "key-1")
		require.NoError(t, err)

		now := time.Now()
		claimed, err := service.TransitionStatus(rule.RuleID, types.StatusActive, types.StatusExecuted, &now)
		require.NoError(t, err)
		assert.True(t, claimed)

		// The losing side of the race sees zero rows updated
		claimed, err = service.TransitionStatus(rule.RuleID, types.StatusActive, types.StatusExecuted, &now)
		require.NoError(t, err)
		assert.False(t, claimed)

		reloaded, err := service.GetRule(rule.RuleID)
		require.NoError(t, err)
		assert.Equal(t, types.StatusExecuted, reloaded.Status)
		require.NotNil(t, reloaded.ExecutedAt)
	})

	t.Run("terminal statuses cannot transition", func(t *testing.T) {
		service := NewService(setupTestDB(t))

		rule, err := service.CreateRule(validRequest(), "key-1")
		require.NoError(t, err)

		now := time.Now()
		claimed, err := service.TransitionStatus(rule.RuleID, types.StatusActive, types.StatusFailed, &now)
		require.NoError(t, err)
		require.True(t, claimed)

		// A stray claim still expecting the rule to be active cannot move
		// it out of the terminal status
		claimed, err = service.TransitionStatus(rule.RuleID, types.StatusActive, types.StatusExecuted, &now)
		require.NoError(t, err)
		assert.False(t, claimed)

		reloaded, err := service.GetRule(rule.RuleID)
		require.NoError(t, err)
		assert.Equal(t, types.StatusFailed, reloaded.Status)
	})
}

func TestListRules(t *testing.T) {
	service := NewService(setupTestDB(t))

	first, err := service.CreateRule(validRequest(), "key-1")
	require.NoError(t, err)
	_, err = service.CreateRule(&types.CreateRuleRequest{
		Symbol:      "GOOGL",
		Side:        types.SideSell,
		TargetPrice: 140,
		Quantity:    5,
	}, "key-2")
	require.NoError(t, err)

	now := time.Now()
	claimed, err := service.TransitionStatus(first.RuleID, types.StatusActive, types.StatusExecuted, &now)
	require.NoError(t, err)
	require.True(t, claimed)

	t.Run("active list excludes terminal rules", func(t *testing.T) {
		active, err := service.ListActiveRules()
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, "GOOGL", active[0].Symbol)
	})

	t.Run("status filter returns matching rules", func(t *testing.T) {
		executed, err := service.ListRulesByStatus(types.StatusExecuted)
		require.NoError(t, err)
		require.Len(t, executed, 1)
		assert.Equal(t, first.RuleID, executed[0].RuleID)

		failed, err := service.ListRulesByStatus(types.StatusFailed)
		require.NoError(t, err)
		assert.Empty(t, failed)
	})
}
