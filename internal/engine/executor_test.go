package engine

import (
	"testing"

	"github.com/ksred/papertrade-api/internal/portfolio"
	"github.com/ksred/papertrade-api/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecuteBuy(t *testing.T) {
	t.Run("first buy opens position at execution price", func(t *testing.T) {
		db := setupTestDB(t)
		executor := NewExecutor(db)

		rule := createActiveRule(t, db, "AAPL", types.SideBuy, 150, 10)

		record, err := executor.Execute(rule, 149)
		require.NoError(t, err)
		require.NotNil(t, record)

		assert.Equal(t, types.SideBuy, record.Action)
		assert.Equal(t, int64(10), record.Quantity)
		assert.Equal(t, float64(1490), record.TotalValue)
		assert.Zero(t, record.RealizedPnl)

		position := loadPosition(t, db, "AAPL")
		require.NotNil(t, position)
		assert.Equal(t, int64(10), position.Quantity)
		assert.Equal(t, float64(149), position.AvgPrice)

		reloaded := reloadRule(t, db, rule.RuleID)
		assert.Equal(t, types.StatusExecuted, reloaded.Status)
		require.NotNil(t, reloaded.ExecutedAt)
	})

	t.Run("repeat buy re-averages the cost basis", func(t *testing.T) {
		db := setupTestDB(t)
		executor := NewExecutor(db)

		seedPosition(t, db, "AAPL", 10, 149)
		rule := createActiveRule(t, db, "AAPL", types.SideBuy, 152, 10)

		_, err := executor.Execute(rule, 151)
		require.NoError(t, err)

		position := loadPosition(t, db, "AAPL")
		require.NotNil(t, position)
		assert.Equal(t, int64(20), position.Quantity)
		// (10*149 + 10*151) / 20
		assert.InDelta(t, 150, position.AvgPrice, 1e-9)
	})

	t.Run("uneven buy quantities weight correctly", func(t *testing.T) {
		db := setupTestDB(t)
		executor := NewExecutor(db)

		seedPosition(t, db, "MSFT", 3, 100)
		rule := createActiveRule(t, db, "MSFT", types.SideBuy, 205, 7)

		_, err := executor.Execute(rule, 200)
		require.NoError(t, err)

		position := loadPosition(t, db, "MSFT")
		require.NotNil(t, position)
		assert.Equal(t, int64(10), position.Quantity)
		// (3*100 + 7*200) / 10
		assert.InDelta(t, 170, position.AvgPrice, 1e-9)
	})
}

func TestExecuteSell(t *testing.T) {
	t.Run("full sell drains and removes the position", func(t *testing.T) {
		db := setupTestDB(t)
		executor := NewExecutor(db)

		seedPosition(t, db, "AAPL", 10, 149)
		rule := createActiveRule(t, db, "AAPL", types.SideSell, 160, 10)

		record, err := executor.Execute(rule, 161)
		require.NoError(t, err)
		require.NotNil(t, record)

		assert.Equal(t, float64(1610), record.TotalValue)
		assert.InDelta(t, 120, record.RealizedPnl, 1e-9) // (161-149)*10

		assert.Nil(t, loadPosition(t, db, "AAPL"))
		assert.Equal(t, types.StatusExecuted, reloadRule(t, db, rule.RuleID).Status)
	})

	t.Run("partial sell keeps the cost basis unchanged", func(t *testing.T) {
		db := setupTestDB(t)
		executor := NewExecutor(db)

		seedPosition(t, db, "AAPL", 10, 149)
		rule := createActiveRule(t, db, "AAPL", types.SideSell, 160, 4)

		_, err := executor.Execute(rule, 165)
		require.NoError(t, err)

		position := loadPosition(t, db, "AAPL")
		require.NotNil(t, position)
		assert.Equal(t, int64(6), position.Quantity)
		assert.Equal(t, float64(149), position.AvgPrice)
	})

	t.Run("position can be reopened after a full drain", func(t *testing.T) {
		db := setupTestDB(t)
		executor := NewExecutor(db)

		seedPosition(t, db, "AAPL", 5, 140)
		sellRule := createActiveRule(t, db, "AAPL", types.SideSell, 150, 5)
		_, err := executor.Execute(sellRule, 155)
		require.NoError(t, err)
		require.Nil(t, loadPosition(t, db, "AAPL"))

		buyRule := createActiveRule(t, db, "AAPL", types.SideBuy, 150, 3)
		_, err = executor.Execute(buyRule, 148)
		require.NoError(t, err)

		position := loadPosition(t, db, "AAPL")
		require.NotNil(t, position)
		assert.Equal(t, int64(3), position.Quantity)
		assert.Equal(t, float64(148), position.AvgPrice)
	})

	t.Run("insufficient holdings leaves rule and portfolio untouched", func(t *testing.T) {
		db := setupTestDB(t)
		executor := NewExecutor(db)

		seedPosition(t, db, "AAPL", 10, 149)
		rule := createActiveRule(t, db, "AAPL", types.SideSell, 160, 15)

		record, err := executor.Execute(rule, 161)
		require.ErrorIs(t, err, portfolio.ErrInsufficientHoldings)
		assert.Nil(t, record)

		// Rule stays active so a later tick can retry
		assert.Equal(t, types.StatusActive, reloadRule(t, db, rule.RuleID).Status)

		position := loadPosition(t, db, "AAPL")
		require.NotNil(t, position)
		assert.Equal(t, int64(10), position.Quantity)
		assert.Equal(t, float64(149), position.AvgPrice)

		assert.Zero(t, countTransactions(t, db))
	})

	t.Run("sell with no position at all is rejected", func(t *testing.T) {
		db := setupTestDB(t)
		executor := NewExecutor(db)

		rule := createActiveRule(t, db, "GOOGL", types.SideSell, 130, 1)

		_, err := executor.Execute(rule, 131)
		require.ErrorIs(t, err, portfolio.ErrInsufficientHoldings)
		assert.Equal(t, types.StatusActive, reloadRule(t, db, rule.RuleID).Status)
	})
}

func TestExecuteClaimSemantics(t *testing.T) {
	t.Run("second execution of the same rule is a no-op", func(t *testing.T) {
		db := setupTestDB(t)
		executor := NewExecutor(db)

		rule := createActiveRule(t, db, "AAPL", types.SideBuy, 150, 10)

		record, err := executor.Execute(rule, 149)
		require.NoError(t, err)
		require.NotNil(t, record)

		// A concurrent cycle would hold the same stale in-memory rule;
		// its claim loses and nothing else happens
		record, err = executor.Execute(rule, 149)
		require.NoError(t, err)
		assert.Nil(t, record)

		assert.Equal(t, int64(1), countTransactions(t, db))

		position := loadPosition(t, db, "AAPL")
		require.NotNil(t, position)
		assert.Equal(t, int64(10), position.Quantity)
	})

	t.Run("unexpected fault parks the rule in failed", func(t *testing.T) {
		db := setupTestDB(t)
		executor := NewExecutor(db)

		// A side the executor cannot apply surfaces as an execution fault
		rule := createActiveRule(t, db, "AAPL", "hold", 150, 10)

		_, err := executor.Execute(rule, 149)
		require.Error(t, err)

		assert.Equal(t, types.StatusFailed, reloadRule(t, db, rule.RuleID).Status)
		assert.Zero(t, countTransactions(t, db))
		assert.Nil(t, loadPosition(t, db, "AAPL"))
	})

	t.Run("no transition out of terminal statuses", func(t *testing.T) {
		db := setupTestDB(t)
		executor := NewExecutor(db)

		rule := createActiveRule(t, db, "AAPL", types.SideBuy, 150, 10)
		_, err := executor.Execute(rule, 149)
		require.NoError(t, err)

		executedAt := reloadRule(t, db, rule.RuleID).ExecutedAt
		require.NotNil(t, executedAt)

		_, err = executor.Execute(rule, 120)
		require.NoError(t, err)

		reloaded := reloadRule(t, db, rule.RuleID)
		assert.Equal(t, types.StatusExecuted, reloaded.Status)
		assert.WithinDuration(t, *executedAt, *reloaded.ExecutedAt, 0)
	})
}
