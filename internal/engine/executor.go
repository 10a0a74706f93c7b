package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/ksred/papertrade-api/internal/portfolio"
	"github.com/ksred/papertrade-api/internal/rules"
	"github.com/ksred/papertrade-api/internal/types"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// errAlreadyClaimed means another cycle won the conditional status update
// for the same rule. Not an error for the caller, just a no-op.
var errAlreadyClaimed = errors.New("rule already claimed by another cycle")

// Executor applies triggered rules to the paper portfolio. The rule claim,
// position mutation and ledger append run in a single storage transaction,
// which is what enforces at-most-one execution per trigger and serializes
// portfolio updates per symbol.
type Executor struct {
	db *gorm.DB
}

// NewExecutor creates a new execution engine on the given database
func NewExecutor(db *gorm.DB) *Executor {
	return &Executor{db: db}
}

// Execute applies a triggered rule at the triggering price.
// Outcomes:
//   - (transaction, nil): trade applied, rule now executed
//   - (nil, nil): another cycle already claimed the rule; nothing done
//   - (nil, ErrInsufficientHoldings): sell blocked, rule left active
//   - (nil, err): unexpected fault; the rule has been moved to failed
func (e *Executor) Execute(rule *types.TradingRule, price float64) (*types.Transaction, error) {
	logger := log.With().
		Str("rule_id", rule.RuleID).
		Str("symbol", rule.Symbol).
		Str("side", rule.Side).
		Int64("quantity", rule.Quantity).
		Float64("price", price).
		Logger()

	now := time.Now()
	var record *types.Transaction

	err := e.db.Transaction(func(tx *gorm.DB) error {
		claimed, err := rules.ClaimTransition(tx, rule.RuleID, types.StatusActive, types.StatusExecuted, &now)
		if err != nil {
			return err
		}
		if !claimed {
			return errAlreadyClaimed
		}

		switch rule.Side {
		case types.SideBuy:
			record, err = portfolio.ApplyBuy(tx, rule.Symbol, rule.Quantity, price, now)
		case types.SideSell:
			record, err = portfolio.ApplySell(tx, rule.Symbol, rule.Quantity, price, now)
		default:
			err = fmt.Errorf("unknown rule side %q", rule.Side)
		}
		return err
	})

	switch {
	case err == nil:
		event := logger.Info().Float64("total_value", record.TotalValue)
		if rule.Side == types.SideSell {
			event = event.Float64("realized_pnl", record.RealizedPnl)
		}
		event.Msg("trade executed")
		return record, nil

	case errors.Is(err, errAlreadyClaimed):
		logger.Debug().Msg("rule already executed by a concurrent cycle")
		return nil, nil

	case errors.Is(err, portfolio.ErrInsufficientHoldings):
		// Retryable: the rollback above restored the rule to active, and a
		// later tick may succeed once holdings are replenished
		logger.Warn().Msg("sell blocked by insufficient holdings")
		return nil, err
	}

	// Unexpected fault: park the rule in failed so a structurally broken
	// rule does not retry forever
	logger.Error().Err(err).Msg("trade execution failed")
	if _, terr := rules.ClaimTransition(e.db, rule.RuleID, types.StatusActive, types.StatusFailed, &now); terr != nil {
		logger.Error().Err(terr).Msg("failed to mark rule as failed")
	}
	return nil, err
}
