package engine

import (
	"github.com/ksred/papertrade-api/internal/types"
)

// ShouldTrigger decides whether a quote satisfies a rule's trigger
// condition. Buy rules fire when the market reaches the target price or
// better (price at or below target); sell rules fire at the target or
// better (price at or above target). Pure function, no side effects.
func ShouldTrigger(rule *types.TradingRule, quote *types.Quote) bool {
	if rule.Status != types.StatusActive {
		return false
	}
	if quote == nil || quote.Price <= 0 {
		return false
	}

	switch rule.Side {
	case types.SideBuy:
		return quote.Price <= rule.TargetPrice
	case types.SideSell:
		return quote.Price >= rule.TargetPrice
	default:
		return false
	}
}
