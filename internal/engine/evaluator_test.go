package engine

import (
	"testing"

	"github.com/ksred/papertrade-api/internal/types"
	"github.com/stretchr/testify/assert"
)

func TestShouldTrigger(t *testing.T) {
	tests := []struct {
		name    string
		side    string
		status  string
		target  float64
		price   float64
		trigger bool
	}{
		{"buy triggers below target", types.SideBuy, types.StatusActive, 150, 149, true},
		{"buy triggers at target", types.SideBuy, types.StatusActive, 150, 150, true},
		{"buy does not trigger above target", types.SideBuy, types.StatusActive, 150, 150.01, false},
		{"sell triggers above target", types.SideSell, types.StatusActive, 160, 161, true},
		{"sell triggers at target", types.SideSell, types.StatusActive, 160, 160, true},
		{"sell does not trigger below target", types.SideSell, types.StatusActive, 160, 159.99, false},
		{"executed rule never triggers", types.SideBuy, types.StatusExecuted, 150, 100, false},
		{"failed rule never triggers", types.SideSell, types.StatusFailed, 160, 200, false},
		{"zero price never triggers", types.SideBuy, types.StatusActive, 150, 0, false},
		{"negative price never triggers", types.SideBuy, types.StatusActive, 150, -1, false},
		{"unknown side never triggers", "hold", types.StatusActive, 150, 100, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := &types.TradingRule{
				RuleID:      "rule-1",
				Symbol:      "AAPL",
				Side:        tt.side,
				TargetPrice: tt.target,
				Quantity:    10,
				Status:      tt.status,
			}
			quote := &types.Quote{Symbol: "AAPL", Price: tt.price}

			assert.Equal(t, tt.trigger, ShouldTrigger(rule, quote))
		})
	}

	t.Run("nil quote never triggers", func(t *testing.T) {
		rule := &types.TradingRule{
			Side:        types.SideBuy,
			TargetPrice: 150,
			Status:      types.StatusActive,
		}
		assert.False(t, ShouldTrigger(rule, nil))
	})
}
