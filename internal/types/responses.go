package types

import "time"

// CreateRuleRequest is the inbound payload for registering a trading rule
type CreateRuleRequest struct {
	Symbol      string  `json:"symbol" binding:"required"`
	Side        string  `json:"side" binding:"required"`
	TargetPrice float64 `json:"target_price" binding:"required"`
	Quantity    int64   `json:"quantity" binding:"required"`
}

// PortfolioEntry is a position enriched with live market data when a
// quote source is reachable
type PortfolioEntry struct {
	Symbol        string    `json:"symbol"`
	Quantity      int64     `json:"quantity"`
	AvgPrice      float64   `json:"avg_price"`
	CurrentPrice  float64   `json:"current_price,omitempty"`
	MarketValue   float64   `json:"market_value,omitempty"`
	UnrealizedPnl float64   `json:"unrealized_pnl,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}
