package types

import (
	"time"

	"gorm.io/gorm"
)

// Rule sides
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// Rule lifecycle statuses. Active rules are evaluated every tick;
// executed and failed are terminal.
const (
	StatusActive   = "active"
	StatusExecuted = "executed"
	StatusFailed   = "failed"
)

// TradingRule is a single-shot price trigger. Symbol, side, target price
// and quantity are fixed at creation; only Status and ExecutedAt change
// afterwards.
type TradingRule struct {
	gorm.Model  `json:"-"`
	RuleID      string     `gorm:"uniqueIndex" json:"rule_id"`
	Symbol      string     `gorm:"index" json:"symbol"`
	Side        string     `json:"side"`                // buy or sell
	TargetPrice float64    `json:"target_price"`        // trigger threshold
	Quantity    int64      `json:"quantity"`            // shares per execution
	Status      string     `gorm:"index" json:"status"` // active, executed, failed
	CreatedAt   time.Time  `json:"created_at"`
	ExecutedAt  *time.Time `json:"executed_at,omitempty"`
}

// Position is a paper holding, one row per symbol. A position drained to
// zero quantity is deleted rather than kept at zero.
type Position struct {
	gorm.Model `json:"-"`
	Symbol     string    `gorm:"uniqueIndex" json:"symbol"`
	Quantity   int64     `json:"quantity"`
	AvgPrice   float64   `json:"avg_price"` // weighted-average cost basis
	UpdatedAt  time.Time `json:"updated_at"`
}

// Transaction is an append-only ledger entry for an executed paper trade.
type Transaction struct {
	gorm.Model    `json:"-"`
	TransactionID string    `gorm:"uniqueIndex" json:"transaction_id"`
	Symbol        string    `gorm:"index" json:"symbol"`
	Action        string    `json:"action"` // buy or sell
	Quantity      int64     `json:"quantity"`
	Price         float64   `json:"price"`
	TotalValue    float64   `json:"total_value"`
	RealizedPnl   float64   `json:"realized_pnl"` // sells only, zero on buys
	ExecutedAt    time.Time `json:"executed_at"`
}

// Quote is a point-in-time market snapshot. It is consumed once per
// evaluation cycle and never persisted.
type Quote struct {
	Symbol        string  `json:"symbol"`
	Price         float64 `json:"price"`
	Change        float64 `json:"change"`
	ChangePercent float64 `json:"change_percent"`
	High          float64 `json:"high"`
	Low           float64 `json:"low"`
	Open          float64 `json:"open"`
	PreviousClose float64 `json:"previous_close"`
}
