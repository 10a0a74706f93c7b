package portfolio

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/ksred/papertrade-api/internal/types"
	"gorm.io/gorm"
)

// ErrInsufficientHoldings rejects a sell larger than the tracked position.
// It is a normal business rejection, not a fault: the rule that asked for
// the sell stays active and may succeed on a later tick.
var ErrInsufficientHoldings = errors.New("insufficient holdings")

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) GetPosition(symbol string) (*types.Position, error) {
	return getPosition(d.db, symbol)
}

func (d *Database) ListPositions() ([]types.Position, error) {
	var positions []types.Position
	if err := d.db.Order("updated_at DESC").Find(&positions).Error; err != nil {
		return nil, err
	}
	return positions, nil
}

func (d *Database) ListTransactions(limit int) ([]types.Transaction, error) {
	var txs []types.Transaction
	if err := d.db.Order("executed_at DESC").Limit(limit).Find(&txs).Error; err != nil {
		return nil, err
	}
	return txs, nil
}

func getPosition(db *gorm.DB, symbol string) (*types.Position, error) {
	var position types.Position
	if err := db.Where("symbol = ?", symbol).First(&position).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &position, nil
}

// ApplyBuy folds a paper buy into the position for the symbol and appends
// the ledger entry. An existing position is re-averaged with weighted cost;
// a first buy opens the position at the execution price. db is expected to
// be a transaction handle so the position update and ledger append land
// atomically alongside the rule claim.
func ApplyBuy(db *gorm.DB, symbol string, quantity int64, price float64, executedAt time.Time) (*types.Transaction, error) {
	position, err := getPosition(db, symbol)
	if err != nil {
		return nil, err
	}

	if position == nil {
		position = &types.Position{
			Symbol:    symbol,
			Quantity:  quantity,
			AvgPrice:  price,
			UpdatedAt: executedAt,
		}
		if err := db.Create(position).Error; err != nil {
			return nil, err
		}
	} else {
		newQty := position.Quantity + quantity
		// Weighted-average cost basis
		newAvg := (float64(position.Quantity)*position.AvgPrice + float64(quantity)*price) / float64(newQty)

		result := db.Model(&types.Position{}).
			Where("symbol = ?", symbol).
			Updates(map[string]interface{}{
				"quantity":   newQty,
				"avg_price":  newAvg,
				"updated_at": executedAt,
			})
		if result.Error != nil {
			return nil, result.Error
		}
	}

	tx := &types.Transaction{
		TransactionID: uuid.New().String(),
		Symbol:        symbol,
		Action:        types.SideBuy,
		Quantity:      quantity,
		Price:         price,
		TotalValue:    float64(quantity) * price,
		ExecutedAt:    executedAt,
	}
	if err := db.Create(tx).Error; err != nil {
		return nil, err
	}

	return tx, nil
}

// ApplySell drains a paper sell from the position for the symbol and
// appends the ledger entry with the realized profit against the average
// cost basis. The basis itself is never changed by a sell; a position
// drained to zero is deleted. Returns ErrInsufficientHoldings when the
// position is absent or smaller than the requested quantity.
func ApplySell(db *gorm.DB, symbol string, quantity int64, price float64, executedAt time.Time) (*types.Transaction, error) {
	position, err := getPosition(db, symbol)
	if err != nil {
		return nil, err
	}
	if position == nil || position.Quantity < quantity {
		return nil, ErrInsufficientHoldings
	}

	newQty := position.Quantity - quantity
	if newQty == 0 {
		// Hard delete: a soft-deleted row would keep holding the unique
		// symbol index and block re-opening the position on a later buy
		if err := db.Unscoped().Where("symbol = ?", symbol).Delete(&types.Position{}).Error; err != nil {
			return nil, err
		}
	} else {
		result := db.Model(&types.Position{}).
			Where("symbol = ?", symbol).
			Updates(map[string]interface{}{
				"quantity":   newQty,
				"updated_at": executedAt,
			})
		if result.Error != nil {
			return nil, result.Error
		}
	}

	tx := &types.Transaction{
		TransactionID: uuid.New().String(),
		Symbol:        symbol,
		Action:        types.SideSell,
		Quantity:      quantity,
		Price:         price,
		TotalValue:    float64(quantity) * price,
		RealizedPnl:   (price - position.AvgPrice) * float64(quantity),
		ExecutedAt:    executedAt,
	}
	if err := db.Create(tx).Error; err != nil {
		return nil, err
	}

	return tx, nil
}
