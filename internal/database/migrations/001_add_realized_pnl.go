package migrations

import (
	"github.com/ksred/papertrade-api/internal/types"
	"gorm.io/gorm"
)

// AddRealizedPnl backfills the realized_pnl column on the transaction
// ledger. Realized profit used to be computed on the fly at sell time and
// thrown away; it is now stored on the sell transaction itself.
func AddRealizedPnl(db *gorm.DB) error {
	if err := db.AutoMigrate(&types.Transaction{}); err != nil {
		return err
	}

	// Older rows predate the column and are left at the zero value
	return nil
}
