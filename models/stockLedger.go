package models

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/poskusoft/pos_backend/config"
	"github.com/poskusoft/pos_backend/utils"
)

// StockEntry is one immutable stock movement. The ledger is append-only
// and is the source of truth for quantity-on-hand; StockSummary rows and
// Product.StockQty are caches reconciled against it. Qty is always stored
// positive, the sign is carried by Direction.
type StockEntry struct {
	ID          int                `gorm:"primary_key" json:"id"`
	Date        time.Time          `gorm:"index;not null" json:"date"`
	WarehouseId int                `gorm:"index:idx_stock_entries_wh_prod,priority:1;not null" json:"warehouse_id"`
	ProductId   int                `gorm:"index:idx_stock_entries_wh_prod,priority:2;not null" json:"product_id"`
	Direction   StockDirection     `gorm:"type:enum('I','O');not null" json:"direction"`
	Qty         decimal.Decimal    `gorm:"type:decimal(18,3);not null" json:"qty"`
	UnitCost    decimal.Decimal    `gorm:"type:decimal(18,2);default:0" json:"unit_cost"`
	RefType     StockReferenceType `gorm:"type:enum('INIT','PUR','POS','ADJ','TO','RPUR','RPOS');not null" json:"ref_type"`
	RefId       int                `gorm:"index" json:"ref_id"`
	Note        string             `gorm:"size:100" json:"note"`
	CreatedAt   time.Time          `gorm:"autoCreateTime" json:"created_at"`
}

// BeforeSave enforces ledger invariants: a stored qty is never zero or
// negative, and the direction must be set. A negative qty is folded into
// the opposite direction rather than rejected, so callers can hand over
// signed deltas.
func (se *StockEntry) BeforeSave(_ *gorm.DB) error {
	if se == nil {
		return nil
	}
	if se.Qty.IsZero() {
		return errors.New("stock entry qty must be non-zero")
	}
	if se.Qty.IsNegative() {
		se.Qty = se.Qty.Neg()
		if se.Direction == StockDirectionIn {
			se.Direction = StockDirectionOut
		} else {
			se.Direction = StockDirectionIn
		}
	}
	if se.Direction != StockDirectionIn && se.Direction != StockDirectionOut {
		return errors.New("stock entry direction must be set")
	}
	return nil
}

// appendStockEntry writes one ledger row and folds its signed quantity into
// the cached stock: the pair's StockSummary and the product's cross-warehouse
// total. It is the only mutation path for the ledger and both caches, and
// must be called with the posting engine's open transaction while the
// caller holds the pair's summary row lock; there is no update or delete
// path.
func appendStockEntry(tx *gorm.DB, entry *StockEntry) error {
	if tx == nil {
		return errors.New("tx is nil")
	}
	if err := tx.Create(entry).Error; err != nil {
		return utils.ClassifyDBError("stock_entries", err)
	}

	// BeforeSave has normalized direction and qty by now.
	delta := entry.Qty.Mul(decimal.NewFromInt(entry.Direction.Signed()))
	err := tx.Model(&StockSummary{}).
		Where("warehouse_id = ? AND product_id = ?", entry.WarehouseId, entry.ProductId).
		Update("qty", gorm.Expr("qty + ?", delta)).Error
	if err != nil {
		return utils.ClassifyDBError("stock_summaries", err)
	}
	err = tx.Model(&Product{}).Where("id = ?", entry.ProductId).
		Update("stock_qty", gorm.Expr("stock_qty + ?", delta)).Error
	if err != nil {
		return utils.ClassifyDBError("products", err)
	}
	return nil
}

// StockBalance is the signed sum of ledger entries for a (product,
// warehouse) pair. Outside an in-flight posting it must equal the pair's
// cached StockSummary quantity; reconciliation tests assert exactly that.
func StockBalance(ctx context.Context, productId int, warehouseId int) (decimal.Decimal, error) {
	db := config.GetDB()
	var balance decimal.NullDecimal
	err := db.WithContext(ctx).Model(&StockEntry{}).
		Select("SUM(CASE WHEN direction = 'I' THEN qty ELSE -qty END)").
		Where("product_id = ? AND warehouse_id = ?", productId, warehouseId).
		Scan(&balance).Error
	if err != nil {
		return decimal.Zero, err
	}
	if !balance.Valid {
		return decimal.Zero, nil
	}
	return balance.Decimal, nil
}

// LedgerEntries returns the movement history for a (product, warehouse)
// pair in posting order.
func LedgerEntries(ctx context.Context, productId int, warehouseId int) ([]*StockEntry, error) {
	db := config.GetDB()
	var entries []*StockEntry
	err := db.WithContext(ctx).
		Where("product_id = ? AND warehouse_id = ?", productId, warehouseId).
		Order("id").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}
