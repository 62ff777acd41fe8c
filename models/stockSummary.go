package models

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/poskusoft/pos_backend/config"
	"github.com/poskusoft/pos_backend/utils"
)

// StockSummary caches the on-hand quantity per (warehouse, product) pair.
// It is a materialized view of the stock ledger: written only through
// appendStockEntry inside a posting transaction, and outside an in-flight
// posting its Qty must equal StockBalance for the same pair. The product's
// StockQty is the sum of its summaries across warehouses.
type StockSummary struct {
	ID          int             `gorm:"primary_key" json:"id"`
	WarehouseId int             `gorm:"uniqueIndex:idx_stock_summaries_wh_prod,priority:1;not null" json:"warehouse_id"`
	ProductId   int             `gorm:"uniqueIndex:idx_stock_summaries_wh_prod,priority:2;not null" json:"product_id"`
	Qty         decimal.Decimal `gorm:"type:decimal(18,3);default:0" json:"qty"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// lockStockSummary returns the pair's summary row locked FOR UPDATE,
// creating it at zero on the pair's first movement. Two first postings can
// race the insert; that is contention, not a duplicate document.
func lockStockSummary(tx *gorm.DB, warehouseId int, productId int) (*StockSummary, error) {
	summary := StockSummary{WarehouseId: warehouseId, ProductId: productId}
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("warehouse_id = ? AND product_id = ?", warehouseId, productId).
		FirstOrCreate(&summary).Error
	if err != nil {
		classified := utils.ClassifyDBError("stock_summaries", err)
		if utils.IsDuplicateKey(classified) {
			return nil, &utils.ConcurrencyConflict{Resource: "stock_summaries", Err: err}
		}
		return nil, classified
	}
	return &summary, nil
}

// GetStockSummary reads the cached quantity for a (product, warehouse)
// pair; zero when the pair has never moved.
func GetStockSummary(ctx context.Context, productId int, warehouseId int) (decimal.Decimal, error) {
	db := config.GetDB()
	var summary StockSummary
	err := db.WithContext(ctx).
		Where("product_id = ? AND warehouse_id = ?", productId, warehouseId).
		First(&summary).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return summary.Qty, nil
}
