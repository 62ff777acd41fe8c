package models

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm/clause"

	"github.com/poskusoft/pos_backend/config"
	"github.com/poskusoft/pos_backend/notify"
	"github.com/poskusoft/pos_backend/utils"
)

type PurchaseHeader struct {
	ID         int             `gorm:"primary_key" json:"id"`
	Number     string          `gorm:"uniqueIndex;size:30;not null" json:"number"`
	Date       time.Time       `gorm:"index;not null" json:"date"`
	Supplier   string          `gorm:"size:255" json:"supplier"`
	Subtotal   decimal.Decimal `gorm:"type:decimal(18,2);default:0" json:"subtotal"`
	GrandTotal decimal.Decimal `gorm:"type:decimal(18,2);default:0" json:"grand_total"`
	Status     PurchaseStatus  `gorm:"type:enum('Posted');default:'Posted'" json:"status"`
	Items      []PurchaseItem  `gorm:"foreignKey:PurchaseHeaderId;constraint:OnDelete:CASCADE" json:"items"`
	CreatedAt  time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type PurchaseItem struct {
	ID               int             `gorm:"primary_key" json:"id"`
	PurchaseHeaderId int             `gorm:"index;not null" json:"purchase_header_id"`
	ProductId        int             `gorm:"index;not null" json:"product_id"`
	WarehouseId      int             `gorm:"not null" json:"warehouse_id"`
	Qty              decimal.Decimal `gorm:"type:decimal(18,3);not null" json:"qty"`
	Cost             decimal.Decimal `gorm:"type:decimal(18,2);default:0" json:"cost"`
	LineTotal        decimal.Decimal `gorm:"type:decimal(18,2);default:0" json:"line_total"`
}

type NewPurchaseLine struct {
	ProductId int             `json:"product_id" binding:"required"`
	Qty       decimal.Decimal `json:"qty" binding:"required"`
	// Cost nil means restock at the product's current cost basis.
	Cost *decimal.Decimal `json:"cost"`
}

type NewPurchase struct {
	Supplier    string            `json:"supplier"`
	WarehouseId int               `json:"warehouse_id"`
	Lines       []NewPurchaseLine `json:"lines" binding:"required"`
}

type purchaseTotals struct {
	items    []PurchaseItem
	subtotal decimal.Decimal
}

// computePurchaseTotals validates the cart and computes line totals and the
// subtotal (= grand total; purchases carry no tax or discounts). Pure.
func computePurchaseTotals(input *NewPurchase, products map[int]*Product) (*purchaseTotals, error) {
	if len(input.Lines) == 0 {
		return nil, utils.NewValidationError(0, "lines", "cart is empty")
	}

	totals := &purchaseTotals{}
	for i, line := range input.Lines {
		lineNo := i + 1
		if !line.Qty.IsPositive() {
			return nil, utils.NewValidationError(lineNo, "qty", "must be greater than zero")
		}
		product, ok := products[line.ProductId]
		if !ok {
			return nil, utils.NewValidationError(lineNo, "product_id", "unresolved product")
		}

		cost := product.Cost
		if line.Cost != nil {
			if line.Cost.IsNegative() {
				return nil, utils.NewValidationError(lineNo, "cost", "must not be negative")
			}
			cost = *line.Cost
		}

		lineTotal := line.Qty.Mul(cost)
		totals.items = append(totals.items, PurchaseItem{
			ProductId:   line.ProductId,
			WarehouseId: input.WarehouseId,
			Qty:         line.Qty,
			Cost:        cost,
			LineTotal:   lineTotal,
		})
		totals.subtotal = totals.subtotal.Add(lineTotal)
	}
	return totals, nil
}

// PostPurchase atomically posts a supplier purchase: number allocation,
// header+items, per-line stock increase, last-cost update and inbound
// ledger entries commit together or not at all.
func PostPurchase(ctx context.Context, input *NewPurchase, notifier *notify.Notifier) (*PurchaseHeader, error) {
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}

	if input.WarehouseId == 0 {
		warehouse, err := GetDefaultWarehouse(ctx)
		if err != nil {
			return nil, err
		}
		input.WarehouseId = warehouse.ID
	} else {
		if err := utils.ValidateResourceId[Warehouse](ctx, input.WarehouseId); err != nil {
			return nil, utils.NewValidationError(0, "warehouse_id", "warehouse not found")
		}
	}

	productIds := make([]int, 0, len(input.Lines))
	for _, line := range input.Lines {
		productIds = append(productIds, line.ProductId)
	}
	if len(productIds) == 0 {
		return nil, utils.NewValidationError(0, "lines", "cart is empty")
	}
	products, err := loadActiveProducts(ctx, productIds)
	if err != nil {
		return nil, err
	}

	totals, err := computePurchaseTotals(input, products)
	if err != nil {
		return nil, err
	}

	var header *PurchaseHeader
	for attempt := 1; ; attempt++ {
		header, err = postPurchaseOnce(ctx, input, totals)
		if err == nil {
			break
		}
		if utils.IsConcurrencyConflict(err) && attempt < maxPostingAttempts {
			config.GetLogger().WithField("attempt", attempt).Warn("purchase posting conflict; retrying")
			continue
		}
		return nil, err
	}

	terminalId, _ := utils.GetTerminalIdFromContext(ctx)
	config.GetLogger().WithFields(logrus.Fields{
		"number":     header.Number,
		"grandTotal": header.GrandTotal,
		"terminalId": terminalId,
	}).Info("purchase posted")

	notifier.Publish(productIds...)
	return header, nil
}

func postPurchaseOnce(ctx context.Context, input *NewPurchase, totals *purchaseTotals) (*PurchaseHeader, error) {
	release, err := utils.WarehouseLock(ctx, input.WarehouseId, "purchase.go", "PostPurchase")
	if err != nil {
		return nil, err
	}
	defer release()

	db := config.GetDB()
	now := time.Now()

	tx := db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}

	number, _, err := NextDocumentNumber(tx, DocumentTypePurchase, now)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	items := make([]PurchaseItem, len(totals.items))
	copy(items, totals.items)

	header := PurchaseHeader{
		Number:     number,
		Date:       now,
		Supplier:   input.Supplier,
		Subtotal:   totals.subtotal,
		GrandTotal: totals.subtotal,
		Status:     PurchaseStatusPosted,
		Items:      items,
	}

	if err := tx.Create(&header).Error; err != nil {
		tx.Rollback()
		return nil, utils.ClassifyDBError("purchase_headers", err)
	}

	for _, item := range header.Items {
		var product Product
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&product, item.ProductId).Error; err != nil {
			tx.Rollback()
			return nil, utils.ClassifyDBError("products", err)
		}

		if _, err := lockStockSummary(tx, item.WarehouseId, item.ProductId); err != nil {
			tx.Rollback()
			return nil, err
		}

		newCost := costOnPurchase(&product, item.Qty, item.Cost)
		if err := tx.Model(&Product{}).Where("id = ?", product.ID).
			Update("cost", newCost).Error; err != nil {
			tx.Rollback()
			return nil, utils.ClassifyDBError("products", err)
		}

		entry := StockEntry{
			Date:        now,
			WarehouseId: item.WarehouseId,
			ProductId:   item.ProductId,
			Direction:   StockDirectionIn,
			Qty:         item.Qty,
			UnitCost:    item.Cost,
			RefType:     StockReferenceTypePurchase,
			RefId:       header.ID,
			Note:        header.Number,
		}
		if err := appendStockEntry(tx, &entry); err != nil {
			tx.Rollback()
			return nil, err
		}
	}

	if err := tx.Commit().Error; err != nil {
		return nil, utils.ClassifyDBError("purchase_headers", err)
	}
	return &header, nil
}

// GetPurchaseHeader loads a posted purchase with its items.
func GetPurchaseHeader(ctx context.Context, id int) (*PurchaseHeader, error) {
	return utils.FetchModel[PurchaseHeader](ctx, id, "Items")
}
