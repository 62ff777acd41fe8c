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

type SalesHeader struct {
	ID                int             `gorm:"primary_key" json:"id"`
	Number            string          `gorm:"uniqueIndex;size:30;not null" json:"number"`
	Date              time.Time       `gorm:"index;not null" json:"date"`
	CustomerId        *int            `gorm:"index" json:"customer_id"`
	Subtotal          decimal.Decimal `gorm:"type:decimal(18,2);default:0" json:"subtotal"`
	ItemDiscountTotal decimal.Decimal `gorm:"type:decimal(18,2);default:0" json:"item_discount_total"`
	DiscountTotal     decimal.Decimal `gorm:"type:decimal(18,2);default:0" json:"discount_total"`
	TaxTotal          decimal.Decimal `gorm:"type:decimal(18,2);default:0" json:"tax_total"`
	GrandTotal        decimal.Decimal `gorm:"type:decimal(18,2);default:0" json:"grand_total"`
	PaymentMethod     PaymentMethod   `gorm:"type:enum('Cash','Card','Transfer');default:'Cash'" json:"payment_method"`
	Paid              decimal.Decimal `gorm:"type:decimal(18,2);default:0" json:"paid"`
	Change            decimal.Decimal `gorm:"type:decimal(18,2);default:0" json:"change"`
	Status            SalesStatus     `gorm:"type:enum('Draft','Hold','Posted');default:'Posted'" json:"status"`
	Items             []SalesItem     `gorm:"foreignKey:SalesHeaderId;constraint:OnDelete:CASCADE" json:"items"`
	CreatedAt         time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// SalesItem references its product and warehouse by id only; the header
// owns its items in cart order.
type SalesItem struct {
	ID            int             `gorm:"primary_key" json:"id"`
	SalesHeaderId int             `gorm:"index;not null" json:"sales_header_id"`
	ProductId     int             `gorm:"index;not null" json:"product_id"`
	WarehouseId   int             `gorm:"not null" json:"warehouse_id"`
	Qty           decimal.Decimal `gorm:"type:decimal(18,3);not null" json:"qty"`
	Price         decimal.Decimal `gorm:"type:decimal(18,2);default:0" json:"price"`
	Discount      decimal.Decimal `gorm:"type:decimal(18,2);default:0" json:"discount"`
	LineTotal     decimal.Decimal `gorm:"type:decimal(18,2);default:0" json:"line_total"`
}

type NewSalesLine struct {
	ProductId int             `json:"product_id" binding:"required"`
	Qty       decimal.Decimal `json:"qty" binding:"required"`
	// Price nil means sell at the product's current sale price.
	Price    *decimal.Decimal `json:"price"`
	Discount decimal.Decimal  `json:"discount"`
}

type NewPosSale struct {
	CustomerId    int             `json:"customer_id"`
	WarehouseId   int             `json:"warehouse_id"`
	Lines         []NewSalesLine  `json:"lines" binding:"required"`
	Discount      decimal.Decimal `json:"discount"`
	DiscountType  *DiscountType   `json:"discount_type"`
	TaxRate       decimal.Decimal `json:"tax_rate"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	Paid          decimal.Decimal `json:"paid"`
	// AllowShortfall confirms posting when Paid < GrandTotal; without it the
	// shortfall is returned as a warning and nothing is written.
	AllowShortfall bool `json:"allow_shortfall"`
}

const maxPostingAttempts = 3

type saleTotals struct {
	items             []SalesItem
	subtotal          decimal.Decimal
	itemDiscountTotal decimal.Decimal
	docDiscountAmount decimal.Decimal
	taxTotal          decimal.Decimal
	grandTotal        decimal.Decimal
}

// computeSaleTotals validates the cart and computes all derived amounts.
// Pure: no store access, no side effects. products must contain every
// referenced product.
func computeSaleTotals(input *NewPosSale, products map[int]*Product) (*saleTotals, error) {
	if len(input.Lines) == 0 {
		return nil, utils.NewValidationError(0, "lines", "cart is empty")
	}
	if input.Discount.IsNegative() {
		return nil, utils.NewValidationError(0, "discount", "must not be negative")
	}
	if input.TaxRate.IsNegative() {
		return nil, utils.NewValidationError(0, "tax_rate", "must not be negative")
	}

	totals := &saleTotals{}
	for i, line := range input.Lines {
		lineNo := i + 1
		if !line.Qty.IsPositive() {
			return nil, utils.NewValidationError(lineNo, "qty", "must be greater than zero")
		}
		if line.Discount.IsNegative() {
			return nil, utils.NewValidationError(lineNo, "discount", "must not be negative")
		}
		product, ok := products[line.ProductId]
		if !ok {
			return nil, utils.NewValidationError(lineNo, "product_id", "unresolved product")
		}

		price := product.Price
		if line.Price != nil {
			if line.Price.IsNegative() {
				return nil, utils.NewValidationError(lineNo, "price", "must not be negative")
			}
			price = *line.Price
		}

		lineAmount := line.Qty.Mul(price)
		if line.Discount.GreaterThan(lineAmount) {
			return nil, utils.NewValidationError(lineNo, "discount", "exceeds line amount")
		}
		lineTotal := lineAmount.Sub(line.Discount)
		if lineTotal.IsNegative() {
			lineTotal = decimal.Zero
		}

		totals.items = append(totals.items, SalesItem{
			ProductId:   line.ProductId,
			WarehouseId: input.WarehouseId,
			Qty:         line.Qty,
			Price:       price,
			Discount:    line.Discount,
			LineTotal:   lineTotal,
		})
		totals.subtotal = totals.subtotal.Add(lineAmount)
		totals.itemDiscountTotal = totals.itemDiscountTotal.Add(line.Discount)
	}

	afterItemDiscounts := totals.subtotal.Sub(totals.itemDiscountTotal)

	discountType := DiscountTypeFixed
	if input.DiscountType != nil {
		discountType = *input.DiscountType
	}
	totals.docDiscountAmount = utils.CalculateDiscountAmount(afterItemDiscounts, input.Discount, string(discountType))
	if totals.docDiscountAmount.GreaterThan(afterItemDiscounts) {
		return nil, utils.NewValidationError(0, "discount", "exceeds document amount")
	}

	net := afterItemDiscounts.Sub(totals.docDiscountAmount)
	if net.IsNegative() {
		net = decimal.Zero
	}
	totals.taxTotal = utils.CalculateTaxAmount(net, input.TaxRate)
	totals.grandTotal = net.Add(totals.taxTotal)

	return totals, nil
}

// loadActiveProducts resolves every distinct cart product and rejects
// missing or inactive ones before any transaction is opened.
func loadActiveProducts(ctx context.Context, productIds []int) (map[int]*Product, error) {
	ids := utils.UniqueSlice(productIds)

	db := config.GetDB()
	var rows []*Product
	if err := db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	products := make(map[int]*Product, len(rows))
	for _, p := range rows {
		products[p.ID] = p
	}
	for _, id := range ids {
		product, ok := products[id]
		if !ok {
			return nil, utils.NewValidationError(0, "product_id", "unresolved product")
		}
		if product.IsActive == nil || !*product.IsActive {
			return nil, utils.NewValidationError(0, "product_id", "product "+product.Sku+" is inactive")
		}
	}
	return products, nil
}

// PostSale atomically turns a cart into a posted sales document: number
// allocation, header+items, per-line stock decrement and cost-stamped
// ledger entries all commit together or not at all. Affected product ids
// are published on the notifier only after the commit.
func PostSale(ctx context.Context, input *NewPosSale, notifier *notify.Notifier) (*SalesHeader, error) {
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}

	method, err := resolvePaymentMethod(input.PaymentMethod)
	if err != nil {
		return nil, err
	}
	input.PaymentMethod = method

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
	if input.CustomerId > 0 {
		if err := utils.ValidateResourceId[Customer](ctx, input.CustomerId); err != nil {
			return nil, utils.NewValidationError(0, "customer_id", "customer not found")
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

	totals, err := computeSaleTotals(input, products)
	if err != nil {
		return nil, err
	}

	// Payment shortfall is a confirmable warning, not an error; change is
	// reported as-is (negative on a confirmed shortfall).
	if input.Paid.LessThan(totals.grandTotal) && !input.AllowShortfall {
		return nil, utils.ErrPaymentShortfall
	}

	var header *SalesHeader
	for attempt := 1; ; attempt++ {
		header, err = postSaleOnce(ctx, input, totals)
		if err == nil {
			break
		}
		if utils.IsConcurrencyConflict(err) && attempt < maxPostingAttempts {
			config.GetLogger().WithField("attempt", attempt).Warn("sale posting conflict; retrying")
			continue
		}
		return nil, err
	}

	terminalId, _ := utils.GetTerminalIdFromContext(ctx)
	config.GetLogger().WithFields(logrus.Fields{
		"number":     header.Number,
		"grandTotal": header.GrandTotal,
		"terminalId": terminalId,
	}).Info("sale posted")

	notifier.Publish(productIds...)
	return header, nil
}

func postSaleOnce(ctx context.Context, input *NewPosSale, totals *saleTotals) (*SalesHeader, error) {
	release, err := utils.WarehouseLock(ctx, input.WarehouseId, "salesInvoice.go", "PostSale")
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

	number, _, err := NextDocumentNumber(tx, DocumentTypeSale, now)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	var customerId *int
	if input.CustomerId > 0 {
		v := input.CustomerId
		customerId = &v
	}

	items := make([]SalesItem, len(totals.items))
	copy(items, totals.items)

	header := SalesHeader{
		Number:            number,
		Date:              now,
		CustomerId:        customerId,
		Subtotal:          totals.subtotal,
		ItemDiscountTotal: totals.itemDiscountTotal,
		DiscountTotal:     totals.docDiscountAmount,
		TaxTotal:          totals.taxTotal,
		GrandTotal:        totals.grandTotal,
		PaymentMethod:     input.PaymentMethod,
		Paid:              input.Paid,
		Change:            input.Paid.Sub(totals.grandTotal),
		Status:            SalesStatusPosted,
		Items:             items,
	}

	if err := tx.Create(&header).Error; err != nil {
		tx.Rollback()
		return nil, utils.ClassifyDBError("sales_headers", err)
	}

	// Stock and ledger effects, one entry per line. The product and summary
	// row locks serialize concurrent postings against the same pair; the
	// cached quantities are only ever written through the ledger append.
	for _, item := range header.Items {
		var product Product
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&product, item.ProductId).Error; err != nil {
			tx.Rollback()
			return nil, utils.ClassifyDBError("products", err)
		}

		summary, err := lockStockSummary(tx, item.WarehouseId, item.ProductId)
		if err != nil {
			tx.Rollback()
			return nil, err
		}
		if summary.Qty.Sub(item.Qty).IsNegative() {
			tx.Rollback()
			return nil, utils.ErrInsufficientStock
		}

		entry := StockEntry{
			Date:        now,
			WarehouseId: item.WarehouseId,
			ProductId:   item.ProductId,
			Direction:   StockDirectionOut,
			Qty:         item.Qty,
			UnitCost:    costForSale(&product),
			RefType:     StockReferenceTypeSale,
			RefId:       header.ID,
			Note:        header.Number,
		}
		if err := appendStockEntry(tx, &entry); err != nil {
			tx.Rollback()
			return nil, err
		}
	}

	if err := tx.Commit().Error; err != nil {
		return nil, utils.ClassifyDBError("sales_headers", err)
	}
	return &header, nil
}

// resolvePaymentMethod defaults an empty method to cash; anything else must
// be a known enum value.
func resolvePaymentMethod(pm PaymentMethod) (PaymentMethod, error) {
	switch pm {
	case "":
		return PaymentMethodCash, nil
	case PaymentMethodCash, PaymentMethodCard, PaymentMethodTransfer:
		return pm, nil
	default:
		return "", utils.NewValidationError(0, "payment_method", "unknown payment method "+string(pm))
	}
}

// GetSalesHeader loads a posted sale with its items.
func GetSalesHeader(ctx context.Context, id int) (*SalesHeader, error) {
	return utils.FetchModel[SalesHeader](ctx, id, "Items")
}
