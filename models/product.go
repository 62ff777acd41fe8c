package models

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/poskusoft/pos_backend/config"
	"github.com/poskusoft/pos_backend/utils"
)

// Product's StockQty and Cost are derived caches maintained exclusively by
// the posting engine; the stock ledger is the source of truth for quantity.
type Product struct {
	ID        int             `gorm:"primary_key" json:"id"`
	Sku       string          `gorm:"uniqueIndex;size:64;not null" json:"sku" binding:"required"`
	Barcode   *string         `gorm:"uniqueIndex;size:64" json:"barcode"`
	Name      string          `gorm:"size:255;not null" json:"name" binding:"required"`
	Price     decimal.Decimal `gorm:"type:decimal(18,2);default:0" json:"price"`
	Cost      decimal.Decimal `gorm:"type:decimal(18,2);default:0" json:"cost"`
	StockQty  decimal.Decimal `gorm:"type:decimal(18,3);default:0" json:"stock_qty"`
	IsActive  *bool           `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewProduct struct {
	Sku      string          `json:"sku" binding:"required"`
	Barcode  string          `json:"barcode"`
	Name     string          `json:"name" binding:"required"`
	Price    decimal.Decimal `json:"price"`
	Cost     decimal.Decimal `json:"cost"`
	IsActive *bool           `json:"is_active"`
}

// validate input for both create & update. (id = 0 for create)
func (input *NewProduct) validate(ctx context.Context, id int) error {
	if err := utils.ValidateUnique[Product](ctx, "sku", input.Sku, id); err != nil {
		return err
	}
	if strings.TrimSpace(input.Barcode) != "" {
		if err := utils.ValidateUnique[Product](ctx, "barcode", input.Barcode, id); err != nil {
			return err
		}
	}
	if input.Price.IsNegative() || input.Cost.IsNegative() {
		return utils.NewValidationError(0, "price", "must not be negative")
	}
	return nil
}

func CreateProduct(ctx context.Context, input *NewProduct) (*Product, error) {
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	if err := input.validate(ctx, 0); err != nil {
		return nil, err
	}

	product := Product{
		Sku:      input.Sku,
		Name:     input.Name,
		Price:    input.Price,
		Cost:     input.Cost,
		StockQty: decimal.Zero,
		IsActive: utils.NewTrue(),
	}
	if barcode := strings.TrimSpace(input.Barcode); barcode != "" {
		product.Barcode = &barcode
	}
	if input.IsActive != nil {
		product.IsActive = input.IsActive
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&product).Error; err != nil {
		return nil, utils.ClassifyDBError("products", err)
	}
	return &product, nil
}

func GetProduct(ctx context.Context, id int) (*Product, error) {
	return utils.FetchModel[Product](ctx, id)
}

// GetProducts lists products, optionally filtered by a search term over
// sku/barcode/name.
func GetProducts(ctx context.Context, query string) ([]*Product, error) {
	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Model(&Product{})
	if q := strings.TrimSpace(query); q != "" {
		like := "%" + q + "%"
		dbCtx = dbCtx.Where("sku LIKE ? OR barcode LIKE ? OR name LIKE ?", like, like, like)
	}
	var products []*Product
	if err := dbCtx.Order("name").Find(&products).Error; err != nil {
		return nil, err
	}
	return products, nil
}

// ResolveProduct finds an active product for a cart entry, trying barcode
// first and then SKU.
func ResolveProduct(ctx context.Context, key string) (*Product, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, utils.NewValidationError(0, "entry", "empty product key")
	}

	db := config.GetDB()
	var product Product
	err := db.WithContext(ctx).Where("barcode = ?", key).First(&product).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		err = db.WithContext(ctx).Where("sku = ?", key).First(&product).Error
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrorRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	if product.IsActive == nil || !*product.IsActive {
		return nil, utils.NewValidationError(0, "product", "product "+product.Sku+" is inactive")
	}
	return &product, nil
}
