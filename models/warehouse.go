package models

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/poskusoft/pos_backend/config"
	"github.com/poskusoft/pos_backend/utils"
)

type Warehouse struct {
	ID        int       `gorm:"primary_key" json:"id"`
	Code      string    `gorm:"uniqueIndex;size:20;not null" json:"code" binding:"required"`
	Name      string    `gorm:"size:100;not null" json:"name" binding:"required"`
	IsDefault *bool     `gorm:"not null;default:false" json:"is_default"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewWarehouse struct {
	Code string `json:"code" binding:"required"`
	Name string `json:"name" binding:"required"`
}

func (input *NewWarehouse) validate(ctx context.Context, id int) error {
	return utils.ValidateUnique[Warehouse](ctx, "code", input.Code, id)
}

func CreateWarehouse(ctx context.Context, input *NewWarehouse) (*Warehouse, error) {
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	if err := input.validate(ctx, 0); err != nil {
		return nil, err
	}

	warehouse := Warehouse{
		Code:      input.Code,
		Name:      input.Name,
		IsDefault: utils.NewFalse(),
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&warehouse).Error; err != nil {
		return nil, utils.ClassifyDBError("warehouses", err)
	}
	return &warehouse, nil
}

func GetWarehouses(ctx context.Context) ([]*Warehouse, error) {
	db := config.GetDB()
	var warehouses []*Warehouse
	if err := db.WithContext(ctx).Order("id").Find(&warehouses).Error; err != nil {
		return nil, err
	}
	return warehouses, nil
}

const defaultWarehouseCacheKey = "defaultWarehouse"

// GetDefaultWarehouse returns the single warehouse flagged default, seeded
// at migration time. Every zero-warehouse posting resolves through here, so
// the row is cached in redis; the seed invalidates the key.
func GetDefaultWarehouse(ctx context.Context) (*Warehouse, error) {
	var warehouse Warehouse
	if found, err := config.GetRedisObject(defaultWarehouseCacheKey, &warehouse); err == nil && found {
		return &warehouse, nil
	}

	db := config.GetDB()
	err := db.WithContext(ctx).Where("is_default = ?", true).First(&warehouse).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrorRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	_ = config.SetRedisObject(defaultWarehouseCacheKey, warehouse, 10*time.Minute)
	return &warehouse, nil
}
