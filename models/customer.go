package models

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/poskusoft/pos_backend/config"
	"github.com/poskusoft/pos_backend/utils"
)

type Customer struct {
	ID          int             `gorm:"primary_key" json:"id"`
	Name        string          `gorm:"size:255;not null" json:"name" binding:"required"`
	Phone       string          `gorm:"size:20" json:"phone"`
	Address     string          `gorm:"type:text" json:"address"`
	CreditLimit decimal.Decimal `gorm:"type:decimal(18,2);default:0" json:"credit_limit"`
	IsActive    *bool           `gorm:"not null;default:true" json:"is_active"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewCustomer struct {
	Name        string          `json:"name" binding:"required"`
	Phone       string          `json:"phone"`
	Address     string          `json:"address"`
	CreditLimit decimal.Decimal `json:"credit_limit"`
}

func (input *NewCustomer) validate() error {
	if strings.TrimSpace(input.Phone) != "" {
		region := os.Getenv("PHONE_REGION")
		if region == "" {
			region = "ID"
		}
		if err := utils.ValidatePhoneNumber(input.Phone, region); err != nil {
			return utils.NewValidationError(0, "phone", "invalid phone number")
		}
	}
	if input.CreditLimit.IsNegative() {
		return utils.NewValidationError(0, "credit_limit", "must not be negative")
	}
	return nil
}

func CreateCustomer(ctx context.Context, input *NewCustomer) (*Customer, error) {
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	if err := input.validate(); err != nil {
		return nil, err
	}

	customer := Customer{
		Name:        input.Name,
		Phone:       input.Phone,
		Address:     input.Address,
		CreditLimit: input.CreditLimit,
		IsActive:    utils.NewTrue(),
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&customer).Error; err != nil {
		return nil, utils.ClassifyDBError("customers", err)
	}
	return &customer, nil
}

func GetCustomers(ctx context.Context) ([]*Customer, error) {
	db := config.GetDB()
	var customers []*Customer
	if err := db.WithContext(ctx).Order("name").Find(&customers).Error; err != nil {
		return nil, err
	}
	return customers, nil
}
