package models

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/poskusoft/pos_backend/utils"
)

func TestNewCustomerValidateRejectsInvalidPhone(t *testing.T) {
	t.Setenv("PHONE_REGION", "ID")

	input := &NewCustomer{Name: "Budi", Phone: "not-a-phone"}
	if err := input.validate(); !utils.IsValidationError(err) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestNewCustomerValidateAcceptsValidPhone(t *testing.T) {
	t.Setenv("PHONE_REGION", "ID")

	input := &NewCustomer{Name: "Budi", Phone: "+62 812 3456 7890"}
	if err := input.validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestNewCustomerValidateAllowsEmptyPhone(t *testing.T) {
	input := &NewCustomer{Name: "Walk In"}
	if err := input.validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestNewCustomerValidateRejectsNegativeCreditLimit(t *testing.T) {
	input := &NewCustomer{Name: "Budi", CreditLimit: decimal.NewFromInt(-1)}
	if err := input.validate(); !utils.IsValidationError(err) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}
