package utils

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/ttacon/libphonenumber"
)

func NewTrue() *bool {
	b := true
	return &b
}

func NewFalse() *bool {
	b := false
	return &b
}

// CalculateDiscountAmount resolves a discount input against a base amount.
// discountType "P" treats discount as a percentage, anything else as a
// fixed amount.
func CalculateDiscountAmount(base decimal.Decimal, discount decimal.Decimal, discountType string) decimal.Decimal {
	decimalOneHundred := decimal.NewFromFloat(100)

	if discount.GreaterThan(decimal.Zero) {
		if discountType == "P" {
			return base.Mul(discount).DivRound(decimalOneHundred, 4)
		}
		return discount
	}
	return decimal.Zero
}

// CalculateTaxAmount applies a flat exclusive tax rate (percent) to a
// taxable amount.
func CalculateTaxAmount(taxable decimal.Decimal, ratePercent decimal.Decimal) decimal.Decimal {
	if ratePercent.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	return taxable.DivRound(decimal.NewFromFloat(100), 4).Mul(ratePercent)
}

// DayBounds returns the [start, end) of the calendar day containing t,
// in t's location.
func DayBounds(t time.Time) (time.Time, time.Time) {
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	return start, start.AddDate(0, 0, 1)
}

func ValidatePhoneNumber(phoneNumber, countryCode string) error {
	p, err := libphonenumber.Parse(phoneNumber, countryCode)
	if err != nil {
		return err
	}
	if !libphonenumber.IsValidNumber(p) {
		return fmt.Errorf("phone number is not valid")
	}
	return nil
}

func UniqueSlice[T comparable](in []T) []T {
	seen := make(map[T]struct{}, len(in))
	out := make([]T, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
