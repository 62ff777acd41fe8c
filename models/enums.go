package models

// DocumentType identifies a posting document and doubles as its
// human-readable number prefix.
type DocumentType string

const (
	DocumentTypeSale     DocumentType = "POS"
	DocumentTypePurchase DocumentType = "PUR"
)

type StockDirection string

const (
	StockDirectionIn  StockDirection = "I"
	StockDirectionOut StockDirection = "O"
)

// Signed returns +1 for inbound and -1 for outbound movements.
func (d StockDirection) Signed() int64 {
	if d == StockDirectionOut {
		return -1
	}
	return 1
}

type StockReferenceType string

const (
	StockReferenceTypeInit           StockReferenceType = "INIT"
	StockReferenceTypePurchase       StockReferenceType = "PUR"
	StockReferenceTypeSale           StockReferenceType = "POS"
	StockReferenceTypeAdjustment     StockReferenceType = "ADJ"
	StockReferenceTypeTransfer       StockReferenceType = "TO"
	StockReferenceTypeReturnPurchase StockReferenceType = "RPUR"
	StockReferenceTypeReturnSale     StockReferenceType = "RPOS"
)

type DiscountType string

const (
	DiscountTypePercentage DiscountType = "P"
	DiscountTypeFixed      DiscountType = "F"
)

type PaymentMethod string

const (
	PaymentMethodCash     PaymentMethod = "Cash"
	PaymentMethodCard     PaymentMethod = "Card"
	PaymentMethodTransfer PaymentMethod = "Transfer"
)

type SalesStatus string

const (
	SalesStatusDraft  SalesStatus = "Draft"
	SalesStatusHold   SalesStatus = "Hold"
	SalesStatusPosted SalesStatus = "Posted"
)

type PurchaseStatus string

const (
	PurchaseStatusPosted PurchaseStatus = "Posted"
)
