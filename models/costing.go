package models

import "github.com/shopspring/decimal"

// Costing policy: last cost. A purchase line replaces the product's cost
// basis with that line's unit cost; sales read the basis for COGS stamping
// and never modify it. Weighted-average costing was considered and
// deliberately not implemented; if that changes, these two functions are
// the only seam.

// Last cost ignores the current basis and the quantity weighting.
func costOnPurchase(_ *Product, _ decimal.Decimal, lineUnitCost decimal.Decimal) decimal.Decimal {
	return lineUnitCost
}

func costForSale(product *Product) decimal.Decimal {
	return product.Cost
}
