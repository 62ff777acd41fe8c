package models

import (
	"log"

	"github.com/poskusoft/pos_backend/config"
	"github.com/poskusoft/pos_backend/utils"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Product{}, &Customer{}, &Warehouse{},
		&SalesHeader{}, &SalesItem{},
		&PurchaseHeader{}, &PurchaseItem{},
		&StockEntry{}, &StockSummary{}, &DocumentSequence{},
	)
	if err != nil {
		log.Fatal(err)
	}
}

// SeedDefaultWarehouse makes sure exactly one default warehouse exists.
// Idempotent; safe to run on every startup.
func SeedDefaultWarehouse() {
	db := config.GetDB()

	warehouse := Warehouse{
		Code:      "MAIN",
		Name:      "Main Warehouse",
		IsDefault: utils.NewTrue(),
	}
	if err := db.Where("code = ?", warehouse.Code).FirstOrCreate(&warehouse).Error; err != nil {
		log.Fatal(err)
	}
	// Drop any stale cached copy from a previous run.
	_ = config.RemoveRedisKey(defaultWarehouseCacheKey)
}
