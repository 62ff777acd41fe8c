package models

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestStockEntryBeforeSaveRejectsZeroQty(t *testing.T) {
	entry := &StockEntry{Direction: StockDirectionIn, Qty: decimal.Zero}
	if err := entry.BeforeSave(nil); err == nil {
		t.Fatalf("expected error for zero qty")
	}
}

func TestStockEntryBeforeSaveFoldsNegativeQtyIntoOppositeDirection(t *testing.T) {
	entry := &StockEntry{Direction: StockDirectionIn, Qty: decimal.NewFromInt(-3)}
	if err := entry.BeforeSave(nil); err != nil {
		t.Fatalf("BeforeSave: %v", err)
	}
	if entry.Direction != StockDirectionOut {
		t.Errorf("direction = %s, want O", entry.Direction)
	}
	if !entry.Qty.Equal(decimal.NewFromInt(3)) {
		t.Errorf("qty = %s, want 3", entry.Qty)
	}

	entry = &StockEntry{Direction: StockDirectionOut, Qty: decimal.NewFromInt(-2)}
	if err := entry.BeforeSave(nil); err != nil {
		t.Fatalf("BeforeSave: %v", err)
	}
	if entry.Direction != StockDirectionIn {
		t.Errorf("direction = %s, want I", entry.Direction)
	}
}

func TestStockEntryBeforeSaveRequiresDirection(t *testing.T) {
	entry := &StockEntry{Qty: decimal.NewFromInt(1)}
	if err := entry.BeforeSave(nil); err == nil {
		t.Fatalf("expected error for missing direction")
	}
}

func TestStockDirectionSigned(t *testing.T) {
	if StockDirectionIn.Signed() != 1 {
		t.Errorf("inbound sign = %d, want 1", StockDirectionIn.Signed())
	}
	if StockDirectionOut.Signed() != -1 {
		t.Errorf("outbound sign = %d, want -1", StockDirectionOut.Signed())
	}
}
