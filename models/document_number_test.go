package models

import (
	"testing"
	"time"
)

func TestFormatDocumentNumber(t *testing.T) {
	day := time.Date(2026, time.August, 31, 14, 30, 0, 0, time.Local)

	cases := []struct {
		docType DocumentType
		seq     int
		want    string
	}{
		{DocumentTypeSale, 1, "POS-20260831-0001"},
		{DocumentTypeSale, 42, "POS-20260831-0042"},
		{DocumentTypePurchase, 7, "PUR-20260831-0007"},
		// The counter keeps going past four digits; the number just widens.
		{DocumentTypeSale, 12345, "POS-20260831-12345"},
	}
	for _, c := range cases {
		got := FormatDocumentNumber(c.docType, day, c.seq)
		if got != c.want {
			t.Errorf("FormatDocumentNumber(%s, %d) = %q, want %q", c.docType, c.seq, got, c.want)
		}
	}
}

func TestFormatDocumentNumberUsesCalendarDayOfTimestamp(t *testing.T) {
	// Just before and just after midnight land on different days.
	beforeMidnight := time.Date(2026, time.August, 31, 23, 59, 59, 0, time.Local)
	afterMidnight := time.Date(2026, time.September, 1, 0, 0, 1, 0, time.Local)

	if got := FormatDocumentNumber(DocumentTypeSale, beforeMidnight, 1); got != "POS-20260831-0001" {
		t.Errorf("before midnight: got %q", got)
	}
	if got := FormatDocumentNumber(DocumentTypeSale, afterMidnight, 1); got != "POS-20260901-0001" {
		t.Errorf("after midnight: got %q", got)
	}
}
