package models

import (
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/poskusoft/pos_backend/utils"
)

// DocumentSequence holds the last allocated sequence per document type per
// calendar day. Rows are read-modify-written under FOR UPDATE inside the
// posting transaction, so a rolled-back posting never leaves a duplicate
// and two concurrent postings can never observe the same value.
type DocumentSequence struct {
	ID        int          `gorm:"primary_key" json:"id"`
	DocType   DocumentType `gorm:"type:enum('POS','PUR');not null;uniqueIndex:idx_doc_seq_type_day,priority:1" json:"doc_type"`
	SeqDate   time.Time    `gorm:"type:date;not null;uniqueIndex:idx_doc_seq_type_day,priority:2" json:"seq_date"`
	LastSeq   int          `gorm:"not null;default:0" json:"last_seq"`
	CreatedAt time.Time    `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time    `gorm:"autoUpdateTime" json:"updated_at"`
}

// FormatDocumentNumber renders PREFIX-YYYYMMDD-NNNN.
func FormatDocumentNumber(docType DocumentType, day time.Time, seq int) string {
	return fmt.Sprintf("%s-%s-%04d", docType, day.Format("20060102"), seq)
}

// NextDocumentNumber allocates the next number for docType on the calendar
// day of now. Must run inside the same transaction as the document write it
// numbers; sequence values are never reused even when that document is
// later voided.
func NextDocumentNumber(tx *gorm.DB, docType DocumentType, now time.Time) (string, int, error) {
	day, _ := utils.DayBounds(now)

	seq := DocumentSequence{DocType: docType, SeqDate: day}
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("doc_type = ? AND seq_date = ?", docType, day).
		FirstOrCreate(&seq).Error
	if err != nil {
		classified := utils.ClassifyDBError("document_sequences", err)
		// Two first-postings of the day can race the counter-row insert;
		// that is contention, not a document number collision.
		if utils.IsDuplicateKey(classified) {
			return "", 0, &utils.ConcurrencyConflict{Resource: "document_sequences", Err: err}
		}
		return "", 0, classified
	}

	seq.LastSeq++
	if err := tx.Model(&DocumentSequence{}).Where("id = ?", seq.ID).
		Update("last_seq", seq.LastSeq).Error; err != nil {
		return "", 0, utils.ClassifyDBError("document_sequences", err)
	}

	return FormatDocumentNumber(docType, day, seq.LastSeq), seq.LastSeq, nil
}
