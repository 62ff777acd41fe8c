package utils

import (
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
)

var ErrorRecordNotFound = errors.New("record not found")

// ErrPaymentShortfall is a confirmable warning, not a hard failure: the
// caller may repeat the call with AllowShortfall set to proceed anyway.
var ErrPaymentShortfall = errors.New("amount tendered is less than grand total")

// ErrInsufficientStock is returned when an outbound posting would drive a
// product's stock below zero after the product row has been locked and
// re-read.
var ErrInsufficientStock = errors.New("insufficient stock")

// ValidationError rejects caller input before any persistence step.
// Line is the 1-based cart line; 0 means document level.
type ValidationError struct {
	Line    int
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s: %s", e.Line, e.Field, e.Message)
	}
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

func NewValidationError(line int, field string, message string) error {
	return &ValidationError{Line: line, Field: field, Message: message}
}

func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ConcurrencyConflict marks contention on a shared row (document counter or
// product stock). Posting retries these a bounded number of times.
type ConcurrencyConflict struct {
	Resource string
	Err      error
}

func (e *ConcurrencyConflict) Error() string {
	return fmt.Sprintf("concurrency conflict on %s: %v", e.Resource, e.Err)
}

func (e *ConcurrencyConflict) Unwrap() error { return e.Err }

func IsConcurrencyConflict(err error) bool {
	var cc *ConcurrencyConflict
	return errors.As(err, &cc)
}

// PersistenceError is a write rejected by the store. Duplicate distinguishes
// unique-key violations (e.g. a document number collision) from other causes.
type PersistenceError struct {
	Op        string
	Duplicate bool
	Err       error
}

func (e *PersistenceError) Error() string {
	if e.Duplicate {
		return fmt.Sprintf("%s: duplicate key: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func IsDuplicateKey(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe) && pe.Duplicate
}

// MySQL server error numbers the posting engine cares about.
const (
	mysqlErrDuplicateEntry = 1062
	mysqlErrLockWaitTimout = 1205
	mysqlErrDeadlock       = 1213
)

// ClassifyDBError maps a raw driver error into the posting error taxonomy.
func ClassifyDBError(op string, err error) error {
	if err == nil {
		return nil
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case mysqlErrDuplicateEntry:
			return &PersistenceError{Op: op, Duplicate: true, Err: err}
		case mysqlErrDeadlock, mysqlErrLockWaitTimout:
			return &ConcurrencyConflict{Resource: op, Err: err}
		}
	}
	return &PersistenceError{Op: op, Err: err}
}
