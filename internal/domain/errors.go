package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrNoSourceFiles is returned when the source folder holds nothing to process
	ErrNoSourceFiles = errors.New("no source files found")

	// ErrLedgerNotFound is returned when the consolidated ledger file cannot be located
	ErrLedgerNotFound = errors.New("consolidated ledger file not found")
)

// RowError is a per-row validation failure. It is contained by the caller:
// the row is skipped and recorded, the file keeps processing.
type RowError struct {
	Row     int
	Field   string
	Message string
}

func (e *RowError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("row %d: field %s: %s", e.Row, e.Field, e.Message)
	}
	return fmt.Sprintf("row %d: %s", e.Row, e.Message)
}

// SchemaError marks a source file as structurally incompatible with the
// expected column set. The file is aborted, the run continues.
type SchemaError struct {
	Missing []string
	Extra   []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("missing columns: %v, unexpected columns: %v", e.Missing, e.Extra)
}

// ReconciliationError is raised when the post-upsert check detects silently
// dropped keys or a monetary variance beyond tolerance. Fatal to the file
// being processed, not to the run.
type ReconciliationError struct {
	DataLossPct    float64
	AmountVariance decimal.Decimal
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("reconciliation failed: data_loss=%.2f%%, amount_variance=%s",
		e.DataLossPct, e.AmountVariance)
}
