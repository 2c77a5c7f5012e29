package consolidate

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/HansBuddenberg-SmartBots/smartbots-etl-facturas/internal/domain"
)

// validationErrorDisplayCap bounds how many row errors the notification lists;
// the remainder is summarized as a count.
const validationErrorDisplayCap = 20

// ValidationError is one recorded row or schema failure, kept for the audit
// trail and the notification body.
type ValidationError struct {
	File  string
	Row   int
	Error string
}

// Report accumulates everything one consolidation run produced: counters,
// monetary totals, error lists and the final status. It is created at run
// start, mutated during the run, and frozen once the notification is sent.
type Report struct {
	RunID     string
	Timestamp time.Time
	Status    RunState

	SourceFiles     []string
	FilesWithErrors []string
	BackupObjectID  string
	RollbackDone    bool

	TotalFiles     int
	SourceRowCount int
	ValidRowCount  int
	InsertedCount  int
	UpdatedCount   int
	UnchangedCount int

	SourceTotalAmount decimal.Decimal
	OutputTotalAmount decimal.Decimal

	ValidationErrors []ValidationError
}

// NewReport creates an empty report for the given run identifier
func NewReport(runID string) *Report {
	return &Report{
		RunID:             runID,
		Timestamp:         time.Now().UTC(),
		Status:            StateInit,
		SourceTotalAmount: decimal.Zero,
		OutputTotalAmount: decimal.Zero,
	}
}

// AddUpsert folds one file's upsert counters into the run totals
func (r *Report) AddUpsert(result UpsertResult) {
	r.InsertedCount += result.Inserted
	r.UpdatedCount += result.Updated
	r.UnchangedCount += result.Unchanged
}

// AddTotals folds one file's reconciled monetary totals into the run totals
func (r *Report) AddTotals(t ReconcileTotals) {
	r.SourceTotalAmount = r.SourceTotalAmount.Add(t.SourceTotal)
	r.OutputTotalAmount = r.OutputTotalAmount.Add(t.OutputTotal)
}

// AddFileError marks a source file as failed
func (r *Report) AddFileError(fileName string) {
	r.FilesWithErrors = append(r.FilesWithErrors, fileName)
}

// AddRowError records a contained row-level validation failure
func (r *Report) AddRowError(file string, row int, msg string) {
	r.ValidationErrors = append(r.ValidationErrors, ValidationError{File: file, Row: row, Error: msg})
}

// ErrorCount returns the number of recorded validation errors
func (r *Report) ErrorCount() int {
	return len(r.ValidationErrors)
}

// AmountVariance is the absolute difference between source and output totals
func (r *Report) AmountVariance() decimal.Decimal {
	return r.SourceTotalAmount.Sub(r.OutputTotalAmount).Abs()
}

// Counters returns the summary persisted with the tracked run
func (r *Report) Counters() map[string]any {
	return map[string]any{
		"total_files":         r.TotalFiles,
		"total_records":       r.SourceRowCount,
		"inserted":            r.InsertedCount,
		"updated":             r.UpdatedCount,
		"unchanged":           r.UnchangedCount,
		"errors":              r.ErrorCount(),
		"source_total_amount": r.SourceTotalAmount.String(),
		"output_total_amount": r.OutputTotalAmount.String(),
	}
}

// TemplateVars returns the values the notification templates interpolate.
// The validation error list is capped; the remainder becomes a count.
func (r *Report) TemplateVars() map[string]any {
	shown := r.ValidationErrors
	truncated := 0
	if len(shown) > validationErrorDisplayCap {
		truncated = len(shown) - validationErrorDisplayCap
		shown = shown[:validationErrorDisplayCap]
	}

	return map[string]any{
		"RunID":           r.RunID,
		"Timestamp":       r.Timestamp.Format("2006-01-02 15:04:05 UTC"),
		"Status":          r.Status.String(),
		"TotalFiles":      r.TotalFiles,
		"SourceFiles":     r.SourceFiles,
		"FilesWithErrors": r.FilesWithErrors,
		"Inserted":        r.InsertedCount,
		"Updated":         r.UpdatedCount,
		"Unchanged":       r.UnchangedCount,
		"SourceTotal":     formatAmount(r.SourceTotalAmount),
		"OutputTotal":     formatAmount(r.OutputTotalAmount),
		"Variance":        formatAmount(r.AmountVariance()),
		"Errors":          shown,
		"TruncatedErrors": truncated,
		"RollbackDone":    r.RollbackDone,
	}
}

// formatAmount renders a CLP-style amount with no decimals for the email body
func formatAmount(d decimal.Decimal) string {
	return fmt.Sprintf("$%s", d.Round(0).String())
}

// statusFromRecord maps a record status to the audit action name
func statusFromRecord(s domain.RecordStatus) string {
	switch s {
	case domain.StatusNew:
		return "INSERT"
	case domain.StatusUpdated:
		return "UPDATE"
	case domain.StatusUnchanged:
		return "UNCHANGED"
	default:
		return "INSERT"
	}
}
