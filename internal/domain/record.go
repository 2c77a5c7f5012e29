package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// amountTolerance is the rounding slack allowed between total and net+tax.
var amountTolerance = decimal.NewFromInt(1)

// RecordKey is the composite key matching invoice lines across files. It is the
// upsert matching criterion, not a globally unique identifier: the same key
// appearing in several source files is intentionally merged under one entry.
type RecordKey struct {
	InvoiceNumber   string
	ReferenceNumber string
}

// String returns a human-readable form used in logs and audit rows
func (k RecordKey) String() string {
	return k.InvoiceNumber + "/" + k.ReferenceNumber
}

// InvoiceRecord is one transport-invoice line, either from a source file or
// from the consolidated ledger. Treated as an immutable value: status changes
// go through WithStatus, never in-place mutation.
type InvoiceRecord struct {
	// Composite key
	InvoiceNumber   string
	ReferenceNumber string

	// Business fields
	CarrierName    string
	ShipName       string
	DispatchGuides string
	InvoiceDate    time.Time
	Description    string
	NetAmount      decimal.Decimal
	TaxAmount      decimal.Decimal
	TotalAmount    decimal.Decimal
	Currency       string

	// Ledger-only workflow fields, never present in source rows
	DigitalReceiptDate     string
	ApprovedBy             string
	OperationsStatus       string
	OperationsApprovalDate string

	// Processing metadata, excluded from key and change detection
	SourceFile  string
	ProcessedAt time.Time
	Status      RecordStatus
}

// RecordParams carries the raw field values for NewInvoiceRecord
type RecordParams struct {
	InvoiceNumber          string
	ReferenceNumber        string
	CarrierName            string
	ShipName               string
	DispatchGuides         string
	InvoiceDate            time.Time
	Description            string
	NetAmount              decimal.Decimal
	TaxAmount              decimal.Decimal
	TotalAmount            decimal.Decimal
	Currency               string
	DigitalReceiptDate     string
	ApprovedBy             string
	OperationsStatus       string
	OperationsApprovalDate string
	SourceFile             string
	ProcessedAt            time.Time
}

// NewInvoiceRecord validates the domain invariants and returns the record.
// A violation is a per-row validation error for the caller, not a panic.
func NewInvoiceRecord(p RecordParams) (InvoiceRecord, error) {
	if strings.TrimSpace(p.InvoiceNumber) == "" {
		return InvoiceRecord{}, fmt.Errorf("invoice_number cannot be blank")
	}
	if strings.TrimSpace(p.ReferenceNumber) == "" {
		return InvoiceRecord{}, fmt.Errorf("reference_number cannot be blank")
	}
	if strings.TrimSpace(p.CarrierName) == "" {
		return InvoiceRecord{}, fmt.Errorf("carrier_name cannot be blank")
	}
	if p.TotalAmount.IsNegative() {
		return InvoiceRecord{}, fmt.Errorf("total_amount cannot be negative: %s", p.TotalAmount)
	}
	expected := p.NetAmount.Add(p.TaxAmount)
	if p.TotalAmount.Sub(expected).Abs().GreaterThan(amountTolerance) {
		return InvoiceRecord{}, fmt.Errorf(
			"total_amount (%s) does not match net (%s) + tax (%s) = %s",
			p.TotalAmount, p.NetAmount, p.TaxAmount, expected)
	}

	currency := strings.ToUpper(strings.TrimSpace(p.Currency))
	if currency == "" {
		currency = "CLP"
	}

	return InvoiceRecord{
		InvoiceNumber:          p.InvoiceNumber,
		ReferenceNumber:        p.ReferenceNumber,
		CarrierName:            p.CarrierName,
		ShipName:               p.ShipName,
		DispatchGuides:         p.DispatchGuides,
		InvoiceDate:            p.InvoiceDate,
		Description:            p.Description,
		NetAmount:              p.NetAmount,
		TaxAmount:              p.TaxAmount,
		TotalAmount:            p.TotalAmount,
		Currency:               currency,
		DigitalReceiptDate:     p.DigitalReceiptDate,
		ApprovedBy:             p.ApprovedBy,
		OperationsStatus:       p.OperationsStatus,
		OperationsApprovalDate: p.OperationsApprovalDate,
		SourceFile:             p.SourceFile,
		ProcessedAt:            p.ProcessedAt,
		Status:                 StatusNew,
	}, nil
}

// Key returns the trimmed composite key used for upsert matching
func (r InvoiceRecord) Key() RecordKey {
	return RecordKey{
		InvoiceNumber:   strings.TrimSpace(r.InvoiceNumber),
		ReferenceNumber: strings.TrimSpace(r.ReferenceNumber),
	}
}

// WithStatus returns a copy of the record with the given status
func (r InvoiceRecord) WithStatus(status RecordStatus) InvoiceRecord {
	r.Status = status
	return r
}

// HasChangesVs compares the business fields against another record.
// Description and the ledger-only workflow fields are deliberately excluded.
func (r InvoiceRecord) HasChangesVs(other InvoiceRecord) bool {
	return r.CarrierName != other.CarrierName ||
		r.ShipName != other.ShipName ||
		r.DispatchGuides != other.DispatchGuides ||
		!r.InvoiceDate.Equal(other.InvoiceDate) ||
		!r.NetAmount.Equal(other.NetAmount) ||
		!r.TaxAmount.Equal(other.TaxAmount) ||
		!r.TotalAmount.Equal(other.TotalAmount)
}
