package transform

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/HansBuddenberg-SmartBots/smartbots-etl-facturas/internal/domain"
)

// Canonical field names produced by the column mapping
const (
	FieldInvoiceNumber          = "invoice_number"
	FieldReferenceNumber        = "reference_number"
	FieldCarrierName            = "carrier_name"
	FieldShipName               = "ship_name"
	FieldDispatchGuides         = "dispatch_guides"
	FieldInvoiceDate            = "invoice_date"
	FieldDescription            = "description"
	FieldNetAmount              = "net_amount"
	FieldTaxAmount              = "tax_amount"
	FieldTotalAmount            = "total_amount"
	FieldCurrency               = "currency"
	FieldDigitalReceiptDate     = "digital_receipt_date"
	FieldApprovedBy             = "approved_by"
	FieldOperationsStatus       = "operations_status"
	FieldOperationsApprovalDate = "operations_approval_date"
)

// Config holds the locale and layout knobs for row transformation
type Config struct {
	// ColumnMapping maps raw spreadsheet headers to canonical field names
	ColumnMapping map[string]string

	// DateFormat is the primary date layout tried before the fallbacks
	DateFormat string
}

// dateLayouts are the fallback layouts tried after the configured primary
// format, in this fixed order. First successful parse wins.
var dateLayouts = []string{"2006-01-02", "02/01/2006", "02-01-2006"}

// RowTransformer converts loosely-typed spreadsheet cells into validated
// invoice records. All locale-specific parsing ambiguity lives here.
type RowTransformer struct {
	cfg    Config
	logger *zap.Logger
}

// NewRowTransformer creates a row transformer
func NewRowTransformer(cfg Config, logger *zap.Logger) *RowTransformer {
	return &RowTransformer{cfg: cfg, logger: logger}
}

// TransformRow maps, parses and validates a single raw row. A failure is a
// *domain.RowError carrying the row index; the caller records it and moves on.
func (t *RowTransformer) TransformRow(row map[string]string, rowIndex int, sourceName string) (domain.InvoiceRecord, error) {
	mapped := t.applyColumnMapping(row)

	total, err := t.parseMoneyField(mapped, FieldTotalAmount, rowIndex, decimal.Zero)
	if err != nil {
		return domain.InvoiceRecord{}, err
	}
	net, err := t.parseMoneyField(mapped, FieldNetAmount, rowIndex, total)
	if err != nil {
		return domain.InvoiceRecord{}, err
	}
	tax, err := t.parseMoneyField(mapped, FieldTaxAmount, rowIndex, decimal.Zero)
	if err != nil {
		return domain.InvoiceRecord{}, err
	}

	invoiceDate, err := t.ParseDate(mapped[FieldInvoiceDate])
	if err != nil {
		return domain.InvoiceRecord{}, &domain.RowError{
			Row:     rowIndex,
			Field:   FieldInvoiceDate,
			Message: err.Error(),
		}
	}

	record, err := domain.NewInvoiceRecord(domain.RecordParams{
		InvoiceNumber:          cleanString(mapped[FieldInvoiceNumber]),
		ReferenceNumber:        cleanString(mapped[FieldReferenceNumber]),
		CarrierName:            cleanString(mapped[FieldCarrierName]),
		ShipName:               cleanString(mapped[FieldShipName]),
		DispatchGuides:         cleanString(mapped[FieldDispatchGuides]),
		InvoiceDate:            invoiceDate,
		Description:            cleanString(mapped[FieldDescription]),
		NetAmount:              net,
		TaxAmount:              tax,
		TotalAmount:            total,
		Currency:               cleanString(mapped[FieldCurrency]),
		DigitalReceiptDate:     cleanString(mapped[FieldDigitalReceiptDate]),
		ApprovedBy:             cleanString(mapped[FieldApprovedBy]),
		OperationsStatus:       cleanString(mapped[FieldOperationsStatus]),
		OperationsApprovalDate: cleanString(mapped[FieldOperationsApprovalDate]),
		SourceFile:             sourceName,
		ProcessedAt:            time.Now().UTC(),
	})
	if err != nil {
		return domain.InvoiceRecord{}, &domain.RowError{Row: rowIndex, Message: err.Error()}
	}
	return record, nil
}

// applyColumnMapping resolves raw headers to canonical names. A mapped header
// that is absent from the row falls back to the canonical name itself when
// present; unmapped extra columns are ignored.
func (t *RowTransformer) applyColumnMapping(row map[string]string) map[string]string {
	mapped := make(map[string]string, len(t.cfg.ColumnMapping))
	for original, canonical := range t.cfg.ColumnMapping {
		if v, ok := row[original]; ok {
			mapped[canonical] = v
		} else if v, ok := row[canonical]; ok {
			mapped[canonical] = v
		}
	}
	return mapped
}

// parseMoneyField parses a mapped money field, falling back to the given
// default when the column is absent or empty. Net defaults to the total so
// files that only carry a total still reconcile.
func (t *RowTransformer) parseMoneyField(mapped map[string]string, field string, rowIndex int, fallback decimal.Decimal) (decimal.Decimal, error) {
	raw, ok := mapped[field]
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	d, err := ParseMoney(raw)
	if err != nil {
		return decimal.Decimal{}, &domain.RowError{Row: rowIndex, Field: field, Message: err.Error()}
	}
	return d, nil
}

// ParseDate tries the configured primary format, then ISO, then day/month/year
// with '/' and '-' separators, in that fixed order.
func (t *RowTransformer) ParseDate(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}

	layouts := dateLayouts
	if t.cfg.DateFormat != "" {
		layouts = append([]string{t.cfg.DateFormat}, dateLayouts...)
	}
	for _, layout := range layouts {
		if d, err := time.Parse(layout, s); err == nil {
			return d, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date format: %q", raw)
}

func cleanString(v string) string {
	return strings.TrimSpace(v)
}
