package excel

import (
	"fmt"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/HansBuddenberg-SmartBots/smartbots-etl-facturas/internal/domain"
	"github.com/HansBuddenberg-SmartBots/smartbots-etl-facturas/internal/transform"
)

// Column maps a spreadsheet header to the canonical record field it carries
type Column struct {
	Header string
	Field  string
}

// Writer persists record sets to xlsx files. It always rewrites the full
// sheet: the upsert result is the complete ledger, and a full rewrite keeps
// the written file identical to the merged snapshot in both upsert modes.
type Writer struct {
	columns    []Column
	dateFormat string
	logger     *zap.Logger
}

// NewWriter creates a spreadsheet writer with the given column layout
func NewWriter(columns []Column, dateFormat string, logger *zap.Logger) *Writer {
	if dateFormat == "" {
		dateFormat = "02-01-2006"
	}
	return &Writer{columns: columns, dateFormat: dateFormat, logger: logger}
}

// Write replaces the sheet content with the header row at headerRow and one
// row per record starting at dataStartRow.
func (w *Writer) Write(records []domain.InvoiceRecord, path, sheet string, headerRow, dataStartRow int) error {
	f, err := excelize.OpenFile(path)
	if err != nil {
		// A missing ledger file is created fresh
		f = excelize.NewFile()
		if sheet != fallbackSheet {
			if _, err := f.NewSheet(sheet); err != nil {
				return fmt.Errorf("create sheet %s: %w", sheet, err)
			}
		}
	}
	defer f.Close()

	if idx, err := f.GetSheetIndex(sheet); err != nil || idx < 0 {
		if _, err := f.NewSheet(sheet); err != nil {
			return fmt.Errorf("create sheet %s: %w", sheet, err)
		}
	}

	if headerRow < 1 {
		headerRow = 1
	}
	if dataStartRow <= headerRow {
		dataStartRow = headerRow + 1
	}

	for col, column := range w.columns {
		cell, err := excelize.CoordinatesToCellName(col+1, headerRow)
		if err != nil {
			return fmt.Errorf("header cell: %w", err)
		}
		if err := f.SetCellValue(sheet, cell, column.Header); err != nil {
			return fmt.Errorf("write header %s: %w", column.Header, err)
		}
	}

	for i, record := range records {
		rowNum := dataStartRow + i
		for col, column := range w.columns {
			cell, err := excelize.CoordinatesToCellName(col+1, rowNum)
			if err != nil {
				return fmt.Errorf("data cell: %w", err)
			}
			if err := f.SetCellValue(sheet, cell, w.valueFor(record, column.Field)); err != nil {
				return fmt.Errorf("write row %d column %s: %w", rowNum, column.Header, err)
			}
		}
	}

	// Clear leftover rows from a previously longer ledger
	lastWritten := dataStartRow + len(records) - 1
	if existing, err := f.GetRows(sheet); err == nil {
		for rowNum := lastWritten + 1; rowNum <= len(existing); rowNum++ {
			if err := f.RemoveRow(sheet, lastWritten+1); err != nil {
				return fmt.Errorf("trim row %d: %w", rowNum, err)
			}
		}
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save workbook %s: %w", path, err)
	}

	w.logger.Info("Spreadsheet written",
		zap.String("path", path),
		zap.String("sheet", sheet),
		zap.Int("rows", len(records)))
	return nil
}

// valueFor extracts the canonical field value from a record
func (w *Writer) valueFor(record domain.InvoiceRecord, field string) string {
	switch field {
	case transform.FieldInvoiceNumber:
		return record.InvoiceNumber
	case transform.FieldReferenceNumber:
		return record.ReferenceNumber
	case transform.FieldCarrierName:
		return record.CarrierName
	case transform.FieldShipName:
		return record.ShipName
	case transform.FieldDispatchGuides:
		return record.DispatchGuides
	case transform.FieldInvoiceDate:
		return record.InvoiceDate.Format(w.dateFormat)
	case transform.FieldDescription:
		return record.Description
	case transform.FieldNetAmount:
		return record.NetAmount.String()
	case transform.FieldTaxAmount:
		return record.TaxAmount.String()
	case transform.FieldTotalAmount:
		return record.TotalAmount.String()
	case transform.FieldCurrency:
		return record.Currency
	case transform.FieldDigitalReceiptDate:
		return record.DigitalReceiptDate
	case transform.FieldApprovedBy:
		return record.ApprovedBy
	case transform.FieldOperationsStatus:
		return record.OperationsStatus
	case transform.FieldOperationsApprovalDate:
		return record.OperationsApprovalDate
	default:
		return ""
	}
}
