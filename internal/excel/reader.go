package excel

import (
	"fmt"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/HansBuddenberg-SmartBots/smartbots-etl-facturas/internal/consolidate"
)

const fallbackSheet = "Sheet1"

// Reader extracts tabular rows from xlsx files
type Reader struct {
	logger *zap.Logger
}

// NewReader creates a spreadsheet reader
func NewReader(logger *zap.Logger) *Reader {
	return &Reader{logger: logger}
}

// Read loads the sheet and returns the header row (1-indexed headerRow) and
// the data rows below it. When the requested sheet is missing it falls back
// to "Sheet1": uploaded files frequently keep the workbook default name.
func (r *Reader) Read(path, sheet string, headerRow int) ([]string, []consolidate.Row, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open workbook %s: %w", path, err)
	}
	defer f.Close()

	actualSheet, err := r.resolveSheet(f, path, sheet)
	if err != nil {
		return nil, nil, err
	}

	allRows, err := f.GetRows(actualSheet)
	if err != nil {
		return nil, nil, fmt.Errorf("read sheet %s: %w", actualSheet, err)
	}

	if headerRow < 1 {
		headerRow = 1
	}
	if len(allRows) < headerRow {
		return nil, nil, fmt.Errorf("sheet %s has no header row %d", actualSheet, headerRow)
	}

	headers := make([]string, 0, len(allRows[headerRow-1]))
	for _, h := range allRows[headerRow-1] {
		headers = append(headers, strings.TrimSpace(h))
	}

	var rows []consolidate.Row
	for i := headerRow; i < len(allRows); i++ {
		cells := allRows[i]
		if isEmptyRow(cells) {
			continue
		}
		row := consolidate.Row{Index: i + 1, Cells: make(map[string]string, len(headers))}
		for j, header := range headers {
			if header == "" {
				continue
			}
			if j < len(cells) {
				row.Cells[header] = strings.TrimSpace(cells[j])
			} else {
				row.Cells[header] = ""
			}
		}
		rows = append(rows, row)
	}

	r.logger.Info("Spreadsheet read",
		zap.String("path", path),
		zap.String("sheet", actualSheet),
		zap.String("requested_sheet", sheet),
		zap.Int("header_row", headerRow),
		zap.Int("rows", len(rows)))
	return headers, rows, nil
}

// ValidateSchema compares the header row against the expected columns.
// Extra columns do not invalidate a file, missing ones do.
func (r *Reader) ValidateSchema(headers, expected []string) (bool, []string, []string) {
	actualSet := make(map[string]bool, len(headers))
	for _, h := range headers {
		if h != "" {
			actualSet[h] = true
		}
	}
	expectedSet := make(map[string]bool, len(expected))
	for _, e := range expected {
		expectedSet[e] = true
	}

	var missing, extra []string
	for e := range expectedSet {
		if !actualSet[e] {
			missing = append(missing, e)
		}
	}
	for a := range actualSet {
		if !expectedSet[a] {
			extra = append(extra, a)
		}
	}
	sort.Strings(missing)
	sort.Strings(extra)

	ok := len(missing) == 0
	r.logger.Info("Schema validated",
		zap.Bool("ok", ok),
		zap.Strings("missing", missing),
		zap.Strings("extra", extra))
	return ok, missing, extra
}

func (r *Reader) resolveSheet(f *excelize.File, path, requested string) (string, error) {
	sheets := f.GetSheetList()
	for _, s := range sheets {
		if s == requested {
			return requested, nil
		}
	}
	for _, s := range sheets {
		if s == fallbackSheet {
			r.logger.Warn("Sheet not found, using fallback",
				zap.String("path", path),
				zap.String("requested", requested),
				zap.String("fallback", fallbackSheet))
			return fallbackSheet, nil
		}
	}
	return "", fmt.Errorf("sheet %q not found in %s, available: %v", requested, path, sheets)
}

func isEmptyRow(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
