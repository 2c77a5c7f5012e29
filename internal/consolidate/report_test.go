package consolidate

import (
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReportAccumulation(t *testing.T) {
	r := NewReport("run-123")

	r.AddUpsert(UpsertResult{Inserted: 3, Updated: 1, Unchanged: 2})
	r.AddUpsert(UpsertResult{Inserted: 1, Unchanged: 4})
	r.AddTotals(ReconcileTotals{
		SourceTotal: decimal.NewFromInt(100000),
		OutputTotal: decimal.NewFromInt(100000),
	})
	r.AddTotals(ReconcileTotals{
		SourceTotal: decimal.NewFromInt(50000),
		OutputTotal: decimal.NewFromInt(49500),
	})

	assert.Equal(t, 4, r.InsertedCount)
	assert.Equal(t, 1, r.UpdatedCount)
	assert.Equal(t, 6, r.UnchangedCount)
	assert.True(t, r.SourceTotalAmount.Equal(decimal.NewFromInt(150000)))
	assert.True(t, r.AmountVariance().Equal(decimal.NewFromInt(500)))
}

func TestReportCounters(t *testing.T) {
	r := NewReport("run-123")
	r.TotalFiles = 2
	r.SourceRowCount = 40
	r.AddUpsert(UpsertResult{Inserted: 30, Updated: 5, Unchanged: 3})
	r.AddRowError("a.xlsx", 7, "bad amount")

	counters := r.Counters()
	assert.Equal(t, 2, counters["total_files"])
	assert.Equal(t, 40, counters["total_records"])
	assert.Equal(t, 30, counters["inserted"])
	assert.Equal(t, 1, counters["errors"])
}

func TestTemplateVarsErrorCap(t *testing.T) {
	r := NewReport("run-123")
	for i := 0; i < 25; i++ {
		r.AddRowError("a.xlsx", i+2, fmt.Sprintf("error %d", i))
	}

	vars := r.TemplateVars()
	shown, ok := vars["Errors"].([]ValidationError)
	require.True(t, ok)
	assert.Len(t, shown, 20, "display list is capped")
	assert.Equal(t, 5, vars["TruncatedErrors"])
	assert.Equal(t, 25, r.ErrorCount(), "full count is retained")
}

func TestTemplateVarsUnderCap(t *testing.T) {
	r := NewReport("run-123")
	r.AddRowError("a.xlsx", 2, "bad date")

	vars := r.TemplateVars()
	shown := vars["Errors"].([]ValidationError)
	assert.Len(t, shown, 1)
	assert.Equal(t, 0, vars["TruncatedErrors"])
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "$119000", formatAmount(decimal.RequireFromString("119000.4")))
	assert.Equal(t, "$0", formatAmount(decimal.Zero))
}
