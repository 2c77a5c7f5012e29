package consolidate

import (
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/HansBuddenberg-SmartBots/smartbots-etl-facturas/internal/domain"
)

// reconcileTolerance is the allowed absolute monetary variance, one currency
// unit of rounding slack.
var reconcileTolerance = decimal.NewFromInt(1)

// ReconcileTotals carries the sums the report accumulates after a clean check
type ReconcileTotals struct {
	SourceTotal decimal.Decimal
	OutputTotal decimal.Decimal
}

// Reconciler verifies that an upsert dropped no keys and lost no money. It
// runs per processed file, before results are persisted.
type Reconciler struct {
	logger *zap.Logger
}

// NewReconciler creates a reconciler
func NewReconciler(logger *zap.Logger) *Reconciler {
	return &Reconciler{logger: logger}
}

// Check fails with a *domain.ReconciliationError if any incoming key is
// missing from the result set, or if the written amounts drifted beyond
// tolerance from the source amounts.
//
// The monetary comparison covers the keys whose resulting status is NEW or
// UPDATED: those are the values the upsert actually wrote. UNCHANGED keys
// retain the stored ledger value on purpose. In full-upsert mode their
// amounts are equal by definition, and in append-only mode a retained ledger
// value is intended, not a loss.
func (c *Reconciler) Check(incoming []domain.InvoiceRecord, result UpsertResult) (ReconcileTotals, error) {
	incomingByKey := make(map[domain.RecordKey]domain.InvoiceRecord, len(incoming))
	for _, r := range incoming {
		incomingByKey[r.Key()] = r
	}

	resultByKey := make(map[domain.RecordKey]domain.InvoiceRecord, len(result.Records))
	for _, r := range result.Records {
		resultByKey[r.Key()] = r
	}

	missing := 0
	for k := range incomingByKey {
		if _, ok := resultByKey[k]; !ok {
			missing++
			c.logger.Error("Incoming key missing from upsert result", zap.String("key", k.String()))
		}
	}
	if missing > 0 {
		return ReconcileTotals{}, &domain.ReconciliationError{
			DataLossPct:    float64(missing) / float64(len(incomingByKey)) * 100,
			AmountVariance: decimal.Zero,
		}
	}

	sourceTotal := decimal.Zero
	outputTotal := decimal.Zero
	for k, in := range incomingByKey {
		out := resultByKey[k]
		if out.Status != domain.StatusNew && out.Status != domain.StatusUpdated {
			continue
		}
		sourceTotal = sourceTotal.Add(in.TotalAmount)
		outputTotal = outputTotal.Add(out.TotalAmount)
	}

	variance := sourceTotal.Sub(outputTotal).Abs()
	if variance.GreaterThan(reconcileTolerance) {
		return ReconcileTotals{}, &domain.ReconciliationError{AmountVariance: variance}
	}

	// Report totals cover every incoming key so the notification reflects the
	// full monetary footprint of the file, not just the written subset.
	fullSource := decimal.Zero
	fullOutput := decimal.Zero
	for k, in := range incomingByKey {
		fullSource = fullSource.Add(in.TotalAmount)
		fullOutput = fullOutput.Add(resultByKey[k].TotalAmount)
	}
	return ReconcileTotals{SourceTotal: fullSource, OutputTotal: fullOutput}, nil
}
