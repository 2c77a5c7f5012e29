package consolidate

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/HansBuddenberg-SmartBots/smartbots-etl-facturas/internal/domain"
)

// UpsertMode selects the write-back policy for matched keys. The two policies
// are mutually exclusive per deployment and are never mixed within a run.
type UpsertMode string

const (
	// ModeFullUpsert replaces the stored record whenever the incoming business
	// fields differ from the ledger entry.
	ModeFullUpsert UpsertMode = "full"

	// ModeAppendOnly only ever writes brand-new keys. Matches against existing
	// keys are logged but the stored ledger entry is left untouched, keeping a
	// manually-curated ledger authoritative.
	ModeAppendOnly UpsertMode = "append_only"
)

// ParseUpsertMode validates a configured mode string
func ParseUpsertMode(s string) (UpsertMode, error) {
	switch UpsertMode(s) {
	case ModeFullUpsert, ModeAppendOnly:
		return UpsertMode(s), nil
	default:
		return "", fmt.Errorf("unknown upsert mode: %q", s)
	}
}

// UpsertResult is the transient outcome of one merge: the classification
// counters plus the full resulting record set (ledger union insertions). It is
// folded into the run report and discarded.
type UpsertResult struct {
	Inserted  int
	Updated   int
	Unchanged int
	Records   []domain.InvoiceRecord
}

// TotalProcessed returns the number of incoming records that were classified
func (r UpsertResult) TotalProcessed() int {
	return r.Inserted + r.Updated + r.Unchanged
}

// Engine merges incoming record batches into a ledger snapshot by composite key
type Engine struct {
	mode   UpsertMode
	logger *zap.Logger
}

// NewEngine creates an upsert engine with the configured write-back mode
func NewEngine(mode UpsertMode, logger *zap.Logger) *Engine {
	return &Engine{mode: mode, logger: logger}
}

// Mode returns the configured write-back mode
func (e *Engine) Mode() UpsertMode {
	return e.mode
}

// Merge classifies each incoming record against the existing ledger snapshot,
// in input order. An absent key is inserted as NEW. A present key with
// differing business fields is replaced with the incoming record as UPDATED in
// full mode; append-only mode logs the match and keeps the stored entry. A
// present key with no business change keeps the existing record (preserving
// its ledger-only workflow fields) tagged UNCHANGED.
//
// The result order is deterministic: existing ledger order first, then new
// insertions in input order.
func (e *Engine) Merge(existing, incoming []domain.InvoiceRecord) UpsertResult {
	byKey := make(map[domain.RecordKey]domain.InvoiceRecord, len(existing))
	order := make([]domain.RecordKey, 0, len(existing)+len(incoming))
	for _, r := range existing {
		k := r.Key()
		if _, seen := byKey[k]; !seen {
			order = append(order, k)
		}
		byKey[k] = r
	}

	var result UpsertResult
	for _, record := range incoming {
		k := record.Key()
		old, exists := byKey[k]
		switch {
		case !exists:
			byKey[k] = record.WithStatus(domain.StatusNew)
			order = append(order, k)
			result.Inserted++
		case record.HasChangesVs(old):
			if e.mode == ModeAppendOnly {
				e.logger.Info("Existing key differs from source, ledger kept (append-only)",
					zap.String("key", k.String()),
					zap.String("source_file", record.SourceFile))
				byKey[k] = old.WithStatus(domain.StatusUnchanged)
				result.Unchanged++
				continue
			}
			byKey[k] = record.WithStatus(domain.StatusUpdated)
			result.Updated++
		default:
			byKey[k] = old.WithStatus(domain.StatusUnchanged)
			result.Unchanged++
		}
	}

	result.Records = make([]domain.InvoiceRecord, 0, len(byKey))
	for _, k := range order {
		result.Records = append(result.Records, byKey[k])
	}
	return result
}
