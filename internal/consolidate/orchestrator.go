package consolidate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/HansBuddenberg-SmartBots/smartbots-etl-facturas/internal/domain"
	"github.com/HansBuddenberg-SmartBots/smartbots-etl-facturas/internal/transform"
)

// File-level outcomes recorded in the tracker
const (
	fileStatusCompleted   = "COMPLETED"
	fileStatusSchemaError = "SCHEMA_ERROR"
	fileStatusError       = "ERROR"
)

// notificationTemplates maps a final run status to its email template
var notificationTemplates = map[RunState]string{
	StateSuccess: "success",
	StatePartial: "partial",
	StateError:   "error",
	StateNoFiles: "empty",
}

// Config holds the orchestration settings resolved from application config
type Config struct {
	SourceFolder       string
	InProcessFolder    string
	BackupFolder       string
	ConsolidatedFolder string
	LedgerFileName     string

	SourceSheet     string
	LedgerSheet     string
	HeaderRow       int
	DataStartRow    int
	ExpectedColumns []string

	WorkDir string

	SubjectPrefix string
	Recipients    []string
	CC            []string
	BCC           []string
}

// Orchestrator drives one consolidation run: backup, the sequential per-file
// loop, error classification, rollback on a run-level failure, and the single
// end-of-run notification. Runs are strictly sequential; every file's upsert
// reads and rewrites the same ledger, so there is no per-file parallelism and
// no locking for overlapping schedules.
type Orchestrator struct {
	store       FileStore
	lifecycle   FileLifecycle
	reader      SpreadsheetReader
	writer      SpreadsheetWriter
	notifier    Notifier
	tracker     Tracker
	transformer *transform.RowTransformer
	engine      *Engine
	reconciler  *Reconciler
	cfg         Config
	logger      *zap.Logger
}

// NewOrchestrator wires the run orchestrator from its collaborators
func NewOrchestrator(
	store FileStore,
	lifecycle FileLifecycle,
	reader SpreadsheetReader,
	writer SpreadsheetWriter,
	notifier Notifier,
	tracker Tracker,
	transformer *transform.RowTransformer,
	engine *Engine,
	reconciler *Reconciler,
	cfg Config,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		store:       store,
		lifecycle:   lifecycle,
		reader:      reader,
		writer:      writer,
		notifier:    notifier,
		tracker:     tracker,
		transformer: transformer,
		engine:      engine,
		reconciler:  reconciler,
		cfg:         cfg,
		logger:      logger,
	}
}

// Execute performs one full consolidation run and returns its report. The
// report status is always one of SUCCESS, PARTIAL, ERROR, NO_FILES, and
// exactly one notification is sent regardless of outcome.
func (o *Orchestrator) Execute(ctx context.Context) *Report {
	runID := uuid.New().String()
	report := NewReport(runID)
	var ledgerID, backupID string

	o.logState(runID, StateInit)

	runErr := o.run(ctx, runID, report, &ledgerID, &backupID)
	if runErr != nil {
		report.Status = StateError
		o.logger.Error("Consolidation run failed", zap.String("run_id", runID), zap.Error(runErr))
		o.rollback(ctx, runID, report, backupID, ledgerID)
	}

	o.finalize(ctx, runID, report)
	o.logState(runID, StateDone)
	return report
}

// run executes the tracked portion of a run. A returned error is a run-level
// failure: the caller marks the run ERROR and attempts rollback. Panics are
// folded into the same path so a ledger mutated halfway is still restored.
func (o *Orchestrator) run(ctx context.Context, runID string, report *Report, ledgerID, backupID *string) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("unhandled failure: %v", p)
		}
	}()

	if err := o.tracker.StartRun(runID); err != nil {
		return fmt.Errorf("start run: %w", err)
	}

	id, found, err := o.store.FindFileInFolder(ctx, o.cfg.ConsolidatedFolder, o.cfg.LedgerFileName)
	if err != nil {
		return fmt.Errorf("locate ledger: %w", err)
	}
	if !found {
		return fmt.Errorf("%w: %s in %s", domain.ErrLedgerNotFound, o.cfg.LedgerFileName, o.cfg.ConsolidatedFolder)
	}
	*ledgerID = id

	files, err := o.store.ListSourceFiles(ctx, o.cfg.SourceFolder)
	if err != nil {
		return fmt.Errorf("list source files: %w", err)
	}
	if len(files) == 0 {
		o.logger.Info("No source files to process", zap.String("run_id", runID))
		report.Status = StateNoFiles
		return nil
	}

	for _, f := range files {
		report.SourceFiles = append(report.SourceFiles, f.Name)
	}
	report.TotalFiles = len(files)

	// Full backup before any mutation. Rollback restores this copy.
	o.logState(runID, StateBackup)
	bid, err := o.store.CreateBackup(ctx, *ledgerID, fmt.Sprintf("consolidado_backup_%s.xlsx", runID[:8]))
	if err != nil {
		return fmt.Errorf("create ledger backup: %w", err)
	}
	*backupID = bid
	report.BackupObjectID = bid

	o.logState(runID, StateProcessing)
	for _, f := range files {
		o.processFile(ctx, f, *ledgerID, runID, report)
	}

	report.Status = DeriveStatus(report.TotalFiles, len(report.FilesWithErrors))
	return nil
}

// processFile runs the per-file pipeline. Errors here are contained: the file
// is marked failed in the report and the tracker, and the run moves on.
func (o *Orchestrator) processFile(ctx context.Context, f SourceFile, ledgerID, runID string, report *Report) {
	logger := o.logger.With(zap.String("run_id", runID), zap.String("file", f.Name))

	processed, err := o.tracker.IsFileProcessed(f.Name, f.ModifiedTime)
	if err != nil {
		logger.Error("Idempotency lookup failed", zap.Error(err))
		report.AddFileError(f.Name)
		return
	}
	if processed {
		logger.Info("File already processed, skipping",
			zap.String("modified_time", f.ModifiedTime))
		return
	}

	fileLogID, err := o.tracker.LogFileStart(runID, f.Name, f.ID, f.ModifiedTime)
	if err != nil {
		logger.Error("Failed to log file start", zap.Error(err))
		report.AddFileError(f.Name)
		return
	}

	rowsTotal, rowsValid, rowsError, err := o.consolidateFile(ctx, f, ledgerID, runID, fileLogID, report, logger)
	if err == nil {
		if logErr := o.tracker.LogFileFinish(fileLogID, fileStatusCompleted, rowsTotal, rowsValid, rowsError, ""); logErr != nil {
			logger.Error("Failed to log file finish", zap.Error(logErr))
		}
		logger.Info("File processed",
			zap.Int("rows_total", rowsTotal),
			zap.Int("rows_valid", rowsValid),
			zap.Int("rows_error", rowsError))
		return
	}

	report.AddFileError(f.Name)
	status := fileStatusError
	var schemaErr *domain.SchemaError
	if errors.As(err, &schemaErr) {
		status = fileStatusSchemaError
		report.AddRowError(f.Name, -1, err.Error())
	}
	logger.Error("File processing failed", zap.String("status", status), zap.Error(err))
	if logErr := o.tracker.LogFileFinish(fileLogID, status, rowsTotal, rowsValid, rowsError, err.Error()); logErr != nil {
		logger.Error("Failed to log file finish", zap.Error(logErr))
	}
}

// consolidateFile is the happy-path pipeline for one source file: stage,
// download, extract, upsert against the ledger snapshot, reconcile, persist,
// archive. Row counts are returned even on failure for the file log.
func (o *Orchestrator) consolidateFile(
	ctx context.Context,
	f SourceFile,
	ledgerID, runID string,
	fileLogID int64,
	report *Report,
	logger *zap.Logger,
) (rowsTotal, rowsValid, rowsError int, err error) {
	stagedID, err := o.lifecycle.MoveToInProcess(ctx, f.ID)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("move to in-process: %w", err)
	}

	localSource := filepath.Join(o.cfg.WorkDir, f.Name)
	if err := o.store.DownloadFile(ctx, stagedID, localSource); err != nil {
		return 0, 0, 0, fmt.Errorf("download source: %w", err)
	}
	defer os.Remove(localSource)

	headers, rows, err := o.reader.Read(localSource, o.cfg.SourceSheet, o.cfg.HeaderRow)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("read source: %w", err)
	}

	ok, missing, extra := o.reader.ValidateSchema(headers, o.cfg.ExpectedColumns)
	if logErr := o.tracker.LogFileSchema(fileLogID, ok, missing, extra); logErr != nil {
		logger.Error("Failed to log schema result", zap.Error(logErr))
	}
	if !ok {
		return len(rows), 0, 0, &domain.SchemaError{Missing: missing, Extra: extra}
	}

	records, rowErrors := o.extractRecords(rows, f.Name, runID, fileLogID, report)
	rowsTotal, rowsValid, rowsError = len(rows), len(records), len(rowErrors)
	report.SourceRowCount += rowsTotal
	report.ValidRowCount += rowsValid

	localLedger := filepath.Join(o.cfg.WorkDir, "consolidado_"+runID[:8]+".xlsx")
	if err := o.store.DownloadFile(ctx, ledgerID, localLedger); err != nil {
		return rowsTotal, rowsValid, rowsError, fmt.Errorf("download ledger: %w", err)
	}
	defer os.Remove(localLedger)

	ledgerRecords, err := o.loadLedgerSnapshot(localLedger)
	if err != nil {
		return rowsTotal, rowsValid, rowsError, fmt.Errorf("load ledger snapshot: %w", err)
	}

	result := o.engine.Merge(ledgerRecords, records)
	o.logUpsertActions(runID, fileLogID, records, result, logger)

	totals, err := o.reconciler.Check(records, result)
	if err != nil {
		return rowsTotal, rowsValid, rowsError, fmt.Errorf("reconcile: %w", err)
	}

	if err := o.writer.Write(result.Records, localLedger, o.cfg.LedgerSheet, o.cfg.HeaderRow, o.cfg.DataStartRow); err != nil {
		return rowsTotal, rowsValid, rowsError, fmt.Errorf("write ledger: %w", err)
	}
	if err := o.store.UpdateFile(ctx, ledgerID, localLedger); err != nil {
		return rowsTotal, rowsValid, rowsError, fmt.Errorf("upload ledger: %w", err)
	}

	report.AddUpsert(result)
	report.AddTotals(totals)

	if _, err := o.lifecycle.MoveToBackup(ctx, stagedID); err != nil {
		return rowsTotal, rowsValid, rowsError, fmt.Errorf("archive source: %w", err)
	}
	return rowsTotal, rowsValid, rowsError, nil
}

// extractRecords transforms raw rows, containing per-row validation failures.
// Failed rows are recorded in the report and the record-level audit log.
func (o *Orchestrator) extractRecords(rows []Row, sourceName, runID string, fileLogID int64, report *Report) ([]domain.InvoiceRecord, []ValidationError) {
	var records []domain.InvoiceRecord
	var rowErrors []ValidationError
	var batch []RecordLogEntry

	for _, row := range rows {
		record, err := o.transformer.TransformRow(row.Cells, row.Index, sourceName)
		if err != nil {
			rowErrors = append(rowErrors, ValidationError{File: sourceName, Row: row.Index, Error: err.Error()})
			report.AddRowError(sourceName, row.Index, err.Error())
			batch = append(batch, RecordLogEntry{
				RunID:        runID,
				FileLogID:    fileLogID,
				RowIndex:     row.Index,
				Action:       "VALIDATION_ERROR",
				ErrorMessage: err.Error(),
			})
			continue
		}
		records = append(records, record)
	}

	if len(batch) > 0 {
		if err := o.tracker.LogRecordsBatch(batch); err != nil {
			o.logger.Error("Failed to log validation errors", zap.Error(err))
		}
	}
	return records, rowErrors
}

// loadLedgerSnapshot reads the current ledger into records. Rows that fail
// transformation are skipped: the ledger is hand-edited and pre-dates strict
// validation, so unreadable rows must not block the run.
func (o *Orchestrator) loadLedgerSnapshot(path string) ([]domain.InvoiceRecord, error) {
	_, rows, err := o.reader.Read(path, o.cfg.LedgerSheet, o.cfg.HeaderRow)
	if err != nil {
		return nil, err
	}

	var records []domain.InvoiceRecord
	for _, row := range rows {
		record, err := o.transformer.TransformRow(row.Cells, row.Index, "consolidado")
		if err != nil {
			o.logger.Debug("Skipping unreadable ledger row",
				zap.Int("row", row.Index), zap.Error(err))
			continue
		}
		records = append(records, record)
	}
	return records, nil
}

// logUpsertActions writes one record-level audit row per incoming record with
// the action the engine decided.
func (o *Orchestrator) logUpsertActions(runID string, fileLogID int64, incoming []domain.InvoiceRecord, result UpsertResult, logger *zap.Logger) {
	resultByKey := make(map[domain.RecordKey]domain.InvoiceRecord, len(result.Records))
	for _, r := range result.Records {
		resultByKey[r.Key()] = r
	}

	batch := make([]RecordLogEntry, 0, len(incoming))
	for i, record := range incoming {
		action := "INSERT"
		if matched, ok := resultByKey[record.Key()]; ok {
			action = statusFromRecord(matched.Status)
		}
		batch = append(batch, RecordLogEntry{
			RunID:           runID,
			FileLogID:       fileLogID,
			RowIndex:        i,
			InvoiceNumber:   record.InvoiceNumber,
			ReferenceNumber: record.ReferenceNumber,
			Action:          action,
		})
	}

	if len(batch) > 0 {
		if err := o.tracker.LogRecordsBatch(batch); err != nil {
			logger.Error("Failed to log upsert actions", zap.Error(err))
		}
	}
}

// rollback restores the pre-run ledger backup after a run-level failure.
// The outcome is recorded in the report either way.
func (o *Orchestrator) rollback(ctx context.Context, runID string, report *Report, backupID, ledgerID string) {
	if backupID == "" || ledgerID == "" {
		return
	}
	if err := o.store.RestoreBackup(ctx, backupID, ledgerID); err != nil {
		o.logger.Error("Rollback failed, ledger may be inconsistent",
			zap.String("run_id", runID),
			zap.String("backup_id", backupID),
			zap.Error(err))
		return
	}
	report.RollbackDone = true
	o.logger.Info("Ledger restored from pre-run backup",
		zap.String("run_id", runID),
		zap.String("backup_id", backupID))
}

// finalize persists the run summary and sends the single end-of-run
// notification. Neither failure changes the run outcome.
func (o *Orchestrator) finalize(ctx context.Context, runID string, report *Report) {
	if err := o.tracker.FinishRun(runID, report.Status.String(), report.Counters()); err != nil {
		o.logger.Error("Failed to finalize tracked run", zap.String("run_id", runID), zap.Error(err))
	}

	o.logState(runID, StateNotify)
	template, ok := notificationTemplates[report.Status]
	if !ok {
		template = notificationTemplates[StateError]
	}
	msg := Message{
		Subject:  fmt.Sprintf("%s %s - %s", o.cfg.SubjectPrefix, report.Status, runID[:8]),
		Template: template,
		Vars:     report.TemplateVars(),
		To:       o.cfg.Recipients,
		CC:       o.cfg.CC,
		BCC:      o.cfg.BCC,
	}
	if err := o.notifier.Send(ctx, msg); err != nil {
		o.logger.Error("Notification failed", zap.String("run_id", runID), zap.Error(err))
	}
}

func (o *Orchestrator) logState(runID string, state RunState) {
	o.logger.Debug("Run state", zap.String("run_id", runID), zap.String("state", state.String()))
}
