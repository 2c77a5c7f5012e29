package tracker

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/HansBuddenberg-SmartBots/smartbots-etl-facturas/internal/consolidate"
	"github.com/HansBuddenberg-SmartBots/smartbots-etl-facturas/pkg/database"
)

// The audit schema has three granularities: one row per run, one row per
// source file per run, one row per processed or errored record. This is the
// durable contract for idempotency and audit.
const schema = `
CREATE TABLE IF NOT EXISTS execution_runs (
    run_uuid            TEXT PRIMARY KEY,
    started_at          TEXT NOT NULL,
    finished_at         TEXT,
    status              TEXT NOT NULL,
    total_files         INTEGER DEFAULT 0,
    total_records       INTEGER DEFAULT 0,
    inserted            INTEGER DEFAULT 0,
    updated             INTEGER DEFAULT 0,
    unchanged           INTEGER DEFAULT 0,
    errors              INTEGER DEFAULT 0,
    source_total_amount TEXT,
    output_total_amount TEXT,
    message             TEXT
);

CREATE TABLE IF NOT EXISTS file_log (
    id                  INTEGER PRIMARY KEY AUTOINCREMENT,
    run_uuid            TEXT NOT NULL REFERENCES execution_runs(run_uuid),
    file_name           TEXT NOT NULL,
    file_store_id       TEXT,
    file_modified_time  TEXT,
    schema_valid        INTEGER,
    missing_columns     TEXT,
    extra_columns       TEXT,
    rows_total          INTEGER DEFAULT 0,
    rows_valid          INTEGER DEFAULT 0,
    rows_error          INTEGER DEFAULT 0,
    status              TEXT NOT NULL,
    error_message       TEXT,
    started_at          TEXT NOT NULL,
    finished_at         TEXT,
    created_at          TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS record_log (
    id                  INTEGER PRIMARY KEY AUTOINCREMENT,
    run_uuid            TEXT NOT NULL REFERENCES execution_runs(run_uuid),
    file_log_id         INTEGER NOT NULL REFERENCES file_log(id),
    row_index           INTEGER NOT NULL,
    invoice_number      TEXT,
    reference_number    TEXT,
    action              TEXT NOT NULL,
    error_message       TEXT,
    created_at          TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_file_log_run ON file_log(run_uuid);
CREATE INDEX IF NOT EXISTS idx_file_log_idempotency ON file_log(file_name, file_modified_time, status);
CREATE INDEX IF NOT EXISTS idx_record_log_run ON record_log(run_uuid);
CREATE INDEX IF NOT EXISTS idx_record_log_file ON record_log(file_log_id);
CREATE INDEX IF NOT EXISTS idx_record_log_action ON record_log(action);
`

// SQLiteTracker persists run, file and record level audit rows and answers
// the idempotency query (file name + modified time + COMPLETED).
type SQLiteTracker struct {
	db     *database.DB
	logger *zap.Logger
}

// New creates the tracker, applying the audit schema
func New(db *database.DB, logger *zap.Logger) (*SQLiteTracker, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("apply tracker schema: %w", err)
	}
	return &SQLiteTracker{db: db, logger: logger}, nil
}

// StartRun records the start of a run
func (t *SQLiteTracker) StartRun(runID string) error {
	_, err := t.db.Exec(
		"INSERT INTO execution_runs (run_uuid, started_at, status) VALUES (?, ?, ?)",
		runID, now(), "RUNNING")
	if err != nil {
		return fmt.Errorf("record run start: %w", err)
	}
	t.logger.Info("Tracked run started", zap.String("run_id", runID))
	return nil
}

// FinishRun records the final status and summary counters of a run
func (t *SQLiteTracker) FinishRun(runID string, status string, counters map[string]any) error {
	_, err := t.db.Exec(
		`UPDATE execution_runs
		 SET finished_at=?, status=?,
		     total_files=?, total_records=?,
		     inserted=?, updated=?, unchanged=?, errors=?,
		     source_total_amount=?, output_total_amount=?,
		     message=?
		 WHERE run_uuid=?`,
		now(), status,
		counters["total_files"], counters["total_records"],
		counters["inserted"], counters["updated"], counters["unchanged"], counters["errors"],
		counters["source_total_amount"], counters["output_total_amount"],
		counters["message"],
		runID)
	if err != nil {
		return fmt.Errorf("record run finish: %w", err)
	}
	t.logger.Info("Tracked run finished", zap.String("run_id", runID), zap.String("status", status))
	return nil
}

// LogFileStart records the start of one file's processing and returns the
// file log id the later file-level calls reference
func (t *SQLiteTracker) LogFileStart(runID, fileName, fileID, modifiedTime string) (int64, error) {
	res, err := t.db.Exec(
		`INSERT INTO file_log
		 (run_uuid, file_name, file_store_id, file_modified_time, status, started_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		runID, fileName, fileID, modifiedTime, "PROCESSING", now())
	if err != nil {
		return 0, fmt.Errorf("record file start: %w", err)
	}
	fileLogID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get file log id: %w", err)
	}
	t.logger.Info("Tracked file started",
		zap.String("file_name", fileName), zap.Int64("file_log_id", fileLogID))
	return fileLogID, nil
}

// LogFileSchema records the schema validation outcome for a file
func (t *SQLiteTracker) LogFileSchema(fileLogID int64, valid bool, missing, extra []string) error {
	missingJSON, err := json.Marshal(missing)
	if err != nil {
		return fmt.Errorf("encode missing columns: %w", err)
	}
	extraJSON, err := json.Marshal(extra)
	if err != nil {
		return fmt.Errorf("encode extra columns: %w", err)
	}

	validInt := 0
	if valid {
		validInt = 1
	}
	_, err = t.db.Exec(
		"UPDATE file_log SET schema_valid=?, missing_columns=?, extra_columns=? WHERE id=?",
		validInt, string(missingJSON), string(extraJSON), fileLogID)
	if err != nil {
		return fmt.Errorf("record schema result: %w", err)
	}
	return nil
}

// LogFileFinish records a file's terminal status and row counts
func (t *SQLiteTracker) LogFileFinish(fileLogID int64, status string, rowsTotal, rowsValid, rowsError int, errorMessage string) error {
	var errMsg sql.NullString
	if errorMessage != "" {
		errMsg = sql.NullString{String: errorMessage, Valid: true}
	}
	_, err := t.db.Exec(
		`UPDATE file_log
		 SET status=?, finished_at=?, rows_total=?, rows_valid=?, rows_error=?, error_message=?
		 WHERE id=?`,
		status, now(), rowsTotal, rowsValid, rowsError, errMsg, fileLogID)
	if err != nil {
		return fmt.Errorf("record file finish: %w", err)
	}
	t.logger.Info("Tracked file finished",
		zap.Int64("file_log_id", fileLogID),
		zap.String("status", status),
		zap.Int("rows_total", rowsTotal))
	return nil
}

// LogRecordsBatch inserts record-level audit rows in one transaction
func (t *SQLiteTracker) LogRecordsBatch(entries []consolidate.RecordLogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	err := t.db.WithTransaction(func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(
			`INSERT INTO record_log
			 (run_uuid, file_log_id, row_index, invoice_number, reference_number, action, error_message)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, e := range entries {
			if _, err := stmt.Exec(
				e.RunID, e.FileLogID, e.RowIndex,
				nullable(e.InvoiceNumber), nullable(e.ReferenceNumber),
				e.Action, nullable(e.ErrorMessage)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("record batch: %w", err)
	}
	t.logger.Debug("Tracked record batch", zap.Int("count", len(entries)))
	return nil
}

// IsFileProcessed answers the idempotency query: was this exact file name and
// modification time already completed in any run
func (t *SQLiteTracker) IsFileProcessed(fileName, modifiedTime string) (bool, error) {
	var one int
	err := t.db.QueryRow(
		`SELECT 1 FROM file_log
		 WHERE file_name=? AND file_modified_time=? AND status='COMPLETED'
		 LIMIT 1`,
		fileName, modifiedTime).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("idempotency lookup: %w", err)
	}
	return true, nil
}

// GetRunSummary returns the persisted run-level summary
func (t *SQLiteTracker) GetRunSummary(runID string) (map[string]any, error) {
	row := t.db.QueryRow(
		`SELECT run_uuid, started_at, finished_at, status,
		        total_files, total_records, inserted, updated, unchanged, errors,
		        source_total_amount, output_total_amount, message
		 FROM execution_runs WHERE run_uuid=?`, runID)

	var (
		runUUID, startedAt, status                    string
		finishedAt, sourceTotal, outputTotal, message sql.NullString

		totalFiles, totalRecords, inserted, updated, unchanged, errCount int
	)
	err := row.Scan(&runUUID, &startedAt, &finishedAt, &status,
		&totalFiles, &totalRecords, &inserted, &updated, &unchanged, &errCount,
		&sourceTotal, &outputTotal, &message)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run summary: %w", err)
	}

	return map[string]any{
		"run_uuid":            runUUID,
		"started_at":          startedAt,
		"finished_at":         finishedAt.String,
		"status":              status,
		"total_files":         totalFiles,
		"total_records":       totalRecords,
		"inserted":            inserted,
		"updated":             updated,
		"unchanged":           unchanged,
		"errors":              errCount,
		"source_total_amount": sourceTotal.String,
		"output_total_amount": outputTotal.String,
		"message":             message.String,
	}, nil
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func nullable(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
