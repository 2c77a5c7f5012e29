package consolidate

import (
	"context"

	"github.com/HansBuddenberg-SmartBots/smartbots-etl-facturas/internal/domain"
)

// SourceFile identifies one uploaded spreadsheet in the file store. Name plus
// ModifiedTime form the idempotency key.
type SourceFile struct {
	ID           string
	Name         string
	ModifiedTime string
}

// FileStore is the cloud object store the run reads from and writes to
type FileStore interface {
	ListSourceFiles(ctx context.Context, folder string) ([]SourceFile, error)
	DownloadFile(ctx context.Context, fileID, destPath string) error
	UpdateFile(ctx context.Context, fileID, localPath string) error
	CreateBackup(ctx context.Context, fileID, backupName string) (string, error)
	RestoreBackup(ctx context.Context, backupID, originalID string) error
	MoveFile(ctx context.Context, fileID, fromFolder, toFolder string) error
	FindFileInFolder(ctx context.Context, folder, name string) (string, bool, error)
}

// FileLifecycle moves a source file through its staging areas: source folder,
// in-process folder, timestamped backup folder. A move can rename the
// underlying object, so each call returns the file's current ID.
type FileLifecycle interface {
	MoveToInProcess(ctx context.Context, fileID string) (string, error)
	MoveToBackup(ctx context.Context, fileID string) (string, error)
}

// Row is one raw spreadsheet row: 1-based sheet index plus header-keyed cells
type Row struct {
	Index int
	Cells map[string]string
}

// SpreadsheetReader reads tabular rows out of a spreadsheet file
type SpreadsheetReader interface {
	// Read returns the header row and the data rows below it
	Read(path, sheet string, headerRow int) (headers []string, rows []Row, err error)

	// ValidateSchema checks the headers against the expected column set
	ValidateSchema(headers, expected []string) (ok bool, missing, extra []string)
}

// SpreadsheetWriter persists a full record set back to a spreadsheet file
type SpreadsheetWriter interface {
	Write(records []domain.InvoiceRecord, path, sheet string, headerRow, dataStartRow int) error
}

// Message is one outbound notification
type Message struct {
	Subject     string
	Template    string
	Vars        map[string]any
	To          []string
	CC          []string
	BCC         []string
	Attachments []string
}

// Notifier delivers the end-of-run notification. Failures are logged by the
// orchestrator and never escalate to run failure.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// RecordLogEntry is one record-level audit row
type RecordLogEntry struct {
	RunID           string
	FileLogID       int64
	RowIndex        int
	InvoiceNumber   string
	ReferenceNumber string
	Action          string
	ErrorMessage    string
}

// Tracker is the persistent audit and idempotency store. It records three
// granularities: run, file, record.
type Tracker interface {
	StartRun(runID string) error
	FinishRun(runID string, status string, counters map[string]any) error
	LogFileStart(runID, fileName, fileID, modifiedTime string) (int64, error)
	LogFileSchema(fileLogID int64, valid bool, missing, extra []string) error
	LogFileFinish(fileLogID int64, status string, rowsTotal, rowsValid, rowsError int, errorMessage string) error
	LogRecordsBatch(entries []RecordLogEntry) error
	IsFileProcessed(fileName, modifiedTime string) (bool, error)
	GetRunSummary(runID string) (map[string]any, error)
}
