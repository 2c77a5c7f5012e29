package consolidate

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/HansBuddenberg-SmartBots/smartbots-etl-facturas/internal/domain"
	"github.com/HansBuddenberg-SmartBots/smartbots-etl-facturas/internal/transform"
)

type mockStore struct {
	files         []SourceFile
	ledgerFound   bool
	backupCalls   int
	restoreCalls  int
	updatedFiles  []string
	listErr       error
	downloadErr   error
	restoredFrom  string
	restoredTo    string
	updateFileErr error
}

func (m *mockStore) ListSourceFiles(ctx context.Context, folder string) ([]SourceFile, error) {
	return m.files, m.listErr
}

func (m *mockStore) DownloadFile(ctx context.Context, fileID, destPath string) error {
	return m.downloadErr
}

func (m *mockStore) UpdateFile(ctx context.Context, fileID, localPath string) error {
	if m.updateFileErr != nil {
		return m.updateFileErr
	}
	m.updatedFiles = append(m.updatedFiles, fileID)
	return nil
}

func (m *mockStore) CreateBackup(ctx context.Context, fileID, backupName string) (string, error) {
	m.backupCalls++
	return "consolidado/" + backupName, nil
}

func (m *mockStore) RestoreBackup(ctx context.Context, backupID, originalID string) error {
	m.restoreCalls++
	m.restoredFrom = backupID
	m.restoredTo = originalID
	return nil
}

func (m *mockStore) MoveFile(ctx context.Context, fileID, fromFolder, toFolder string) error {
	return nil
}

func (m *mockStore) FindFileInFolder(ctx context.Context, folder, name string) (string, bool, error) {
	if !m.ledgerFound {
		return "", false, nil
	}
	return folder + "/" + name, true, nil
}

type mockLifecycle struct {
	staged   []string
	archived []string
}

func (m *mockLifecycle) MoveToInProcess(ctx context.Context, fileID string) (string, error) {
	m.staged = append(m.staged, fileID)
	return "in-process/" + fileID, nil
}

func (m *mockLifecycle) MoveToBackup(ctx context.Context, fileID string) (string, error) {
	m.archived = append(m.archived, fileID)
	return "backup/" + fileID, nil
}

// mockReader routes on the path: ledger downloads land on a path containing
// "consolidado_", everything else is a source file.
type mockReader struct {
	sourceHeaders []string
	sourceRows    []Row
	ledgerRows    []Row
	missing       []string
	readErr       error
	panicOnRead   bool
}

func (m *mockReader) Read(path, sheet string, headerRow int) ([]string, []Row, error) {
	if m.panicOnRead {
		panic("workbook corrupted")
	}
	if m.readErr != nil {
		return nil, nil, m.readErr
	}
	if strings.Contains(path, "consolidado_") {
		return m.sourceHeaders, m.ledgerRows, nil
	}
	return m.sourceHeaders, m.sourceRows, nil
}

func (m *mockReader) ValidateSchema(headers, expected []string) (bool, []string, []string) {
	return len(m.missing) == 0, m.missing, nil
}

type captureWriter struct {
	calls    int
	lastRows int
	writeErr error
}

func (w *captureWriter) Write(records []domain.InvoiceRecord, path, sheet string, headerRow, dataStartRow int) error {
	if w.writeErr != nil {
		return w.writeErr
	}
	w.calls++
	w.lastRows = len(records)
	return nil
}

// routingReader fails reads for one named file and delegates the rest
type routingReader struct {
	good    *mockReader
	badFile string
}

func (r *routingReader) Read(path, sheet string, headerRow int) ([]string, []Row, error) {
	if strings.Contains(path, r.badFile) {
		return nil, nil, fmt.Errorf("workbook damaged: %s", path)
	}
	return r.good.Read(path, sheet, headerRow)
}

func (r *routingReader) ValidateSchema(headers, expected []string) (bool, []string, []string) {
	return r.good.ValidateSchema(headers, expected)
}

type mockNotifier struct {
	messages []Message
	sendErr  error
}

func (m *mockNotifier) Send(ctx context.Context, msg Message) error {
	m.messages = append(m.messages, msg)
	return m.sendErr
}

type mockTracker struct {
	started        []string
	finished       map[string]string
	fileStatuses   map[string]string
	recordBatches  [][]RecordLogEntry
	processedFiles map[string]bool
	panicOnLookup  bool
}

func newMockTracker() *mockTracker {
	return &mockTracker{
		finished:       make(map[string]string),
		fileStatuses:   make(map[string]string),
		processedFiles: make(map[string]bool),
	}
}

func (m *mockTracker) StartRun(runID string) error {
	m.started = append(m.started, runID)
	return nil
}

func (m *mockTracker) FinishRun(runID, status string, counters map[string]any) error {
	m.finished[runID] = status
	return nil
}

func (m *mockTracker) LogFileStart(runID, fileName, fileID, modifiedTime string) (int64, error) {
	return int64(len(m.fileStatuses) + 1), nil
}

func (m *mockTracker) LogFileSchema(fileLogID int64, valid bool, missing, extra []string) error {
	return nil
}

func (m *mockTracker) LogFileFinish(fileLogID int64, status string, rowsTotal, rowsValid, rowsError int, errorMessage string) error {
	m.fileStatuses[status] = status
	return nil
}

func (m *mockTracker) LogRecordsBatch(entries []RecordLogEntry) error {
	m.recordBatches = append(m.recordBatches, entries)
	return nil
}

func (m *mockTracker) IsFileProcessed(fileName, modifiedTime string) (bool, error) {
	if m.panicOnLookup {
		panic("tracker connection lost")
	}
	return m.processedFiles[fileName], nil
}

func (m *mockTracker) GetRunSummary(runID string) (map[string]any, error) {
	return nil, nil
}

func testOrchestratorConfig() Config {
	return Config{
		SourceFolder:       "facturas/pendientes",
		InProcessFolder:    "facturas/pendientes/en-proceso",
		BackupFolder:       "facturas/respaldo",
		ConsolidatedFolder: "consolidado",
		LedgerFileName:     "consolidado.xlsx",
		SourceSheet:        "Sheet1",
		LedgerSheet:        "Consolidado",
		HeaderRow:          1,
		DataStartRow:       2,
		ExpectedColumns:    []string{"N° Factura", "N° Referencia", "Transportista", "Fecha Factura", "Monto Total"},
		WorkDir:            "/tmp",
		SubjectPrefix:      "[Consolidación]",
		Recipients:         []string{"ops@example.com"},
	}
}

func sourceRow(index int, invoice, reference, total string) Row {
	return Row{
		Index: index,
		Cells: map[string]string{
			"N° Factura":    invoice,
			"N° Referencia": reference,
			"Transportista": "Transportes Andinos",
			"Fecha Factura": "15-03-2025",
			"Monto Total":   total,
		},
	}
}

func newTestOrchestrator(store *mockStore, lifecycle *mockLifecycle, reader SpreadsheetReader, writer SpreadsheetWriter, notifier *mockNotifier, tracker *mockTracker) *Orchestrator {
	logger := zap.NewNop()
	transformer := transform.NewRowTransformer(transform.Config{
		ColumnMapping: map[string]string{
			"N° Factura":    transform.FieldInvoiceNumber,
			"N° Referencia": transform.FieldReferenceNumber,
			"Transportista": transform.FieldCarrierName,
			"Fecha Factura": transform.FieldInvoiceDate,
			"Monto Total":   transform.FieldTotalAmount,
		},
		DateFormat: "02-01-2006",
	}, logger)

	return NewOrchestrator(
		store, lifecycle, reader, writer, notifier, tracker,
		transformer,
		NewEngine(ModeFullUpsert, logger),
		NewReconciler(logger),
		testOrchestratorConfig(),
		logger,
	)
}

func TestExecuteSuccessfulRun(t *testing.T) {
	store := &mockStore{
		ledgerFound: true,
		files: []SourceFile{
			{ID: "facturas/pendientes/marzo.xlsx", Name: "marzo.xlsx", ModifiedTime: "2025-03-20T10:00:00Z"},
		},
	}
	lifecycle := &mockLifecycle{}
	reader := &mockReader{
		sourceHeaders: testOrchestratorConfig().ExpectedColumns,
		sourceRows: []Row{
			sourceRow(2, "F-001", "R-1", "119.000"),
			sourceRow(3, "F-002", "R-2", "50.000"),
		},
	}
	writer := &captureWriter{}
	notifier := &mockNotifier{}
	tracker := newMockTracker()

	o := newTestOrchestrator(store, lifecycle, reader, writer, notifier, tracker)
	report := o.Execute(context.Background())

	assert.Equal(t, StateSuccess, report.Status)
	assert.Equal(t, 2, report.InsertedCount)
	assert.Equal(t, 1, store.backupCalls, "ledger backed up before mutation")
	assert.Len(t, lifecycle.staged, 1)
	assert.Len(t, lifecycle.archived, 1)
	assert.Equal(t, "in-process/facturas/pendientes/marzo.xlsx", lifecycle.archived[0],
		"archive uses the staged object id")
	assert.Equal(t, 1, writer.calls)
	assert.Len(t, store.updatedFiles, 1)

	require.Len(t, notifier.messages, 1, "exactly one notification per run")
	assert.Equal(t, "success", notifier.messages[0].Template)
	assert.Contains(t, notifier.messages[0].Subject, "SUCCESS")

	assert.Equal(t, "SUCCESS", tracker.finished[report.RunID])
}

func TestExecuteNoFiles(t *testing.T) {
	store := &mockStore{ledgerFound: true}
	notifier := &mockNotifier{}
	tracker := newMockTracker()

	o := newTestOrchestrator(store, &mockLifecycle{}, &mockReader{}, &captureWriter{}, notifier, tracker)
	report := o.Execute(context.Background())

	assert.Equal(t, StateNoFiles, report.Status)
	assert.Equal(t, 0, store.backupCalls, "no backup when nothing will mutate")
	require.Len(t, notifier.messages, 1)
	assert.Equal(t, "empty", notifier.messages[0].Template)
}

func TestExecuteSkipsProcessedFile(t *testing.T) {
	store := &mockStore{
		ledgerFound: true,
		files: []SourceFile{
			{ID: "facturas/pendientes/marzo.xlsx", Name: "marzo.xlsx", ModifiedTime: "2025-03-20T10:00:00Z"},
		},
	}
	lifecycle := &mockLifecycle{}
	tracker := newMockTracker()
	tracker.processedFiles["marzo.xlsx"] = true
	notifier := &mockNotifier{}

	o := newTestOrchestrator(store, lifecycle, &mockReader{}, &captureWriter{}, notifier, tracker)
	report := o.Execute(context.Background())

	assert.Equal(t, StateSuccess, report.Status)
	assert.Empty(t, lifecycle.staged, "processed file is never staged")
	assert.Equal(t, 0, report.InsertedCount)
}

func TestExecuteSchemaError(t *testing.T) {
	store := &mockStore{
		ledgerFound: true,
		files: []SourceFile{
			{ID: "facturas/pendientes/malo.xlsx", Name: "malo.xlsx", ModifiedTime: "2025-03-20T10:00:00Z"},
		},
	}
	reader := &mockReader{
		sourceHeaders: []string{"Columna Rara"},
		missing:       []string{"N° Factura", "Monto Total"},
	}
	notifier := &mockNotifier{}
	tracker := newMockTracker()

	o := newTestOrchestrator(store, &mockLifecycle{}, reader, &captureWriter{}, notifier, tracker)
	report := o.Execute(context.Background())

	assert.Equal(t, StateError, report.Status, "single file failing means ERROR")
	assert.Contains(t, tracker.fileStatuses, "SCHEMA_ERROR")
	require.Len(t, notifier.messages, 1)
	assert.Equal(t, "error", notifier.messages[0].Template)
	require.NotEmpty(t, report.ValidationErrors)
	assert.Contains(t, report.ValidationErrors[0].Error, "missing columns")
}

func TestExecutePartial(t *testing.T) {
	store := &mockStore{
		ledgerFound: true,
		files: []SourceFile{
			{ID: "facturas/pendientes/bueno.xlsx", Name: "bueno.xlsx", ModifiedTime: "2025-03-20T10:00:00Z"},
			{ID: "facturas/pendientes/roto.xlsx", Name: "roto.xlsx", ModifiedTime: "2025-03-21T10:00:00Z"},
		},
	}
	reader := &routingReader{
		good: &mockReader{
			sourceHeaders: testOrchestratorConfig().ExpectedColumns,
			sourceRows:    []Row{sourceRow(2, "F-001", "R-1", "1000")},
		},
		badFile: "roto.xlsx",
	}
	notifier := &mockNotifier{}
	tracker := newMockTracker()

	o := newTestOrchestrator(store, &mockLifecycle{}, reader, &captureWriter{}, notifier, tracker)
	report := o.Execute(context.Background())

	assert.Equal(t, StatePartial, report.Status)
	assert.Equal(t, []string{"roto.xlsx"}, report.FilesWithErrors)
	require.Len(t, notifier.messages, 1)
	assert.Equal(t, "partial", notifier.messages[0].Template)
}

func TestExecuteLedgerMissing(t *testing.T) {
	store := &mockStore{ledgerFound: false}
	notifier := &mockNotifier{}
	tracker := newMockTracker()

	o := newTestOrchestrator(store, &mockLifecycle{}, &mockReader{}, &captureWriter{}, notifier, tracker)
	report := o.Execute(context.Background())

	assert.Equal(t, StateError, report.Status)
	assert.Equal(t, 0, store.restoreCalls, "nothing to roll back before backup")
	require.Len(t, notifier.messages, 1)
	assert.Equal(t, "error", notifier.messages[0].Template)
}

func TestExecutePanicRollsBack(t *testing.T) {
	store := &mockStore{
		ledgerFound: true,
		files: []SourceFile{
			{ID: "facturas/pendientes/marzo.xlsx", Name: "marzo.xlsx", ModifiedTime: "2025-03-20T10:00:00Z"},
		},
	}
	reader := &mockReader{panicOnRead: true}
	notifier := &mockNotifier{}
	tracker := newMockTracker()

	o := newTestOrchestrator(store, &mockLifecycle{}, reader, &captureWriter{}, notifier, tracker)
	report := o.Execute(context.Background())

	assert.Equal(t, StateError, report.Status)
	assert.Equal(t, 1, store.restoreCalls, "ledger restored from pre-run backup")
	assert.True(t, report.RollbackDone)
	assert.Equal(t, "consolidado/consolidado.xlsx", store.restoredTo)
}

func TestExecuteNotificationFailureDoesNotChangeOutcome(t *testing.T) {
	store := &mockStore{ledgerFound: true}
	notifier := &mockNotifier{sendErr: context.DeadlineExceeded}
	tracker := newMockTracker()

	o := newTestOrchestrator(store, &mockLifecycle{}, &mockReader{}, &captureWriter{}, notifier, tracker)
	report := o.Execute(context.Background())

	assert.Equal(t, StateNoFiles, report.Status)
}

func TestExecuteRowErrorsAreContained(t *testing.T) {
	store := &mockStore{
		ledgerFound: true,
		files: []SourceFile{
			{ID: "facturas/pendientes/marzo.xlsx", Name: "marzo.xlsx", ModifiedTime: "2025-03-20T10:00:00Z"},
		},
	}
	reader := &mockReader{
		sourceHeaders: testOrchestratorConfig().ExpectedColumns,
		sourceRows: []Row{
			sourceRow(2, "F-001", "R-1", "1000"),
			sourceRow(3, "F-002", "R-2", "N/A"),
			sourceRow(4, "", "R-3", "2000"),
		},
	}
	notifier := &mockNotifier{}
	tracker := newMockTracker()

	o := newTestOrchestrator(store, &mockLifecycle{}, reader, &captureWriter{}, notifier, tracker)
	report := o.Execute(context.Background())

	assert.Equal(t, StateSuccess, report.Status, "row errors do not fail the file")
	assert.Equal(t, 1, report.InsertedCount)
	assert.Equal(t, 2, report.ErrorCount())
	assert.Equal(t, 3, report.SourceRowCount)
	assert.Equal(t, 1, report.ValidRowCount)
}
