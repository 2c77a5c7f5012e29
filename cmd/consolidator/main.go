package main

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
	"github.com/subosito/gotenv"
	"go.uber.org/zap"

	"github.com/HansBuddenberg-SmartBots/smartbots-etl-facturas/internal/config"
	"github.com/HansBuddenberg-SmartBots/smartbots-etl-facturas/internal/consolidate"
	"github.com/HansBuddenberg-SmartBots/smartbots-etl-facturas/internal/excel"
	"github.com/HansBuddenberg-SmartBots/smartbots-etl-facturas/internal/notify"
	"github.com/HansBuddenberg-SmartBots/smartbots-etl-facturas/internal/storage"
	"github.com/HansBuddenberg-SmartBots/smartbots-etl-facturas/internal/tracker"
	"github.com/HansBuddenberg-SmartBots/smartbots-etl-facturas/internal/transform"
	"github.com/HansBuddenberg-SmartBots/smartbots-etl-facturas/pkg/database"
	"github.com/HansBuddenberg-SmartBots/smartbots-etl-facturas/pkg/utils"
)

// Set at build time via ldflags
var (
	version   = "1.0.0"
	buildDate = "unknown"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "consolidator",
	Short: "Consolidates transport invoice spreadsheets into a single ledger",
	Long: `Consolidator downloads pending invoice spreadsheets from the object
store, validates and upserts their rows into the consolidated ledger, and
records every run in a local audit database. Exactly one notification email
is sent per run.`,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute one consolidation run",
	Long: `Execute one full consolidation run: back up the ledger, process every
pending source file sequentially, reconcile totals, archive processed files
and send the end-of-run notification.

Exits non-zero when the run finishes in ERROR.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runConsolidation(cmd.Context())
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Display the application version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("Invoice Consolidator")
		fmt.Printf("Version:    %s\n", version)
		fmt.Printf("Build Date: %s\n", buildDate)
		fmt.Printf("Go Version: %s\n", runtime.Version())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "configs/config.yaml", "path to configuration file")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	// Local .env for credentials during development; absent in production
	_ = gotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runConsolidation(ctx context.Context) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
	})
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	defer logger.Sync()

	logger.Info("Starting invoice consolidation",
		zap.String("version", version),
		zap.String("bucket", cfg.Storage.Bucket),
		zap.String("mode", cfg.Consolidation.Mode))

	db, err := database.New(database.Config{
		Path:            cfg.Tracking.Path,
		MaxOpenConns:    cfg.Tracking.MaxOpenConns,
		MaxIdleConns:    cfg.Tracking.MaxIdleConns,
		ConnMaxLifetime: cfg.Tracking.ConnMaxLifetime,
	}, logger)
	if err != nil {
		logger.Error("Failed to open tracking database", zap.Error(err))
		return err
	}
	defer db.Close()

	auditTracker, err := tracker.New(db, logger)
	if err != nil {
		logger.Error("Failed to initialize tracker", zap.Error(err))
		return err
	}

	store, err := storage.NewGCSStore(ctx, cfg.Storage.Bucket, cfg.Storage.CredentialsFile, logger)
	if err != nil {
		logger.Error("Failed to connect to object store", zap.Error(err))
		return err
	}
	defer store.Close()

	lifecycle := storage.NewLifecycle(store, storage.LifecycleConfig{
		SourceFolder:    cfg.Storage.SourceFolder,
		InProcessFolder: cfg.Storage.InProcessFolder,
		BackupFolder:    cfg.Storage.BackupFolder,
	}, logger)

	mailer, err := notify.NewMailer(notify.Config{
		Host:     cfg.Email.SMTPHost,
		Port:     cfg.Email.SMTPPort,
		Username: cfg.Email.SMTPUser,
		Password: cfg.Email.SMTPPassword,
		Sender:   cfg.Email.Sender,
	}, logger)
	if err != nil {
		logger.Error("Failed to initialize mailer", zap.Error(err))
		return err
	}

	mode, err := consolidate.ParseUpsertMode(cfg.Consolidation.Mode)
	if err != nil {
		return err
	}

	transformer := transform.NewRowTransformer(transform.Config{
		ColumnMapping: cfg.Excel.ColumnMapping,
		DateFormat:    cfg.Excel.DateFormat,
	}, logger)

	orchestrator := consolidate.NewOrchestrator(
		store,
		lifecycle,
		excel.NewReader(logger),
		excel.NewWriter(ledgerColumns(cfg.Excel.ColumnMapping), cfg.Excel.DateFormat, logger),
		mailer,
		auditTracker,
		transformer,
		consolidate.NewEngine(mode, logger),
		consolidate.NewReconciler(logger),
		consolidate.Config{
			SourceFolder:       cfg.Storage.SourceFolder,
			InProcessFolder:    cfg.Storage.InProcessFolder,
			BackupFolder:       cfg.Storage.BackupFolder,
			ConsolidatedFolder: cfg.Storage.ConsolidatedFolder,
			LedgerFileName:     cfg.Storage.LedgerFileName,
			SourceSheet:        cfg.Excel.SourceSheet,
			LedgerSheet:        cfg.Excel.LedgerSheet,
			HeaderRow:          cfg.Excel.HeaderRow,
			DataStartRow:       cfg.Excel.DataStartRow,
			ExpectedColumns:    cfg.Excel.ExpectedColumns,
			WorkDir:            cfg.Storage.WorkDir,
			SubjectPrefix:      cfg.Email.SubjectPrefix,
			Recipients:         cfg.Email.To,
			CC:                 cfg.Email.CC,
			BCC:                cfg.Email.BCC,
		},
		logger,
	)

	report := orchestrator.Execute(ctx)
	logger.Info("Consolidation finished",
		zap.String("run_id", report.RunID),
		zap.String("status", report.Status.String()),
		zap.Int("files", report.TotalFiles),
		zap.Int("inserted", report.InsertedCount),
		zap.Int("updated", report.UpdatedCount),
		zap.Int("unchanged", report.UnchangedCount),
		zap.Int("errors", report.ErrorCount()))

	if report.Status == consolidate.StateError {
		return fmt.Errorf("consolidation run %s finished in ERROR", report.RunID)
	}
	return nil
}

// ledgerColumns derives the written column layout from the configured header
// mapping, in the canonical ledger order.
func ledgerColumns(mapping map[string]string) []excel.Column {
	canonicalOrder := []string{
		transform.FieldInvoiceNumber,
		transform.FieldReferenceNumber,
		transform.FieldCarrierName,
		transform.FieldShipName,
		transform.FieldDispatchGuides,
		transform.FieldInvoiceDate,
		transform.FieldDescription,
		transform.FieldNetAmount,
		transform.FieldTaxAmount,
		transform.FieldTotalAmount,
		transform.FieldCurrency,
		transform.FieldDigitalReceiptDate,
		transform.FieldApprovedBy,
		transform.FieldOperationsStatus,
		transform.FieldOperationsApprovalDate,
	}

	headerByField := make(map[string]string, len(mapping))
	for header, field := range mapping {
		headerByField[field] = header
	}

	columns := make([]excel.Column, 0, len(canonicalOrder))
	for _, field := range canonicalOrder {
		header, ok := headerByField[field]
		if !ok {
			header = field
		}
		columns = append(columns, excel.Column{Header: header, Field: field})
	}
	return columns
}
