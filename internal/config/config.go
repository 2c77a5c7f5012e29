package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/HansBuddenberg-SmartBots/smartbots-etl-facturas/pkg/utils"
)

// Config holds all application configuration
type Config struct {
	Storage       StorageConfig       `mapstructure:"storage"`
	Excel         ExcelConfig         `mapstructure:"excel"`
	Consolidation ConsolidationConfig `mapstructure:"consolidation"`
	Email         EmailConfig         `mapstructure:"email"`
	Tracking      TrackingConfig      `mapstructure:"tracking"`
	Logger        LoggerConfig        `mapstructure:"logger"`
}

// StorageConfig holds the object store layout
type StorageConfig struct {
	Bucket             string `mapstructure:"bucket"`
	CredentialsFile    string `mapstructure:"credentials_file"`
	SourceFolder       string `mapstructure:"source_folder"`
	InProcessFolder    string `mapstructure:"in_process_folder"`
	BackupFolder       string `mapstructure:"backup_folder"`
	ConsolidatedFolder string `mapstructure:"consolidated_folder"`
	LedgerFileName     string `mapstructure:"ledger_file_name"`
	WorkDir            string `mapstructure:"work_dir"`
}

// ExcelConfig holds the spreadsheet layout and parsing settings
type ExcelConfig struct {
	SourceSheet     string            `mapstructure:"source_sheet"`
	LedgerSheet     string            `mapstructure:"ledger_sheet"`
	HeaderRow       int               `mapstructure:"header_row"`
	DataStartRow    int               `mapstructure:"data_start_row"`
	DateFormat      string            `mapstructure:"date_format"`
	ExpectedColumns []string          `mapstructure:"expected_columns"`
	ColumnMapping   map[string]string `mapstructure:"column_mapping"`
}

// ConsolidationConfig holds the upsert policy
type ConsolidationConfig struct {
	// Mode is "full" or "append_only"; the write-back policy is fixed per
	// deployment and never mixed
	Mode string `mapstructure:"mode"`
}

// EmailConfig holds notification settings
type EmailConfig struct {
	SMTPHost      string   `mapstructure:"smtp_host"`
	SMTPPort      int      `mapstructure:"smtp_port"`
	SMTPUser      string   `mapstructure:"smtp_user"`
	SMTPPassword  string   `mapstructure:"smtp_password"`
	Sender        string   `mapstructure:"sender"`
	To            []string `mapstructure:"to"`
	CC            []string `mapstructure:"cc"`
	BCC           []string `mapstructure:"bcc"`
	SubjectPrefix string   `mapstructure:"subject_prefix"`
}

// TrackingConfig holds the embedded audit database settings
type TrackingConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Storage defaults
	v.SetDefault("storage.source_folder", "facturas/pendientes")
	v.SetDefault("storage.in_process_folder", "facturas/pendientes/en-proceso")
	v.SetDefault("storage.backup_folder", "facturas/respaldo")
	v.SetDefault("storage.consolidated_folder", "consolidado")
	v.SetDefault("storage.ledger_file_name", "consolidado.xlsx")
	v.SetDefault("storage.work_dir", "/tmp")

	// Excel defaults follow the official transport-invoice layout
	v.SetDefault("excel.source_sheet", "Sheet1")
	v.SetDefault("excel.ledger_sheet", "Consolidado")
	v.SetDefault("excel.header_row", 1)
	v.SetDefault("excel.data_start_row", 2)
	v.SetDefault("excel.date_format", "02-01-2006")
	v.SetDefault("excel.expected_columns", []string{
		"N° Factura", "N° Referencia", "Transportista", "Fecha Factura",
		"Descripción", "Monto Neto", "IVA", "Monto Total", "Moneda",
	})
	v.SetDefault("excel.column_mapping", map[string]string{
		"N° Factura":                   "invoice_number",
		"N° Referencia":                "reference_number",
		"Transportista":                "carrier_name",
		"Nave":                         "ship_name",
		"Guías de Despacho":            "dispatch_guides",
		"Fecha Factura":                "invoice_date",
		"Descripción":                  "description",
		"Monto Neto":                   "net_amount",
		"IVA":                          "tax_amount",
		"Monto Total":                  "total_amount",
		"Moneda":                       "currency",
		"Fecha Recepción Digital":      "digital_receipt_date",
		"Aprobado por:":                "approved_by",
		"Estado Operaciones":           "operations_status",
		"Fecha Aprobación Operaciones": "operations_approval_date",
	})

	// Consolidation defaults
	v.SetDefault("consolidation.mode", "full")

	// Email defaults
	v.SetDefault("email.smtp_port", 587)
	v.SetDefault("email.subject_prefix", "[Consolidación Facturas]")

	// Tracking defaults
	v.SetDefault("tracking.path", "data/etl_tracking.db")
	v.SetDefault("tracking.max_open_conns", 25)
	v.SetDefault("tracking.max_idle_conns", 5)
	v.SetDefault("tracking.conn_max_lifetime", 5*time.Minute)

	// Logger defaults
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stdout")
	v.SetDefault("logger.format", "json")
}

// bindEnvVars binds environment variables to configuration
func bindEnvVars(v *viper.Viper) {
	// Sensitive credentials from environment
	v.BindEnv("storage.credentials_file", "GOOGLE_APPLICATION_CREDENTIALS")
	v.BindEnv("email.smtp_user", "SMTP_USER")
	v.BindEnv("email.smtp_password", "SMTP_PASSWORD")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Storage.Bucket == "" {
		return fmt.Errorf("storage.bucket is required")
	}
	if c.Storage.LedgerFileName == "" {
		return fmt.Errorf("storage.ledger_file_name is required")
	}
	if c.Consolidation.Mode != "full" && c.Consolidation.Mode != "append_only" {
		return fmt.Errorf("consolidation.mode must be \"full\" or \"append_only\", got %q", c.Consolidation.Mode)
	}
	if c.Email.Sender == "" {
		return fmt.Errorf("email.sender is required")
	}
	if err := utils.ValidateEmail(c.Email.Sender); err != nil {
		return fmt.Errorf("email.sender: %w", err)
	}
	if len(c.Email.To) == 0 {
		return fmt.Errorf("email.to requires at least one recipient")
	}
	for _, addr := range c.Email.To {
		if err := utils.ValidateEmail(addr); err != nil {
			return fmt.Errorf("email.to: %w", err)
		}
	}
	if c.Email.SMTPHost == "" {
		return fmt.Errorf("email.smtp_host is required")
	}
	if len(c.Excel.ExpectedColumns) == 0 {
		return fmt.Errorf("excel.expected_columns cannot be empty")
	}
	if len(c.Excel.ColumnMapping) == 0 {
		return fmt.Errorf("excel.column_mapping cannot be empty")
	}
	return nil
}
