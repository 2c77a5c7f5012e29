package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalYAML = `
storage:
  bucket: test-bucket
email:
  smtp_host: smtp.example.com
  sender: robot@example.com
  to:
    - ops@example.com
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadMinimal(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, "test-bucket", cfg.Storage.Bucket)
	assert.Equal(t, "consolidado.xlsx", cfg.Storage.LedgerFileName, "default applied")
	assert.Equal(t, "full", cfg.Consolidation.Mode)
	assert.Equal(t, 587, cfg.Email.SMTPPort)
	assert.Equal(t, 1, cfg.Excel.HeaderRow)
	assert.NotEmpty(t, cfg.Excel.ExpectedColumns)
	assert.Equal(t, "invoice_number", cfg.Excel.ColumnMapping["N° Factura"])
	assert.Equal(t, "data/etl_tracking.db", cfg.Tracking.Path)
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML+`
consolidation:
  mode: append_only
storage:
  bucket: test-bucket
  ledger_file_name: maestro.xlsx
logger:
  level: debug
`))
	require.NoError(t, err)
	assert.Equal(t, "append_only", cfg.Consolidation.Mode)
	assert.Equal(t, "maestro.xlsx", cfg.Storage.LedgerFileName)
	assert.Equal(t, "debug", cfg.Logger.Level)
}

func TestLoadEnvCredentials(t *testing.T) {
	t.Setenv("SMTP_USER", "robot")
	t.Setenv("SMTP_PASSWORD", "secreto")

	cfg, err := Load(writeConfig(t, minimalYAML))
	require.NoError(t, err)
	assert.Equal(t, "robot", cfg.Email.SMTPUser)
	assert.Equal(t, "secreto", cfg.Email.SMTPPassword)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  string
		wantErr string
	}{
		{
			name: "missing bucket",
			mutate: `
email:
  smtp_host: smtp.example.com
  sender: robot@example.com
  to: [ops@example.com]
`,
			wantErr: "storage.bucket",
		},
		{
			name: "bad mode",
			mutate: minimalYAML + `
consolidation:
  mode: sync
`,
			wantErr: "consolidation.mode",
		},
		{
			name: "missing sender",
			mutate: `
storage:
  bucket: b
email:
  smtp_host: smtp.example.com
  to: [ops@example.com]
`,
			wantErr: "email.sender",
		},
		{
			name: "invalid sender address",
			mutate: `
storage:
  bucket: b
email:
  smtp_host: smtp.example.com
  sender: not-an-email
  to: [ops@example.com]
`,
			wantErr: "invalid email format",
		},
		{
			name: "invalid recipient address",
			mutate: `
storage:
  bucket: b
email:
  smtp_host: smtp.example.com
  sender: robot@example.com
  to: [oops]
`,
			wantErr: "invalid email format",
		},
		{
			name: "missing recipients",
			mutate: `
storage:
  bucket: b
email:
  smtp_host: smtp.example.com
  sender: robot@example.com
`,
			wantErr: "email.to",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.mutate))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
