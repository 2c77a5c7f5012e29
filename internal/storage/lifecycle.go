package storage

import (
	"context"
	"fmt"
	"path"
	"time"

	"go.uber.org/zap"

	"github.com/HansBuddenberg-SmartBots/smartbots-etl-facturas/internal/consolidate"
)

// LifecycleConfig names the staging folders a source file moves through
type LifecycleConfig struct {
	SourceFolder    string
	InProcessFolder string
	BackupFolder    string
}

// Lifecycle moves source files through their stages:
// source -> in-process -> backup/yyyy-mm-dd/hh.mm.ss.
// The timestamped backup folder groups every file of one run together.
type Lifecycle struct {
	store  consolidate.FileStore
	cfg    LifecycleConfig
	now    func() time.Time
	logger *zap.Logger
}

// NewLifecycle creates a file lifecycle manager
func NewLifecycle(store consolidate.FileStore, cfg LifecycleConfig, logger *zap.Logger) *Lifecycle {
	return &Lifecycle{store: store, cfg: cfg, now: time.Now, logger: logger}
}

// MoveToInProcess stages a file out of the source folder so a crashed run
// never reprocesses it as fresh input. Returns the file's new ID.
func (l *Lifecycle) MoveToInProcess(ctx context.Context, fileID string) (string, error) {
	if err := l.store.MoveFile(ctx, fileID, l.cfg.SourceFolder, l.cfg.InProcessFolder); err != nil {
		return "", fmt.Errorf("stage file %s: %w", fileID, err)
	}
	newID := path.Join(l.cfg.InProcessFolder, path.Base(fileID))
	l.logger.Info("File staged for processing",
		zap.String("file_id", fileID),
		zap.String("staged_id", newID))
	return newID, nil
}

// MoveToBackup archives a processed file under a timestamped backup folder.
// Returns the file's new ID.
func (l *Lifecycle) MoveToBackup(ctx context.Context, fileID string) (string, error) {
	now := l.now().UTC()
	backupFolder := path.Join(l.cfg.BackupFolder, now.Format("2006-01-02"), now.Format("15.04.05"))

	if err := l.store.MoveFile(ctx, fileID, l.cfg.InProcessFolder, backupFolder); err != nil {
		return "", fmt.Errorf("archive file %s: %w", fileID, err)
	}
	newID := path.Join(backupFolder, path.Base(fileID))
	l.logger.Info("File archived",
		zap.String("file_id", fileID),
		zap.String("backup_id", newID))
	return newID, nil
}
