package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/HansBuddenberg-SmartBots/smartbots-etl-facturas/internal/consolidate"
)

// GCSStore implements the file store on a Google Cloud Storage bucket.
// Folders are object-name prefixes; a move is a server-side copy plus delete,
// and a backup is a server-side copy into the consolidated prefix.
type GCSStore struct {
	client *storage.Client
	bucket string
	logger *zap.Logger
}

// NewGCSStore creates a store for the given bucket. When credentialsFile is
// empty, Application Default Credentials are used.
func NewGCSStore(ctx context.Context, bucket, credentialsFile string, logger *zap.Logger) (*GCSStore, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	logger.Info("Object store connected", zap.String("bucket", bucket))
	return &GCSStore{client: client, bucket: bucket, logger: logger}, nil
}

// Close releases the underlying client
func (s *GCSStore) Close() error {
	return s.client.Close()
}

// ListSourceFiles lists the xlsx objects directly under the folder prefix.
// Objects in nested prefixes (the staging folders live under the source
// folder) are excluded.
func (s *GCSStore) ListSourceFiles(ctx context.Context, folder string) ([]consolidate.SourceFile, error) {
	prefix := normalizePrefix(folder)
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: prefix, Delimiter: "/"})

	var files []consolidate.SourceFile
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list objects under %s: %w", prefix, err)
		}
		if attrs.Name == "" || attrs.Name == prefix {
			continue
		}
		name := path.Base(attrs.Name)
		if !strings.HasSuffix(strings.ToLower(name), ".xlsx") || strings.HasPrefix(name, "~") {
			continue
		}
		files = append(files, consolidate.SourceFile{
			ID:           attrs.Name,
			Name:         name,
			ModifiedTime: attrs.Updated.UTC().Format("2006-01-02T15:04:05Z"),
		})
	}

	s.logger.Info("Source files listed", zap.String("prefix", prefix), zap.Int("count", len(files)))
	return files, nil
}

// DownloadFile copies an object to a local path
func (s *GCSStore) DownloadFile(ctx context.Context, fileID, destPath string) error {
	r, err := s.client.Bucket(s.bucket).Object(fileID).NewReader(ctx)
	if err != nil {
		return fmt.Errorf("open object %s: %w", fileID, err)
	}
	defer r.Close()

	f, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", destPath, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		return fmt.Errorf("download %s: %w", fileID, err)
	}
	s.logger.Debug("Object downloaded", zap.String("object", fileID), zap.String("dest", destPath))
	return nil
}

// UpdateFile replaces an object's content with a local file
func (s *GCSStore) UpdateFile(ctx context.Context, fileID, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()

	w := s.client.Bucket(s.bucket).Object(fileID).NewWriter(ctx)
	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		return fmt.Errorf("upload %s: %w", fileID, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize upload %s: %w", fileID, err)
	}
	s.logger.Debug("Object updated", zap.String("object", fileID))
	return nil
}

// CreateBackup copies an object under a backup name next to the original
func (s *GCSStore) CreateBackup(ctx context.Context, fileID, backupName string) (string, error) {
	backupID := path.Join(path.Dir(fileID), backupName)
	if err := s.copyObject(ctx, fileID, backupID); err != nil {
		return "", fmt.Errorf("create backup of %s: %w", fileID, err)
	}
	s.logger.Info("Backup created", zap.String("original", fileID), zap.String("backup", backupID))
	return backupID, nil
}

// RestoreBackup copies a backup object back over the original
func (s *GCSStore) RestoreBackup(ctx context.Context, backupID, originalID string) error {
	if err := s.copyObject(ctx, backupID, originalID); err != nil {
		return fmt.Errorf("restore backup %s: %w", backupID, err)
	}
	s.logger.Info("Backup restored", zap.String("backup", backupID), zap.String("original", originalID))
	return nil
}

// MoveFile moves an object from one folder prefix to another
func (s *GCSStore) MoveFile(ctx context.Context, fileID, fromFolder, toFolder string) error {
	destID := normalizePrefix(toFolder) + path.Base(fileID)
	if err := s.copyObject(ctx, fileID, destID); err != nil {
		return fmt.Errorf("move %s to %s: %w", fileID, destID, err)
	}
	if err := s.client.Bucket(s.bucket).Object(fileID).Delete(ctx); err != nil {
		return fmt.Errorf("delete moved object %s: %w", fileID, err)
	}
	s.logger.Debug("Object moved", zap.String("from", fileID), zap.String("to", destID))
	return nil
}

// FindFileInFolder looks an object up by file name under a folder prefix
func (s *GCSStore) FindFileInFolder(ctx context.Context, folder, name string) (string, bool, error) {
	objectID := normalizePrefix(folder) + name
	_, err := s.client.Bucket(s.bucket).Object(objectID).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("stat object %s: %w", objectID, err)
	}
	return objectID, true, nil
}

func (s *GCSStore) copyObject(ctx context.Context, srcID, destID string) error {
	bkt := s.client.Bucket(s.bucket)
	_, err := bkt.Object(destID).CopierFrom(bkt.Object(srcID)).Run(ctx)
	return err
}

// normalizePrefix ensures a non-empty folder ends with exactly one slash
func normalizePrefix(folder string) string {
	folder = strings.Trim(folder, "/")
	if folder == "" {
		return ""
	}
	return folder + "/"
}
