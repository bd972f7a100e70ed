// Package archive uploads finished capture files to object storage, either
// inline after a run or through the Redis job queue.
package archive

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aseven02/streamget/pkg/storage"
)

// HistoryMarker records the archive URL next to the persisted outcome.
// Nil-safe at the call site: archival works without run history.
type HistoryMarker interface {
	MarkArchived(ctx context.Context, runID uuid.UUID, quality, archiveURL string) error
}

// UploadReporter counts successful uploads (e.g. agent metrics).
type UploadReporter interface {
	ArchiveUploaded()
}

// Archiver uploads one capture file per call.
type Archiver struct {
	s3       *storage.S3
	history  HistoryMarker
	reporter UploadReporter
	logger   *zap.Logger
}

// NewArchiver creates an archiver. history and reporter may be nil.
func NewArchiver(s3 *storage.S3, history HistoryMarker, reporter UploadReporter, logger *zap.Logger) *Archiver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archiver{s3: s3, history: history, reporter: reporter, logger: logger}
}

// ArchiveFile uploads one capture file under captures/{anchor}/ and
// returns the object URL. The local file is left in place.
func (a *Archiver) ArchiveFile(ctx context.Context, runID uuid.UUID, quality, anchor, filePath string) (string, error) {
	key := storage.CaptureKey(anchor, filepath.Base(filePath))
	url, err := a.s3.UploadFile(ctx, key, filePath)
	if err != nil {
		return "", fmt.Errorf("archive %s: %w", filePath, err)
	}
	a.logger.Info("capture archived",
		zap.String("run_id", runID.String()),
		zap.String("quality", quality),
		zap.String("key", key))
	if a.reporter != nil {
		a.reporter.ArchiveUploaded()
	}

	if a.history != nil {
		if err := a.history.MarkArchived(ctx, runID, quality, url); err != nil {
			a.logger.Warn("mark archived failed",
				zap.String("run_id", runID.String()), zap.Error(err))
		}
	}
	return url, nil
}
