// Package synchronizer decides, per file, whether to leave it alone,
// download, upload or flag a conflict, and applies that decision across
// folder trees. Transfers and persistence are delegated to the
// collaborators declared here.
package synchronizer

//go:generate mockgen -source=interfaces.go -destination=mocks_test.go -package=synchronizer

import (
	"context"

	"github.com/alexjbarnes/replica-sync/internal/models"
)

// RemoteReader fetches server metadata for one path. A missing file is
// reported as an error wrapping errors.ErrRemoteNotFound.
type RemoteReader interface {
	ReadFile(ctx context.Context, remotePath, account, spaceID string) (*models.FileMetadata, error)
}

// FolderRefresher lists a remote folder, merges the listing into the local
// store and returns the merged child rows.
type FolderRefresher interface {
	RefreshFolder(ctx context.Context, remotePath, account, spaceID string) ([]models.File, error)
}

// LocalStore is the subset of the state store the reconciler writes to.
type LocalStore interface {
	GetFileByID(id int64) (*models.File, error)
	DeleteFiles(files []models.File, keepBytes bool) error
	SaveConflict(id int64, etag string) error
}

// ConflictStore is what a ConflictCoordinator needs to observe its file.
type ConflictStore interface {
	GetFileByID(id int64) (*models.File, error)
	Subscribe(id int64) (<-chan struct{}, func())
}

// DownloadEnqueuer schedules a download. It returns nil when the same
// download is already in flight.
type DownloadEnqueuer interface {
	EnqueueDownload(account string, f *models.File) *models.JobID
}

// UploadEnqueuer schedules an upload. It returns nil when the same upload
// is already in flight.
type UploadEnqueuer interface {
	EnqueueUpload(req models.UploadRequest) *models.JobID
}

// FileReconciler reconciles a single file. *Reconciler implements it; the
// orchestrator depends on the interface so traversal can be tested alone.
type FileReconciler interface {
	Reconcile(ctx context.Context, f *models.File) (Outcome, error)
}
