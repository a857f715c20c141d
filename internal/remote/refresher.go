package remote

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alexjbarnes/replica-sync/internal/models"
)

// FolderLister fetches a folder listing from the server.
type FolderLister interface {
	ListFolder(ctx context.Context, remotePath, account, spaceID string) (models.FileMetadata, []models.FileMetadata, error)
}

// FolderMerger persists a folder listing. *state.State implements it.
type FolderMerger interface {
	MergeFolder(account, space string, folder models.FileMetadata, children []models.FileMetadata) ([]models.File, error)
}

// Refresher lists remote folders and merges them into the local store.
type Refresher struct {
	lister FolderLister
	merger FolderMerger
	logger *slog.Logger
}

// NewRefresher creates a refresher.
func NewRefresher(lister FolderLister, merger FolderMerger, logger *slog.Logger) *Refresher {
	return &Refresher{lister: lister, merger: merger, logger: logger}
}

// RefreshFolder fetches the listing of remotePath, merges it into the
// store and returns the merged child rows. Nothing is written when the
// listing fails.
func (r *Refresher) RefreshFolder(ctx context.Context, remotePath, account, spaceID string) ([]models.File, error) {
	folder, children, err := r.lister.ListFolder(ctx, remotePath, account, spaceID)
	if err != nil {
		return nil, err
	}

	merged, err := r.merger.MergeFolder(account, spaceID, folder, children)
	if err != nil {
		return nil, fmt.Errorf("merging listing of %s: %w", remotePath, err)
	}

	r.logger.Debug("listing merged",
		slog.String("path", folder.RemotePath),
		slog.String("space", spaceID),
		slog.Int("remote_children", len(children)),
		slog.Int("local_children", len(merged)),
	)

	return merged, nil
}
