package synchronizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	syncerrors "github.com/alexjbarnes/replica-sync/internal/errors"
	"github.com/alexjbarnes/replica-sync/internal/models"
)

// Reconciler decides and triggers the single action that brings one file
// toward agreement between the local and remote replicas.
type Reconciler struct {
	remote    RemoteReader
	store     LocalStore
	downloads DownloadEnqueuer
	uploads   UploadEnqueuer
	logger    *slog.Logger
	leases    *leases
}

// NewReconciler creates a reconciler with the given collaborators.
func NewReconciler(remote RemoteReader, store LocalStore, downloads DownloadEnqueuer, uploads UploadEnqueuer, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		remote:    remote,
		store:     store,
		downloads: downloads,
		uploads:   uploads,
		logger:    logger,
		leases:    newLeases(),
	}
}

// ReconcileFile loads a row by id and reconciles it. A row that does not
// exist returns errors.ErrFileNotFound.
func (r *Reconciler) ReconcileFile(ctx context.Context, id int64) (Outcome, error) {
	f, err := r.store.GetFileByID(id)
	if err != nil {
		return nil, fmt.Errorf("loading file %d: %w", id, err)
	}

	if f == nil {
		return nil, fmt.Errorf("file %d: %w", id, syncerrors.ErrFileNotFound)
	}

	return r.Reconcile(ctx, f)
}

// Reconcile compares f with the server and performs one of:
//
//  1. remote gone: drop the local row if it has not moved, FileNotFound
//  2. folder: nothing beyond the existence check, AlreadySynchronized
//  3. no local bytes: enqueue a download
//  4. both sides changed: record the conflict, ConflictDetected
//  5. remote changed: enqueue a download
//  6. local changed: enqueue a conflict-aware upload
//  7. otherwise: AlreadySynchronized
//
// Remote errors other than not-found are returned without retry. The call
// holds a lease on f.ID so concurrent passes over the same file serialize,
// and decides from the stored row as it is once the lease is held.
func (r *Reconciler) Reconcile(ctx context.Context, f *models.File) (Outcome, error) {
	release, err := r.leases.acquire(ctx, f.ID)
	if err != nil {
		return nil, err
	}
	defer release()

	current, err := r.store.GetFileByID(f.ID)
	if err != nil {
		return nil, fmt.Errorf("reloading file %d: %w", f.ID, err)
	}

	if current == nil {
		return FileNotFound{}, nil
	}

	// A row that moved since f was read keeps the snapshot; the remote-gone
	// path below re-checks the location before deleting anything.
	if current.SameLocation(f) {
		f = current
	}

	meta, err := r.remote.ReadFile(ctx, f.RemotePath, f.AccountName, f.SpaceID)
	if errors.Is(err, syncerrors.ErrRemoteNotFound) {
		return r.handleRemoteGone(f)
	}

	if err != nil {
		return nil, fmt.Errorf("reading remote metadata for %s: %w", f.RemotePath, err)
	}

	if f.IsFolder {
		return AlreadySynchronized{}, nil
	}

	if !f.IsAvailableLocally {
		return DownloadEnqueued{Job: r.downloads.EnqueueDownload(f.AccountName, f)}, nil
	}

	d := Compare(f, meta.Etag)

	switch {
	case d.Conflict():
		if f.EtagInConflict == "" {
			if err := r.store.SaveConflict(f.ID, meta.Etag); err != nil {
				return nil, fmt.Errorf("recording conflict for %s: %w", f.RemotePath, err)
			}

			r.logger.Info("conflict detected",
				slog.Int64("file_id", f.ID),
				slog.String("path", f.RemotePath),
				slog.String("local_etag", f.Etag),
				slog.String("remote_etag", meta.Etag),
			)
		}

		return ConflictDetected{Etag: meta.Etag}, nil

	case d.ChangedRemotely:
		return DownloadEnqueued{Job: r.downloads.EnqueueDownload(f.AccountName, f)}, nil

	case d.ChangedLocally:
		job := r.uploads.EnqueueUpload(models.UploadRequest{
			FileID:      f.ID,
			AccountName: f.AccountName,
			SpaceID:     f.SpaceID,
			LocalPath:   f.StoragePath,
			RemotePath:  f.RemotePath,
			Mode:        models.UploadModeConflictAware,
		})

		return UploadEnqueued{Job: job}, nil
	}

	return AlreadySynchronized{}, nil
}

// handleRemoteGone removes the local row for a file the server no longer
// has, unless the row has since moved to another path or space. A moved
// row belongs to whatever renamed it and is left for a later pass.
func (r *Reconciler) handleRemoteGone(f *models.File) (Outcome, error) {
	current, err := r.store.GetFileByID(f.ID)
	if err != nil {
		return nil, fmt.Errorf("reloading file %d: %w", f.ID, err)
	}

	if current == nil {
		return FileNotFound{}, nil
	}

	if !current.SameLocation(f) {
		r.logger.Debug("remote gone but local row moved, skipping delete",
			slog.Int64("file_id", f.ID),
			slog.String("path", f.RemotePath),
			slog.String("current_path", current.RemotePath),
		)

		return FileNotFound{}, nil
	}

	if err := r.store.DeleteFiles([]models.File{*current}, true); err != nil {
		return nil, fmt.Errorf("deleting local row for %s: %w", f.RemotePath, err)
	}

	r.logger.Info("removed local row for file deleted remotely",
		slog.Int64("file_id", f.ID),
		slog.String("path", f.RemotePath),
	)

	return FileNotFound{}, nil
}
