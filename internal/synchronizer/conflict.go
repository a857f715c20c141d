package synchronizer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	syncerrors "github.com/alexjbarnes/replica-sync/internal/errors"
	"github.com/alexjbarnes/replica-sync/internal/models"
)

// Decision is the user's choice for a file in conflict.
type Decision int

const (
	// DecisionCancel leaves the conflict in place.
	DecisionCancel Decision = iota

	// DecisionKeepLocal overwrites the server version with the local bytes.
	DecisionKeepLocal

	// DecisionKeepBoth uploads the local bytes as a new sibling file and
	// downloads the server version into the original.
	DecisionKeepBoth

	// DecisionKeepServer overwrites the local bytes with the server version.
	DecisionKeepServer
)

var decisionNames = map[Decision]string{
	DecisionCancel:     "CANCEL",
	DecisionKeepLocal:  "KEEP_LOCAL",
	DecisionKeepBoth:   "KEEP_BOTH",
	DecisionKeepServer: "KEEP_SERVER",
}

func (d Decision) String() string {
	if name, ok := decisionNames[d]; ok {
		return name
	}

	return fmt.Sprintf("Decision(%d)", int(d))
}

// ParseDecision accepts a decision name, case-insensitively.
func ParseDecision(s string) (Decision, error) {
	want := strings.ToUpper(strings.TrimSpace(s))
	for d, name := range decisionNames {
		if name == want {
			return d, nil
		}
	}

	return 0, fmt.Errorf("%w: %q", syncerrors.ErrInvalidDecision, s)
}

// Resolution reports what Apply enqueued. Download and Upload are nil when
// no job was created or the same job was already in flight.
type Resolution struct {
	Decision Decision
	Skipped  bool
	Download *models.JobID
	Upload   *models.JobID
}

// Termination is how a conflict stopped being a conflict.
type Termination int

const (
	// TerminationResolved means the conflict marker was cleared.
	TerminationResolved Termination = iota

	// TerminationDeleted means the row was removed.
	TerminationDeleted
)

func (t Termination) String() string {
	if t == TerminationDeleted {
		return "deleted"
	}

	return "resolved"
}

// ConflictCoordinator tracks one file in conflict and applies the user's
// decision for it.
type ConflictCoordinator struct {
	fileID    int64
	store     ConflictStore
	downloads DownloadEnqueuer
	uploads   UploadEnqueuer
	logger    *slog.Logger
}

// NewConflictCoordinator creates a coordinator for fileID.
func NewConflictCoordinator(fileID int64, store ConflictStore, downloads DownloadEnqueuer, uploads UploadEnqueuer, logger *slog.Logger) *ConflictCoordinator {
	return &ConflictCoordinator{
		fileID:    fileID,
		store:     store,
		downloads: downloads,
		uploads:   uploads,
		logger:    logger.With(slog.Int64("file_id", fileID)),
	}
}

// File returns the current row, or nil once it has been deleted.
func (c *ConflictCoordinator) File() (*models.File, error) {
	return c.store.GetFileByID(c.fileID)
}

// Apply performs decision against the current row. A row that is gone or
// no longer in conflict is skipped without enqueuing anything.
func (c *ConflictCoordinator) Apply(ctx context.Context, decision Decision) (Resolution, error) {
	res := Resolution{Decision: decision}

	if _, ok := decisionNames[decision]; !ok {
		return res, fmt.Errorf("%w: %d", syncerrors.ErrInvalidDecision, int(decision))
	}

	if err := ctx.Err(); err != nil {
		return res, err
	}

	f, err := c.store.GetFileByID(c.fileID)
	if err != nil {
		return res, fmt.Errorf("loading file %d: %w", c.fileID, err)
	}

	if f == nil || !f.InConflict() {
		c.logger.Info("conflict no longer present, skipping decision", slog.String("decision", decision.String()))
		res.Skipped = true

		return res, nil
	}

	switch decision {
	case DecisionCancel:
	case DecisionKeepLocal:
		res.Upload = c.uploads.EnqueueUpload(c.uploadRequest(f, models.UploadModeOverwrite))
	case DecisionKeepBoth:
		res.Upload = c.uploads.EnqueueUpload(c.uploadRequest(f, models.UploadModeAsNew))
		res.Download = c.downloads.EnqueueDownload(f.AccountName, f)
	case DecisionKeepServer:
		res.Download = c.downloads.EnqueueDownload(f.AccountName, f)
	}

	c.logger.Info("conflict decision applied",
		slog.String("path", f.RemotePath),
		slog.String("decision", decision.String()),
	)

	return res, nil
}

func (c *ConflictCoordinator) uploadRequest(f *models.File, mode models.UploadMode) models.UploadRequest {
	return models.UploadRequest{
		FileID:      f.ID,
		AccountName: f.AccountName,
		SpaceID:     f.SpaceID,
		LocalPath:   f.StoragePath,
		RemotePath:  f.RemotePath,
		Mode:        mode,
	}
}

// Wait blocks until the conflict marker is cleared or the row is deleted.
func (c *ConflictCoordinator) Wait(ctx context.Context) (Termination, error) {
	changes, cancel := c.store.Subscribe(c.fileID)
	defer cancel()

	for {
		f, err := c.store.GetFileByID(c.fileID)
		if err != nil {
			return 0, fmt.Errorf("loading file %d: %w", c.fileID, err)
		}

		if f == nil {
			return TerminationDeleted, nil
		}

		if !f.InConflict() {
			return TerminationResolved, nil
		}

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-changes:
		}
	}
}
