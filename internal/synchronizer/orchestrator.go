package synchronizer

import (
	"context"
	"fmt"
	"log/slog"

	syncerrors "github.com/alexjbarnes/replica-sync/internal/errors"
	"github.com/alexjbarnes/replica-sync/internal/models"
)

// OutcomeHandler receives the outcome of every file the orchestrator
// reconciles.
type OutcomeHandler func(f models.File, o Outcome)

// Orchestrator walks a remote folder tree and reconciles its files
// according to a Mode.
type Orchestrator struct {
	refresher  FolderRefresher
	reconciler FileReconciler
	logger     *slog.Logger
	onOutcome  OutcomeHandler
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(refresher FolderRefresher, reconciler FileReconciler, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		refresher:  refresher,
		reconciler: reconciler,
		logger:     logger,
	}
}

// OnOutcome registers fn to be called after each file is reconciled. It
// must be set before the first SynchronizeFolder call.
func (o *Orchestrator) OnOutcome(fn OutcomeHandler) {
	o.onOutcome = fn
}

// SynchronizeFolder refreshes the listing of remotePath and then, for each
// child, recurses into it or reconciles it as mode allows. Traversal is
// depth first, so a child's listing is always fetched after its parent's.
// The first refresh or reconcile error stops the pass and is returned.
func (o *Orchestrator) SynchronizeFolder(ctx context.Context, remotePath, account, spaceID string, mode Mode) error {
	if !mode.valid() {
		return fmt.Errorf("%w: %d", syncerrors.ErrInvalidMode, int(mode))
	}

	children, err := o.refresher.RefreshFolder(ctx, remotePath, account, spaceID)
	if err != nil {
		return fmt.Errorf("refreshing %s: %w", remotePath, err)
	}

	o.logger.Debug("folder refreshed",
		slog.String("path", remotePath),
		slog.String("mode", mode.String()),
		slog.Int("children", len(children)),
	)

	for i := range children {
		if err := ctx.Err(); err != nil {
			return err
		}

		child := &children[i]

		if child.IsFolder {
			if !mode.recursesInto(child) {
				continue
			}

			if err := o.SynchronizeFolder(ctx, child.RemotePath, account, spaceID, mode); err != nil {
				return err
			}

			continue
		}

		if !mode.reconciles(child) {
			continue
		}

		outcome, err := o.reconciler.Reconcile(ctx, child)
		if err != nil {
			return fmt.Errorf("reconciling %s: %w", child.RemotePath, err)
		}

		o.logger.Debug("file reconciled",
			slog.Int64("file_id", child.ID),
			slog.String("path", child.RemotePath),
			slog.String("outcome", outcome.String()),
		)

		if o.onOutcome != nil {
			o.onOutcome(*child, outcome)
		}
	}

	return nil
}
