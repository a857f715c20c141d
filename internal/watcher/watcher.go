// Package watcher notices edits to downloaded files and stamps them as
// locally modified so the next reconciliation uploads them.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/alexjbarnes/replica-sync/internal/models"
	"github.com/fsnotify/fsnotify"
)

const (
	// watcherDirPerm is the permission mode for the data directory when
	// ensuring it exists before starting the watcher.
	watcherDirPerm = fs.FileMode(0o755)

	// debounceInterval is how often pending events are flushed, batching
	// rapid writes into a single check per file.
	debounceInterval = 500 * time.Millisecond
)

// Store is the part of the state store the watcher needs.
type Store interface {
	GetFileByStoragePath(localPath string) (*models.File, error)
	LocalFiles() ([]models.File, error)
	MarkLocallyModified(id int64) error
}

// OwnWrites recognises files the transfer queue wrote itself.
// *transfer.Storage implements it.
type OwnWrites interface {
	OwnWrite(abs string, info os.FileInfo) bool
}

// ChangeHandler is called for each file stamped as locally modified.
type ChangeHandler func(ctx context.Context, f models.File)

// Watcher monitors the data directory.
type Watcher struct {
	dir      string
	store    Store
	own      OwnWrites
	logger   *slog.Logger
	onChange ChangeHandler
	debounce time.Duration
}

// New creates a watcher for dir. own may be nil.
func New(dir string, store Store, own OwnWrites, logger *slog.Logger) *Watcher {
	return &Watcher{
		dir:      dir,
		store:    store,
		own:      own,
		logger:   logger,
		debounce: debounceInterval,
	}
}

// OnChange registers fn to run after a file is stamped as modified. It
// must be set before Scan or Watch is called.
func (w *Watcher) OnChange(fn ChangeHandler) {
	w.onChange = fn
}

// Scan compares every locally available file with the stat recorded at
// its last sync and stamps the ones that differ. It catches edits made
// while the daemon was not running.
func (w *Watcher) Scan(ctx context.Context) (int, error) {
	files, err := w.store.LocalFiles()
	if err != nil {
		return 0, fmt.Errorf("listing local files: %w", err)
	}

	changed := 0

	for i := range files {
		if err := ctx.Err(); err != nil {
			return changed, err
		}

		f := &files[i]
		if f.StoragePath == "" {
			continue
		}

		info, err := os.Stat(f.StoragePath)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				w.logger.Warn("stat failed during scan",
					slog.String("path", f.StoragePath),
					slog.String("error", err.Error()),
				)
			}

			continue
		}

		ok, err := w.check(ctx, f, info)
		if err != nil {
			return changed, err
		}

		if ok {
			changed++
		}
	}

	w.logger.Info("startup scan complete",
		slog.Int("files", len(files)),
		slog.Int("modified", changed),
	)

	return changed, nil
}

// check stamps f as modified when info differs from what was recorded at
// the last sync. It reports whether f was stamped.
func (w *Watcher) check(ctx context.Context, f *models.File, info os.FileInfo) (bool, error) {
	if info.IsDir() || f.IsFolder {
		return false, nil
	}

	if w.own != nil && w.own.OwnWrite(f.StoragePath, info) {
		return false, nil
	}

	if info.ModTime().UnixMilli() == f.StorageModTime && info.Size() == f.StorageSize {
		return false, nil
	}

	if err := w.store.MarkLocallyModified(f.ID); err != nil {
		return false, fmt.Errorf("stamping %s as modified: %w", f.RemotePath, err)
	}

	w.logger.Info("local change detected",
		slog.Int64("file_id", f.ID),
		slog.String("path", f.RemotePath),
	)

	if w.onChange != nil {
		w.onChange(ctx, *f)
	}

	return true, nil
}

// Watch blocks until ctx is cancelled, checking files as they change.
// Directories are watched recursively.
func (w *Watcher) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	if err := os.MkdirAll(w.dir, watcherDirPerm); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}

	if err := addRecursive(watcher, w.dir); err != nil {
		return fmt.Errorf("watching data dir: %w", err)
	}

	w.logger.Info("file watcher started", slog.String("dir", w.dir))

	pending := make(map[string]struct{})

	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("fsnotify events channel closed unexpectedly")
			}

			if shouldIgnore(event.Name) {
				continue
			}

			if event.Has(fsnotify.Create) {
				// Lstat so a symlink cannot pull a directory outside the
				// data dir into the watch set.
				info, err := os.Lstat(event.Name)
				if err == nil && info.IsDir() && info.Mode()&os.ModeSymlink == 0 {
					_ = addRecursive(watcher, event.Name)
					continue
				}
			}

			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
				pending[event.Name] = struct{}{}
			}

			if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				delete(pending, event.Name)
				_ = watcher.Remove(event.Name)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("fsnotify errors channel closed unexpectedly")
			}

			w.logger.Warn("watcher error", slog.String("error", err.Error()))

		case <-ticker.C:
			if len(pending) == 0 {
				continue
			}

			w.flush(ctx, pending)
			clear(pending)
		}
	}
}

func (w *Watcher) flush(ctx context.Context, pending map[string]struct{}) {
	for abs := range pending {
		f, err := w.store.GetFileByStoragePath(abs)
		if err != nil {
			w.logger.Warn("looking up changed file",
				slog.String("path", abs),
				slog.String("error", err.Error()),
			)

			continue
		}

		if f == nil {
			w.logger.Debug("ignoring change to untracked file", slog.String("path", abs))
			continue
		}

		info, err := os.Stat(abs)
		if err != nil {
			continue
		}

		if _, err := w.check(ctx, f, info); err != nil {
			w.logger.Warn("recording local change",
				slog.String("path", abs),
				slog.String("error", err.Error()),
			)
		}
	}
}

// addRecursive adds dir and every non-hidden directory below it.
func addRecursive(watcher *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if !d.IsDir() {
			return nil
		}

		if path != dir && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}

		return watcher.Add(path)
	})
}

// shouldIgnore returns true for hidden files, editor swap files and the
// transfer queue's temporary files.
func shouldIgnore(absPath string) bool {
	name := filepath.Base(absPath)

	if strings.HasPrefix(name, ".") {
		return true
	}

	return strings.HasSuffix(name, "~") || strings.HasSuffix(name, ".swp")
}
