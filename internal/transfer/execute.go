package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	syncerrors "github.com/alexjbarnes/replica-sync/internal/errors"
	"github.com/alexjbarnes/replica-sync/internal/models"
	"github.com/alexjbarnes/replica-sync/internal/remote"
	"github.com/alexjbarnes/replica-sync/internal/state"
)

// maxCopySuffix bounds the "name (N).ext" search of an as-new upload.
const maxCopySuffix = 100

// download fetches the server version of f into its storage path, which
// is assigned on first download.
func (q *Queue) download(ctx context.Context, j *Job, f *models.File) error {
	dest := f.StoragePath
	if dest == "" {
		p, err := q.storage.Path(f.AccountName, f.SpaceID, f.RemotePath)
		if err != nil {
			return err
		}

		dest = p
	}

	var mtime time.Time
	if f.RemoteModTime > 0 {
		mtime = time.UnixMilli(f.RemoteModTime)
	}

	var etag string

	info, err := q.storage.Write(dest, mtime, func(w io.Writer) error {
		var err error
		etag, err = q.remote.Download(ctx, f.RemotePath, f.AccountName, f.SpaceID, w)
		if err == nil && etag == "" {
			err = fmt.Errorf("downloading %s: %w: no etag", f.RemotePath, syncerrors.ErrAPIResponse)
		}

		return err
	})
	if err != nil {
		return err
	}

	if err := q.store.MarkSynchronized(f.ID, syncedContent(etag, dest, info)); err != nil {
		return fmt.Errorf("recording download of %s: %w", f.RemotePath, err)
	}

	q.logger.Debug("downloaded",
		slog.String("job_id", string(j.ID)),
		slog.String("path", f.RemotePath),
		slog.String("etag", etag),
	)

	return nil
}

// upload sends the local bytes of f to its own remote path. A
// conflict-aware upload only succeeds while the server still holds f's
// etag. When it does not, the server's etag is recorded as the conflict
// marker and the job fails with errors.ErrUploadPrecondition.
func (q *Queue) upload(ctx context.Context, j *Job, f *models.File) error {
	src := localSource(j, f)

	in, info, err := openLocal(src)
	if err != nil {
		return err
	}
	defer in.Close()

	var pre remote.Precondition
	if j.Mode == models.UploadModeConflictAware {
		pre.IfMatch = f.Etag
	}

	etag, err := q.remote.Upload(ctx, f.RemotePath, f.AccountName, f.SpaceID, in, pre)
	if errors.Is(err, syncerrors.ErrUploadPrecondition) && j.Mode == models.UploadModeConflictAware {
		return q.recordRejectedUpload(ctx, f, err)
	}

	if err != nil {
		return err
	}

	if err := q.store.MarkSynchronized(f.ID, syncedContent(etag, src, info)); err != nil {
		return fmt.Errorf("recording upload of %s: %w", f.RemotePath, err)
	}

	return nil
}

func (q *Queue) recordRejectedUpload(ctx context.Context, f *models.File, cause error) error {
	meta, err := q.remote.ReadFile(ctx, f.RemotePath, f.AccountName, f.SpaceID)
	if err != nil {
		return errors.Join(cause, fmt.Errorf("reading server version after rejected upload: %w", err))
	}

	if err := q.store.SaveConflict(f.ID, meta.Etag); err != nil {
		return errors.Join(cause, err)
	}

	q.logger.Info("upload rejected, server changed underneath",
		slog.Int64("file_id", f.ID),
		slog.String("path", f.RemotePath),
		slog.String("remote_etag", meta.Etag),
	)

	return cause
}

// uploadAsNew snapshots the local bytes of f into a new sibling file and
// uploads it under the first free "name (N).ext" name, starting at 2. The
// new file gets its own row. f itself is left untouched.
func (q *Queue) uploadAsNew(ctx context.Context, j *Job, f *models.File) error {
	src := localSource(j, f)
	if _, err := os.Stat(src); err != nil {
		return noLocalBytes(src, err)
	}

	parent := models.ParentPath(f.RemotePath)

	for n := 2; n <= maxCopySuffix; n++ {
		candidate := path.Join(parent, copyName(path.Base(f.RemotePath), n))

		existing, err := q.store.GetFileByPath(f.AccountName, f.SpaceID, candidate)
		if err != nil {
			return err
		}

		if existing != nil {
			continue
		}

		created, err := q.uploadCopy(ctx, f, src, candidate)
		if errors.Is(err, syncerrors.ErrUploadPrecondition) {
			continue
		}

		if err != nil {
			return err
		}

		q.mu.Lock()
		j.ResultFileID = created.ID
		q.mu.Unlock()

		q.logger.Info("kept local copy as new file",
			slog.Int64("file_id", f.ID),
			slog.String("path", f.RemotePath),
			slog.String("copy", candidate),
		)

		return nil
	}

	return fmt.Errorf("no free copy name for %s after %d tries", f.RemotePath, maxCopySuffix-1)
}

func (q *Queue) uploadCopy(ctx context.Context, f *models.File, src, remotePath string) (*models.File, error) {
	dest, err := q.storage.Path(f.AccountName, f.SpaceID, remotePath)
	if err != nil {
		return nil, err
	}

	info, err := q.storage.Copy(src, dest)
	if err != nil {
		return nil, noLocalBytes(src, err)
	}

	in, err := os.Open(dest) //nolint:gosec // G304: dest comes from Storage.Path
	if err != nil {
		return nil, err
	}
	defer in.Close()

	etag, err := q.remote.Upload(ctx, remotePath, f.AccountName, f.SpaceID, in, remote.Precondition{IfNoneExists: true})
	if err != nil {
		os.Remove(dest)
		return nil, err
	}

	created := &models.File{
		ParentID:    f.ParentID,
		AccountName: f.AccountName,
		SpaceID:     f.SpaceID,
		RemotePath:  remotePath,
	}

	if err := q.store.SaveFile(created); err != nil {
		return nil, err
	}

	if err := q.store.MarkSynchronized(created.ID, syncedContent(etag, dest, info)); err != nil {
		return nil, err
	}

	return created, nil
}

// copyName turns "notes.txt" into "notes (n).txt". Dotfiles and names
// without an extension get the suffix at the end.
func copyName(name string, n int) string {
	ext := path.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	if stem == "" {
		stem, ext = name, ""
	}

	return stem + " (" + strconv.Itoa(n) + ")" + ext
}

func localSource(j *Job, f *models.File) string {
	if j.LocalPath != "" {
		return j.LocalPath
	}

	return f.StoragePath
}

func openLocal(p string) (*os.File, os.FileInfo, error) {
	if p == "" {
		return nil, nil, syncerrors.ErrNoLocalBytes
	}

	in, err := os.Open(p) //nolint:gosec // G304: p is a storage path recorded by the store
	if err != nil {
		return nil, nil, noLocalBytes(p, err)
	}

	info, err := in.Stat()
	if err != nil {
		in.Close()
		return nil, nil, err
	}

	return in, info, nil
}

func noLocalBytes(p string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%s: %w", p, syncerrors.ErrNoLocalBytes)
	}

	return err
}

func syncedContent(etag, storagePath string, info os.FileInfo) state.SyncedContent {
	return state.SyncedContent{
		Etag:        etag,
		StoragePath: storagePath,
		ModTime:     info.ModTime().UnixMilli(),
		Size:        info.Size(),
	}
}
