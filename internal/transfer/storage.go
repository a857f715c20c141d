package transfer

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	// dataDirPerm is the permission mode for directories created inside
	// the data directory.
	dataDirPerm = fs.FileMode(0o755)

	// dataFilePerm is the permission mode for downloaded files.
	dataFilePerm = fs.FileMode(0o644)
)

// mtimeMin and mtimeMax clamp server-provided modification times to a
// reasonable range.
var (
	mtimeMin = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	mtimeMax = time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC)
)

// Storage lays out file bytes under the data directory as
// <dir>/<account>/<space>/<remote path>. Writes go through a temporary
// file and a rename so readers never see partial content.
type Storage struct {
	dir string
	mu  sync.Mutex

	// written remembers the stamp of the last file this process wrote at
	// each path so the watcher can tell its own writes from user edits.
	writtenMu sync.Mutex
	written   map[string]stamp
}

type stamp struct {
	modTime int64
	size    int64
}

func stampOf(info os.FileInfo) stamp {
	return stamp{modTime: info.ModTime().UnixNano(), size: info.Size()}
}

// NewStorage creates a Storage rooted at dir, creating it if needed. dir
// must be absolute (resolved at config load time).
func NewStorage(dir string) (*Storage, error) {
	if dir == "" {
		return nil, fmt.Errorf("data directory must not be empty")
	}

	if err := os.MkdirAll(dir, dataDirPerm); err != nil {
		return nil, fmt.Errorf("creating data directory %s: %w", dir, err)
	}

	return &Storage{dir: dir, written: make(map[string]stamp)}, nil
}

// Dir returns the root of the data directory.
func (s *Storage) Dir() string {
	return s.dir
}

// Path maps a remote file to its location on disk, rejecting anything
// that would resolve outside the data directory.
func (s *Storage) Path(account, space, remotePath string) (string, error) {
	segs := []string{account}
	if space != "" {
		segs = append(segs, space)
	}

	segs = append(segs, strings.Split(strings.ReplaceAll(remotePath, "\\", "/"), "/")...)

	for _, seg := range segs {
		if seg == ".." || strings.ContainsRune(seg, 0) {
			return "", fmt.Errorf("invalid path segment in %s/%s%s", account, space, remotePath)
		}
	}

	abs := filepath.Join(append([]string{s.dir}, segs...)...)
	if !strings.HasPrefix(abs, s.dir+string(os.PathSeparator)) {
		return "", fmt.Errorf("path traversal blocked: %q resolves outside data dir", remotePath)
	}

	return abs, nil
}

// Write replaces the file at abs with whatever fill writes. If mtime is
// non-zero it is applied to the new file. The returned FileInfo describes
// the file as written.
func (s *Storage) Write(abs string, mtime time.Time, fill func(w io.Writer) error) (os.FileInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, dataDirPerm); err != nil {
		return nil, fmt.Errorf("creating directory for %s: %w", abs, err)
	}

	tmp, err := os.CreateTemp(dir, ".replica-*.tmp")
	if err != nil {
		return nil, fmt.Errorf("creating temp file: %w", err)
	}

	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := fill(tmp); err != nil {
		tmp.Close()
		return nil, err
	}

	if err := tmp.Chmod(dataFilePerm); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("setting permissions on %s: %w", abs, err)
	}

	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("closing temp file: %w", err)
	}

	if !mtime.IsZero() {
		mtime = clampMtime(mtime)
		if err := os.Chtimes(tmpName, mtime, mtime); err != nil {
			return nil, fmt.Errorf("setting mtime for %s: %w", abs, err)
		}
	}

	if err := os.Rename(tmpName, abs); err != nil {
		return nil, fmt.Errorf("moving %s into place: %w", abs, err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}

	s.writtenMu.Lock()
	s.written[abs] = stampOf(info)
	s.writtenMu.Unlock()

	return info, nil
}

// OwnWrite reports whether the file at abs is exactly as this Storage
// last wrote it.
func (s *Storage) OwnWrite(abs string, info os.FileInfo) bool {
	s.writtenMu.Lock()
	defer s.writtenMu.Unlock()

	st, ok := s.written[abs]

	return ok && st == stampOf(info)
}

// Copy writes a snapshot of src to dst.
func (s *Storage) Copy(src, dst string) (os.FileInfo, error) {
	in, err := os.Open(src) //nolint:gosec // G304: src is a storage path recorded by the store
	if err != nil {
		return nil, err
	}
	defer in.Close()

	return s.Write(dst, time.Time{}, func(w io.Writer) error {
		_, err := io.Copy(w, in)
		return err
	})
}

// clampMtime restricts a timestamp to the range [2000, 2100).
func clampMtime(t time.Time) time.Time {
	if t.Before(mtimeMin) {
		return mtimeMin
	}

	if t.After(mtimeMax) {
		return mtimeMax
	}

	return t
}
