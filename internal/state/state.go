package state

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	syncerrors "github.com/alexjbarnes/replica-sync/internal/errors"
	"github.com/alexjbarnes/replica-sync/internal/models"
	bolt "go.etcd.io/bbolt"
	"golang.org/x/text/unicode/norm"
)

const (
	// stateDirPerm is the permission mode for the state directory.
	stateDirPerm = fs.FileMode(0o700)

	// stateFilePerm is the permission mode for the state database file.
	stateFilePerm = fs.FileMode(0o600)

	// stateOpenTimeout is the maximum time to wait for the bolt database lock.
	stateOpenTimeout = 5 * time.Second
)

var (
	appBucket     = []byte("app")
	filesBucket   = []byte("files")
	pathsBucket   = []byte("paths")
	storageBucket = []byte("storage")

	clockKey = []byte("clock")
)

// SyncedContent describes the bytes a completed transfer left on disk.
type SyncedContent struct {
	Etag        string
	StoragePath string
	ModTime     int64
	Size        int64
}

// State wraps a bbolt database holding the local file records.
//
// Rows are keyed by id in the files bucket. The paths bucket indexes
// account/space/path to id and the storage bucket indexes local byte
// locations to id. Every public write is a single Update transaction.
type State struct {
	db *bolt.DB

	subsMu sync.Mutex
	subs   map[int64]map[chan struct{}]struct{}
}

// LoadAt opens a state database at the given path, creating it if it
// does not exist.
func LoadAt(dbPath string) (*State, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), stateDirPerm); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := bolt.Open(dbPath, stateFilePerm, &bolt.Options{Timeout: stateOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{appBucket, filesBucket, pathsBucket, storageBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing state db: %w", err)
	}

	return &State{
		db:   db,
		subs: make(map[int64]map[chan struct{}]struct{}),
	}, nil
}

// Close closes the database.
func (s *State) Close() error {
	return s.db.Close()
}

// NormalizePath returns the canonical form of a remote path used in keys:
// NFC, slash-rooted, cleaned.
func NormalizePath(p string) string {
	p = norm.NFC.String(strings.ReplaceAll(p, "\\", "/"))
	return path.Clean("/" + p)
}

func pathKey(account, space, p string) []byte {
	return []byte(account + "\x00" + space + "\x00" + NormalizePath(p))
}

func folderPrefix(account, space, folder string) []byte {
	folder = NormalizePath(folder)
	if folder != "/" {
		folder += "/"
	}

	return []byte(account + "\x00" + space + "\x00" + folder)
}

func itob(v int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))

	return b
}

func btoi(b []byte) int64 {
	return int64(binary.BigEndian.Uint64(b))
}

// Tick returns the next value of the store's monotonic clock. Values are
// wall-clock milliseconds when the wall clock moves forward and last+1
// otherwise, so two ticks never compare equal or go backwards.
func (s *State) Tick() (int64, error) {
	var v int64

	err := s.db.Update(func(tx *bolt.Tx) error {
		var err error
		v, err = tick(tx)

		return err
	})

	return v, err
}

func tick(tx *bolt.Tx) (int64, error) {
	b := tx.Bucket(appBucket)

	var last int64
	if raw := b.Get(clockKey); raw != nil {
		last = btoi(raw)
	}

	next := time.Now().UnixMilli()
	if next <= last {
		next = last + 1
	}

	return next, b.Put(clockKey, itob(next))
}

func getFile(tx *bolt.Tx, id int64) (*models.File, error) {
	v := tx.Bucket(filesBucket).Get(itob(id))
	if v == nil {
		return nil, nil
	}

	f := &models.File{}
	if err := json.Unmarshal(v, f); err != nil {
		return nil, fmt.Errorf("decoding file %d: %w", id, err)
	}

	return f, nil
}

func getFileByKey(tx *bolt.Tx, key []byte) (*models.File, error) {
	raw := tx.Bucket(pathsBucket).Get(key)
	if raw == nil {
		return nil, nil
	}

	return getFile(tx, btoi(raw))
}

// putFile writes f and keeps the path and storage indexes in step with
// any previous version of the row.
func putFile(tx *bolt.Tx, f *models.File) error {
	files := tx.Bucket(filesBucket)
	paths := tx.Bucket(pathsBucket)
	storage := tx.Bucket(storageBucket)

	f.RemotePath = NormalizePath(f.RemotePath)

	if f.ID == 0 {
		seq, err := files.NextSequence()
		if err != nil {
			return fmt.Errorf("allocating file id: %w", err)
		}

		f.ID = int64(seq)
	} else {
		prev, err := getFile(tx, f.ID)
		if err != nil {
			return err
		}

		if prev != nil {
			if !prev.SameLocation(f) {
				if err := paths.Delete(pathKey(prev.AccountName, prev.SpaceID, prev.RemotePath)); err != nil {
					return err
				}
			}

			if prev.StoragePath != "" && prev.StoragePath != f.StoragePath {
				if err := storage.Delete([]byte(prev.StoragePath)); err != nil {
					return err
				}
			}
		}
	}

	data, err := json.Marshal(f)
	if err != nil {
		return err
	}

	if err := files.Put(itob(f.ID), data); err != nil {
		return err
	}

	if err := paths.Put(pathKey(f.AccountName, f.SpaceID, f.RemotePath), itob(f.ID)); err != nil {
		return err
	}

	if f.StoragePath != "" {
		return storage.Put([]byte(f.StoragePath), itob(f.ID))
	}

	return nil
}

func deleteFile(tx *bolt.Tx, f *models.File) error {
	if err := tx.Bucket(filesBucket).Delete(itob(f.ID)); err != nil {
		return err
	}

	key := pathKey(f.AccountName, f.SpaceID, f.RemotePath)
	if raw := tx.Bucket(pathsBucket).Get(key); raw != nil && btoi(raw) == f.ID {
		if err := tx.Bucket(pathsBucket).Delete(key); err != nil {
			return err
		}
	}

	if f.StoragePath != "" {
		return tx.Bucket(storageBucket).Delete([]byte(f.StoragePath))
	}

	return nil
}

// descendants returns every row below folder, at any depth.
func descendants(tx *bolt.Tx, account, space, folder string) ([]*models.File, error) {
	prefix := folderPrefix(account, space, folder)

	var out []*models.File

	c := tx.Bucket(pathsBucket).Cursor()
	for k, v := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, v = c.Next() {
		f, err := getFile(tx, btoi(v))
		if err != nil {
			return nil, err
		}

		if f != nil && f.RemotePath != NormalizePath(folder) {
			out = append(out, f)
		}
	}

	return out, nil
}

// GetFileByID returns the file row for id, or nil if not found.
func (s *State) GetFileByID(id int64) (*models.File, error) {
	var f *models.File

	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		f, err = getFile(tx, id)

		return err
	})

	return f, err
}

// GetFileByPath returns the row at a remote path, or nil if not found.
func (s *State) GetFileByPath(account, space, remotePath string) (*models.File, error) {
	var f *models.File

	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		f, err = getFileByKey(tx, pathKey(account, space, remotePath))

		return err
	})

	return f, err
}

// GetFileByStoragePath returns the row whose bytes live at localPath, or
// nil if no row claims it.
func (s *State) GetFileByStoragePath(localPath string) (*models.File, error) {
	var f *models.File

	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(storageBucket).Get([]byte(localPath))
		if raw == nil {
			return nil
		}

		var err error
		f, err = getFile(tx, btoi(raw))

		return err
	})

	return f, err
}

// SaveFile inserts or updates a row. A zero ID allocates a new one, which
// is written back into f.
func (s *State) SaveFile(f *models.File) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return putFile(tx, f)
	})
	if err != nil {
		return fmt.Errorf("saving file %s: %w", f.RemotePath, err)
	}

	s.notify(f.ID)

	return nil
}

// DeleteFiles removes the given rows and, for folders, every row below
// them. Rows already gone are ignored. Unless keepBytes is set, the local
// bytes of each removed file are deleted too.
func (s *State) DeleteFiles(files []models.File, keepBytes bool) error {
	var removed []*models.File

	err := s.db.Update(func(tx *bolt.Tx) error {
		for i := range files {
			f, err := getFile(tx, files[i].ID)
			if err != nil {
				return err
			}

			if f == nil {
				continue
			}

			victims := []*models.File{f}

			if f.IsFolder {
				below, err := descendants(tx, f.AccountName, f.SpaceID, f.RemotePath)
				if err != nil {
					return err
				}

				victims = append(victims, below...)
			}

			for _, v := range victims {
				if err := deleteFile(tx, v); err != nil {
					return fmt.Errorf("deleting file %d: %w", v.ID, err)
				}
			}

			removed = append(removed, victims...)
		}

		return nil
	})
	if err != nil {
		return err
	}

	for _, f := range removed {
		if !keepBytes && f.StoragePath != "" && !f.IsFolder {
			if err := os.Remove(f.StoragePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("removing local bytes of %s: %w", f.RemotePath, err)
			}
		}

		s.notify(f.ID)
	}

	return nil
}

// SaveConflict records etag as the divergent remote version of a file.
// An existing marker is never overwritten and folders are ignored.
func (s *State) SaveConflict(id int64, etag string) error {
	err := s.update(id, func(f *models.File) bool {
		if f.IsFolder || f.EtagInConflict != "" {
			return false
		}

		f.EtagInConflict = etag

		return true
	})
	if err != nil {
		return fmt.Errorf("saving conflict for file %d: %w", id, err)
	}

	return nil
}

// ClearConflict removes the conflict marker from a file.
func (s *State) ClearConflict(id int64) error {
	return s.update(id, func(f *models.File) bool {
		if f.EtagInConflict == "" {
			return false
		}

		f.EtagInConflict = ""

		return true
	})
}

// MarkLocallyModified stamps the file's local modification time with the
// next clock tick.
func (s *State) MarkLocallyModified(id int64) error {
	return s.updateTx(id, func(tx *bolt.Tx, f *models.File) (bool, error) {
		ts, err := tick(tx)
		if err != nil {
			return false, err
		}

		f.LocalModificationTimestamp = ts

		return true, nil
	})
}

// MarkSynchronized records a completed transfer: the bytes at
// c.StoragePath now match remote version c.Etag. The conflict marker is
// cleared and the data sync date moves past any earlier local change.
func (s *State) MarkSynchronized(id int64, c SyncedContent) error {
	return s.updateTx(id, func(tx *bolt.Tx, f *models.File) (bool, error) {
		ts, err := tick(tx)
		if err != nil {
			return false, err
		}

		f.Etag = c.Etag
		f.EtagInConflict = ""
		f.LastSyncDateForData = ts
		f.IsAvailableLocally = true
		f.StoragePath = c.StoragePath
		f.StorageModTime = c.ModTime
		f.StorageSize = c.Size

		return true, nil
	})
}

// SetAvailableOffline toggles the "keep available offline" flag.
func (s *State) SetAvailableOffline(id int64, offline bool) error {
	return s.update(id, func(f *models.File) bool {
		if f.AvailableOffline == offline {
			return false
		}

		f.AvailableOffline = offline

		return true
	})
}

func (s *State) update(id int64, fn func(f *models.File) bool) error {
	return s.updateTx(id, func(_ *bolt.Tx, f *models.File) (bool, error) {
		return fn(f), nil
	})
}

// updateTx applies fn to row id inside one transaction. fn reports
// whether it changed the row; unchanged rows are not rewritten.
func (s *State) updateTx(id int64, fn func(tx *bolt.Tx, f *models.File) (bool, error)) error {
	changed := false

	err := s.db.Update(func(tx *bolt.Tx) error {
		f, err := getFile(tx, id)
		if err != nil {
			return err
		}

		if f == nil {
			return fmt.Errorf("file %d: %w", id, syncerrors.ErrFileNotFound)
		}

		changed, err = fn(tx, f)
		if err != nil || !changed {
			return err
		}

		return putFile(tx, f)
	})
	if err != nil {
		return err
	}

	if changed {
		s.notify(id)
	}

	return nil
}

// FolderContent returns the immediate children of a folder, sorted by path.
func (s *State) FolderContent(account, space, folder string) ([]models.File, error) {
	var out []models.File

	err := s.db.View(func(tx *bolt.Tx) error {
		below, err := descendants(tx, account, space, folder)
		if err != nil {
			return err
		}

		parent := NormalizePath(folder)
		for _, f := range below {
			if models.ParentPath(f.RemotePath) == parent {
				out = append(out, *f)
			}
		}

		return nil
	})

	return out, err
}

// Conflicts returns every file with an unresolved conflict marker.
func (s *State) Conflicts() ([]models.File, error) {
	return s.filter(func(f *models.File) bool { return f.InConflict() })
}

// LocalFiles returns every file that has bytes on disk.
func (s *State) LocalFiles() ([]models.File, error) {
	return s.filter(func(f *models.File) bool {
		return !f.IsFolder && f.IsAvailableLocally && f.StoragePath != ""
	})
}

func (s *State) filter(keep func(f *models.File) bool) ([]models.File, error) {
	var out []models.File

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(filesBucket).ForEach(func(_, v []byte) error {
			var f models.File
			if err := json.Unmarshal(v, &f); err != nil {
				return err
			}

			if keep(&f) {
				out = append(out, f)
			}

			return nil
		})
	})

	sort.Slice(out, func(i, j int) bool { return out[i].RemotePath < out[j].RemotePath })

	return out, err
}

// Subscribe returns a channel that receives a value whenever row id is
// written or deleted. Notifications coalesce: a slow reader sees at least
// one signal after the latest change. The returned func unsubscribes.
func (s *State) Subscribe(id int64) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	s.subsMu.Lock()
	if s.subs[id] == nil {
		s.subs[id] = make(map[chan struct{}]struct{})
	}
	s.subs[id][ch] = struct{}{}
	s.subsMu.Unlock()

	return ch, func() {
		s.subsMu.Lock()
		defer s.subsMu.Unlock()

		delete(s.subs[id], ch)

		if len(s.subs[id]) == 0 {
			delete(s.subs, id)
		}
	}
}

func (s *State) notify(ids ...int64) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()

	for _, id := range ids {
		for ch := range s.subs[id] {
			select {
			case ch <- struct{}{}:
			default:
			}
		}
	}
}
