package watcher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alexjbarnes/replica-sync/internal/models"
	"github.com/alexjbarnes/replica-sync/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// waitFor polls until cond returns true or the timeout expires.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}

		time.Sleep(20 * time.Millisecond)
	}

	t.Fatal("timed out waiting for condition")
}

type fixture struct {
	dir string
	st  *state.State
	w   *Watcher

	mu      sync.Mutex
	changed []string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	st, err := state.LoadAt(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	fx := &fixture{dir: t.TempDir(), st: st}
	fx.w = New(fx.dir, st, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	fx.w.debounce = 20 * time.Millisecond
	fx.w.OnChange(func(_ context.Context, f models.File) {
		fx.mu.Lock()
		fx.changed = append(fx.changed, f.RemotePath)
		fx.mu.Unlock()
	})

	return fx
}

func (fx *fixture) changes() []string {
	fx.mu.Lock()
	defer fx.mu.Unlock()

	return append([]string(nil), fx.changed...)
}

// synced writes content for remotePath and records it as synchronized.
func (fx *fixture) synced(t *testing.T, remotePath, content string) *models.File {
	t.Helper()

	abs := filepath.Join(fx.dir, filepath.FromSlash(remotePath))
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))

	info, err := os.Stat(abs)
	require.NoError(t, err)

	f := &models.File{AccountName: "alice", RemotePath: remotePath}
	require.NoError(t, fx.st.SaveFile(f))
	require.NoError(t, fx.st.MarkSynchronized(f.ID, state.SyncedContent{
		Etag:        "e1",
		StoragePath: abs,
		ModTime:     info.ModTime().UnixMilli(),
		Size:        info.Size(),
	}))

	got, err := fx.st.GetFileByID(f.ID)
	require.NoError(t, err)

	return got
}

func (fx *fixture) locallyModified(t *testing.T, id int64) bool {
	t.Helper()
	f, err := fx.st.GetFileByID(id)
	require.NoError(t, err)

	return f.LocalModificationTimestamp > f.LastSyncDateForData
}

func (fx *fixture) start(t *testing.T) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)

	go func() {
		errCh <- fx.w.Watch(ctx)
	}()

	// Give fsnotify a moment to set up watches.
	time.Sleep(50 * time.Millisecond)

	t.Cleanup(func() {
		cancel()

		err := <-errCh
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("watcher error: %v", err)
		}
	})
}

func TestScan_UnchangedFilesLeftAlone(t *testing.T) {
	fx := newFixture(t)
	f := fx.synced(t, "/a.txt", "hello")

	n, err := fx.w.Scan(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.False(t, fx.locallyModified(t, f.ID))
	assert.Empty(t, fx.changes())
}

func TestScan_StampsEditedFiles(t *testing.T) {
	fx := newFixture(t)
	f := fx.synced(t, "/a.txt", "hello")
	g := fx.synced(t, "/docs/b.txt", "same")

	require.NoError(t, os.WriteFile(f.StoragePath, []byte("hello, edited"), 0o644))

	n, err := fx.w.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, fx.locallyModified(t, f.ID))
	assert.False(t, fx.locallyModified(t, g.ID))
	assert.Equal(t, []string{"/a.txt"}, fx.changes())
}

func TestScan_SkipsMissingBytes(t *testing.T) {
	fx := newFixture(t)
	f := fx.synced(t, "/a.txt", "hello")
	require.NoError(t, os.Remove(f.StoragePath))

	n, err := fx.w.Scan(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

type ownAll struct{}

func (ownAll) OwnWrite(string, os.FileInfo) bool { return true }

func TestScan_IgnoresOwnWrites(t *testing.T) {
	fx := newFixture(t)
	fx.w.own = ownAll{}
	f := fx.synced(t, "/a.txt", "hello")
	require.NoError(t, os.WriteFile(f.StoragePath, []byte("written by a transfer"), 0o644))

	n, err := fx.w.Scan(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestWatch_DetectsEdit(t *testing.T) {
	fx := newFixture(t)
	f := fx.synced(t, "/docs/a.txt", "hello")
	fx.start(t)

	require.NoError(t, os.WriteFile(f.StoragePath, []byte("hello again"), 0o644))

	waitFor(t, 2*time.Second, func() bool {
		return fx.locallyModified(t, f.ID)
	})
	assert.Equal(t, []string{"/docs/a.txt"}, fx.changes())
}

func TestWatch_DetectsEditInNewDirectory(t *testing.T) {
	fx := newFixture(t)
	fx.start(t)

	// The directory appears after the watcher started.
	f := fx.synced(t, "/later/a.txt", "v1")
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, os.WriteFile(f.StoragePath, []byte("v2, longer"), 0o644))

	waitFor(t, 2*time.Second, func() bool {
		return fx.locallyModified(t, f.ID)
	})
}

func TestWatch_IgnoresUntrackedAndHiddenFiles(t *testing.T) {
	fx := newFixture(t)
	fx.start(t)

	require.NoError(t, os.WriteFile(filepath.Join(fx.dir, "untracked.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(fx.dir, ".replica-123.tmp"), []byte("x"), 0o644))

	time.Sleep(150 * time.Millisecond)
	assert.Empty(t, fx.changes())
}

func TestShouldIgnore(t *testing.T) {
	assert.True(t, shouldIgnore("/data/.replica-1.tmp"))
	assert.True(t, shouldIgnore("/data/notes.txt~"))
	assert.True(t, shouldIgnore("/data/.notes.txt.swp"))
	assert.False(t, shouldIgnore("/data/notes.txt"))
}
