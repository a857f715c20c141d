package models

import "path"

// File is the local record of one remote file or folder. Rows are owned
// by the state store; the reconciler and the transfer queue mutate them.
type File struct {
	ID          int64  `json:"id"`
	ParentID    int64  `json:"parent_id"`
	AccountName string `json:"account"`
	SpaceID     string `json:"space,omitempty"`
	RemotePath  string `json:"path"`
	IsFolder    bool   `json:"folder"`

	// Etag is the remote version the local bytes correspond to. For files
	// that are not available locally it tracks the latest listing.
	Etag string `json:"etag"`

	// EtagInConflict holds the divergent remote etag while a conflict is
	// unresolved. Empty means no conflict.
	EtagInConflict string `json:"etag_in_conflict,omitempty"`

	// Both timestamps come from the store's monotonic clock.
	LocalModificationTimestamp int64 `json:"local_mtime"`
	LastSyncDateForData        int64 `json:"last_sync_data"`

	IsAvailableLocally bool   `json:"available_locally"`
	AvailableOffline   bool   `json:"available_offline"`
	StoragePath        string `json:"storage_path,omitempty"`

	Size          int64 `json:"size"`
	RemoteModTime int64 `json:"remote_mtime"`

	// StorageModTime and StorageSize are the stat of the bytes on disk at
	// the last sync. The watcher compares against them to ignore its own
	// writes.
	StorageModTime int64 `json:"storage_mtime,omitempty"`
	StorageSize    int64 `json:"storage_size,omitempty"`
}

// InConflict reports whether the file has an unresolved conflict marker.
func (f *File) InConflict() bool {
	return !f.IsFolder && f.EtagInConflict != ""
}

// SameLocation reports whether other refers to the same remote path in the
// same account and space.
func (f *File) SameLocation(other *File) bool {
	return f.AccountName == other.AccountName &&
		f.SpaceID == other.SpaceID &&
		f.RemotePath == other.RemotePath
}

// ParentPath returns the remote path of the containing folder.
func (f *File) ParentPath() string {
	return ParentPath(f.RemotePath)
}

// Name returns the last element of the remote path.
func (f *File) Name() string {
	return path.Base(f.RemotePath)
}

// FileMetadata is the remote view of a file as returned by the server.
type FileMetadata struct {
	RemotePath string `json:"path"`
	Etag       string `json:"etag"`
	IsFolder   bool   `json:"folder"`
	Size       int64  `json:"size"`
	ModTime    int64  `json:"mtime"`
}

// ParentPath returns the parent folder of a slash-separated remote path.
// The root is its own parent.
func ParentPath(p string) string {
	if p == "" || p == "/" {
		return "/"
	}

	return path.Dir(path.Clean("/" + p))
}
