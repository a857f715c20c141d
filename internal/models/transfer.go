package models

// JobID identifies an enqueued transfer. The reconciler never waits on it.
type JobID string

// UploadMode selects how the transfer queue treats an upload.
type UploadMode int

const (
	// UploadModeConflictAware sends If-Match with the file's etag so a
	// server-side change made after reconciliation is detected instead of
	// overwritten.
	UploadModeConflictAware UploadMode = iota

	// UploadModeOverwrite replaces the server content unconditionally.
	// Used when a user chose to keep the local version of a conflict.
	UploadModeOverwrite

	// UploadModeAsNew uploads the bytes as a new sibling file, picking a
	// free "name (N).ext" in the same folder.
	UploadModeAsNew
)

func (m UploadMode) String() string {
	switch m {
	case UploadModeConflictAware:
		return "conflict-aware"
	case UploadModeOverwrite:
		return "overwrite"
	case UploadModeAsNew:
		return "as-new"
	default:
		return "unknown"
	}
}

// UploadRequest describes one upload job.
type UploadRequest struct {
	FileID      int64
	AccountName string
	SpaceID     string
	LocalPath   string
	RemotePath  string
	Mode        UploadMode
}
