package synchronizer

import (
	"fmt"

	"github.com/alexjbarnes/replica-sync/internal/models"
)

// Outcome is the terminal result of reconciling one file. The set of
// implementations is closed:
//
//	FileNotFound, ConflictDetected, DownloadEnqueued, UploadEnqueued,
//	AlreadySynchronized
//
// Callers switch on the concrete type.
type Outcome interface {
	fmt.Stringer
	isOutcome()
}

// FileNotFound means the server no longer has the file. The local row was
// removed unless it had moved in the meantime.
type FileNotFound struct{}

// ConflictDetected means both replicas changed. Etag is the remote version
// that diverged from the local one.
type ConflictDetected struct {
	Etag string
}

// DownloadEnqueued means the server version will be fetched. Job is nil
// when the download was already in flight.
type DownloadEnqueued struct {
	Job *models.JobID
}

// UploadEnqueued means the local version will be sent. Job is nil when the
// upload was already in flight.
type UploadEnqueued struct {
	Job *models.JobID
}

// AlreadySynchronized means nothing changed on either side.
type AlreadySynchronized struct{}

func (FileNotFound) isOutcome()        {}
func (ConflictDetected) isOutcome()    {}
func (DownloadEnqueued) isOutcome()    {}
func (UploadEnqueued) isOutcome()      {}
func (AlreadySynchronized) isOutcome() {}

func (FileNotFound) String() string { return "file_not_found" }

func (o ConflictDetected) String() string { return "conflict_detected(" + o.Etag + ")" }

func (o DownloadEnqueued) String() string { return "download_enqueued(" + jobString(o.Job) + ")" }

func (o UploadEnqueued) String() string { return "upload_enqueued(" + jobString(o.Job) + ")" }

func (AlreadySynchronized) String() string { return "already_synchronized" }

func jobString(id *models.JobID) string {
	if id == nil {
		return "in-flight"
	}

	return string(*id)
}
