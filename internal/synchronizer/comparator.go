package synchronizer

import "github.com/alexjbarnes/replica-sync/internal/models"

// Divergence classifies how a file's replicas differ.
type Divergence struct {
	ChangedLocally  bool
	ChangedRemotely bool
}

// Compare checks a local row against the current remote etag. Local change
// is judged by the store clock: a modification stamped after the last data
// sync. Remote change is any etag difference.
func Compare(f *models.File, remoteEtag string) Divergence {
	return Divergence{
		ChangedLocally:  f.LocalModificationTimestamp > f.LastSyncDateForData,
		ChangedRemotely: remoteEtag != f.Etag,
	}
}

// Conflict reports whether both replicas changed.
func (d Divergence) Conflict() bool {
	return d.ChangedLocally && d.ChangedRemotely
}

// InSync reports whether neither replica changed.
func (d Divergence) InSync() bool {
	return !d.ChangedLocally && !d.ChangedRemotely
}
