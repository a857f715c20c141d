package synchronizer

import (
	"fmt"
	"strings"

	syncerrors "github.com/alexjbarnes/replica-sync/internal/errors"
	"github.com/alexjbarnes/replica-sync/internal/models"
)

// Mode is a folder traversal policy.
type Mode int

const (
	// ModeRefreshFolder refreshes one listing and stops.
	ModeRefreshFolder Mode = iota

	// ModeRefreshFolderRecursively refreshes every listing in the subtree
	// without touching file content.
	ModeRefreshFolderRecursively

	// ModeSyncContents reconciles files that are already local or marked
	// available offline, and descends only into offline folders.
	ModeSyncContents

	// ModeSyncFolderRecursively reconciles every file in the subtree.
	ModeSyncFolderRecursively
)

var modeNames = map[Mode]string{
	ModeRefreshFolder:            "REFRESH_FOLDER",
	ModeRefreshFolderRecursively: "REFRESH_FOLDER_RECURSIVELY",
	ModeSyncContents:             "SYNC_CONTENTS",
	ModeSyncFolderRecursively:    "SYNC_FOLDER_RECURSIVELY",
}

func (m Mode) String() string {
	if name, ok := modeNames[m]; ok {
		return name
	}

	return fmt.Sprintf("Mode(%d)", int(m))
}

// ParseMode accepts a mode name, case-insensitively.
func ParseMode(s string) (Mode, error) {
	want := strings.ToUpper(strings.TrimSpace(s))
	for m, name := range modeNames {
		if name == want {
			return m, nil
		}
	}

	return 0, fmt.Errorf("%w: %q", syncerrors.ErrInvalidMode, s)
}

// UnmarshalText lets Mode be read from configuration.
func (m *Mode) UnmarshalText(text []byte) error {
	parsed, err := ParseMode(string(text))
	if err != nil {
		return err
	}

	*m = parsed

	return nil
}

// MarshalText writes the mode name.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m Mode) valid() bool {
	_, ok := modeNames[m]
	return ok
}

// recursesInto reports whether the orchestrator descends into folder.
func (m Mode) recursesInto(folder *models.File) bool {
	switch m {
	case ModeRefreshFolderRecursively, ModeSyncFolderRecursively:
		return true
	case ModeSyncContents:
		return folder.AvailableOffline
	}

	return false
}

// reconciles reports whether the orchestrator reconciles file.
func (m Mode) reconciles(file *models.File) bool {
	switch m {
	case ModeSyncFolderRecursively:
		return true
	case ModeSyncContents:
		return file.IsAvailableLocally || file.AvailableOffline
	}

	return false
}
