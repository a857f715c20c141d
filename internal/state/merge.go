package state

import (
	"fmt"
	"sort"

	"github.com/alexjbarnes/replica-sync/internal/models"
	bolt "go.etcd.io/bbolt"
)

// MergeFolder folds a fresh remote listing of folder into the store and
// returns the resulting child rows sorted by path.
//
//   - The folder row itself is created if missing and takes folderMeta's etag.
//   - New children are inserted as not available locally.
//   - Known children take the listing's size and mtime. Their etag follows
//     the listing only for folders and for files without local bytes; a
//     local file keeps the etag its bytes correspond to so the reconciler
//     can see the remote change.
//   - Children missing from the listing are removed unless they, or for
//     folders anything below them, have local bytes. Those are left for
//     the reconciler to confirm.
func (s *State) MergeFolder(account, space string, folderMeta models.FileMetadata, children []models.FileMetadata) ([]models.File, error) {
	var (
		out     []models.File
		touched []int64
	)

	folderPath := NormalizePath(folderMeta.RemotePath)

	err := s.db.Update(func(tx *bolt.Tx) error {
		folder, err := getFileByKey(tx, pathKey(account, space, folderPath))
		if err != nil {
			return err
		}

		if folder == nil {
			folder = &models.File{
				AccountName: account,
				SpaceID:     space,
				RemotePath:  folderPath,
				IsFolder:    true,
			}

			if folderPath != "/" {
				parent, err := getFileByKey(tx, pathKey(account, space, models.ParentPath(folderPath)))
				if err != nil {
					return err
				}

				if parent != nil {
					folder.ParentID = parent.ID
				}
			}
		}

		folder.IsFolder = true
		folder.Etag = folderMeta.Etag
		folder.RemoteModTime = folderMeta.ModTime

		if err := putFile(tx, folder); err != nil {
			return fmt.Errorf("saving folder row: %w", err)
		}

		touched = append(touched, folder.ID)

		listed := make(map[string]struct{}, len(children))

		for _, meta := range children {
			p := NormalizePath(meta.RemotePath)
			if models.ParentPath(p) != folderPath {
				continue
			}

			listed[p] = struct{}{}

			f, err := getFileByKey(tx, pathKey(account, space, p))
			if err != nil {
				return err
			}

			if f == nil {
				f = &models.File{
					AccountName: account,
					SpaceID:     space,
					RemotePath:  p,
				}
			}

			f.ParentID = folder.ID
			f.IsFolder = meta.IsFolder
			f.Size = meta.Size
			f.RemoteModTime = meta.ModTime

			if f.IsFolder || !f.IsAvailableLocally {
				f.Etag = meta.Etag
			}

			if f.IsFolder {
				f.EtagInConflict = ""
			}

			if err := putFile(tx, f); err != nil {
				return fmt.Errorf("saving child %s: %w", p, err)
			}

			touched = append(touched, f.ID)
			out = append(out, *f)
		}

		below, err := descendants(tx, account, space, folderPath)
		if err != nil {
			return err
		}

		for _, f := range below {
			if models.ParentPath(f.RemotePath) != folderPath {
				continue
			}

			if _, ok := listed[f.RemotePath]; ok {
				continue
			}

			removed, err := pruneVanished(tx, f)
			if err != nil {
				return err
			}

			touched = append(touched, removed...)
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("merging folder %s: %w", folderPath, err)
	}

	s.notify(touched...)

	sort.Slice(out, func(i, j int) bool { return out[i].RemotePath < out[j].RemotePath })

	return out, nil
}

// pruneVanished deletes a row the server no longer lists, unless local
// bytes still depend on it.
func pruneVanished(tx *bolt.Tx, f *models.File) ([]int64, error) {
	if !f.IsFolder {
		if f.IsAvailableLocally {
			return nil, nil
		}

		return []int64{f.ID}, deleteFile(tx, f)
	}

	below, err := descendants(tx, f.AccountName, f.SpaceID, f.RemotePath)
	if err != nil {
		return nil, err
	}

	for _, d := range below {
		if !d.IsFolder && d.IsAvailableLocally {
			return nil, nil
		}
	}

	var ids []int64

	for _, d := range append(below, f) {
		if err := deleteFile(tx, d); err != nil {
			return nil, err
		}

		ids = append(ids, d.ID)
	}

	return ids, nil
}
