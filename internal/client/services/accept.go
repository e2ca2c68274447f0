package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dmitrijs2005/gophvault/internal/client/models"
	"github.com/dmitrijs2005/gophvault/internal/client/vault"
	"github.com/dmitrijs2005/gophvault/internal/common"
	"github.com/dmitrijs2005/gophvault/internal/filex"
	"github.com/dmitrijs2005/gophvault/internal/futurex"
)

func parentFolder(ctx context.Context, r *vault.Repositories, id int64) (*models.ItemMetadata, error) {
	parent, err := r.Metadata.Get(ctx, id)
	if errors.Is(err, common.ErrItemNotFound) {
		return nil, fmt.Errorf("parent item[%d]: %w", id, common.ErrParentFolderMissing)
	}
	if err != nil {
		return nil, err
	}
	if !parent.IsFolder() {
		return nil, fmt.Errorf("parent item[%d] is a file: %w", id, common.ErrItemTypeMismatch)
	}
	return parent, nil
}

func ensureFree(ctx context.Context, r *vault.Repositories, p string) error {
	_, err := r.Metadata.GetByPath(ctx, p)
	switch {
	case err == nil:
		return fmt.Errorf("%s: %w", p, common.ErrItemAlreadyExists)
	case errors.Is(err, common.ErrItemNotFound):
		return nil
	default:
		return err
	}
}

// CreateFolder accepts a new folder. It exists locally as a placeholder
// until the returned future resolves.
func (s *SyncService) CreateFolder(ctx context.Context, parentID int64, name string) (models.Item, *futurex.Future[models.Item], error) {
	if err := models.ValidateName(name); err != nil {
		return models.Item{}, nil, fmt.Errorf("create folder %q: %w", name, err)
	}

	var meta *models.ItemMetadata
	err := s.vault.Write(ctx, func(ctx context.Context, r *vault.Repositories) error {
		parent, err := parentFolder(ctx, r, parentID)
		if err != nil {
			return err
		}
		p := models.JoinPath(parent.Path, name)
		if err := ensureFree(ctx, r, p); err != nil {
			return err
		}
		meta = &models.ItemMetadata{
			Name:          name,
			Type:          models.ItemTypeFolder,
			ParentID:      parent.ID,
			Path:          p,
			Status:        models.StatusUploading,
			IsPlaceholder: true,
		}
		if err := r.Metadata.Upsert(ctx, meta); err != nil {
			return err
		}
		_, err = r.Uploads.Create(ctx, meta.ID)
		return err
	})
	if err != nil {
		return models.Item{}, nil, err
	}

	return s.accepted(ctx, meta.ID, s.scheduleUpload(meta.ID))
}

// ImportFile copies src into the cache and accepts it as a new file.
func (s *SyncService) ImportFile(ctx context.Context, parentID int64, name string, src string) (models.Item, *futurex.Future[models.Item], error) {
	if err := models.ValidateName(name); err != nil {
		return models.Item{}, nil, fmt.Errorf("import %q: %w", name, err)
	}

	staging := s.stagingPath()
	if err := filex.CopyFile(ctx, src, staging); err != nil {
		return models.Item{}, nil, fmt.Errorf("import %q: %w", name, err)
	}
	defer os.Remove(staging)
	fi, err := os.Stat(staging)
	if err != nil {
		return models.Item{}, nil, err
	}

	var (
		meta  *models.ItemMetadata
		local string
	)
	err = s.vault.Write(ctx, func(ctx context.Context, r *vault.Repositories) error {
		parent, err := parentFolder(ctx, r, parentID)
		if err != nil {
			return err
		}
		p := models.JoinPath(parent.Path, name)
		if err := ensureFree(ctx, r, p); err != nil {
			return err
		}
		size := fi.Size()
		meta = &models.ItemMetadata{
			Name:          name,
			Type:          models.ItemTypeFile,
			Size:          &size,
			ParentID:      parent.ID,
			Path:          p,
			Status:        models.StatusUploading,
			IsPlaceholder: true,
		}
		if err := r.Metadata.Upsert(ctx, meta); err != nil {
			return err
		}

		target := s.cachePath(meta.ID, name)
		if _, err := filex.EnsureDir(filepath.Dir(target)); err != nil {
			return err
		}
		if err := os.Rename(staging, target); err != nil {
			return fmt.Errorf("import %q: %w", name, err)
		}
		local = target
		moved, err := os.Stat(target)
		if err != nil {
			return err
		}
		if err := r.CachedFiles.RecordLocalCopy(ctx, meta.ID, target, moved.ModTime(), nil); err != nil {
			return err
		}
		_, err = r.Uploads.Create(ctx, meta.ID)
		return err
	})
	if err != nil {
		if local != "" {
			_ = os.RemoveAll(filepath.Dir(local))
		}
		return models.Item{}, nil, err
	}

	return s.accepted(ctx, meta.ID, s.scheduleUpload(meta.ID))
}

// FileChanged accepts an edit of the local copy of id. Nothing is
// scheduled when the copy's modification time is the recorded one.
func (s *SyncService) FileChanged(ctx context.Context, id int64) (models.Item, *futurex.Future[models.Item], error) {
	changed := false
	err := s.vault.Write(ctx, func(ctx context.Context, r *vault.Repositories) error {
		item, err := r.Metadata.Get(ctx, id)
		if err != nil {
			return err
		}
		if item.IsFolder() {
			return fmt.Errorf("item[%d] is a folder: %w", id, common.ErrItemTypeMismatch)
		}
		cached, err := r.CachedFiles.Get(ctx, id)
		if err != nil {
			return err
		}
		if cached == nil {
			return fmt.Errorf("item[%d] has no local copy: %w", id, common.ErrItemNotFound)
		}
		fi, err := os.Stat(cached.LocalPath)
		if err != nil {
			return fmt.Errorf("stat local copy of item[%d]: %w", id, err)
		}
		if fi.ModTime().Equal(cached.LocalLastModified) {
			return nil
		}
		changed = true

		size := fi.Size()
		item.Size = &size
		if err := r.Metadata.Upsert(ctx, item); err != nil {
			return err
		}
		if err := r.Metadata.SetStatus(ctx, id, models.StatusUploading); err != nil {
			return err
		}
		if err := r.CachedFiles.RecordLocalCopy(ctx, id, cached.LocalPath, fi.ModTime(), cached.RemoteLastModified); err != nil {
			return err
		}
		_, err = r.Uploads.Create(ctx, id)
		return err
	})
	if err != nil {
		return models.Item{}, nil, err
	}

	if !changed {
		item, err := s.Item(ctx, id)
		if err != nil {
			return models.Item{}, nil, err
		}
		return item, futurex.Resolved(item, nil), nil
	}
	return s.accepted(ctx, id, s.scheduleUpload(id))
}

// Move renames and/or reparents id locally and queues the remote move.
// Items that were never uploaded move locally only.
func (s *SyncService) Move(ctx context.Context, id, newParentID int64, newName string) (models.Item, *futurex.Future[models.Item], error) {
	if err := models.ValidateName(newName); err != nil {
		return models.Item{}, nil, fmt.Errorf("move item[%d] to %q: %w", id, newName, err)
	}

	queued := false
	err := s.vault.Write(ctx, func(ctx context.Context, r *vault.Repositories) error {
		item, err := r.Metadata.Get(ctx, id)
		if err != nil {
			return err
		}
		if item.IsRoot() {
			return fmt.Errorf("move: %w", common.ErrRootItem)
		}
		if _, err := parentFolder(ctx, r, newParentID); err != nil {
			return err
		}
		source, err := remotePathOf(ctx, r, item)
		if err != nil {
			return err
		}
		moved, err := r.Metadata.Move(ctx, id, newParentID, newName)
		if err != nil {
			return err
		}
		if item.IsPlaceholder {
			return nil
		}
		queued = true
		_, err = r.Reparents.Create(ctx, models.ReparentTaskRecord{
			ItemID:      id,
			SourcePath:  source,
			TargetPath:  moved.Path,
			OldParentID: item.ParentID,
			NewParentID: newParentID,
		})
		return err
	})
	if err != nil {
		return models.Item{}, nil, err
	}

	if !queued {
		item, err := s.Item(ctx, id)
		if err != nil {
			return models.Item{}, nil, err
		}
		s.notifier.ItemUpdated(ctx, item)
		return item, futurex.Resolved(item, nil), nil
	}
	return s.accepted(ctx, id, s.scheduleReparent(id))
}

// Delete removes id and its subtree locally and queues the remote
// delete. A placeholder no executor is working on is deleted locally only.
func (s *SyncService) Delete(ctx context.Context, id int64) (*futurex.Future[struct{}], error) {
	var (
		removed []int64
		queued  bool
	)
	err := s.vault.Write(ctx, func(ctx context.Context, r *vault.Repositories) error {
		item, err := r.Metadata.Get(ctx, id)
		if err != nil {
			return err
		}
		if item.IsRoot() {
			return fmt.Errorf("delete: %w", common.ErrRootItem)
		}
		descendants, err := r.Metadata.DescendantsOf(ctx, item)
		if err != nil {
			return err
		}
		removed = append(removed, id)
		for _, d := range descendants {
			removed = append(removed, d.ID)
		}

		path, err := remotePathOf(ctx, r, item)
		if err != nil {
			return err
		}
		if err := r.Metadata.Delete(ctx, id); err != nil {
			return err
		}
		if item.IsPlaceholder && !s.sched.busy(id) {
			return nil
		}
		queued = true
		_, err = r.Deletions.Create(ctx, models.DeletionTaskRecord{
			ItemID:   id,
			Path:     path,
			ParentID: item.ParentID,
			ItemType: item.Type,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.forget(ctx, removed...)
	if !queued {
		return futurex.Resolved(struct{}{}, nil), nil
	}
	return s.scheduleDeletion(id), nil
}

// SetFavoriteRank stores host bookkeeping. It is local only.
func (s *SyncService) SetFavoriteRank(ctx context.Context, id int64, rank *int64) (models.Item, error) {
	err := s.vault.Write(ctx, func(ctx context.Context, r *vault.Repositories) error {
		return r.Metadata.SetFavoriteRank(ctx, id, rank)
	})
	if err != nil {
		return models.Item{}, err
	}
	return s.updated(ctx, id)
}

// SetTagData stores host bookkeeping. It is local only.
func (s *SyncService) SetTagData(ctx context.Context, id int64, data []byte) (models.Item, error) {
	err := s.vault.Write(ctx, func(ctx context.Context, r *vault.Repositories) error {
		return r.Metadata.SetTagData(ctx, id, data)
	})
	if err != nil {
		return models.Item{}, err
	}
	return s.updated(ctx, id)
}

// RetryUpload reschedules the upload of id right away, clearing its
// recorded failure.
func (s *SyncService) RetryUpload(ctx context.Context, id int64) (models.Item, *futurex.Future[models.Item], error) {
	err := s.vault.Write(ctx, func(ctx context.Context, r *vault.Repositories) error {
		rec, err := r.Uploads.Get(ctx, id)
		if err != nil {
			return err
		}
		if !rec.Failed() && s.sched.scheduled(id, models.TaskUpload) {
			return fmt.Errorf("retry upload of item[%d]: %w", id, common.ErrUploadNotFailed)
		}
		if _, err := r.Uploads.Create(ctx, id); err != nil {
			return err
		}
		return r.Metadata.SetStatus(ctx, id, models.StatusUploading)
	})
	if err != nil {
		return models.Item{}, nil, err
	}
	return s.accepted(ctx, id, s.scheduleUpload(id))
}

func (s *SyncService) updated(ctx context.Context, id int64) (models.Item, error) {
	item, err := s.Item(ctx, id)
	if err != nil {
		return models.Item{}, err
	}
	s.notifier.ItemUpdated(ctx, item)
	return item, nil
}

// accepted projects id after a local change and hands back the future
// of the remote work.
func (s *SyncService) accepted(ctx context.Context, id int64, f *futurex.Future[models.Item]) (models.Item, *futurex.Future[models.Item], error) {
	item, err := s.updated(ctx, id)
	if err != nil {
		return models.Item{}, nil, err
	}
	return item, f, nil
}
