package services

import (
	"context"
	"errors"
	"time"

	"github.com/dmitrijs2005/gophvault/internal/client/models"
	"github.com/dmitrijs2005/gophvault/internal/client/vault"
	"github.com/dmitrijs2005/gophvault/internal/common"
	"github.com/dmitrijs2005/gophvault/internal/futurex"
)

func (s *SyncService) scheduleReparent(id int64) *futurex.Future[models.Item] {
	return schedule(s.sched, id, models.TaskReparent, func(ctx context.Context) (models.Item, error) {
		return s.runReparent(ctx, id)
	})
}

// runReparent moves the remote item from the recorded source to where the
// new parent currently is remotely.
func (s *SyncService) runReparent(ctx context.Context, id int64) (models.Item, error) {
	started := s.now()
	r := s.vault.Read()
	rec, err := r.Reparents.Get(ctx, id)
	if err != nil {
		return models.Item{}, err
	}
	item, err := r.Metadata.Get(ctx, id)
	if errors.Is(err, common.ErrItemNotFound) {
		return models.Item{}, s.purgeOrphan(ctx, models.TaskReparent, id, func(ctx context.Context, r *vault.Repositories) error {
			return r.Reparents.Remove(ctx, id)
		})
	}
	if err != nil {
		return models.Item{}, err
	}
	parent, err := r.Metadata.Get(ctx, item.ParentID)
	if err != nil {
		return models.Item{}, err
	}
	parentRemote, err := remotePathOf(ctx, r, parent)
	if err != nil {
		return models.Item{}, err
	}
	target := models.JoinPath(parentRemote, item.Name)

	if rec.SourcePath != target {
		if err := s.provider.Move(ctx, s.remote(rec.SourcePath), s.remote(target)); err != nil {
			return models.Item{}, s.reparentFailed(ctx, started, rec, parent, err)
		}
		s.succeeded(models.TaskReparent, started)
	}

	err = s.vault.Write(ctx, func(ctx context.Context, r *vault.Repositories) error {
		err := r.Reparents.Remove(ctx, id)
		if err != nil && !errors.Is(err, common.ErrTaskNotFound) {
			return err
		}
		if rec.SourcePath == target {
			return nil
		}
		if _, err := r.Reparents.RebaseSources(ctx, rec.SourcePath, target); err != nil {
			return err
		}
		if _, err := r.Deletions.RebasePaths(ctx, rec.SourcePath, target); err != nil {
			return err
		}
		// The item may have been deleted while the move was in flight.
		del, derr := r.Deletions.Get(ctx, id)
		if derr == nil && del.Path == rec.SourcePath {
			del.Path = target
			_, derr = r.Deletions.Create(ctx, *del)
		}
		if derr != nil && !errors.Is(derr, common.ErrTaskNotFound) {
			return derr
		}
		return nil
	})
	if err != nil {
		return models.Item{}, err
	}
	if item.IsFolder() {
		s.kickDependents(ctx, id)
	}
	s.publish(ctx, id)
	return s.Item(ctx, id)
}

// reparentFailed keeps the record for transient failures and when the new
// parent is itself still pending remotely. Other failures undo the local
// move.
func (s *SyncService) reparentFailed(ctx context.Context, started time.Time, rec *models.ReparentTaskRecord, parent *models.ItemMetadata, err error) error {
	err = s.failed(ctx, models.TaskReparent, started, err)
	switch {
	case isCanceled(ctx, err), common.IsRetryable(err), errors.Is(err, common.ErrUnauthorized):
		return err
	case errors.Is(err, common.ErrItemNotFound):
		s.logger.Warn(ctx, "moved item is gone remotely", "item_id", rec.ItemID, "source", rec.SourcePath)
		if eerr := s.evict(ctx, rec.ItemID); eerr != nil {
			s.logger.Error(ctx, "failed to evict item", "item_id", rec.ItemID, "error", eerr)
		}
		return err
	case errors.Is(err, common.ErrParentFolderMissing):
		pending, perr := s.remotelyPending(ctx, parent)
		if perr != nil {
			return perr
		}
		if pending {
			s.logger.Debug(ctx, "move waits for its new parent", "item_id", rec.ItemID, "parent_id", parent.ID)
			return err
		}
	}

	s.logger.Warn(ctx, "move rejected remotely, reverting", "item_id", rec.ItemID, "error", err)
	if rerr := s.revertMove(ctx, rec); rerr != nil {
		s.logger.Error(ctx, "failed to revert move", "item_id", rec.ItemID, "error", rerr)
	}
	return err
}

// remotelyPending reports whether folder, or one of its ancestors, still
// has to be created or moved remotely.
func (s *SyncService) remotelyPending(ctx context.Context, folder *models.ItemMetadata) (bool, error) {
	r := s.vault.Read()
	cur := folder
	for {
		if cur.IsPlaceholder {
			return true, nil
		}
		for _, get := range []func(context.Context, int64) error{
			func(ctx context.Context, id int64) error { _, err := r.Uploads.Get(ctx, id); return err },
			func(ctx context.Context, id int64) error { _, err := r.Reparents.Get(ctx, id); return err },
		} {
			err := get(ctx, cur.ID)
			if err == nil {
				return true, nil
			}
			if !errors.Is(err, common.ErrTaskNotFound) {
				return false, err
			}
		}
		if cur.IsRoot() {
			return false, nil
		}
		next, err := r.Metadata.Get(ctx, cur.ParentID)
		if err != nil {
			return false, err
		}
		cur = next
	}
}

// revertMove puts the item back where the remote still has it. When that
// is impossible locally the item is evicted and comes back with the next
// enumeration of its real parent.
func (s *SyncService) revertMove(ctx context.Context, rec *models.ReparentTaskRecord) error {
	err := s.vault.Write(ctx, func(ctx context.Context, r *vault.Repositories) error {
		if err := r.Reparents.Remove(ctx, rec.ItemID); err != nil && !errors.Is(err, common.ErrTaskNotFound) {
			return err
		}
		_, err := r.Metadata.Move(ctx, rec.ItemID, rec.OldParentID, models.BaseName(rec.SourcePath))
		return err
	})
	if err == nil {
		s.publish(ctx, rec.ItemID)
		return nil
	}
	s.logger.Warn(ctx, "cannot restore item locally, evicting", "item_id", rec.ItemID, "error", err)
	return s.evict(ctx, rec.ItemID)
}
