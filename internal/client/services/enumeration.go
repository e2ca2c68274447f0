package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/gophvault/internal/client/cloud"
	"github.com/dmitrijs2005/gophvault/internal/client/models"
	"github.com/dmitrijs2005/gophvault/internal/client/projection"
	"github.com/dmitrijs2005/gophvault/internal/client/vault"
	"github.com/dmitrijs2005/gophvault/internal/common"
)

type enumerationResult struct {
	items   []models.ItemMetadata
	removed []int64
	next    *string
}

// Enumerate lists one page of a folder remotely and reconciles the cache
// with it. Pass the previous page's token to continue; the first page
// starts a new reconciliation of the folder.
func (s *SyncService) Enumerate(ctx context.Context, folderID int64, pageToken *string) (models.ItemList, error) {
	err := s.vault.Write(ctx, func(ctx context.Context, r *vault.Repositories) error {
		folder, err := r.Metadata.Get(ctx, folderID)
		if err != nil {
			return err
		}
		if !folder.IsFolder() {
			return fmt.Errorf("enumerate item[%d]: %w", folderID, common.ErrItemTypeMismatch)
		}
		_, err = r.Enumerations.Create(ctx, folderID, pageToken)
		return err
	})
	if err != nil {
		return models.ItemList{}, err
	}

	res, err := schedule(s.sched, folderID, models.TaskEnumeration, func(ctx context.Context) (enumerationResult, error) {
		return s.runEnumeration(ctx, folderID)
	}).Await(ctx)
	if err != nil {
		return models.ItemList{}, err
	}

	s.forget(ctx, res.removed...)
	items, err := projection.Build(ctx, s.vault.Read(), res.items)
	if err != nil {
		return models.ItemList{}, err
	}
	return models.ItemList{Items: items, NextPageToken: res.next}, nil
}

func (s *SyncService) runEnumeration(ctx context.Context, folderID int64) (enumerationResult, error) {
	started := s.now()
	r := s.vault.Read()
	rec, err := r.Enumerations.Get(ctx, folderID)
	if err != nil {
		return enumerationResult{}, err
	}
	folder, err := r.Metadata.Get(ctx, folderID)
	if errors.Is(err, common.ErrItemNotFound) {
		return enumerationResult{}, s.purgeOrphan(ctx, models.TaskEnumeration, folderID, func(ctx context.Context, r *vault.Repositories) error {
			return r.Enumerations.Remove(ctx, folderID)
		})
	}
	if err != nil {
		return enumerationResult{}, err
	}
	remoteFolder, err := remotePathOf(ctx, r, folder)
	if err != nil {
		return enumerationResult{}, err
	}

	list, err := s.provider.ListFolder(ctx, s.remote(remoteFolder), rec.PageToken)
	if err != nil {
		err = s.failed(ctx, models.TaskEnumeration, started, err)
		if isCanceled(ctx, err) {
			return enumerationResult{}, err
		}
		werr := s.vault.Write(ctx, func(ctx context.Context, r *vault.Repositories) error {
			if err := r.Enumerations.Remove(ctx, folderID); err != nil && !errors.Is(err, common.ErrTaskNotFound) {
				return err
			}
			return nil
		})
		if werr != nil {
			s.logger.Error(ctx, "failed to remove enumeration task", "item_id", folderID, "error", werr)
		}
		if errors.Is(err, common.ErrItemNotFound) && !folder.IsRoot() {
			s.logger.Info(ctx, "folder is gone remotely", "item_id", folderID, "path", folder.Path)
			if eerr := s.evict(ctx, folderID); eerr != nil {
				s.logger.Error(ctx, "failed to evict folder", "item_id", folderID, "error", eerr)
			}
		}
		return enumerationResult{}, err
	}
	s.succeeded(models.TaskEnumeration, started)

	var res enumerationResult
	err = s.vault.Write(ctx, func(ctx context.Context, r *vault.Repositories) error {
		if err := r.Enumerations.Remove(ctx, folderID); err != nil {
			return err
		}
		var err error
		res, err = s.reconcile(ctx, r, folderID, rec.PageToken == nil, list)
		return err
	})
	if err != nil {
		return enumerationResult{}, err
	}
	return res, nil
}

// reconcile merges one listed page into the children of folderID.
// Pending local changes win over what the remote reports.
func (s *SyncService) reconcile(ctx context.Context, r *vault.Repositories, folderID int64, first bool, list cloud.ItemList) (enumerationResult, error) {
	res := enumerationResult{next: list.NextPageToken}
	last := list.NextPageToken == nil

	folder, err := r.Metadata.Get(ctx, folderID)
	if err != nil {
		return res, err
	}
	if first {
		if err := r.Metadata.MarkAllMaybeOutdated(ctx, folderID); err != nil {
			return res, err
		}
	}
	hidden, err := movedAway(ctx, r, folderID)
	if err != nil {
		return res, err
	}

	seen := make(map[int64]bool)
	for _, entry := range list.Items {
		name, err := s.cryptor.DecryptName(entry.Name)
		if err != nil {
			if !(folder.IsRoot() && entry.Name == KeyFileName) {
				s.logger.Warn(ctx, "skipping remote item with undecryptable name", "folder", folder.Path, "name", entry.Name, "error", err)
			}
			continue
		}
		if hidden[models.LowerPath(name)] {
			continue
		}

		meta := &models.ItemMetadata{
			Name:         name,
			Type:         entry.Type,
			ParentID:     folderID,
			Path:         models.JoinPath(folder.Path, name),
			Status:       models.StatusUploaded,
			LastModified: entry.LastModified,
		}
		if entry.Size != nil && entry.Type == models.ItemTypeFile {
			size := s.cryptor.CleartextSize(*entry.Size)
			meta.Size = &size
		}

		existing, err := r.Metadata.GetByPath(ctx, meta.Path)
		switch {
		case errors.Is(err, common.ErrItemNotFound):
		case err != nil:
			return res, err
		case existing.Type != meta.Type:
			removed, err := subtreeIDs(ctx, r, existing)
			if err != nil {
				return res, err
			}
			if err := r.Metadata.Delete(ctx, existing.ID); err != nil {
				return res, err
			}
			res.removed = append(res.removed, removed...)
		default:
			_, uerr := r.Uploads.Get(ctx, existing.ID)
			if uerr == nil {
				existing.IsMaybeOutdated = false
				meta = existing
			} else if !errors.Is(uerr, common.ErrTaskNotFound) {
				return res, uerr
			}
		}

		if err := r.Metadata.Upsert(ctx, meta); err != nil {
			return res, err
		}
		seen[meta.ID] = true
		res.items = append(res.items, *meta)
	}

	if !last {
		return res, nil
	}

	arriving, err := s.movedHere(ctx, r, folderID)
	if err != nil {
		return res, err
	}
	for _, it := range arriving {
		if !seen[it.ID] {
			seen[it.ID] = true
			res.items = append(res.items, it)
		}
	}

	outdated, err := r.Metadata.MaybeOutdatedOf(ctx, folderID)
	if err != nil {
		return res, err
	}
	for i := range outdated {
		o := &outdated[i]
		if seen[o.ID] {
			continue
		}
		pending, err := r.Uploads.ExistsInSubtree(ctx, o)
		if err != nil {
			return res, err
		}
		if pending {
			res.items = append(res.items, *o)
			continue
		}
		removed, err := subtreeIDs(ctx, r, o)
		if err != nil {
			return res, err
		}
		if err := r.Metadata.Delete(ctx, o.ID); err != nil {
			return res, err
		}
		res.removed = append(res.removed, removed...)
	}
	return res, nil
}

// movedAway names children the remote still lists under folderID that
// were moved, renamed or deleted locally.
func movedAway(ctx context.Context, r *vault.Repositories, folderID int64) (map[string]bool, error) {
	hidden := make(map[string]bool)
	reparents, err := r.Reparents.ListFormerlyUnder(ctx, folderID)
	if err != nil {
		return nil, err
	}
	for _, rp := range reparents {
		hidden[models.LowerPath(models.BaseName(rp.SourcePath))] = true
	}
	deletions, err := r.Deletions.ListFormerlyUnder(ctx, folderID)
	if err != nil {
		return nil, err
	}
	for _, d := range deletions {
		hidden[models.LowerPath(models.BaseName(d.Path))] = true
	}
	return hidden, nil
}

// movedHere returns children of folderID the remote does not list yet:
// pending moves into the folder and never uploaded items. Their outdated
// mark from this reconciliation is cleared.
func (s *SyncService) movedHere(ctx context.Context, r *vault.Repositories, folderID int64) ([]models.ItemMetadata, error) {
	var out []models.ItemMetadata
	reparents, err := r.Reparents.ListSoonUnder(ctx, folderID)
	if err != nil {
		return nil, err
	}
	for _, rp := range reparents {
		it, err := r.Metadata.Get(ctx, rp.ItemID)
		if err != nil {
			return nil, err
		}
		if it.ParentID != folderID {
			continue
		}
		if it.IsMaybeOutdated {
			it.IsMaybeOutdated = false
			if err := r.Metadata.Upsert(ctx, it); err != nil {
				return nil, err
			}
		}
		out = append(out, *it)
	}
	placeholders, err := r.Metadata.PlaceholdersOf(ctx, folderID)
	if err != nil {
		return nil, err
	}
	return append(out, placeholders...), nil
}

func subtreeIDs(ctx context.Context, r *vault.Repositories, item *models.ItemMetadata) ([]int64, error) {
	ids := []int64{item.ID}
	if !item.IsFolder() {
		return ids, nil
	}
	descendants, err := r.Metadata.DescendantsOf(ctx, item)
	if err != nil {
		return nil, err
	}
	for _, d := range descendants {
		ids = append(ids, d.ID)
	}
	return ids, nil
}
