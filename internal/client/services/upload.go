package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dmitrijs2005/gophvault/internal/client/cloud"
	"github.com/dmitrijs2005/gophvault/internal/client/models"
	"github.com/dmitrijs2005/gophvault/internal/client/vault"
	"github.com/dmitrijs2005/gophvault/internal/common"
	"github.com/dmitrijs2005/gophvault/internal/futurex"
)

type uploadJob struct {
	item       models.ItemMetadata
	remotePath string
	localPath  string
	localMod   time.Time
}

func (s *SyncService) scheduleUpload(id int64) *futurex.Future[models.Item] {
	return schedule(s.sched, id, models.TaskUpload, func(ctx context.Context) (models.Item, error) {
		return s.runUpload(ctx, id)
	})
}

func (s *SyncService) runUpload(ctx context.Context, id int64) (models.Item, error) {
	started := s.now()
	job, err := s.prepareUpload(ctx, id)
	if err != nil {
		return models.Item{}, err
	}

	remote, cipherSize, err := s.performUpload(ctx, job)
	if err != nil {
		err = s.failed(ctx, models.TaskUpload, started, err)
		if isCanceled(ctx, err) {
			return models.Item{}, err
		}
		if s.waitsForParent(ctx, job, err) {
			s.logger.Debug(ctx, "upload waits for its parent", "item_id", id, "parent_id", job.item.ParentID)
			return models.Item{}, err
		}
		s.logger.Warn(ctx, "upload failed", "item_id", id, "path", job.item.Path, "error", err)
		if rerr := s.recordUploadFailure(ctx, id, err); rerr != nil {
			s.logger.Error(ctx, "failed to record upload failure", "item_id", id, "error", rerr)
		}
		s.publish(ctx, id)
		return models.Item{}, err
	}
	s.succeeded(models.TaskUpload, started)
	s.metrics.RecordTransfer("upload", cipherSize)

	if err := s.finishUpload(ctx, job, remote, cipherSize); err != nil {
		return models.Item{}, err
	}
	if job.item.IsFolder() {
		s.kickDependents(ctx, id)
	}
	s.publish(ctx, id)
	return s.Item(ctx, id)
}

func (s *SyncService) prepareUpload(ctx context.Context, id int64) (*uploadJob, error) {
	r := s.vault.Read()
	if _, err := r.Uploads.Get(ctx, id); err != nil {
		return nil, err
	}
	item, err := r.Metadata.Get(ctx, id)
	if errors.Is(err, common.ErrItemNotFound) {
		return nil, s.purgeOrphan(ctx, models.TaskUpload, id, func(ctx context.Context, r *vault.Repositories) error {
			return r.Uploads.Remove(ctx, id)
		})
	}
	if err != nil {
		return nil, err
	}
	remotePath, err := remotePathOf(ctx, r, item)
	if err != nil {
		return nil, err
	}
	job := &uploadJob{item: *item, remotePath: remotePath}
	if item.IsFolder() {
		return job, nil
	}

	cached, err := r.CachedFiles.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if cached == nil {
		return nil, s.dropUnuploadable(ctx, item)
	}
	job.localPath = cached.LocalPath
	job.localMod = cached.LocalLastModified
	return job, nil
}

// dropUnuploadable handles an upload whose local copy is gone. A file the
// remote never had is removed; otherwise the remote version stays.
func (s *SyncService) dropUnuploadable(ctx context.Context, item *models.ItemMetadata) error {
	s.logger.Error(ctx, "upload has no local copy", "item_id", item.ID, "path", item.Path)
	var removed []int64
	err := s.vault.Write(ctx, func(ctx context.Context, r *vault.Repositories) error {
		if err := r.Uploads.Remove(ctx, item.ID); err != nil && !errors.Is(err, common.ErrTaskNotFound) {
			return err
		}
		if !item.IsPlaceholder {
			return r.Metadata.SetStatus(ctx, item.ID, models.StatusUploaded)
		}
		var err error
		if removed, err = subtreeIDs(ctx, r, item); err != nil {
			return err
		}
		return r.Metadata.Delete(ctx, item.ID)
	})
	if err != nil {
		return err
	}
	if len(removed) > 0 {
		s.forget(ctx, removed...)
	} else {
		s.publish(ctx, item.ID)
	}
	return fmt.Errorf("upload item[%d]: local copy missing: %w", item.ID, common.ErrItemNotFound)
}

func (s *SyncService) performUpload(ctx context.Context, job *uploadJob) (cloud.ItemMetadata, int64, error) {
	target := s.remote(job.remotePath)
	if job.item.IsFolder() {
		err := s.provider.CreateFolder(ctx, target)
		if errors.Is(err, cloud.ErrAlreadyExists) {
			s.logger.Info(ctx, "adopting existing remote folder", "path", job.item.Path)
			err = nil
		}
		return cloud.ItemMetadata{Type: models.ItemTypeFolder, Path: target}, 0, err
	}

	staging := s.stagingPath()
	defer os.Remove(staging)
	if err := s.cryptor.EncryptFile(ctx, job.localPath, staging); err != nil {
		return cloud.ItemMetadata{}, 0, fmt.Errorf("encrypt item[%d]: %w", job.item.ID, err)
	}
	fi, err := os.Stat(staging)
	if err != nil {
		return cloud.ItemMetadata{}, 0, err
	}
	meta, err := s.provider.Upload(ctx, staging, target, !job.item.IsPlaceholder)
	if err != nil {
		return cloud.ItemMetadata{}, 0, err
	}
	return meta, fi.Size(), nil
}

// finishUpload records a successful upload. The task is kept when the
// local copy changed while it was being sent, and a move is queued when
// the item was relocated in the meantime.
func (s *SyncService) finishUpload(ctx context.Context, job *uploadJob, remote cloud.ItemMetadata, cipherSize int64) error {
	var again, relocated bool
	err := s.vault.Write(ctx, func(ctx context.Context, r *vault.Repositories) error {
		if _, err := r.Uploads.Get(ctx, job.item.ID); err != nil {
			return err
		}
		item, err := r.Metadata.Get(ctx, job.item.ID)
		if err != nil {
			return err
		}
		item.IsPlaceholder = false

		if item.IsFolder() {
			if err := r.Uploads.Remove(ctx, item.ID); err != nil {
				return err
			}
			if err := r.Metadata.Upsert(ctx, item); err != nil {
				return err
			}
			if err := r.Metadata.SetStatus(ctx, item.ID, models.StatusUploaded); err != nil {
				return err
			}
		} else {
			cached, err := r.CachedFiles.Get(ctx, item.ID)
			if err != nil {
				return err
			}
			if cached != nil && !cached.LocalLastModified.Equal(job.localMod) {
				again = true
				if err := r.Metadata.Upsert(ctx, item); err != nil {
					return err
				}
			} else if err := s.recordUploadedFile(ctx, r, item, cached, remote, cipherSize); err != nil {
				return err
			}
		}

		if item.ParentID == job.item.ParentID && item.Name == job.item.Name {
			return nil
		}
		source, err := uploadedPath(ctx, r, job)
		if err != nil {
			return err
		}
		relocated = true
		_, err = r.Reparents.Create(ctx, models.ReparentTaskRecord{
			ItemID:      item.ID,
			SourcePath:  source,
			TargetPath:  item.Path,
			OldParentID: job.item.ParentID,
			NewParentID: item.ParentID,
		})
		return err
	})
	if errors.Is(err, common.ErrTaskNotFound) {
		s.logger.Debug(ctx, "upload finished after its task was removed", "item_id", job.item.ID)
		return err
	}
	if err != nil {
		return err
	}

	if again {
		s.logger.Info(ctx, "local copy changed during upload, uploading again", "item_id", job.item.ID)
		s.scheduleUpload(job.item.ID)
	}
	if relocated {
		s.scheduleReparent(job.item.ID)
	}
	return nil
}

// uploadedPath is where the just uploaded item is remotely now: under
// its old parent, wherever that parent is by now.
func uploadedPath(ctx context.Context, r *vault.Repositories, job *uploadJob) (string, error) {
	parent, err := r.Metadata.Get(ctx, job.item.ParentID)
	if errors.Is(err, common.ErrItemNotFound) {
		return job.remotePath, nil
	}
	if err != nil {
		return "", err
	}
	p, err := remotePathOf(ctx, r, parent)
	if err != nil {
		return "", err
	}
	return models.JoinPath(p, job.item.Name), nil
}

func (s *SyncService) recordUploadedFile(ctx context.Context, r *vault.Repositories, item *models.ItemMetadata, cached *models.CachedFileInfo, remote cloud.ItemMetadata, cipherSize int64) error {
	if err := r.Uploads.Remove(ctx, item.ID); err != nil {
		return err
	}
	item.LastModified = remote.LastModified
	if remote.Size != nil {
		size := s.cryptor.CleartextSize(*remote.Size)
		item.Size = &size
	}
	if err := r.Metadata.Upsert(ctx, item); err != nil {
		return err
	}
	if err := r.Metadata.SetStatus(ctx, item.ID, models.StatusUploaded); err != nil {
		return err
	}
	if remote.Size != nil && *remote.Size != cipherSize {
		s.logger.Warn(ctx, "remote size differs from uploaded size, dropping local copy",
			"item_id", item.ID, "remote", *remote.Size, "local", cipherSize)
		return r.CachedFiles.Remove(ctx, item.ID)
	}
	if cached == nil {
		return nil
	}
	return r.CachedFiles.RecordLocalCopy(ctx, item.ID, cached.LocalPath, cached.LocalLastModified, remote.LastModified)
}

func (s *SyncService) recordUploadFailure(ctx context.Context, id int64, cause error) error {
	if errors.Is(cause, common.ErrItemNotFound) {
		cause = fmt.Errorf("%w (%v)", common.ErrParentFolderMissing, cause)
	}
	return s.vault.Write(ctx, func(ctx context.Context, r *vault.Repositories) error {
		err := r.Uploads.RecordFailure(ctx, id, s.now(), cause)
		if errors.Is(err, common.ErrTaskNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return r.Metadata.SetStatus(ctx, id, models.StatusUploadError)
	})
}

// waitsForParent reports whether an upload failed only because its parent
// folder has not been created remotely yet. Such a task stays pending and
// is scheduled again once the parent is uploaded.
func (s *SyncService) waitsForParent(ctx context.Context, job *uploadJob, err error) bool {
	if !errors.Is(err, common.ErrParentFolderMissing) && !errors.Is(err, common.ErrItemNotFound) {
		return false
	}
	parent, perr := s.vault.Read().Metadata.Get(ctx, job.item.ParentID)
	if perr != nil {
		return false
	}
	pending, perr := s.remotelyPending(ctx, parent)
	return perr == nil && pending
}

// kickDependents schedules pending work that waited for folderID to
// exist remotely.
func (s *SyncService) kickDependents(ctx context.Context, folderID int64) {
	r := s.vault.Read()
	uploads, err := r.Uploads.ListSoonUnder(ctx, folderID)
	if err != nil {
		s.logger.Warn(ctx, "failed to list uploads under folder", "item_id", folderID, "error", err)
	}
	for _, u := range uploads {
		if !u.Failed() && !s.sched.scheduled(u.ItemID, models.TaskUpload) {
			s.scheduleUpload(u.ItemID)
		}
	}
	reparents, err := r.Reparents.ListSoonUnder(ctx, folderID)
	if err != nil {
		s.logger.Warn(ctx, "failed to list moves into folder", "item_id", folderID, "error", err)
	}
	for _, rp := range reparents {
		if !s.sched.scheduled(rp.ItemID, models.TaskReparent) {
			s.scheduleReparent(rp.ItemID)
		}
	}
}
