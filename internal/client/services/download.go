package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dmitrijs2005/gophvault/internal/client/models"
	"github.com/dmitrijs2005/gophvault/internal/client/vault"
	"github.com/dmitrijs2005/gophvault/internal/common"
	"github.com/dmitrijs2005/gophvault/internal/filex"
	"github.com/dmitrijs2005/gophvault/internal/futurex"
	"github.com/google/uuid"
)

func (s *SyncService) scheduleDownload(id int64) *futurex.Future[string] {
	return schedule(s.sched, id, models.TaskDownload, func(ctx context.Context) (string, error) {
		return s.runDownload(ctx, id)
	})
}

// OpenFile makes a current local copy of id available and returns its
// path. Offline, or while local edits are pending, the cached copy is
// served as is.
func (s *SyncService) OpenFile(ctx context.Context, id int64) (string, error) {
	r := s.vault.Read()
	item, err := r.Metadata.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if item.IsFolder() {
		return "", fmt.Errorf("open item[%d]: %w", id, common.ErrItemTypeMismatch)
	}
	cached, err := r.CachedFiles.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if cached == nil || !filex.Exists(cached.LocalPath) {
		return s.download(ctx, id, s.cachePath(id, item.Name), false)
	}

	current, err := s.localCopyIsCurrent(ctx, item, cached)
	if err != nil {
		return "", err
	}
	if current {
		return cached.LocalPath, nil
	}

	conflict, err := hasVersioningConflict(ctx, r, id, cached)
	if err != nil {
		return "", err
	}
	if !conflict {
		return s.download(ctx, id, cached.LocalPath, true)
	}
	if err := s.preserveConflictingCopy(ctx, item, cached); err != nil {
		return "", err
	}
	return s.download(ctx, id, s.cachePath(id, item.Name), false)
}

// localCopyIsCurrent refreshes the metadata of item from the remote and
// compares it with the local copy.
func (s *SyncService) localCopyIsCurrent(ctx context.Context, item *models.ItemMetadata, cached *models.CachedFileInfo) (bool, error) {
	if item.Status == models.StatusUploading || item.Status == models.StatusUploadError {
		return true, nil
	}

	remotePath, err := remotePathOf(ctx, s.vault.Read(), item)
	if err != nil {
		return false, err
	}
	meta, err := s.provider.FetchMetadata(ctx, s.remote(remotePath))
	if err != nil {
		err = translate(err)
		switch {
		case errors.Is(err, common.ErrNoConnectivity):
			s.logger.Info(ctx, "offline, serving cached copy", "item_id", item.ID)
			return true, nil
		case errors.Is(err, common.ErrItemNotFound):
			if eerr := s.evict(ctx, item.ID); eerr != nil {
				return false, eerr
			}
		}
		return false, err
	}

	err = s.vault.Write(ctx, func(ctx context.Context, r *vault.Repositories) error {
		fresh, err := r.Metadata.Get(ctx, item.ID)
		if err != nil {
			return err
		}
		fresh.LastModified = meta.LastModified
		if meta.Size != nil {
			size := s.cryptor.CleartextSize(*meta.Size)
			fresh.Size = &size
		}
		return r.Metadata.Upsert(ctx, fresh)
	})
	if err != nil {
		return false, err
	}
	return cached.IsCurrent(meta.LastModified), nil
}

// hasVersioningConflict reports whether the remote changed while a local
// edit of id has not been uploaded. An upload that last failed before the
// latest local edit is treated as pending, not conflicting.
func hasVersioningConflict(ctx context.Context, r *vault.Repositories, id int64, cached *models.CachedFileInfo) (bool, error) {
	rec, err := r.Uploads.Get(ctx, id)
	if errors.Is(err, common.ErrTaskNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if cached == nil {
		return false, nil
	}
	if rec.LastFailedAt == nil {
		return true, nil
	}
	return rec.LastFailedAt.After(cached.LocalLastModified), nil
}

// preserveConflictingCopy imports the local copy of item next to it under
// a conflict name and drops the pending upload of the original.
func (s *SyncService) preserveConflictingCopy(ctx context.Context, item *models.ItemMetadata, cached *models.CachedFileInfo) error {
	dir := filepath.Join(s.cacheDir, filex.TempPrefix+uuid.NewString())
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	name := conflictName(item.Name)
	aside := filepath.Join(dir, name)
	if err := os.Rename(cached.LocalPath, aside); err != nil {
		return fmt.Errorf("move conflicting copy of item[%d]: %w", item.ID, err)
	}
	err := s.vault.Write(ctx, func(ctx context.Context, r *vault.Repositories) error {
		if err := r.Uploads.Remove(ctx, item.ID); err != nil && !errors.Is(err, common.ErrTaskNotFound) {
			return err
		}
		return r.CachedFiles.Forget(ctx, item.ID)
	})
	if err != nil {
		return err
	}
	s.logger.Warn(ctx, "remote changed under a local edit, keeping both", "item_id", item.ID, "conflict", name)
	if _, _, err := s.ImportFile(ctx, item.ParentID, name, aside); err != nil {
		return fmt.Errorf("import conflicting copy of item[%d]: %w", item.ID, err)
	}
	return nil
}

// conflictName turns "report.pdf" into "report (Conflict 1a2b3c4d).pdf".
func conflictName(name string) string {
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	if base == "" {
		base, ext = name, ""
	}
	return fmt.Sprintf("%s (Conflict %s)%s", base, uuid.NewString()[:8], ext)
}

func (s *SyncService) download(ctx context.Context, id int64, target string, replace bool) (string, error) {
	err := s.vault.Write(ctx, func(ctx context.Context, r *vault.Repositories) error {
		_, err := r.Downloads.Create(ctx, id, replace, target)
		return err
	})
	if err != nil {
		return "", err
	}
	return s.scheduleDownload(id).Await(ctx)
}

func (s *SyncService) runDownload(ctx context.Context, id int64) (string, error) {
	started := s.now()
	r := s.vault.Read()
	rec, err := r.Downloads.Get(ctx, id)
	if err != nil {
		return "", err
	}
	item, err := r.Metadata.Get(ctx, id)
	if errors.Is(err, common.ErrItemNotFound) {
		return "", s.purgeOrphan(ctx, models.TaskDownload, id, func(ctx context.Context, r *vault.Repositories) error {
			return r.Downloads.Remove(ctx, id)
		})
	}
	if err != nil {
		return "", err
	}
	remotePath, err := remotePathOf(ctx, r, item)
	if err != nil {
		return "", err
	}

	staging := s.stagingPath()
	defer os.Remove(staging)
	cipherSize, err := s.fetch(ctx, remotePath, staging, rec)
	if err != nil {
		err = s.failed(ctx, models.TaskDownload, started, err)
		if isCanceled(ctx, err) {
			return "", err
		}
		s.logger.Warn(ctx, "download failed", "item_id", id, "path", item.Path, "error", err)
		werr := s.vault.Write(ctx, func(ctx context.Context, r *vault.Repositories) error {
			if err := r.Downloads.Remove(ctx, id); err != nil && !errors.Is(err, common.ErrTaskNotFound) {
				return err
			}
			return nil
		})
		if werr != nil {
			s.logger.Error(ctx, "failed to remove download task", "item_id", id, "error", werr)
		}
		if errors.Is(err, common.ErrItemNotFound) {
			if eerr := s.evict(ctx, id); eerr != nil {
				s.logger.Error(ctx, "failed to evict item", "item_id", id, "error", eerr)
			}
		}
		return "", err
	}
	s.succeeded(models.TaskDownload, started)
	s.metrics.RecordTransfer("download", cipherSize)

	err = s.vault.Write(ctx, func(ctx context.Context, r *vault.Repositories) error {
		if err := r.Downloads.Remove(ctx, id); err != nil {
			return err
		}
		fresh, err := r.Metadata.Get(ctx, id)
		if err != nil {
			return err
		}
		fi, err := os.Stat(rec.LocalTargetPath)
		if err != nil {
			return err
		}
		if err := r.CachedFiles.RecordLocalCopy(ctx, id, rec.LocalTargetPath, fi.ModTime(), fresh.LastModified); err != nil {
			return err
		}
		if fresh.Status == models.StatusUploaded {
			return r.Metadata.SetStatus(ctx, id, models.StatusDownloaded)
		}
		return nil
	})
	if errors.Is(err, common.ErrTaskNotFound) || errors.Is(err, common.ErrItemNotFound) {
		s.logger.Debug(ctx, "download finished after its task was removed", "item_id", id)
		_ = os.Remove(rec.LocalTargetPath)
		return "", err
	}
	if err != nil {
		return "", err
	}
	s.publish(ctx, id)
	return rec.LocalTargetPath, nil
}

// fetch downloads remotePath and decrypts it into the task's target.
func (s *SyncService) fetch(ctx context.Context, remotePath, staging string, rec *models.DownloadTaskRecord) (int64, error) {
	if err := s.provider.Download(ctx, s.remote(remotePath), staging); err != nil {
		return 0, err
	}
	fi, err := os.Stat(staging)
	if err != nil {
		return 0, err
	}
	if !rec.ReplaceExisting && filex.Exists(rec.LocalTargetPath) {
		return 0, fmt.Errorf("%s: %w", rec.LocalTargetPath, common.ErrItemAlreadyExists)
	}
	if _, err := filex.EnsureDir(filepath.Dir(rec.LocalTargetPath)); err != nil {
		return 0, err
	}
	if err := s.cryptor.DecryptFile(ctx, staging, rec.LocalTargetPath); err != nil {
		return 0, fmt.Errorf("decrypt item[%d]: %w", rec.ItemID, err)
	}
	return fi.Size(), nil
}
