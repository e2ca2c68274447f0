package services

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/gophvault/internal/client/models"
	"github.com/dmitrijs2005/gophvault/internal/client/vault"
	"github.com/dmitrijs2005/gophvault/internal/common"
	"github.com/dmitrijs2005/gophvault/internal/futurex"
)

func (s *SyncService) scheduleDeletion(id int64) *futurex.Future[struct{}] {
	return schedule(s.sched, id, models.TaskDeletion, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.runDeletion(ctx, id)
	})
}

// runDeletion deletes the recorded remote path. A path that is already
// gone counts as deleted.
func (s *SyncService) runDeletion(ctx context.Context, id int64) error {
	started := s.now()
	rec, err := s.vault.Read().Deletions.Get(ctx, id)
	if err != nil {
		return err
	}

	err = translate(s.provider.Delete(ctx, s.remote(rec.Path)))
	if errors.Is(err, common.ErrItemNotFound) {
		s.logger.Debug(ctx, "deleted item already gone remotely", "item_id", id, "path", rec.Path)
		err = nil
	}
	if err != nil {
		err = s.failed(ctx, models.TaskDeletion, started, err)
		if isCanceled(ctx, err) || common.IsRetryable(err) || errors.Is(err, common.ErrUnauthorized) {
			return err
		}
		s.logger.Error(ctx, "remote delete rejected, dropping task", "item_id", id, "path", rec.Path, "error", err)
	} else {
		s.succeeded(models.TaskDeletion, started)
	}

	werr := s.vault.Write(ctx, func(ctx context.Context, r *vault.Repositories) error {
		if err := r.Deletions.Remove(ctx, id); err != nil && !errors.Is(err, common.ErrTaskNotFound) {
			return err
		}
		return nil
	})
	if werr != nil {
		return werr
	}
	return err
}
