package services

import (
	"context"
	"errors"
	"time"

	"github.com/dmitrijs2005/gophvault/internal/client/models"
	"github.com/dmitrijs2005/gophvault/internal/client/repositories/settings"
	"github.com/dmitrijs2005/gophvault/internal/client/vault"
	"github.com/dmitrijs2005/gophvault/internal/common"
)

// Resume reschedules persisted work after the vault was opened.
// Downloads and enumerations had callers in the previous process that
// are gone, so their records are dropped.
func (s *SyncService) Resume(ctx context.Context) error {
	var downloads, enumerations int64
	err := s.vault.Write(ctx, func(ctx context.Context, r *vault.Repositories) error {
		var err error
		if downloads, err = r.Downloads.Purge(ctx); err != nil {
			return err
		}
		if enumerations, err = r.Enumerations.Purge(ctx); err != nil {
			return err
		}
		return r.Settings.Set(ctx, settings.KeyLastResumeAt, []byte(s.now().UTC().Format(time.RFC3339)))
	})
	if err != nil {
		return err
	}

	r := s.vault.Read()
	uploads, err := r.Uploads.Pending(ctx)
	if err != nil {
		return err
	}
	for _, u := range uploads {
		s.scheduleUpload(u.ItemID)
	}
	reparents, err := r.Reparents.All(ctx)
	if err != nil {
		return err
	}
	for _, rp := range reparents {
		s.scheduleReparent(rp.ItemID)
	}
	deletions, err := r.Deletions.All(ctx)
	if err != nil {
		return err
	}
	for _, d := range deletions {
		s.scheduleDeletion(d.ItemID)
	}

	s.logger.Info(ctx, "resumed pending work",
		"uploads", len(uploads), "moves", len(reparents), "deletions", len(deletions),
		"dropped_downloads", downloads, "dropped_enumerations", enumerations)
	return nil
}

// RetrySweep schedules failed uploads whose cause is transient, and any
// pending upload, move or deletion that is not queued. It returns how
// many jobs it scheduled.
func (s *SyncService) RetrySweep(ctx context.Context) (int, error) {
	r := s.vault.Read()
	n := 0

	failed, err := r.Uploads.Failed(ctx)
	if err != nil {
		return n, err
	}
	for _, u := range failed {
		if !common.IsRetryable(common.ErrorFromCode(*u.ErrorCode, *u.ErrorDomain)) {
			continue
		}
		if s.sched.scheduled(u.ItemID, models.TaskUpload) {
			continue
		}
		err := s.vault.Write(ctx, func(ctx context.Context, r *vault.Repositories) error {
			if _, err := r.Uploads.Create(ctx, u.ItemID); err != nil {
				return err
			}
			return r.Metadata.SetStatus(ctx, u.ItemID, models.StatusUploading)
		})
		if errors.Is(err, common.ErrMaintenanceModeActive) {
			s.logger.Debug(ctx, "maintenance mode active, retry sweep stopped")
			return n, nil
		}
		if err != nil {
			return n, err
		}
		s.scheduleUpload(u.ItemID)
		n++
	}

	pending, err := r.Uploads.Pending(ctx)
	if err != nil {
		return n, err
	}
	for _, u := range pending {
		if !s.sched.scheduled(u.ItemID, models.TaskUpload) {
			s.scheduleUpload(u.ItemID)
			n++
		}
	}
	reparents, err := r.Reparents.All(ctx)
	if err != nil {
		return n, err
	}
	for _, rp := range reparents {
		if !s.sched.scheduled(rp.ItemID, models.TaskReparent) {
			s.scheduleReparent(rp.ItemID)
			n++
		}
	}
	deletions, err := r.Deletions.All(ctx)
	if err != nil {
		return n, err
	}
	for _, d := range deletions {
		if !s.sched.scheduled(d.ItemID, models.TaskDeletion) {
			s.scheduleDeletion(d.ItemID)
			n++
		}
	}
	return n, nil
}

// Run sweeps for retryable work every retry interval until ctx ends.
func (s *SyncService) Run(ctx context.Context) error {
	t := time.NewTicker(s.retryInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			n, err := s.RetrySweep(ctx)
			if err != nil {
				s.logger.Warn(ctx, "retry sweep failed", "error", err)
				continue
			}
			if n > 0 {
				s.logger.Info(ctx, "retry sweep scheduled work", "jobs", n)
			}
		}
	}
}
