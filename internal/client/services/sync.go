package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/dmitrijs2005/gophvault/internal/client/cloud"
	"github.com/dmitrijs2005/gophvault/internal/client/metrics"
	"github.com/dmitrijs2005/gophvault/internal/client/models"
	"github.com/dmitrijs2005/gophvault/internal/client/notify"
	"github.com/dmitrijs2005/gophvault/internal/client/projection"
	"github.com/dmitrijs2005/gophvault/internal/client/vault"
	"github.com/dmitrijs2005/gophvault/internal/common"
	"github.com/dmitrijs2005/gophvault/internal/filex"
	"github.com/dmitrijs2005/gophvault/internal/logging"
	"github.com/google/uuid"
)

// Cryptor transforms content before upload and after download, and maps
// cleartext names to remote names.
type Cryptor interface {
	EncryptFile(ctx context.Context, src, dst string) error
	DecryptFile(ctx context.Context, src, dst string) error
	EncryptPath(p string) string
	DecryptName(enc string) (string, error)
	// CleartextSize converts a remote size to the decrypted size.
	CleartextSize(n int64) int64
}

type Options struct {
	CacheDir      string
	Workers       int
	RetryInterval time.Duration
	Notifier      notify.Notifier
	Metrics       *metrics.Metrics
	// OnUnauthorized runs whenever the provider rejects the credentials.
	OnUnauthorized func(ctx context.Context, err error)
	Now            func() time.Time
}

// SyncService is the sync orchestrator of one vault.
type SyncService struct {
	vault    *vault.Vault
	provider cloud.Provider
	cryptor  Cryptor
	logger   logging.Logger
	notifier notify.Notifier
	metrics  *metrics.Metrics
	sched    *scheduler

	cacheDir       string
	retryInterval  time.Duration
	onUnauthorized func(ctx context.Context, err error)
	now            func() time.Time
}

func NewSyncService(v *vault.Vault, p cloud.Provider, c Cryptor, logger logging.Logger, opts Options) (*SyncService, error) {
	dir, err := filex.EnsureDir(opts.CacheDir)
	if err != nil {
		return nil, fmt.Errorf("prepare cache dir: %w", err)
	}
	s := &SyncService{
		vault:          v,
		provider:       p,
		cryptor:        c,
		logger:         logger.With("component", "sync"),
		notifier:       opts.Notifier,
		metrics:        opts.Metrics,
		sched:          newScheduler(opts.Workers, logger),
		cacheDir:       dir,
		retryInterval:  opts.RetryInterval,
		onUnauthorized: opts.OnUnauthorized,
		now:            opts.Now,
	}
	if s.notifier == nil {
		s.notifier = notify.Nop{}
	}
	if s.retryInterval <= 0 {
		s.retryInterval = time.Minute
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// Close cancels in-flight work and waits for executors to return.
// Persisted tasks are resumed by the next Resume.
func (s *SyncService) Close() {
	s.sched.shutdown()
}

func (s *SyncService) CacheDir() string { return s.cacheDir }

// cachePath is where the local copy of a file item lives.
func (s *SyncService) cachePath(id int64, name string) string {
	return filepath.Join(s.cacheDir, strconv.FormatInt(id, 10), name)
}

func (s *SyncService) stagingPath() string {
	return filepath.Join(s.cacheDir, filex.TempPrefix+uuid.NewString())
}

// remotePathOf returns where item currently is remotely. An item, or one
// of its ancestors, with a pending move is still at the move's source.
func remotePathOf(ctx context.Context, r *vault.Repositories, item *models.ItemMetadata) (string, error) {
	cur := item
	for {
		rec, err := r.Reparents.Get(ctx, cur.ID)
		if err == nil {
			return models.RebasePath(item.Path, cur.Path, rec.SourcePath), nil
		}
		if !errors.Is(err, common.ErrTaskNotFound) {
			return "", err
		}
		if cur.IsRoot() {
			return item.Path, nil
		}
		if cur, err = r.Metadata.Get(ctx, cur.ParentID); err != nil {
			return "", err
		}
	}
}

func (s *SyncService) remote(p string) string {
	return s.cryptor.EncryptPath(p)
}

// failed classifies a provider error after translation: unauthorized
// responses trigger the hook, and the outcome is counted.
func (s *SyncService) failed(ctx context.Context, kind models.TaskKind, started time.Time, err error) error {
	err = translate(err)
	outcome := metrics.OutcomeFailed
	switch {
	case isCanceled(ctx, err):
		outcome = metrics.OutcomeCanceled
	case common.IsRetryable(err):
		outcome = metrics.OutcomeRetryable
	case errors.Is(err, common.ErrUnauthorized):
		if s.onUnauthorized != nil {
			s.onUnauthorized(ctx, err)
		}
	}
	s.metrics.RecordTask(kind, outcome, s.now().Sub(started))
	return err
}

func (s *SyncService) succeeded(kind models.TaskKind, started time.Time) {
	s.metrics.RecordTask(kind, metrics.OutcomeSuccess, s.now().Sub(started))
}

// evict removes an item the remote no longer has, with its subtree.
func (s *SyncService) evict(ctx context.Context, id int64) error {
	var removed []int64
	err := s.vault.Write(ctx, func(ctx context.Context, r *vault.Repositories) error {
		item, err := r.Metadata.Get(ctx, id)
		if err != nil {
			return err
		}
		if removed, err = subtreeIDs(ctx, r, item); err != nil {
			return err
		}
		return r.Metadata.Delete(ctx, id)
	})
	if err != nil {
		return err
	}
	s.forget(ctx, removed...)
	return nil
}

// forget runs after rows were deleted: it cancels work on the items,
// removes their local copies and tells the host. The cascade only drops
// the cached-file rows, so the files themselves go here.
func (s *SyncService) forget(ctx context.Context, ids ...int64) {
	s.sched.cancel(ids...)
	for _, id := range ids {
		dir := filepath.Join(s.cacheDir, strconv.FormatInt(id, 10))
		if err := os.RemoveAll(dir); err != nil {
			s.logger.Warn(ctx, "failed to remove local copy", "item_id", id, "dir", dir, "error", err)
		}
		s.notifier.ItemRemoved(ctx, id)
	}
}

// purgeOrphan drops a task whose owning item is gone. It should never
// happen with the cascade in place.
func (s *SyncService) purgeOrphan(ctx context.Context, kind models.TaskKind, id int64, remove func(ctx context.Context, r *vault.Repositories) error) error {
	s.logger.Error(ctx, "task references a missing item", "kind", kind, "item_id", id)
	err := s.vault.Write(ctx, func(ctx context.Context, r *vault.Repositories) error {
		if err := remove(ctx, r); err != nil && !errors.Is(err, common.ErrTaskNotFound) {
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}
	return fmt.Errorf("%s task[%d]: %w", kind, id, common.ErrMissingOwningItem)
}

// publish notifies the host about the current state of id.
func (s *SyncService) publish(ctx context.Context, id int64) {
	item, err := s.Item(ctx, id)
	if err != nil {
		if errors.Is(err, common.ErrItemNotFound) {
			s.notifier.ItemRemoved(ctx, id)
			return
		}
		s.logger.Warn(ctx, "failed to project item", "item_id", id, "error", err)
		return
	}
	s.notifier.ItemUpdated(ctx, item)
}

// Item returns the host projection of one item.
func (s *SyncService) Item(ctx context.Context, id int64) (models.Item, error) {
	r := s.vault.Read()
	meta, err := r.Metadata.Get(ctx, id)
	if err != nil {
		return models.Item{}, err
	}
	return projection.One(ctx, r, *meta)
}

func (s *SyncService) ItemByPath(ctx context.Context, p string) (models.Item, error) {
	r := s.vault.Read()
	meta, err := r.Metadata.GetByPath(ctx, p)
	if err != nil {
		return models.Item{}, err
	}
	return projection.One(ctx, r, *meta)
}

// CachedChildren lists a folder from the local cache only.
func (s *SyncService) CachedChildren(ctx context.Context, folderID int64) ([]models.Item, error) {
	r := s.vault.Read()
	children, err := r.Metadata.ChildrenOf(ctx, folderID)
	if err != nil {
		return nil, err
	}
	return projection.Build(ctx, r, children)
}

// EnumerateWorkingSet returns every favorited or tagged item.
func (s *SyncService) EnumerateWorkingSet(ctx context.Context) ([]models.Item, error) {
	r := s.vault.Read()
	metas, err := r.Metadata.WorkingSet(ctx)
	if err != nil {
		return nil, err
	}
	return projection.Build(ctx, r, metas)
}

// ChangesSince returns items written and removed after anchor, plus the
// anchor to pass next time. The anchor is read first, so a write racing
// with the queries is reported again on the next call rather than lost.
func (s *SyncService) ChangesSince(ctx context.Context, anchor int64) (models.Changes, error) {
	r := s.vault.Read()
	current, err := r.Metadata.CurrentAnchor(ctx)
	if err != nil {
		return models.Changes{}, err
	}
	metas, err := r.Metadata.ChangedSince(ctx, anchor)
	if err != nil {
		return models.Changes{}, err
	}
	removed, err := r.Metadata.RemovedSince(ctx, anchor)
	if err != nil {
		return models.Changes{}, err
	}
	items, err := projection.Build(ctx, r, metas)
	if err != nil {
		return models.Changes{}, err
	}
	return models.Changes{Updated: items, Removed: removed, Anchor: current}, nil
}

// CacheSize reports the bytes held by local copies.
func (s *SyncService) CacheSize(ctx context.Context) (int64, error) {
	return s.vault.Read().CachedFiles.CacheSize(ctx)
}

// ClearCache evicts local copies without pending uploads.
func (s *SyncService) ClearCache(ctx context.Context) (int64, error) {
	var freed int64
	err := s.vault.Write(ctx, func(ctx context.Context, r *vault.Repositories) error {
		var err error
		freed, err = r.CachedFiles.ClearCache(ctx)
		return err
	})
	return freed, err
}
