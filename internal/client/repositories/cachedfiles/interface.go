package cachedfiles

import (
	"context"
	"time"

	"github.com/dmitrijs2005/gophvault/internal/client/models"
)

// Repository is the Cached-File Ledger: at most one local copy per file item.
type Repository interface {
	// Get returns (nil, nil) when the item has no local copy.
	Get(ctx context.Context, itemID int64) (*models.CachedFileInfo, error)
	GetByLocalPath(ctx context.Context, localPath string) (*models.CachedFileInfo, error)
	GetMany(ctx context.Context, itemIDs []int64) (map[int64]models.CachedFileInfo, error)

	RecordLocalCopy(ctx context.Context, itemID int64, localPath string, localLastModified time.Time, remoteLastModified *time.Time) error

	// Remove deletes the record and the local file. It fails with
	// common.ErrUnsyncedEdits while the item has a pending upload.
	Remove(ctx context.Context, itemID int64) error
	// Forget deletes the record only.
	Forget(ctx context.Context, itemID int64) error

	// ClearCache evicts every local copy that has no pending upload and
	// returns the number of bytes freed.
	ClearCache(ctx context.Context) (int64, error)
	CacheSize(ctx context.Context) (int64, error)
}
