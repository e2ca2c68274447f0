package tasks

import (
	"context"
	"time"

	"github.com/dmitrijs2005/gophvault/internal/client/models"
)

// UploadRepository queues file uploads and folder creations.
// Create replaces an existing record and clears its failure.
type UploadRepository interface {
	Create(ctx context.Context, itemID int64) (*models.UploadTaskRecord, error)
	Get(ctx context.Context, itemID int64) (*models.UploadTaskRecord, error)
	GetMany(ctx context.Context, itemIDs []int64) (map[int64]models.UploadTaskRecord, error)
	Remove(ctx context.Context, itemID int64) error
	// RecordFailure stores when and why the last attempt failed. It does
	// not create a record.
	RecordFailure(ctx context.Context, itemID int64, at time.Time, cause error) error
	Pending(ctx context.Context) ([]models.UploadTaskRecord, error)
	Failed(ctx context.Context) ([]models.UploadTaskRecord, error)
	ExistsInSubtree(ctx context.Context, item *models.ItemMetadata) (bool, error)
	ListFormerlyUnder(ctx context.Context, parentID int64) ([]models.UploadTaskRecord, error)
	ListSoonUnder(ctx context.Context, parentID int64) ([]models.UploadTaskRecord, error)
}

// DownloadRepository rejects a second record for the same item.
type DownloadRepository interface {
	Create(ctx context.Context, itemID int64, replaceExisting bool, localTargetPath string) (*models.DownloadTaskRecord, error)
	Get(ctx context.Context, itemID int64) (*models.DownloadTaskRecord, error)
	Remove(ctx context.Context, itemID int64) error
	All(ctx context.Context) ([]models.DownloadTaskRecord, error)
	Purge(ctx context.Context) (int64, error)
	ListFormerlyUnder(ctx context.Context, parentID int64) ([]models.DownloadTaskRecord, error)
	ListSoonUnder(ctx context.Context, parentID int64) ([]models.DownloadTaskRecord, error)
}

// ReparentRepository queues moves and renames.
// Create replaces an existing record for the item.
type ReparentRepository interface {
	Create(ctx context.Context, rec models.ReparentTaskRecord) (*models.ReparentTaskRecord, error)
	Get(ctx context.Context, itemID int64) (*models.ReparentTaskRecord, error)
	Remove(ctx context.Context, itemID int64) error
	All(ctx context.Context) ([]models.ReparentTaskRecord, error)
	ListFormerlyUnder(ctx context.Context, parentID int64) ([]models.ReparentTaskRecord, error)
	ListSoonUnder(ctx context.Context, parentID int64) ([]models.ReparentTaskRecord, error)
	RebaseSources(ctx context.Context, oldPrefix, newPrefix string) (int64, error)
}

// DeletionRepository queues remote deletes. Records have no item row.
type DeletionRepository interface {
	Create(ctx context.Context, rec models.DeletionTaskRecord) (*models.DeletionTaskRecord, error)
	Get(ctx context.Context, itemID int64) (*models.DeletionTaskRecord, error)
	Remove(ctx context.Context, itemID int64) error
	All(ctx context.Context) ([]models.DeletionTaskRecord, error)
	ListFormerlyUnder(ctx context.Context, parentID int64) ([]models.DeletionTaskRecord, error)
	ListSoonUnder(ctx context.Context, parentID int64) ([]models.DeletionTaskRecord, error)
	RebasePaths(ctx context.Context, oldPrefix, newPrefix string) (int64, error)
}

// EnumerationRepository tracks in-flight folder listings and rejects a
// second record for the same folder.
type EnumerationRepository interface {
	Create(ctx context.Context, itemID int64, pageToken *string) (*models.EnumerationTaskRecord, error)
	Get(ctx context.Context, itemID int64) (*models.EnumerationTaskRecord, error)
	Remove(ctx context.Context, itemID int64) error
	All(ctx context.Context) ([]models.EnumerationTaskRecord, error)
	Purge(ctx context.Context) (int64, error)
	ListFormerlyUnder(ctx context.Context, parentID int64) ([]models.EnumerationTaskRecord, error)
	ListSoonUnder(ctx context.Context, parentID int64) ([]models.EnumerationTaskRecord, error)
}
