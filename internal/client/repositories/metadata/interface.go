package metadata

import (
	"context"

	"github.com/dmitrijs2005/gophvault/internal/client/models"
)

// Repository is the Metadata Store: the local mirror of the remote tree.
// Lookups that miss return common.ErrItemNotFound.
type Repository interface {
	// Upsert resolves item by case-insensitive path. An existing row keeps
	// its id, status, favorite rank and tag data (unless item sets them);
	// every other field is overwritten. item.ID and item.Status are updated
	// to the stored values.
	Upsert(ctx context.Context, item *models.ItemMetadata) error
	UpsertMany(ctx context.Context, items []*models.ItemMetadata) error

	Get(ctx context.Context, id int64) (*models.ItemMetadata, error)
	GetByPath(ctx context.Context, path string) (*models.ItemMetadata, error)
	GetMany(ctx context.Context, ids []int64) ([]models.ItemMetadata, error)

	ChildrenOf(ctx context.Context, parentID int64) ([]models.ItemMetadata, error)
	PlaceholdersOf(ctx context.Context, parentID int64) ([]models.ItemMetadata, error)
	DescendantsOf(ctx context.Context, item *models.ItemMetadata) ([]models.ItemMetadata, error)
	WorkingSet(ctx context.Context) ([]models.ItemMetadata, error)

	// Reconciliation of a full folder listing.
	MarkAllMaybeOutdated(ctx context.Context, parentID int64) error
	MaybeOutdatedOf(ctx context.Context, parentID int64) ([]models.ItemMetadata, error)

	SetStatus(ctx context.Context, id int64, status models.ItemStatus) error
	SetFavoriteRank(ctx context.Context, id int64, rank *int64) error
	SetTagData(ctx context.Context, id int64, data []byte) error

	// Move changes the parent and name of an item and rewrites the
	// paths of its whole subtree.
	Move(ctx context.Context, id, newParentID int64, newName string) (*models.ItemMetadata, error)

	// Delete removes the row and its subtree. Task and cached-file rows
	// cascade. Removed ids are tombstoned for change enumeration.
	Delete(ctx context.Context, id int64) error
	DeleteMany(ctx context.Context, ids []int64) error

	// Incremental change enumeration.
	BumpAnchor(ctx context.Context) (int64, error)
	CurrentAnchor(ctx context.Context) (int64, error)
	ChangedSince(ctx context.Context, anchor int64) ([]models.ItemMetadata, error)
	RemovedSince(ctx context.Context, anchor int64) ([]int64, error)
}
