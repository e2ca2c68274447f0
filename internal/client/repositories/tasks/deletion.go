package tasks

import (
	"context"

	"github.com/dmitrijs2005/gophvault/internal/client/models"
	"github.com/dmitrijs2005/gophvault/internal/dbx"
)

const deletionColumns = `item_id, path, parent_id, item_type`

type SQLiteDeletionRepository struct {
	db dbx.DBTX
}

func NewSQLiteDeletionRepository(db dbx.DBTX) *SQLiteDeletionRepository {
	return &SQLiteDeletionRepository{db: db}
}

func scanDeletion(s scanner) (models.DeletionTaskRecord, error) {
	var (
		rec models.DeletionTaskRecord
		typ string
	)
	if err := s.Scan(&rec.ItemID, &rec.Path, &rec.ParentID, &typ); err != nil {
		return rec, err
	}
	rec.ItemType = models.ItemType(typ)
	return rec, nil
}

func (r *SQLiteDeletionRepository) Create(ctx context.Context, rec models.DeletionTaskRecord) (*models.DeletionTaskRecord, error) {
	err := insert(ctx, r.db, "deletion", rec.ItemID, `
		INSERT INTO deletion_tasks (`+deletionColumns+`) VALUES (?, ?, ?, ?)
		ON CONFLICT(item_id) DO UPDATE SET
			path = excluded.path,
			parent_id = excluded.parent_id,
			item_type = excluded.item_type`,
		rec.ItemID, rec.Path, rec.ParentID, string(rec.ItemType))
	if err != nil {
		return nil, err
	}
	out := rec
	return &out, nil
}

func (r *SQLiteDeletionRepository) Get(ctx context.Context, itemID int64) (*models.DeletionTaskRecord, error) {
	rec, err := queryOne(ctx, r.db, "deletion", itemID, scanDeletion,
		`SELECT `+deletionColumns+` FROM deletion_tasks WHERE item_id = ?`)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *SQLiteDeletionRepository) Remove(ctx context.Context, itemID int64) error {
	return remove(ctx, r.db, "deletion", "deletion_tasks", itemID)
}

func (r *SQLiteDeletionRepository) All(ctx context.Context) ([]models.DeletionTaskRecord, error) {
	return queryAll(ctx, r.db, "deletion", scanDeletion,
		`SELECT `+deletionColumns+` FROM deletion_tasks ORDER BY item_id`)
}

func (r *SQLiteDeletionRepository) ListFormerlyUnder(ctx context.Context, parentID int64) ([]models.DeletionTaskRecord, error) {
	return queryAll(ctx, r.db, "deletion", scanDeletion,
		`SELECT `+deletionColumns+` FROM deletion_tasks WHERE parent_id = ? ORDER BY item_id`, parentID)
}

// ListSoonUnder is always empty: a deleted item never arrives anywhere.
func (r *SQLiteDeletionRepository) ListSoonUnder(ctx context.Context, parentID int64) ([]models.DeletionTaskRecord, error) {
	return nil, nil
}

// RebasePaths rewrites the path of every pending delete below oldPrefix
// after that folder moved to newPrefix.
func (r *SQLiteDeletionRepository) RebasePaths(ctx context.Context, oldPrefix, newPrefix string) (int64, error) {
	return rebase(ctx, r.db, "deletion", "deletion_tasks", "path", oldPrefix, newPrefix)
}
