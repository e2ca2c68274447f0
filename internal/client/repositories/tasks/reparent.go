package tasks

import (
	"context"

	"github.com/dmitrijs2005/gophvault/internal/client/models"
	"github.com/dmitrijs2005/gophvault/internal/dbx"
)

const reparentColumns = `item_id, source_path, target_path, old_parent_id, new_parent_id`

type SQLiteReparentRepository struct {
	db dbx.DBTX
}

func NewSQLiteReparentRepository(db dbx.DBTX) *SQLiteReparentRepository {
	return &SQLiteReparentRepository{db: db}
}

func scanReparent(s scanner) (models.ReparentTaskRecord, error) {
	var rec models.ReparentTaskRecord
	err := s.Scan(&rec.ItemID, &rec.SourcePath, &rec.TargetPath, &rec.OldParentID, &rec.NewParentID)
	return rec, err
}

// Create replaces a pending move of the same item. The source path of the
// earlier record is kept, since that is where the item still is remotely.
func (r *SQLiteReparentRepository) Create(ctx context.Context, rec models.ReparentTaskRecord) (*models.ReparentTaskRecord, error) {
	err := insert(ctx, r.db, "reparent", rec.ItemID, `
		INSERT INTO reparent_tasks (`+reparentColumns+`) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(item_id) DO UPDATE SET
			target_path = excluded.target_path,
			new_parent_id = excluded.new_parent_id`,
		rec.ItemID, rec.SourcePath, rec.TargetPath, rec.OldParentID, rec.NewParentID)
	if err != nil {
		return nil, err
	}
	return r.Get(ctx, rec.ItemID)
}

func (r *SQLiteReparentRepository) Get(ctx context.Context, itemID int64) (*models.ReparentTaskRecord, error) {
	rec, err := queryOne(ctx, r.db, "reparent", itemID, scanReparent,
		`SELECT `+reparentColumns+` FROM reparent_tasks WHERE item_id = ?`)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *SQLiteReparentRepository) Remove(ctx context.Context, itemID int64) error {
	return remove(ctx, r.db, "reparent", "reparent_tasks", itemID)
}

func (r *SQLiteReparentRepository) All(ctx context.Context) ([]models.ReparentTaskRecord, error) {
	return queryAll(ctx, r.db, "reparent", scanReparent,
		`SELECT `+reparentColumns+` FROM reparent_tasks ORDER BY item_id`)
}

func (r *SQLiteReparentRepository) ListFormerlyUnder(ctx context.Context, parentID int64) ([]models.ReparentTaskRecord, error) {
	return queryAll(ctx, r.db, "reparent", scanReparent,
		`SELECT `+reparentColumns+` FROM reparent_tasks WHERE old_parent_id = ? ORDER BY item_id`, parentID)
}

func (r *SQLiteReparentRepository) ListSoonUnder(ctx context.Context, parentID int64) ([]models.ReparentTaskRecord, error) {
	return queryAll(ctx, r.db, "reparent", scanReparent,
		`SELECT `+reparentColumns+` FROM reparent_tasks WHERE new_parent_id = ? ORDER BY item_id`, parentID)
}

// RebaseSources rewrites the source path of every pending move below
// oldPrefix after that folder moved to newPrefix.
func (r *SQLiteReparentRepository) RebaseSources(ctx context.Context, oldPrefix, newPrefix string) (int64, error) {
	return rebase(ctx, r.db, "reparent", "reparent_tasks", "source_path", oldPrefix, newPrefix)
}
