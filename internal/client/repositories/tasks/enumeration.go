package tasks

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/gophvault/internal/client/models"
	"github.com/dmitrijs2005/gophvault/internal/dbx"
)

const enumerationColumns = `e.item_id, e.page_token`

type SQLiteEnumerationRepository struct {
	db dbx.DBTX
}

func NewSQLiteEnumerationRepository(db dbx.DBTX) *SQLiteEnumerationRepository {
	return &SQLiteEnumerationRepository{db: db}
}

func scanEnumeration(s scanner) (models.EnumerationTaskRecord, error) {
	var (
		rec   models.EnumerationTaskRecord
		token sql.NullString
	)
	if err := s.Scan(&rec.ItemID, &token); err != nil {
		return rec, err
	}
	rec.PageToken = dbx.StringPtr(token)
	return rec, nil
}

func (r *SQLiteEnumerationRepository) Create(ctx context.Context, itemID int64, pageToken *string) (*models.EnumerationTaskRecord, error) {
	err := insert(ctx, r.db, "enumeration", itemID,
		`INSERT INTO enumeration_tasks (item_id, page_token) VALUES (?, ?)`,
		itemID, dbx.NullString(pageToken))
	if err != nil {
		return nil, err
	}
	return &models.EnumerationTaskRecord{ItemID: itemID, PageToken: pageToken}, nil
}

func (r *SQLiteEnumerationRepository) Get(ctx context.Context, itemID int64) (*models.EnumerationTaskRecord, error) {
	rec, err := queryOne(ctx, r.db, "enumeration", itemID, scanEnumeration,
		`SELECT `+enumerationColumns+` FROM enumeration_tasks e WHERE e.item_id = ?`)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *SQLiteEnumerationRepository) Remove(ctx context.Context, itemID int64) error {
	return remove(ctx, r.db, "enumeration", "enumeration_tasks", itemID)
}

func (r *SQLiteEnumerationRepository) All(ctx context.Context) ([]models.EnumerationTaskRecord, error) {
	return queryAll(ctx, r.db, "enumeration", scanEnumeration,
		`SELECT `+enumerationColumns+` FROM enumeration_tasks e ORDER BY e.item_id`)
}

func (r *SQLiteEnumerationRepository) Purge(ctx context.Context) (int64, error) {
	return purge(ctx, r.db, "enumeration", "enumeration_tasks")
}

func (r *SQLiteEnumerationRepository) ListFormerlyUnder(ctx context.Context, parentID int64) ([]models.EnumerationTaskRecord, error) {
	return r.listUnder(ctx, parentID)
}

func (r *SQLiteEnumerationRepository) ListSoonUnder(ctx context.Context, parentID int64) ([]models.EnumerationTaskRecord, error) {
	return r.listUnder(ctx, parentID)
}

func (r *SQLiteEnumerationRepository) listUnder(ctx context.Context, parentID int64) ([]models.EnumerationTaskRecord, error) {
	return queryAll(ctx, r.db, "enumeration", scanEnumeration, `
		SELECT `+enumerationColumns+` FROM enumeration_tasks e
		JOIN item_metadata m ON m.id = e.item_id
		WHERE m.parent_id = ? AND m.id != ?
		ORDER BY e.item_id`, parentID, models.RootID)
}
