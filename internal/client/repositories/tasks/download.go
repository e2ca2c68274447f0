package tasks

import (
	"context"

	"github.com/dmitrijs2005/gophvault/internal/client/models"
	"github.com/dmitrijs2005/gophvault/internal/dbx"
)

const downloadColumns = `d.item_id, d.replace_existing, d.local_target_path`

type SQLiteDownloadRepository struct {
	db dbx.DBTX
}

func NewSQLiteDownloadRepository(db dbx.DBTX) *SQLiteDownloadRepository {
	return &SQLiteDownloadRepository{db: db}
}

func scanDownload(s scanner) (models.DownloadTaskRecord, error) {
	var rec models.DownloadTaskRecord
	err := s.Scan(&rec.ItemID, &rec.ReplaceExisting, &rec.LocalTargetPath)
	return rec, err
}

func (r *SQLiteDownloadRepository) Create(ctx context.Context, itemID int64, replaceExisting bool, localTargetPath string) (*models.DownloadTaskRecord, error) {
	err := insert(ctx, r.db, "download", itemID, `
		INSERT INTO download_tasks (item_id, replace_existing, local_target_path) VALUES (?, ?, ?)`,
		itemID, replaceExisting, localTargetPath)
	if err != nil {
		return nil, err
	}
	return &models.DownloadTaskRecord{ItemID: itemID, ReplaceExisting: replaceExisting, LocalTargetPath: localTargetPath}, nil
}

func (r *SQLiteDownloadRepository) Get(ctx context.Context, itemID int64) (*models.DownloadTaskRecord, error) {
	rec, err := queryOne(ctx, r.db, "download", itemID, scanDownload,
		`SELECT `+downloadColumns+` FROM download_tasks d WHERE d.item_id = ?`)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *SQLiteDownloadRepository) Remove(ctx context.Context, itemID int64) error {
	return remove(ctx, r.db, "download", "download_tasks", itemID)
}

func (r *SQLiteDownloadRepository) All(ctx context.Context) ([]models.DownloadTaskRecord, error) {
	return queryAll(ctx, r.db, "download", scanDownload,
		`SELECT `+downloadColumns+` FROM download_tasks d ORDER BY d.item_id`)
}

func (r *SQLiteDownloadRepository) Purge(ctx context.Context) (int64, error) {
	return purge(ctx, r.db, "download", "download_tasks")
}

func (r *SQLiteDownloadRepository) ListFormerlyUnder(ctx context.Context, parentID int64) ([]models.DownloadTaskRecord, error) {
	return r.listUnder(ctx, parentID)
}

func (r *SQLiteDownloadRepository) ListSoonUnder(ctx context.Context, parentID int64) ([]models.DownloadTaskRecord, error) {
	return r.listUnder(ctx, parentID)
}

func (r *SQLiteDownloadRepository) listUnder(ctx context.Context, parentID int64) ([]models.DownloadTaskRecord, error) {
	return queryAll(ctx, r.db, "download", scanDownload, `
		SELECT `+downloadColumns+` FROM download_tasks d
		JOIN item_metadata m ON m.id = d.item_id
		WHERE m.parent_id = ? AND m.id != ?
		ORDER BY d.item_id`, parentID, models.RootID)
}
