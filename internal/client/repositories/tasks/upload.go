package tasks

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/gophvault/internal/client/models"
	"github.com/dmitrijs2005/gophvault/internal/common"
	"github.com/dmitrijs2005/gophvault/internal/dbx"
)

const uploadColumns = `u.item_id, u.last_failed_at, u.error_code, u.error_domain`

type SQLiteUploadRepository struct {
	db dbx.DBTX
}

func NewSQLiteUploadRepository(db dbx.DBTX) *SQLiteUploadRepository {
	return &SQLiteUploadRepository{db: db}
}

func scanUpload(s scanner) (models.UploadTaskRecord, error) {
	var (
		rec    models.UploadTaskRecord
		at     sql.NullInt64
		code   sql.NullInt64
		domain sql.NullString
	)
	if err := s.Scan(&rec.ItemID, &at, &code, &domain); err != nil {
		return rec, err
	}
	rec.LastFailedAt = dbx.TimePtr(at)
	if code.Valid {
		c := int(code.Int64)
		rec.ErrorCode = &c
	}
	rec.ErrorDomain = dbx.StringPtr(domain)
	return rec, nil
}

func (r *SQLiteUploadRepository) Create(ctx context.Context, itemID int64) (*models.UploadTaskRecord, error) {
	err := insert(ctx, r.db, "upload", itemID, `
		INSERT INTO upload_tasks (item_id) VALUES (?)
		ON CONFLICT(item_id) DO UPDATE SET last_failed_at = NULL, error_code = NULL, error_domain = NULL`,
		itemID)
	if err != nil {
		return nil, err
	}
	return &models.UploadTaskRecord{ItemID: itemID}, nil
}

func (r *SQLiteUploadRepository) Get(ctx context.Context, itemID int64) (*models.UploadTaskRecord, error) {
	rec, err := queryOne(ctx, r.db, "upload", itemID, scanUpload,
		`SELECT `+uploadColumns+` FROM upload_tasks u WHERE u.item_id = ?`)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *SQLiteUploadRepository) GetMany(ctx context.Context, itemIDs []int64) (map[int64]models.UploadTaskRecord, error) {
	out := make(map[int64]models.UploadTaskRecord, len(itemIDs))
	if len(itemIDs) == 0 {
		return out, nil
	}
	recs, err := queryAll(ctx, r.db, "upload", scanUpload,
		`SELECT `+uploadColumns+` FROM upload_tasks u WHERE u.item_id IN (`+dbx.Placeholders(len(itemIDs))+`)`,
		dbx.Int64Args(itemIDs)...)
	if err != nil {
		return nil, err
	}
	for _, rec := range recs {
		out[rec.ItemID] = rec
	}
	return out, nil
}

func (r *SQLiteUploadRepository) Remove(ctx context.Context, itemID int64) error {
	return remove(ctx, r.db, "upload", "upload_tasks", itemID)
}

func (r *SQLiteUploadRepository) RecordFailure(ctx context.Context, itemID int64, at time.Time, cause error) error {
	code, domain := common.ErrorCode(cause)
	res, err := r.db.ExecContext(ctx, `
		UPDATE upload_tasks SET last_failed_at = ?, error_code = ?, error_domain = ?
		WHERE item_id = ?`, dbx.TimeValue(at), code, domain, itemID)
	if err != nil {
		return fmt.Errorf("failed to record upload failure[%d]: %w", itemID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to record upload failure[%d]: %w", itemID, err)
	}
	if n == 0 {
		return fmt.Errorf("upload task[%d]: %w", itemID, common.ErrTaskNotFound)
	}
	return nil
}

func (r *SQLiteUploadRepository) Pending(ctx context.Context) ([]models.UploadTaskRecord, error) {
	return queryAll(ctx, r.db, "upload", scanUpload,
		`SELECT `+uploadColumns+` FROM upload_tasks u WHERE u.error_code IS NULL ORDER BY u.item_id`)
}

func (r *SQLiteUploadRepository) Failed(ctx context.Context) ([]models.UploadTaskRecord, error) {
	return queryAll(ctx, r.db, "upload", scanUpload,
		`SELECT `+uploadColumns+` FROM upload_tasks u WHERE u.error_code IS NOT NULL ORDER BY u.last_failed_at`)
}

// ExistsInSubtree reports whether item or anything below it has a pending upload.
func (r *SQLiteUploadRepository) ExistsInSubtree(ctx context.Context, item *models.ItemMetadata) (bool, error) {
	lower := models.LowerPath(item.Path)
	if lower == models.RootPath {
		lower = ""
	}
	pattern := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(lower) + "/_%"

	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM upload_tasks u
		JOIN item_metadata m ON m.id = u.item_id
		WHERE m.id = ? OR m.path_lower LIKE ? ESCAPE '\'`, item.ID, pattern).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check uploads under item[%d]: %w", item.ID, err)
	}
	return n > 0, nil
}

// Uploads never change parents, so both listings use the current parent.

func (r *SQLiteUploadRepository) ListFormerlyUnder(ctx context.Context, parentID int64) ([]models.UploadTaskRecord, error) {
	return r.listUnder(ctx, parentID)
}

func (r *SQLiteUploadRepository) ListSoonUnder(ctx context.Context, parentID int64) ([]models.UploadTaskRecord, error) {
	return r.listUnder(ctx, parentID)
}

func (r *SQLiteUploadRepository) listUnder(ctx context.Context, parentID int64) ([]models.UploadTaskRecord, error) {
	return queryAll(ctx, r.db, "upload", scanUpload, `
		SELECT `+uploadColumns+` FROM upload_tasks u
		JOIN item_metadata m ON m.id = u.item_id
		WHERE m.parent_id = ? AND m.id != ?
		ORDER BY u.item_id`, parentID, models.RootID)
}
