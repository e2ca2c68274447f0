// Package cachedfiles implements the Cached-File Ledger, which tracks local
// copies of file items and the remote version each copy corresponds to.
package cachedfiles

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/dmitrijs2005/gophvault/internal/client/models"
	"github.com/dmitrijs2005/gophvault/internal/common"
	"github.com/dmitrijs2005/gophvault/internal/dbx"
)

const columns = `item_id, local_path, local_last_modified, remote_last_modified`

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanInfo(s scanner) (*models.CachedFileInfo, error) {
	var (
		info   models.CachedFileInfo
		local  int64
		remote sql.NullInt64
	)
	if err := s.Scan(&info.ItemID, &info.LocalPath, &local, &remote); err != nil {
		return nil, err
	}
	info.LocalLastModified = dbx.FromUnixNano(local)
	info.RemoteLastModified = dbx.TimePtr(remote)
	return &info, nil
}

func (r *SQLiteRepository) getOne(ctx context.Context, what, q string, arg any) (*models.CachedFileInfo, error) {
	info, err := scanInfo(r.db.QueryRowContext(ctx, q, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cached file[%s]: %w", what, err)
	}
	return info, nil
}

func (r *SQLiteRepository) Get(ctx context.Context, itemID int64) (*models.CachedFileInfo, error) {
	return r.getOne(ctx, fmt.Sprint(itemID),
		`SELECT `+columns+` FROM cached_files WHERE item_id = ?`, itemID)
}

func (r *SQLiteRepository) GetByLocalPath(ctx context.Context, localPath string) (*models.CachedFileInfo, error) {
	return r.getOne(ctx, localPath,
		`SELECT `+columns+` FROM cached_files WHERE local_path = ?`, localPath)
}

func (r *SQLiteRepository) GetMany(ctx context.Context, itemIDs []int64) (map[int64]models.CachedFileInfo, error) {
	result := make(map[int64]models.CachedFileInfo, len(itemIDs))
	if len(itemIDs) == 0 {
		return result, nil
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+columns+` FROM cached_files WHERE item_id IN (`+dbx.Placeholders(len(itemIDs))+`)`,
		dbx.Int64Args(itemIDs)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query cached files: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		info, err := scanInfo(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cached file: %w", err)
		}
		result[info.ItemID] = *info
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate cached files: %w", err)
	}
	return result, nil
}

func (r *SQLiteRepository) RecordLocalCopy(ctx context.Context, itemID int64, localPath string, localLastModified time.Time, remoteLastModified *time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO cached_files (item_id, local_path, local_last_modified, remote_last_modified)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(item_id) DO UPDATE SET
			local_path = excluded.local_path,
			local_last_modified = excluded.local_last_modified,
			remote_last_modified = excluded.remote_last_modified`,
		itemID, localPath, dbx.TimeValue(localLastModified), dbx.NullTime(remoteLastModified))
	if err != nil {
		if dbx.IsForeignKeyViolation(err) {
			return fmt.Errorf("record cached file[%d]: %w", itemID, common.ErrItemNotFound)
		}
		return fmt.Errorf("failed to record cached file[%d]: %w", itemID, err)
	}
	return nil
}

func (r *SQLiteRepository) hasPendingUpload(ctx context.Context, itemID int64) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM upload_tasks WHERE item_id = ?`, itemID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check upload task[%d]: %w", itemID, err)
	}
	return n > 0, nil
}

func (r *SQLiteRepository) Remove(ctx context.Context, itemID int64) error {
	pending, err := r.hasPendingUpload(ctx, itemID)
	if err != nil {
		return err
	}
	if pending {
		return fmt.Errorf("remove cached file[%d]: %w", itemID, common.ErrUnsyncedEdits)
	}

	info, err := r.Get(ctx, itemID)
	if err != nil || info == nil {
		return err
	}
	if err := r.Forget(ctx, itemID); err != nil {
		return err
	}
	return removeLocal(info.LocalPath)
}

func (r *SQLiteRepository) Forget(ctx context.Context, itemID int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM cached_files WHERE item_id = ?`, itemID); err != nil {
		return fmt.Errorf("failed to delete cached file[%d]: %w", itemID, err)
	}
	return nil
}

func (r *SQLiteRepository) ClearCache(ctx context.Context) (int64, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+columns+` FROM cached_files
		WHERE item_id NOT IN (SELECT item_id FROM upload_tasks)`)
	if err != nil {
		return 0, fmt.Errorf("failed to query evictable cached files: %w", err)
	}
	var evict []models.CachedFileInfo
	for rows.Next() {
		info, err := scanInfo(rows)
		if err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan cached file: %w", err)
		}
		evict = append(evict, *info)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("failed to iterate cached files: %w", err)
	}

	var freed int64
	for _, info := range evict {
		if err := r.Forget(ctx, info.ItemID); err != nil {
			return freed, err
		}
		freed += fileSize(info.LocalPath)
		if err := removeLocal(info.LocalPath); err != nil {
			return freed, err
		}
	}
	return freed, nil
}

func (r *SQLiteRepository) CacheSize(ctx context.Context) (int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT local_path FROM cached_files`)
	if err != nil {
		return 0, fmt.Errorf("failed to query cached files: %w", err)
	}
	defer rows.Close()

	var total int64
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return 0, fmt.Errorf("failed to scan cached file: %w", err)
		}
		total += fileSize(p)
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("failed to iterate cached files: %w", err)
	}
	return total, nil
}

func fileSize(p string) int64 {
	st, err := os.Stat(p)
	if err != nil {
		return 0
	}
	return st.Size()
}

// removeLocal deletes a local copy. A file that is already gone is fine.
func removeLocal(p string) error {
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove local copy %s: %w", p, err)
	}
	return nil
}
