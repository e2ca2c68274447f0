package metadata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/gophvault/internal/client/models"
	"github.com/dmitrijs2005/gophvault/internal/common"
	"github.com/dmitrijs2005/gophvault/internal/dbx"
)

const columns = `id, name, type, size, last_modified, parent_id, path, status,
	is_placeholder, is_maybe_outdated, favorite_rank, tag_data, sync_anchor`

const currentAnchor = `(SELECT value FROM sync_anchor WHERE id = 1)`

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(s scanner) (*models.ItemMetadata, error) {
	var (
		m            models.ItemMetadata
		typ, status  string
		size, rank   sql.NullInt64
		lastModified sql.NullInt64
	)
	err := s.Scan(&m.ID, &m.Name, &typ, &size, &lastModified, &m.ParentID, &m.Path, &status,
		&m.IsPlaceholder, &m.IsMaybeOutdated, &rank, &m.TagData, &m.SyncAnchor)
	if err != nil {
		return nil, err
	}
	m.Type = models.ItemType(typ)
	m.Status = models.ItemStatus(status)
	m.Size = dbx.Int64Ptr(size)
	m.LastModified = dbx.TimePtr(lastModified)
	m.FavoriteRank = dbx.Int64Ptr(rank)
	return &m, nil
}

func (r *SQLiteRepository) query(ctx context.Context, what string, q string, args ...any) ([]models.ItemMetadata, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", what, err)
	}
	defer rows.Close()

	var result []models.ItemMetadata
	for rows.Next() {
		m, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", what, err)
		}
		result = append(result, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate %s: %w", what, err)
	}
	return result, nil
}

func (r *SQLiteRepository) queryOne(ctx context.Context, what string, q string, args ...any) (*models.ItemMetadata, error) {
	m, err := scanItem(r.db.QueryRowContext(ctx, q, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", what, common.ErrItemNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", what, err)
	}
	return m, nil
}

// descendantPattern returns a LIKE pattern matching every path strictly
// below p. Matching is done on path_lower.
func descendantPattern(p string) string {
	lower := models.LowerPath(p)
	if lower == models.RootPath {
		lower = ""
	}
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(lower) + "/_%"
}

func (r *SQLiteRepository) Get(ctx context.Context, id int64) (*models.ItemMetadata, error) {
	return r.queryOne(ctx, fmt.Sprintf("item[%d]", id),
		`SELECT `+columns+` FROM item_metadata WHERE id = ?`, id)
}

func (r *SQLiteRepository) GetByPath(ctx context.Context, path string) (*models.ItemMetadata, error) {
	return r.queryOne(ctx, fmt.Sprintf("item[%s]", path),
		`SELECT `+columns+` FROM item_metadata WHERE path_lower = ?`, models.LowerPath(path))
}

func (r *SQLiteRepository) GetMany(ctx context.Context, ids []int64) ([]models.ItemMetadata, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return r.query(ctx, "items",
		`SELECT `+columns+` FROM item_metadata WHERE id IN (`+dbx.Placeholders(len(ids))+`) ORDER BY id`,
		dbx.Int64Args(ids)...)
}

func (r *SQLiteRepository) ChildrenOf(ctx context.Context, parentID int64) ([]models.ItemMetadata, error) {
	return r.query(ctx, "children",
		`SELECT `+columns+` FROM item_metadata
		 WHERE parent_id = ? AND id != ?
		 ORDER BY name COLLATE NOCASE`, parentID, models.RootID)
}

func (r *SQLiteRepository) PlaceholdersOf(ctx context.Context, parentID int64) ([]models.ItemMetadata, error) {
	return r.query(ctx, "placeholders",
		`SELECT `+columns+` FROM item_metadata
		 WHERE parent_id = ? AND is_placeholder = 1 AND id != ?
		 ORDER BY name COLLATE NOCASE`, parentID, models.RootID)
}

func (r *SQLiteRepository) DescendantsOf(ctx context.Context, item *models.ItemMetadata) ([]models.ItemMetadata, error) {
	return r.query(ctx, "descendants",
		`SELECT `+columns+` FROM item_metadata
		 WHERE path_lower LIKE ? ESCAPE '\' AND id != ?
		 ORDER BY path_lower`, descendantPattern(item.Path), models.RootID)
}

func (r *SQLiteRepository) WorkingSet(ctx context.Context) ([]models.ItemMetadata, error) {
	return r.query(ctx, "working set",
		`SELECT `+columns+` FROM item_metadata
		 WHERE favorite_rank IS NOT NULL OR tag_data IS NOT NULL
		 ORDER BY id`)
}

func (r *SQLiteRepository) MaybeOutdatedOf(ctx context.Context, parentID int64) ([]models.ItemMetadata, error) {
	return r.query(ctx, "outdated items",
		`SELECT `+columns+` FROM item_metadata
		 WHERE parent_id = ? AND is_maybe_outdated = 1 AND id != ?`, parentID, models.RootID)
}

func (r *SQLiteRepository) MarkAllMaybeOutdated(ctx context.Context, parentID int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE item_metadata SET is_maybe_outdated = 1
		WHERE parent_id = ? AND is_placeholder = 0 AND id != ?`, parentID, models.RootID)
	if err != nil {
		return fmt.Errorf("failed to flag children of item[%d]: %w", parentID, err)
	}
	return nil
}

// checkParent verifies that id names an existing folder.
func (r *SQLiteRepository) checkParent(ctx context.Context, id int64) error {
	var typ string
	err := r.db.QueryRowContext(ctx, `SELECT type FROM item_metadata WHERE id = ?`, id).Scan(&typ)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("parent item[%d]: %w", id, common.ErrParentFolderMissing)
	}
	if err != nil {
		return fmt.Errorf("failed to get parent item[%d]: %w", id, err)
	}
	if models.ItemType(typ) != models.ItemTypeFolder {
		return fmt.Errorf("parent item[%d] is a %s: %w", id, typ, common.ErrItemTypeMismatch)
	}
	return nil
}

func (r *SQLiteRepository) Upsert(ctx context.Context, item *models.ItemMetadata) error {
	if models.LowerPath(item.Path) == models.RootPath && item.ParentID != models.RootID {
		return fmt.Errorf("upsert root: %w", common.ErrRootItem)
	}
	if err := r.checkParent(ctx, item.ParentID); err != nil {
		return err
	}
	if item.Status == "" {
		item.Status = models.StatusUploaded
	}

	var (
		rank   sql.NullInt64
		tags   []byte
		anchor int64
	)
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO item_metadata (name, type, size, last_modified, parent_id, path, path_lower,
			status, is_placeholder, is_maybe_outdated, favorite_rank, tag_data, sync_anchor)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, `+currentAnchor+`)
		ON CONFLICT(path_lower) DO UPDATE SET
			name = excluded.name,
			type = excluded.type,
			size = excluded.size,
			last_modified = excluded.last_modified,
			parent_id = excluded.parent_id,
			path = excluded.path,
			is_placeholder = excluded.is_placeholder,
			is_maybe_outdated = excluded.is_maybe_outdated,
			favorite_rank = COALESCE(excluded.favorite_rank, item_metadata.favorite_rank),
			tag_data = COALESCE(excluded.tag_data, item_metadata.tag_data),
			sync_anchor = excluded.sync_anchor
		RETURNING id, status, favorite_rank, tag_data, sync_anchor`,
		item.Name, string(item.Type), dbx.NullInt64(item.Size), dbx.NullTime(item.LastModified),
		item.ParentID, item.Path, models.LowerPath(item.Path), string(item.Status),
		item.IsPlaceholder, item.IsMaybeOutdated, dbx.NullInt64(item.FavoriteRank), item.TagData,
	).Scan(&item.ID, &item.Status, &rank, &tags, &anchor)
	if err != nil {
		if dbx.IsForeignKeyViolation(err) {
			return fmt.Errorf("upsert item[%s]: %w", item.Path, common.ErrParentFolderMissing)
		}
		return fmt.Errorf("failed to upsert item[%s]: %w", item.Path, err)
	}
	item.FavoriteRank = dbx.Int64Ptr(rank)
	item.TagData = tags
	item.SyncAnchor = anchor
	return nil
}

func (r *SQLiteRepository) UpsertMany(ctx context.Context, items []*models.ItemMetadata) error {
	for _, item := range items {
		if err := r.Upsert(ctx, item); err != nil {
			return err
		}
	}
	return nil
}

func (r *SQLiteRepository) touch(ctx context.Context, id int64, what string, set string, arg any) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE item_metadata SET `+set+` = ?, sync_anchor = `+currentAnchor+` WHERE id = ?`, arg, id)
	if err != nil {
		return fmt.Errorf("failed to set %s of item[%d]: %w", what, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to set %s of item[%d]: %w", what, id, err)
	}
	if n == 0 {
		return fmt.Errorf("set %s of item[%d]: %w", what, id, common.ErrItemNotFound)
	}
	return nil
}

func (r *SQLiteRepository) SetStatus(ctx context.Context, id int64, status models.ItemStatus) error {
	return r.touch(ctx, id, "status", "status", string(status))
}

func (r *SQLiteRepository) SetFavoriteRank(ctx context.Context, id int64, rank *int64) error {
	return r.touch(ctx, id, "favorite rank", "favorite_rank", dbx.NullInt64(rank))
}

func (r *SQLiteRepository) SetTagData(ctx context.Context, id int64, data []byte) error {
	return r.touch(ctx, id, "tag data", "tag_data", data)
}

func (r *SQLiteRepository) Move(ctx context.Context, id, newParentID int64, newName string) (*models.ItemMetadata, error) {
	if id == models.RootID {
		return nil, fmt.Errorf("move: %w", common.ErrRootItem)
	}
	item, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	parent, err := r.Get(ctx, newParentID)
	if errors.Is(err, common.ErrItemNotFound) {
		return nil, fmt.Errorf("move item[%d]: %w", id, common.ErrParentFolderMissing)
	}
	if err != nil {
		return nil, err
	}
	if !parent.IsFolder() {
		return nil, fmt.Errorf("move item[%d] into item[%d]: %w", id, newParentID, common.ErrItemTypeMismatch)
	}

	newPath := models.JoinPath(parent.Path, newName)
	if item.IsFolder() && models.IsDescendantPath(newPath, item.Path) {
		return nil, fmt.Errorf("move item[%d] into its own subtree: %w", id, common.ErrItemTypeMismatch)
	}

	descendants, err := r.DescendantsOf(ctx, item)
	if err != nil {
		return nil, err
	}

	oldPath := item.Path
	if err := r.rewritePath(ctx, id, newParentID, newName, newPath); err != nil {
		return nil, err
	}
	for _, d := range descendants {
		p := models.RebasePath(d.Path, oldPath, newPath)
		if err := r.rewritePath(ctx, d.ID, d.ParentID, d.Name, p); err != nil {
			return nil, err
		}
	}
	return r.Get(ctx, id)
}

func (r *SQLiteRepository) rewritePath(ctx context.Context, id, parentID int64, name, path string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE item_metadata
		SET parent_id = ?, name = ?, path = ?, path_lower = ?, sync_anchor = `+currentAnchor+`
		WHERE id = ?`, parentID, name, path, models.LowerPath(path), id)
	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return fmt.Errorf("move item[%d] to %s: %w", id, path, common.ErrItemAlreadyExists)
		}
		return fmt.Errorf("failed to move item[%d] to %s: %w", id, path, err)
	}
	return nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, id int64) error {
	if id == models.RootID {
		return fmt.Errorf("delete: %w", common.ErrRootItem)
	}
	item, err := r.Get(ctx, id)
	if errors.Is(err, common.ErrItemNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO removed_items (item_id, sync_anchor)
		SELECT id, `+currentAnchor+` FROM item_metadata
		WHERE id = ? OR (path_lower LIKE ? ESCAPE '\' AND id != ?)`,
		id, descendantPattern(item.Path), models.RootID)
	if err != nil {
		return fmt.Errorf("failed to tombstone item[%d]: %w", id, err)
	}

	if _, err := r.db.ExecContext(ctx, `DELETE FROM item_metadata WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete item[%d]: %w", id, err)
	}
	return nil
}

func (r *SQLiteRepository) DeleteMany(ctx context.Context, ids []int64) error {
	for _, id := range ids {
		if err := r.Delete(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (r *SQLiteRepository) BumpAnchor(ctx context.Context) (int64, error) {
	var v int64
	err := r.db.QueryRowContext(ctx,
		`UPDATE sync_anchor SET value = value + 1 WHERE id = 1 RETURNING value`).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("failed to bump sync anchor: %w", err)
	}
	return v, nil
}

func (r *SQLiteRepository) CurrentAnchor(ctx context.Context) (int64, error) {
	var v int64
	if err := r.db.QueryRowContext(ctx, `SELECT value FROM sync_anchor WHERE id = 1`).Scan(&v); err != nil {
		return 0, fmt.Errorf("failed to read sync anchor: %w", err)
	}
	return v, nil
}

func (r *SQLiteRepository) ChangedSince(ctx context.Context, anchor int64) ([]models.ItemMetadata, error) {
	return r.query(ctx, "changed items",
		`SELECT `+columns+` FROM item_metadata
		 WHERE sync_anchor > ? AND id != ?
		 ORDER BY sync_anchor, id`, anchor, models.RootID)
}

func (r *SQLiteRepository) RemovedSince(ctx context.Context, anchor int64) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT item_id FROM removed_items WHERE sync_anchor > ? ORDER BY item_id`, anchor)
	if err != nil {
		return nil, fmt.Errorf("failed to query removed items: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan removed item: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate removed items: %w", err)
	}
	return ids, nil
}
