package tasks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/gophvault/internal/client/models"
	"github.com/dmitrijs2005/gophvault/internal/client/repositories/maintenance"
	"github.com/dmitrijs2005/gophvault/internal/common"
	"github.com/dmitrijs2005/gophvault/internal/dbx"
)

type scanner interface {
	Scan(dest ...any) error
}

// queryAll runs q and collects rows with scan.
func queryAll[T any](ctx context.Context, db dbx.DBTX, what string, scan func(scanner) (T, error), q string, args ...any) ([]T, error) {
	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s tasks: %w", what, err)
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s task: %w", what, err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate %s tasks: %w", what, err)
	}
	return out, nil
}

func queryOne[T any](ctx context.Context, db dbx.DBTX, what string, itemID int64, scan func(scanner) (T, error), q string) (T, error) {
	v, err := scan(db.QueryRowContext(ctx, q, itemID))
	if errors.Is(err, sql.ErrNoRows) {
		return v, fmt.Errorf("%s task[%d]: %w", what, itemID, common.ErrTaskNotFound)
	}
	if err != nil {
		return v, fmt.Errorf("failed to get %s task[%d]: %w", what, itemID, err)
	}
	return v, nil
}

// insert guards against maintenance mode, then executes the insert and
// classifies constraint failures.
func insert(ctx context.Context, db dbx.DBTX, what string, itemID int64, q string, args ...any) error {
	if err := maintenance.Guard(ctx, db); err != nil {
		return fmt.Errorf("create %s task[%d]: %w", what, itemID, err)
	}
	if _, err := db.ExecContext(ctx, q, args...); err != nil {
		switch {
		case dbx.IsUniqueViolation(err):
			return fmt.Errorf("create %s task[%d]: %w", what, itemID, common.ErrTaskAlreadyExists)
		case dbx.IsForeignKeyViolation(err):
			return fmt.Errorf("create %s task[%d]: %w", what, itemID, common.ErrItemNotFound)
		}
		return fmt.Errorf("failed to create %s task[%d]: %w", what, itemID, err)
	}
	return nil
}

// remove deletes the record keyed by itemID, or reports common.ErrTaskNotFound.
func remove(ctx context.Context, db dbx.DBTX, what, table string, itemID int64) error {
	res, err := db.ExecContext(ctx, `DELETE FROM `+table+` WHERE item_id = ?`, itemID)
	if err != nil {
		return fmt.Errorf("failed to remove %s task[%d]: %w", what, itemID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to remove %s task[%d]: %w", what, itemID, err)
	}
	if n == 0 {
		return fmt.Errorf("%s task[%d]: %w", what, itemID, common.ErrTaskNotFound)
	}
	return nil
}

func purge(ctx context.Context, db dbx.DBTX, what, table string) (int64, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM `+table)
	if err != nil {
		return 0, fmt.Errorf("failed to purge %s tasks: %w", what, err)
	}
	return res.RowsAffected()
}

// rebase rewrites column for every row whose value lies strictly below
// oldPrefix, once that folder has been moved to newPrefix remotely.
func rebase(ctx context.Context, db dbx.DBTX, what, table, column, oldPrefix, newPrefix string) (int64, error) {
	rows, err := db.QueryContext(ctx, `SELECT item_id, `+column+` FROM `+table)
	if err != nil {
		return 0, fmt.Errorf("failed to query %s tasks: %w", what, err)
	}
	type hit struct {
		id   int64
		path string
	}
	var hits []hit
	for rows.Next() {
		var h hit
		if err := rows.Scan(&h.id, &h.path); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan %s task: %w", what, err)
		}
		if models.IsDescendantPath(h.path, oldPrefix) {
			hits = append(hits, h)
		}
	}
	if err := rows.Close(); err != nil {
		return 0, fmt.Errorf("failed to iterate %s tasks: %w", what, err)
	}

	for _, h := range hits {
		p := models.RebasePath(h.path, oldPrefix, newPrefix)
		if _, err := db.ExecContext(ctx, `UPDATE `+table+` SET `+column+` = ? WHERE item_id = ?`, p, h.id); err != nil {
			return 0, fmt.Errorf("failed to rebase %s task[%d]: %w", what, h.id, err)
		}
	}
	return int64(len(hits)), nil
}
