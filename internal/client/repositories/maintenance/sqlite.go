// Package maintenance persists the vault-wide maintenance flag and provides
// the guard every task-ledger write path calls before creating a task.
package maintenance

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/gophvault/internal/common"
	"github.com/dmitrijs2005/gophvault/internal/dbx"
)

// Repository gates task creation while a vault-wide operation runs.
type Repository interface {
	IsEnabled(ctx context.Context) (bool, error)
	// Enable fails with common.ErrRunningTaskExists while any active task
	// exists, and with common.ErrMaintenanceModeActive when the flag is
	// already set. Upload tasks with a recorded failure are not active.
	Enable(ctx context.Context) error
	Disable(ctx context.Context) error
	ActiveTaskCount(ctx context.Context) (int, error)
}

// activeTasks counts every task that blocks maintenance mode.
const activeTasks = `(
	(SELECT COUNT(*) FROM upload_tasks WHERE error_code IS NULL) +
	(SELECT COUNT(*) FROM download_tasks) +
	(SELECT COUNT(*) FROM reparent_tasks) +
	(SELECT COUNT(*) FROM deletion_tasks) +
	(SELECT COUNT(*) FROM enumeration_tasks))`

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) IsEnabled(ctx context.Context) (bool, error) {
	return isEnabled(ctx, r.db)
}

func isEnabled(ctx context.Context, db dbx.DBTX) (bool, error) {
	var enabled bool
	if err := db.QueryRowContext(ctx, `SELECT enabled FROM maintenance_mode WHERE id = 1`).Scan(&enabled); err != nil {
		return false, fmt.Errorf("failed to read maintenance flag: %w", err)
	}
	return enabled, nil
}

// Enable checks for active tasks and sets the flag in one statement. Only
// the disabled to enabled transition is allowed.
func (r *SQLiteRepository) Enable(ctx context.Context) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE maintenance_mode SET enabled = 1 WHERE id = 1 AND enabled = 0 AND `+activeTasks+` = 0`)
	if err != nil {
		return fmt.Errorf("failed to enable maintenance mode: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to enable maintenance mode: %w", err)
	}
	if n == 1 {
		return nil
	}
	enabled, err := isEnabled(ctx, r.db)
	if err != nil {
		return err
	}
	if enabled {
		return fmt.Errorf("enable maintenance mode: %w", common.ErrMaintenanceModeActive)
	}
	return common.ErrRunningTaskExists
}

func (r *SQLiteRepository) Disable(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE maintenance_mode SET enabled = 0 WHERE id = 1`); err != nil {
		return fmt.Errorf("failed to disable maintenance mode: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) ActiveTaskCount(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT `+activeTasks).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count active tasks: %w", err)
	}
	return n, nil
}

// Guard fails with common.ErrMaintenanceModeActive while the flag is set.
// Call it on the same transaction as the task write it protects.
func Guard(ctx context.Context, db dbx.DBTX) error {
	enabled, err := isEnabled(ctx, db)
	if err != nil {
		return err
	}
	if enabled {
		return common.ErrMaintenanceModeActive
	}
	return nil
}
