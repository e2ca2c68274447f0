// Package common defines the error taxonomy shared across gophvault
// components. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// ErrorInternal stands in for a persisted error code that is not known.
	ErrorInternal = errors.New("internal error")

	// Item errors surfaced to the file system host.
	ErrItemNotFound        = errors.New("item not found")
	ErrItemAlreadyExists   = errors.New("item already exists")
	ErrItemTypeMismatch    = errors.New("item type mismatch")
	ErrParentFolderMissing = errors.New("parent folder does not exist")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrNoConnectivity      = errors.New("no connectivity")
	ErrQuotaExceeded       = errors.New("quota exceeded")
	ErrRateLimited         = errors.New("rate limited")
	ErrInvalidName         = errors.New("invalid item name")
	ErrRootItem            = errors.New("operation not permitted on the root item")
	ErrUnsyncedEdits       = errors.New("item has unsynced local edits")
	ErrVaultNotInitialized = errors.New("vault is not initialized")

	// Task ledger errors.
	ErrMaintenanceModeActive = errors.New("maintenance mode is active")
	ErrRunningTaskExists     = errors.New("running task exists")
	ErrTaskAlreadyExists     = errors.New("task already exists")
	ErrTaskNotFound          = errors.New("task not found")
	ErrUploadNotFailed       = errors.New("upload has not failed")

	// Internal-consistency faults.
	ErrMissingOwningItem = errors.New("task references a missing item")
)

// IsRetryable reports whether err is a transient remote condition that
// should be recorded and retried rather than surfaced.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrNoConnectivity) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrQuotaExceeded)
}
