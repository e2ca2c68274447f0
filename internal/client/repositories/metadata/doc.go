// Package metadata implements the Metadata Store over the vault's SQLite
// cache: one row per known remote file or folder, keyed by a local integer
// id and by a case-insensitive path.
//
// The tree is rooted at models.RootID. Each row references its parent with
// ON DELETE CASCADE, and every task and cached-file table references the
// row it belongs to the same way, so deleting a row never leaves orphans.
//
// Remote deletions are detected with the reconciliation protocol:
//
//	repo.MarkAllMaybeOutdated(ctx, folderID)
//	repo.UpsertMany(ctx, listing)
//	stale, _ := repo.MaybeOutdatedOf(ctx, folderID)
//	repo.DeleteMany(ctx, idsOf(stale))
//
// Every write stamps the row with the current sync anchor and every removal
// is tombstoned, which backs ChangedSince/RemovedSince.
package metadata
