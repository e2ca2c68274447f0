package cachedfiles

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dmitrijs2005/gophvault/internal/client/models"
	"github.com/dmitrijs2005/gophvault/internal/client/storetest"
	"github.com/dmitrijs2005/gophvault/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*SQLiteRepository, *sql.DB) {
	t.Helper()
	db := storetest.OpenDB(t)
	return NewSQLiteRepository(db), db
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func TestRecordAndGet(t *testing.T) {
	r, db := setup(t)
	ctx := context.Background()
	id := storetest.InsertItem(t, db, models.RootID, "/a.txt", "file")

	info, err := r.Get(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, info)

	local := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	remote := local.Add(-time.Minute)
	require.NoError(t, r.RecordLocalCopy(ctx, id, "/cache/a.txt", local, &remote))

	info, err = r.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, "/cache/a.txt", info.LocalPath)
	assert.True(t, local.Equal(info.LocalLastModified))
	assert.True(t, info.IsCurrent(&remote))

	byPath, err := r.GetByLocalPath(ctx, "/cache/a.txt")
	require.NoError(t, err)
	assert.Equal(t, id, byPath.ItemID)

	// re-recording replaces the previous copy
	require.NoError(t, r.RecordLocalCopy(ctx, id, "/cache/a2.txt", local, nil))
	info, err = r.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "/cache/a2.txt", info.LocalPath)
	assert.Nil(t, info.RemoteLastModified)

	err = r.RecordLocalCopy(ctx, 404, "/cache/x", local, nil)
	assert.ErrorIs(t, err, common.ErrItemNotFound)
}

func TestGetMany(t *testing.T) {
	r, db := setup(t)
	ctx := context.Background()
	a := storetest.InsertItem(t, db, models.RootID, "/a", "file")
	b := storetest.InsertItem(t, db, models.RootID, "/b", "file")

	require.NoError(t, r.RecordLocalCopy(ctx, a, "/cache/a", time.Now(), nil))

	got, err := r.GetMany(ctx, []int64{a, b})
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, "/cache/a", got[a].LocalPath)

	empty, err := r.GetMany(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestRemove_DeletesLocalFile(t *testing.T) {
	r, db := setup(t)
	ctx := context.Background()
	dir := t.TempDir()
	id := storetest.InsertItem(t, db, models.RootID, "/a", "file")
	p := writeFile(t, dir, "a", "hello")

	require.NoError(t, r.RecordLocalCopy(ctx, id, p, time.Now(), nil))
	require.NoError(t, r.Remove(ctx, id))

	_, err := os.Stat(p)
	assert.True(t, os.IsNotExist(err))
	info, err := r.Get(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, info)

	// nothing to remove
	assert.NoError(t, r.Remove(ctx, id))
}

func TestRemove_MissingLocalFileIsNotAnError(t *testing.T) {
	r, db := setup(t)
	ctx := context.Background()
	id := storetest.InsertItem(t, db, models.RootID, "/a", "file")

	require.NoError(t, r.RecordLocalCopy(ctx, id, filepath.Join(t.TempDir(), "gone"), time.Now(), nil))
	assert.NoError(t, r.Remove(ctx, id))
}

func TestRemove_RefusedWithPendingUpload(t *testing.T) {
	r, db := setup(t)
	ctx := context.Background()
	id := storetest.InsertItem(t, db, models.RootID, "/a", "file")
	p := writeFile(t, t.TempDir(), "a", "edits")

	require.NoError(t, r.RecordLocalCopy(ctx, id, p, time.Now(), nil))
	_, err := db.Exec(`INSERT INTO upload_tasks (item_id) VALUES (?)`, id)
	require.NoError(t, err)

	assert.ErrorIs(t, r.Remove(ctx, id), common.ErrUnsyncedEdits)
	_, err = os.Stat(p)
	assert.NoError(t, err)
}

func TestClearCacheAndSize(t *testing.T) {
	r, db := setup(t)
	ctx := context.Background()
	dir := t.TempDir()

	clean := storetest.InsertItem(t, db, models.RootID, "/clean", "file")
	dirty := storetest.InsertItem(t, db, models.RootID, "/dirty", "file")
	cleanPath := writeFile(t, dir, "clean", "12345")
	dirtyPath := writeFile(t, dir, "dirty", "123")

	require.NoError(t, r.RecordLocalCopy(ctx, clean, cleanPath, time.Now(), nil))
	require.NoError(t, r.RecordLocalCopy(ctx, dirty, dirtyPath, time.Now(), nil))
	_, err := db.Exec(`INSERT INTO upload_tasks (item_id) VALUES (?)`, dirty)
	require.NoError(t, err)

	size, err := r.CacheSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(8), size)

	freed, err := r.ClearCache(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), freed)

	_, err = os.Stat(cleanPath)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(dirtyPath)
	assert.NoError(t, err)

	size, err = r.CacheSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), size)
}

func TestCascadeOnItemDelete(t *testing.T) {
	r, db := setup(t)
	ctx := context.Background()
	id := storetest.InsertItem(t, db, models.RootID, "/a", "file")

	require.NoError(t, r.RecordLocalCopy(ctx, id, "/cache/a", time.Now(), nil))
	_, err := db.Exec(`DELETE FROM item_metadata WHERE id = ?`, id)
	require.NoError(t, err)

	info, err := r.Get(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, info)
}
