package services

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dmitrijs2005/gophvault/internal/client/cloud"
	"github.com/dmitrijs2005/gophvault/internal/client/models"
	"github.com/dmitrijs2005/gophvault/internal/client/notify"
	"github.com/dmitrijs2005/gophvault/internal/client/repositories/settings"
	"github.com/dmitrijs2005/gophvault/internal/client/storetest"
	"github.com/dmitrijs2005/gophvault/internal/client/vault"
	"github.com/dmitrijs2005/gophvault/internal/common"
	"github.com/dmitrijs2005/gophvault/internal/cryptox"
	"github.com/dmitrijs2005/gophvault/internal/filex"
	"github.com/dmitrijs2005/gophvault/internal/futurex"
	"github.com/dmitrijs2005/gophvault/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// plainCryptor stores content and names as they are.
type plainCryptor struct{}

func (plainCryptor) EncryptFile(ctx context.Context, src, dst string) error {
	return filex.CopyFile(ctx, src, dst)
}

func (plainCryptor) DecryptFile(ctx context.Context, src, dst string) error {
	return filex.CopyFile(ctx, src, dst)
}

func (plainCryptor) EncryptPath(p string) string            { return p }
func (plainCryptor) DecryptName(enc string) (string, error) { return enc, nil }
func (plainCryptor) CleartextSize(n int64) int64            { return n }

type harness struct {
	t         *testing.T
	ctx       context.Context
	vault     *vault.Vault
	remoteDir string
	remote    *cloud.Faulty
	notes     *notify.Recorder
	svc       *SyncService
}

func newHarness(t *testing.T) *harness {
	return newHarnessWith(t, plainCryptor{})
}

func newHarnessWith(t *testing.T, c Cryptor) *harness {
	t.Helper()
	v := vault.New(storetest.OpenDB(t), logging.Discard())
	remoteDir := t.TempDir()
	fs, err := cloud.NewLocalFS(remoteDir, 0)
	require.NoError(t, err)

	h := &harness{
		t:         t,
		ctx:       context.Background(),
		vault:     v,
		remoteDir: remoteDir,
		remote:    cloud.NewFaulty(fs),
		notes:     &notify.Recorder{},
	}
	h.svc = h.newService(c)
	return h
}

func (h *harness) newService(c Cryptor) *SyncService {
	h.t.Helper()
	svc, err := NewSyncService(h.vault, h.remote, c, logging.Discard(), Options{
		CacheDir: filepath.Join(h.t.TempDir(), "cache"),
		Workers:  2,
		Notifier: h.notes,
	})
	require.NoError(h.t, err)
	h.t.Cleanup(svc.Close)
	return svc
}

func (h *harness) localFile(content string) string {
	h.t.Helper()
	p := filepath.Join(h.t.TempDir(), "src")
	require.NoError(h.t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func (h *harness) writeRemote(rel, content string, mod time.Time) {
	h.t.Helper()
	p := filepath.Join(h.remoteDir, filepath.FromSlash(rel))
	require.NoError(h.t, os.MkdirAll(filepath.Dir(p), 0o700))
	require.NoError(h.t, os.WriteFile(p, []byte(content), 0o600))
	require.NoError(h.t, os.Chtimes(p, mod, mod))
}

func (h *harness) readRemote(rel string) string {
	h.t.Helper()
	b, err := os.ReadFile(filepath.Join(h.remoteDir, filepath.FromSlash(rel)))
	require.NoError(h.t, err)
	return string(b)
}

func (h *harness) remoteExists(rel string) bool {
	return filex.Exists(filepath.Join(h.remoteDir, filepath.FromSlash(rel)))
}

func (h *harness) byPath(p string) *models.ItemMetadata {
	h.t.Helper()
	m, err := h.vault.Read().Metadata.GetByPath(h.ctx, p)
	require.NoError(h.t, err)
	return m
}

func (h *harness) noTasks() {
	h.t.Helper()
	n, err := h.vault.Read().Maintenance.ActiveTaskCount(h.ctx)
	require.NoError(h.t, err)
	assert.Zero(h.t, n)
	failed, err := h.vault.Read().Uploads.Failed(h.ctx)
	require.NoError(h.t, err)
	assert.Empty(h.t, failed)
}

// idle waits until no job runs for id.
func (h *harness) idle(id int64) {
	h.t.Helper()
	require.Eventually(h.t, func() bool { return !h.svc.sched.busy(id) }, 5*time.Second, 5*time.Millisecond)
}

func await[T any](t *testing.T, f *futurex.Future[T]) (T, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	v, err := f.Await(ctx)
	require.NotErrorIs(t, err, context.DeadlineExceeded)
	return v, err
}

func TestCreateFolder_UploadsAndClearsPlaceholder(t *testing.T) {
	h := newHarness(t)

	item, f, err := h.svc.CreateFolder(h.ctx, models.RootID, "Docs")
	require.NoError(t, err)
	assert.True(t, item.Metadata.IsPlaceholder)
	assert.Equal(t, models.StatusUploading, item.Metadata.Status)

	done, err := await(t, f)
	require.NoError(t, err)
	assert.False(t, done.Metadata.IsPlaceholder)
	assert.Equal(t, models.StatusUploaded, done.Metadata.Status)
	assert.True(t, h.remoteExists("Docs"))
	h.noTasks()

	_, _, err = h.svc.CreateFolder(h.ctx, models.RootID, "docs")
	assert.ErrorIs(t, err, common.ErrItemAlreadyExists)
	_, _, err = h.svc.CreateFolder(h.ctx, models.RootID, "bad/name")
	assert.ErrorIs(t, err, common.ErrInvalidName)
}

func TestImportFile_UploadsContentAndKeepsLocalCopy(t *testing.T) {
	h := newHarness(t)

	_, f, err := h.svc.CreateFolder(h.ctx, models.RootID, "A")
	require.NoError(t, err)
	folder, err := await(t, f)
	require.NoError(t, err)

	_, f, err = h.svc.ImportFile(h.ctx, folder.ID(), "notes.txt", h.localFile("hello"))
	require.NoError(t, err)
	item, err := await(t, f)
	require.NoError(t, err)

	assert.Equal(t, "hello", h.readRemote("A/notes.txt"))
	assert.Equal(t, models.StatusUploaded, item.Metadata.Status)
	require.NotNil(t, item.Metadata.Size)
	assert.EqualValues(t, 5, *item.Metadata.Size)
	assert.True(t, item.NewestVersionLocallyCached)
	require.NotEmpty(t, item.LocalPath)
	b, err := os.ReadFile(item.LocalPath)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(b))
	h.noTasks()

	_, _, err = h.svc.ImportFile(h.ctx, item.ID(), "x", h.localFile("x"))
	assert.ErrorIs(t, err, common.ErrItemTypeMismatch)
}

func TestUpload_OfflineRecordsFailureAndAllowsMaintenance(t *testing.T) {
	h := newHarness(t)
	h.remote.FailAlways(cloud.OpUpload, cloud.ErrNoConnectivity)

	_, f, err := h.svc.ImportFile(h.ctx, models.RootID, "a.txt", h.localFile("a"))
	require.NoError(t, err)
	_, err = await(t, f)
	require.ErrorIs(t, err, common.ErrNoConnectivity)

	meta := h.byPath("/a.txt")
	assert.Equal(t, models.StatusUploadError, meta.Status)
	rec, err := h.vault.Read().Uploads.Get(h.ctx, meta.ID)
	require.NoError(t, err)
	require.True(t, rec.Failed())
	assert.ErrorIs(t, common.ErrorFromCode(*rec.ErrorCode, *rec.ErrorDomain), common.ErrNoConnectivity)

	item, err := h.svc.Item(h.ctx, meta.ID)
	require.NoError(t, err)
	assert.ErrorIs(t, item.LastError, common.ErrNoConnectivity)
	assert.NotEmpty(t, item.LocalPath)

	m := NewMaintenanceService(h.vault, logging.Discard())
	require.NoError(t, m.Enable(h.ctx))
	_, _, err = h.svc.RetryUpload(h.ctx, meta.ID)
	assert.ErrorIs(t, err, common.ErrMaintenanceModeActive)
	n, err := h.svc.RetrySweep(h.ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	require.NoError(t, m.Disable(h.ctx))

	h.remote.Heal()
	n, err = h.svc.RetrySweep(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Eventually(t, func() bool {
		return h.byPath("/a.txt").Status == models.StatusUploaded
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, "a", h.readRemote("a.txt"))
	h.noTasks()
}

func TestUpload_WaitsForParentFolder(t *testing.T) {
	h := newHarness(t)
	release := make(chan struct{})
	h.remote.Before = func(ctx context.Context, op cloud.Op, path string) error {
		if op == cloud.OpCreateFolder {
			<-release
		}
		return nil
	}

	folder, ff, err := h.svc.CreateFolder(h.ctx, models.RootID, "A")
	require.NoError(t, err)
	_, fc, err := h.svc.CreateFolder(h.ctx, folder.ID(), "B")
	require.NoError(t, err)
	_, fi, err := h.svc.ImportFile(h.ctx, folder.ID(), "f.txt", h.localFile("f"))
	require.NoError(t, err)

	close(release)
	_, err = await(t, ff)
	require.NoError(t, err)
	_, _ = await(t, fc)
	_, _ = await(t, fi)

	require.Eventually(t, func() bool {
		_, _ = h.svc.RetrySweep(h.ctx)
		return h.remoteExists("A/B") && h.remoteExists("A/f.txt")
	}, 5*time.Second, 20*time.Millisecond)
	require.Eventually(t, func() bool {
		n, err := h.vault.Read().Maintenance.ActiveTaskCount(h.ctx)
		return err == nil && n == 0
	}, 5*time.Second, 10*time.Millisecond)
	h.noTasks()
}

func TestDelete_NeverUploadedSubtreeLeavesNothing(t *testing.T) {
	h := newHarness(t)
	h.remote.FailAlways(cloud.OpCreateFolder, cloud.ErrNoConnectivity)

	a, fa, err := h.svc.CreateFolder(h.ctx, models.RootID, "A")
	require.NoError(t, err)
	_, err = await(t, fa)
	require.ErrorIs(t, err, common.ErrNoConnectivity)
	b, fb, err := h.svc.CreateFolder(h.ctx, a.ID(), "B")
	require.NoError(t, err)
	_, err = await(t, fb)
	require.Error(t, err)
	h.idle(a.ID())

	fd, err := h.svc.Delete(h.ctx, a.ID())
	require.NoError(t, err)
	_, err = await(t, fd)
	require.NoError(t, err)

	_, err = h.vault.Read().Metadata.Get(h.ctx, a.ID())
	assert.ErrorIs(t, err, common.ErrItemNotFound)
	_, err = h.vault.Read().Metadata.Get(h.ctx, b.ID())
	assert.ErrorIs(t, err, common.ErrItemNotFound)
	h.noTasks()
	assert.Zero(t, h.remote.Calls(cloud.OpDelete))
	assert.ElementsMatch(t, []int64{a.ID(), b.ID()}, h.notes.Removed())

	_, err = h.svc.Delete(h.ctx, models.RootID)
	assert.ErrorIs(t, err, common.ErrRootItem)
}

func TestDelete_UploadedItemIsDeletedRemotely(t *testing.T) {
	h := newHarness(t)
	_, f, err := h.svc.ImportFile(h.ctx, models.RootID, "a.txt", h.localFile("a"))
	require.NoError(t, err)
	item, err := await(t, f)
	require.NoError(t, err)
	local := item.LocalPath

	h.remote.FailNext(cloud.OpDelete, cloud.ErrNoConnectivity)
	fd, err := h.svc.Delete(h.ctx, item.ID())
	require.NoError(t, err)
	_, err = await(t, fd)
	require.ErrorIs(t, err, common.ErrNoConnectivity)
	assert.True(t, h.remoteExists("a.txt"))
	assert.NoFileExists(t, local)

	recs, err := h.vault.Read().Deletions.All(h.ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "/a.txt", recs[0].Path)

	_, err = h.svc.RetrySweep(h.ctx)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return !h.remoteExists("a.txt") }, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		recs, err := h.vault.Read().Deletions.All(h.ctx)
		return err == nil && len(recs) == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestUpload_CompletionAfterTaskRemovalIsNoOp(t *testing.T) {
	h := newHarness(t)
	entered := make(chan struct{})
	release := make(chan struct{})
	h.remote.Before = func(ctx context.Context, op cloud.Op, path string) error {
		if op == cloud.OpUpload {
			close(entered)
			<-release
		}
		return nil
	}

	item, f, err := h.svc.ImportFile(h.ctx, models.RootID, "a.txt", h.localFile("a"))
	require.NoError(t, err)
	<-entered
	require.NoError(t, h.vault.Write(h.ctx, func(ctx context.Context, r *vault.Repositories) error {
		return r.Uploads.Remove(ctx, item.ID())
	}))
	close(release)

	_, err = await(t, f)
	require.ErrorIs(t, err, common.ErrTaskNotFound)

	meta := h.byPath("/a.txt")
	assert.True(t, meta.IsPlaceholder)
	assert.Equal(t, models.StatusUploading, meta.Status)
	_, err = h.vault.Read().Uploads.Get(h.ctx, meta.ID)
	assert.ErrorIs(t, err, common.ErrTaskNotFound)
}

func TestMove_MovesRemotely(t *testing.T) {
	h := newHarness(t)
	_, f, err := h.svc.ImportFile(h.ctx, models.RootID, "a.txt", h.localFile("a"))
	require.NoError(t, err)
	file, err := await(t, f)
	require.NoError(t, err)
	_, ff, err := h.svc.CreateFolder(h.ctx, models.RootID, "B")
	require.NoError(t, err)
	folder, err := await(t, ff)
	require.NoError(t, err)

	moved, fm, err := h.svc.Move(h.ctx, file.ID(), folder.ID(), "c.txt")
	require.NoError(t, err)
	assert.Equal(t, "/B/c.txt", moved.Metadata.Path)
	_, err = await(t, fm)
	require.NoError(t, err)

	assert.False(t, h.remoteExists("a.txt"))
	assert.Equal(t, "a", h.readRemote("B/c.txt"))
	recs, err := h.vault.Read().Reparents.All(h.ctx)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestMove_FolderOfflineThenChildDeleted(t *testing.T) {
	h := newHarness(t)
	_, ff, err := h.svc.CreateFolder(h.ctx, models.RootID, "A")
	require.NoError(t, err)
	folder, err := await(t, ff)
	require.NoError(t, err)
	_, f, err := h.svc.ImportFile(h.ctx, folder.ID(), "x.txt", h.localFile("x"))
	require.NoError(t, err)
	child, err := await(t, f)
	require.NoError(t, err)

	h.remote.FailAlways(cloud.OpMove, cloud.ErrNoConnectivity)
	_, fm, err := h.svc.Move(h.ctx, folder.ID(), models.RootID, "Z")
	require.NoError(t, err)
	_, err = await(t, fm)
	require.ErrorIs(t, err, common.ErrNoConnectivity)

	h.remote.FailAlways(cloud.OpDelete, cloud.ErrNoConnectivity)
	fd, err := h.svc.Delete(h.ctx, child.ID())
	require.NoError(t, err)
	_, _ = await(t, fd)
	del, err := h.vault.Read().Deletions.Get(h.ctx, child.ID())
	require.NoError(t, err)
	assert.Equal(t, "/A/x.txt", del.Path)

	h.remote.Heal()
	fm = h.svc.scheduleReparent(folder.ID())
	_, err = await(t, fm)
	require.NoError(t, err)
	assert.True(t, h.remoteExists("Z"))

	del, err = h.vault.Read().Deletions.Get(h.ctx, child.ID())
	require.NoError(t, err)
	assert.Equal(t, "/Z/x.txt", del.Path)

	_, err = await(t, h.svc.scheduleDeletion(child.ID()))
	require.NoError(t, err)
	assert.False(t, h.remoteExists("Z/x.txt"))
	h.noTasks()
}

func TestMove_RejectedRemotelyIsReverted(t *testing.T) {
	h := newHarness(t)
	_, f, err := h.svc.ImportFile(h.ctx, models.RootID, "a.txt", h.localFile("a"))
	require.NoError(t, err)
	file, err := await(t, f)
	require.NoError(t, err)

	h.remote.FailNext(cloud.OpMove, cloud.ErrAlreadyExists)
	_, fm, err := h.svc.Move(h.ctx, file.ID(), models.RootID, "b.txt")
	require.NoError(t, err)
	_, err = await(t, fm)
	require.ErrorIs(t, err, common.ErrItemAlreadyExists)

	got, err := h.vault.Read().Metadata.Get(h.ctx, file.ID())
	require.NoError(t, err)
	assert.Equal(t, "/a.txt", got.Path)
	recs, err := h.vault.Read().Reparents.All(h.ctx)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestMove_PlaceholderMovesLocallyOnly(t *testing.T) {
	h := newHarness(t)
	h.remote.FailAlways(cloud.OpCreateFolder, cloud.ErrNoConnectivity)
	a, f, err := h.svc.CreateFolder(h.ctx, models.RootID, "A")
	require.NoError(t, err)
	_, _ = await(t, f)

	moved, fm, err := h.svc.Move(h.ctx, a.ID(), models.RootID, "B")
	require.NoError(t, err)
	assert.Equal(t, "/B", moved.Metadata.Path)
	_, err = await(t, fm)
	require.NoError(t, err)
	assert.Zero(t, h.remote.Calls(cloud.OpMove))

	h.remote.Heal()
	_, _, err = h.svc.RetryUpload(h.ctx, a.ID())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return h.remoteExists("B") }, 5*time.Second, 10*time.Millisecond)
	assert.False(t, h.remoteExists("A"))
}

func names(items []models.Item) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.Metadata.Name)
	}
	return out
}

func TestEnumerate_ReconcilesWithRemote(t *testing.T) {
	h := newHarness(t)
	mod := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	h.writeRemote("x.txt", "x", mod)
	h.writeRemote("sub/y.txt", "y", mod)

	list, err := h.svc.Enumerate(h.ctx, models.RootID, nil)
	require.NoError(t, err)
	assert.Nil(t, list.NextPageToken)
	assert.ElementsMatch(t, []string{"x.txt", "sub"}, names(list.Items))
	x := h.byPath("/x.txt")
	require.NotNil(t, x.LastModified)
	assert.True(t, x.LastModified.Equal(mod))

	sub := h.byPath("/sub")
	list, err = h.svc.Enumerate(h.ctx, sub.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"y.txt"}, names(list.Items))

	h.remote.FailAlways(cloud.OpUpload, cloud.ErrNoConnectivity)
	_, f, err := h.svc.ImportFile(h.ctx, models.RootID, "local.txt", h.localFile("l"))
	require.NoError(t, err)
	_, _ = await(t, f)

	require.NoError(t, os.RemoveAll(filepath.Join(h.remoteDir, "sub")))
	list, err = h.svc.Enumerate(h.ctx, models.RootID, nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"x.txt", "local.txt"}, names(list.Items))

	_, err = h.vault.Read().Metadata.GetByPath(h.ctx, "/sub/y.txt")
	assert.ErrorIs(t, err, common.ErrItemNotFound)
	assert.Contains(t, h.notes.Removed(), sub.ID)
}

func TestEnumerate_PagesAndTypeChanges(t *testing.T) {
	h := newHarness(t)
	fs, err := cloud.NewLocalFS(h.remoteDir, 2)
	require.NoError(t, err)
	h.remote = cloud.NewFaulty(fs)
	h.svc = h.newService(plainCryptor{})

	mod := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	for _, n := range []string{"a", "b", "c"} {
		h.writeRemote(n, n, mod)
	}

	var all []string
	var token *string
	for {
		list, err := h.svc.Enumerate(h.ctx, models.RootID, token)
		require.NoError(t, err)
		all = append(all, names(list.Items)...)
		if list.NextPageToken == nil {
			break
		}
		token = list.NextPageToken
	}
	assert.ElementsMatch(t, []string{"a", "b", "c"}, all)

	require.NoError(t, os.Remove(filepath.Join(h.remoteDir, "b")))
	require.NoError(t, os.Mkdir(filepath.Join(h.remoteDir, "b"), 0o700))
	token = nil
	for {
		list, err := h.svc.Enumerate(h.ctx, models.RootID, token)
		require.NoError(t, err)
		if list.NextPageToken == nil {
			break
		}
		token = list.NextPageToken
	}
	assert.True(t, h.byPath("/b").IsFolder())
}

func TestEnumerate_HidesPendingLocalChanges(t *testing.T) {
	h := newHarness(t)
	mod := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	h.writeRemote("x.txt", "x", mod)
	h.writeRemote("gone.txt", "g", mod)
	_, err := h.svc.Enumerate(h.ctx, models.RootID, nil)
	require.NoError(t, err)

	h.remote.FailAlways(cloud.OpMove, cloud.ErrNoConnectivity)
	h.remote.FailAlways(cloud.OpDelete, cloud.ErrNoConnectivity)
	_, fm, err := h.svc.Move(h.ctx, h.byPath("/x.txt").ID, models.RootID, "y.txt")
	require.NoError(t, err)
	_, _ = await(t, fm)
	fd, err := h.svc.Delete(h.ctx, h.byPath("/gone.txt").ID)
	require.NoError(t, err)
	_, _ = await(t, fd)

	list, err := h.svc.Enumerate(h.ctx, models.RootID, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"y.txt"}, names(list.Items))
}

func TestEnumerate_RemoteFolderGoneEvicts(t *testing.T) {
	h := newHarness(t)
	h.writeRemote("sub/a", "a", time.Now())
	_, err := h.svc.Enumerate(h.ctx, models.RootID, nil)
	require.NoError(t, err)
	sub := h.byPath("/sub")

	require.NoError(t, os.RemoveAll(filepath.Join(h.remoteDir, "sub")))
	_, err = h.svc.Enumerate(h.ctx, sub.ID, nil)
	require.ErrorIs(t, err, common.ErrItemNotFound)
	_, err = h.vault.Read().Metadata.Get(h.ctx, sub.ID)
	assert.ErrorIs(t, err, common.ErrItemNotFound)
}

func TestEnumerate_RemoteFolderGoneRemovesLocalCopies(t *testing.T) {
	h := newHarness(t)
	h.writeRemote("sub/a", "a", time.Now())
	_, err := h.svc.Enumerate(h.ctx, models.RootID, nil)
	require.NoError(t, err)
	sub := h.byPath("/sub")
	_, err = h.svc.Enumerate(h.ctx, sub.ID, nil)
	require.NoError(t, err)
	a := h.byPath("/sub/a")

	local, err := h.svc.OpenFile(h.ctx, a.ID)
	require.NoError(t, err)
	require.FileExists(t, local)
	h.idle(a.ID)

	require.NoError(t, os.RemoveAll(filepath.Join(h.remoteDir, "sub")))
	_, err = h.svc.Enumerate(h.ctx, sub.ID, nil)
	require.ErrorIs(t, err, common.ErrItemNotFound)

	assert.NoFileExists(t, local)
	assert.NoDirExists(t, filepath.Dir(local))
	assert.Contains(t, h.notes.Removed(), sub.ID)
	assert.Contains(t, h.notes.Removed(), a.ID)
}

func TestEnumerate_RemoteDeletionRemovesLocalCopy(t *testing.T) {
	h := newHarness(t)
	_, f, err := h.svc.ImportFile(h.ctx, models.RootID, "secret.txt", h.localFile("plaintext"))
	require.NoError(t, err)
	item, err := await(t, f)
	require.NoError(t, err)

	cached, err := h.vault.Read().CachedFiles.Get(h.ctx, item.ID())
	require.NoError(t, err)
	require.FileExists(t, cached.LocalPath)
	size, err := h.svc.CacheSize(h.ctx)
	require.NoError(t, err)
	require.Positive(t, size)

	require.NoError(t, os.Remove(filepath.Join(h.remoteDir, "secret.txt")))
	_, err = h.svc.Enumerate(h.ctx, models.RootID, nil)
	require.NoError(t, err)

	_, err = h.vault.Read().Metadata.Get(h.ctx, item.ID())
	assert.ErrorIs(t, err, common.ErrItemNotFound)
	assert.NoFileExists(t, cached.LocalPath)
	assert.NoDirExists(t, filepath.Dir(cached.LocalPath))
	size, err = h.svc.CacheSize(h.ctx)
	require.NoError(t, err)
	assert.Zero(t, size)
}

func TestOpenFile_DownloadsOnceAndServesCurrentCopy(t *testing.T) {
	h := newHarness(t)
	h.writeRemote("doc.txt", "remote", time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))
	_, err := h.svc.Enumerate(h.ctx, models.RootID, nil)
	require.NoError(t, err)
	id := h.byPath("/doc.txt").ID

	p, err := h.svc.OpenFile(h.ctx, id)
	require.NoError(t, err)
	b, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "remote", string(b))
	assert.Equal(t, models.StatusDownloaded, h.byPath("/doc.txt").Status)

	again, err := h.svc.OpenFile(h.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, p, again)
	assert.Equal(t, 1, h.remote.Calls(cloud.OpDownload))

	h.remote.FailAlways(cloud.OpFetchMetadata, cloud.ErrNoConnectivity)
	offline, err := h.svc.OpenFile(h.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, p, offline)
	h.remote.Heal()

	h.writeRemote("doc.txt", "newer", time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC))
	p, err = h.svc.OpenFile(h.ctx, id)
	require.NoError(t, err)
	b, err = os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "newer", string(b))

	require.NoError(t, os.Remove(filepath.Join(h.remoteDir, "doc.txt")))
	_, err = h.svc.OpenFile(h.ctx, id)
	require.ErrorIs(t, err, common.ErrItemNotFound)
	_, err = h.vault.Read().Metadata.Get(h.ctx, id)
	assert.ErrorIs(t, err, common.ErrItemNotFound)
}

func TestOpenFile_VersioningConflictKeepsBothCopies(t *testing.T) {
	h := newHarness(t)
	h.writeRemote("doc.txt", "v1", time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))
	_, err := h.svc.Enumerate(h.ctx, models.RootID, nil)
	require.NoError(t, err)
	id := h.byPath("/doc.txt").ID
	p, err := h.svc.OpenFile(h.ctx, id)
	require.NoError(t, err)

	// A local edit whose upload failed after the edit, while the item still
	// reads as downloaded.
	require.NoError(t, os.WriteFile(p, []byte("local edit"), 0o600))
	require.NoError(t, h.vault.Write(h.ctx, func(ctx context.Context, r *vault.Repositories) error {
		if _, err := r.Uploads.Create(ctx, id); err != nil {
			return err
		}
		return r.Uploads.RecordFailure(ctx, id, time.Now().Add(time.Hour), common.ErrNoConnectivity)
	}))
	h.writeRemote("doc.txt", "v2", time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC))
	h.remote.FailAlways(cloud.OpUpload, cloud.ErrNoConnectivity)

	p, err = h.svc.OpenFile(h.ctx, id)
	require.NoError(t, err)
	b, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "v2", string(b))
	_, err = h.vault.Read().Uploads.Get(h.ctx, id)
	assert.ErrorIs(t, err, common.ErrTaskNotFound)

	children, err := h.svc.CachedChildren(h.ctx, models.RootID)
	require.NoError(t, err)
	var conflict *models.Item
	for i := range children {
		if strings.HasPrefix(children[i].Metadata.Name, "doc (Conflict ") {
			conflict = &children[i]
		}
	}
	require.NotNil(t, conflict, "conflict copy in %v", names(children))
	assert.True(t, strings.HasSuffix(conflict.Metadata.Name, ").txt"))
	require.NotEmpty(t, conflict.LocalPath)
	b, err = os.ReadFile(conflict.LocalPath)
	require.NoError(t, err)
	assert.Equal(t, "local edit", string(b))
}

func TestFileChanged_UploadsNewContent(t *testing.T) {
	h := newHarness(t)
	_, f, err := h.svc.ImportFile(h.ctx, models.RootID, "a.txt", h.localFile("one"))
	require.NoError(t, err)
	item, err := await(t, f)
	require.NoError(t, err)

	_, fc, err := h.svc.FileChanged(h.ctx, item.ID())
	require.NoError(t, err)
	_, err = await(t, fc)
	require.NoError(t, err)
	assert.Equal(t, 1, h.remote.Calls(cloud.OpUpload))

	require.NoError(t, os.WriteFile(item.LocalPath, []byte("two!"), 0o600))
	later := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(item.LocalPath, later, later))
	_, fc, err = h.svc.FileChanged(h.ctx, item.ID())
	require.NoError(t, err)
	done, err := await(t, fc)
	require.NoError(t, err)
	assert.Equal(t, "two!", h.readRemote("a.txt"))
	require.NotNil(t, done.Metadata.Size)
	assert.EqualValues(t, 4, *done.Metadata.Size)
	h.noTasks()
}

func TestResume_ReschedulesAndDropsCallerBoundTasks(t *testing.T) {
	h := newHarness(t)

	var folderID int64
	require.NoError(t, h.vault.Write(h.ctx, func(ctx context.Context, r *vault.Repositories) error {
		meta := &models.ItemMetadata{Name: "A", Type: models.ItemTypeFolder, ParentID: models.RootID, Path: "/A",
			Status: models.StatusUploading, IsPlaceholder: true}
		if err := r.Metadata.Upsert(ctx, meta); err != nil {
			return err
		}
		folderID = meta.ID
		if _, err := r.Uploads.Create(ctx, meta.ID); err != nil {
			return err
		}
		_, err := r.Enumerations.Create(ctx, models.RootID, nil)
		return err
	}))

	require.NoError(t, h.svc.Resume(h.ctx))
	require.Eventually(t, func() bool {
		m, err := h.vault.Read().Metadata.Get(h.ctx, folderID)
		return err == nil && !m.IsPlaceholder
	}, 5*time.Second, 10*time.Millisecond)
	assert.True(t, h.remoteExists("A"))
	recs, err := h.vault.Read().Enumerations.All(h.ctx)
	require.NoError(t, err)
	assert.Empty(t, recs)

	at, err := h.vault.Read().Settings.Get(h.ctx, settings.KeyLastResumeAt)
	require.NoError(t, err)
	assert.NotEmpty(t, at)
}

func TestChangesSince_ReportsWritesAndRemovals(t *testing.T) {
	h := newHarness(t)
	start, err := h.svc.ChangesSince(h.ctx, 0)
	require.NoError(t, err)

	h.remote.FailAlways(cloud.OpCreateFolder, cloud.ErrNoConnectivity)
	a, f, err := h.svc.CreateFolder(h.ctx, models.RootID, "A")
	require.NoError(t, err)
	_, _ = await(t, f)
	h.idle(a.ID())

	changes, err := h.svc.ChangesSince(h.ctx, start.Anchor)
	require.NoError(t, err)
	assert.Greater(t, changes.Anchor, start.Anchor)
	require.Len(t, changes.Updated, 1)
	assert.Equal(t, a.ID(), changes.Updated[0].ID())

	fd, err := h.svc.Delete(h.ctx, a.ID())
	require.NoError(t, err)
	_, _ = await(t, fd)
	after, err := h.svc.ChangesSince(h.ctx, changes.Anchor)
	require.NoError(t, err)
	assert.Empty(t, after.Updated)
	assert.Equal(t, []int64{a.ID()}, after.Removed)
}

func TestWorkingSetBookkeeping(t *testing.T) {
	h := newHarness(t)
	h.writeRemote("a", "a", time.Now())
	_, err := h.svc.Enumerate(h.ctx, models.RootID, nil)
	require.NoError(t, err)
	id := h.byPath("/a").ID

	rank := int64(7)
	item, err := h.svc.SetFavoriteRank(h.ctx, id, &rank)
	require.NoError(t, err)
	require.NotNil(t, item.Metadata.FavoriteRank)
	assert.EqualValues(t, 7, *item.Metadata.FavoriteRank)

	ws, err := h.svc.EnumerateWorkingSet(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, names(ws))

	_, err = h.svc.SetTagData(h.ctx, id, []byte("tag"))
	require.NoError(t, err)
	_, err = h.svc.Enumerate(h.ctx, models.RootID, nil)
	require.NoError(t, err)
	m := h.byPath("/a")
	assert.Equal(t, []byte("tag"), m.TagData)
	require.NotNil(t, m.FavoriteRank)
}

func TestEncryptedVault_RoundTrip(t *testing.T) {
	_, key, err := cryptox.NewKeyFile([]byte("pw"))
	require.NoError(t, err)
	c, err := cryptox.NewCryptor(key)
	require.NoError(t, err)
	h := newHarnessWith(t, c)

	_, ff, err := h.svc.CreateFolder(h.ctx, models.RootID, "Secret")
	require.NoError(t, err)
	folder, err := await(t, ff)
	require.NoError(t, err)
	_, f, err := h.svc.ImportFile(h.ctx, folder.ID(), "plan.txt", h.localFile("top secret"))
	require.NoError(t, err)
	file, err := await(t, f)
	require.NoError(t, err)
	assert.False(t, h.remoteExists("Secret"))
	require.NotNil(t, file.Metadata.Size)
	assert.EqualValues(t, len("top secret"), *file.Metadata.Size)

	// A second device sees the same tree through the same key.
	other := h.newService(c)
	require.NoError(t, h.vault.Write(h.ctx, func(ctx context.Context, r *vault.Repositories) error {
		return r.Metadata.Delete(ctx, folder.ID())
	}))
	list, err := other.Enumerate(h.ctx, models.RootID, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"Secret"}, names(list.Items))
	list, err = other.Enumerate(h.ctx, list.Items[0].ID(), nil)
	require.NoError(t, err)
	require.Equal(t, []string{"plan.txt"}, names(list.Items))
	assert.EqualValues(t, len("top secret"), *list.Items[0].Metadata.Size)

	p, err := other.OpenFile(h.ctx, list.Items[0].ID())
	require.NoError(t, err)
	b, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "top secret", string(b))
}
