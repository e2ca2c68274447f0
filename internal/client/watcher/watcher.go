// Package watcher turns writes to materialized files in the cache
// directory into uploads.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/gophvault/internal/client/models"
	"github.com/dmitrijs2005/gophvault/internal/client/vault"
	"github.com/dmitrijs2005/gophvault/internal/common"
	"github.com/dmitrijs2005/gophvault/internal/filex"
	"github.com/dmitrijs2005/gophvault/internal/futurex"
	"github.com/dmitrijs2005/gophvault/internal/logging"
	"github.com/fsnotify/fsnotify"
)

const DefaultDebounce = 500 * time.Millisecond

// Uploader accepts a changed local copy. services.SyncService implements it.
type Uploader interface {
	FileChanged(ctx context.Context, id int64) (models.Item, *futurex.Future[models.Item], error)
}

// Watcher follows cacheDir/<item id>/<name> files. fsnotify is not
// recursive, so every item directory is watched on its own.
type Watcher struct {
	vault    *vault.Vault
	uploader Uploader
	logger   logging.Logger
	dir      string
	debounce time.Duration

	fsw *fsnotify.Watcher

	mu      sync.Mutex
	pending map[string]*time.Timer
	wg      sync.WaitGroup
}

func New(v *vault.Vault, u Uploader, cacheDir string, debounce time.Duration, logger logging.Logger) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	return &Watcher{
		vault:    v,
		uploader: u,
		logger:   logger.With("component", "watcher"),
		dir:      cacheDir,
		debounce: debounce,
		fsw:      fsw,
		pending:  make(map[string]*time.Timer),
	}, nil
}

// Run watches until ctx ends, then releases the fsnotify handle and
// waits for in-flight callbacks.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.wg.Wait()
	defer w.stopTimers()
	defer w.fsw.Close()

	if err := w.fsw.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch cache directory %s: %w", w.dir, err)
	}
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("failed to read cache directory: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			w.watchItemDir(ctx, filepath.Join(w.dir, e.Name()))
		}
	}
	w.logger.Info(ctx, "watching cache directory", "dir", w.dir, "item_dirs", len(entries))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handle(ctx, ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn(ctx, "watcher error", "error", err)
		}
	}
}

func (w *Watcher) watchItemDir(ctx context.Context, dir string) {
	if err := w.fsw.Add(dir); err != nil {
		w.logger.Warn(ctx, "failed to watch item directory", "dir", dir, "error", err)
	}
}

func (w *Watcher) handle(ctx context.Context, ev fsnotify.Event) {
	if strings.HasPrefix(filepath.Base(ev.Name), filex.TempPrefix) {
		return
	}
	if filepath.Dir(ev.Name) == filepath.Clean(w.dir) {
		if ev.Has(fsnotify.Create) {
			if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
				w.watchItemDir(ctx, ev.Name)
			}
		}
		return
	}
	if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
		w.schedule(ctx, ev.Name)
	}
}

// schedule coalesces bursts of writes to one path into a single check.
func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok && t.Stop() {
		t.Reset(w.debounce)
		return
	}
	w.wg.Add(1)
	var t *time.Timer
	t = time.AfterFunc(w.debounce, func() {
		defer w.wg.Done()
		w.mu.Lock()
		if w.pending[path] == t {
			delete(w.pending, path)
		}
		w.mu.Unlock()
		if ctx.Err() != nil {
			return
		}
		if err := w.changed(ctx, path); err != nil {
			w.logger.Warn(ctx, "failed to accept local change", "path", path, "error", err)
		}
	})
	w.pending[path] = t
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, t := range w.pending {
		if t.Stop() {
			w.wg.Done()
		}
		delete(w.pending, path)
	}
}

// changed hands a write to a registered local copy to the uploader.
// Files the ledger does not know and copies being downloaded are ignored.
func (w *Watcher) changed(ctx context.Context, path string) error {
	r := w.vault.Read()
	info, err := r.CachedFiles.GetByLocalPath(ctx, path)
	if err != nil {
		return err
	}
	if info == nil {
		return nil
	}
	if _, err := r.Downloads.Get(ctx, info.ItemID); err == nil {
		return nil
	} else if !errors.Is(err, common.ErrTaskNotFound) {
		return err
	}

	item, _, err := w.uploader.FileChanged(ctx, info.ItemID)
	if err != nil {
		return err
	}
	w.logger.Debug(ctx, "local change accepted", "item_id", info.ItemID, "status", item.Metadata.Status)
	return nil
}
