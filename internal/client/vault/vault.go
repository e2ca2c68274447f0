// Package vault is the per-vault context object. It owns the SQLite cache
// store, serializes writers, and tells subscribers when a write committed.
//
// A Vault is created when a vault is opened and closed when it is locked;
// every other component receives it explicitly.
package vault

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/dmitrijs2005/gophvault/internal/client/migrations"
	"github.com/dmitrijs2005/gophvault/internal/dbx"
	"github.com/dmitrijs2005/gophvault/internal/logging"
	_ "modernc.org/sqlite"
)

type Vault struct {
	db     *sql.DB
	logger logging.Logger
	read   *Repositories

	// writeMu admits one writer at a time. Readers never take it.
	writeMu sync.Mutex

	subsMu  sync.Mutex
	subs    map[int]chan struct{}
	nextSub int
}

// Open opens (creating if needed) the cache store at path and applies
// migrations.
func Open(ctx context.Context, path string, logger logging.Logger) (*Vault, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	db, err := sql.Open("sqlite", dbx.SQLiteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := migrations.Up(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Debug(ctx, "vault store opened", "path", path)
	return New(db, logger), nil
}

// New wraps an already migrated store.
func New(db *sql.DB, logger logging.Logger) *Vault {
	return &Vault{
		db:     db,
		logger: logger,
		read:   NewRepositories(db),
		subs:   make(map[int]chan struct{}),
	}
}

func (v *Vault) DB() *sql.DB { return v.db }

// Read returns repositories bound to the pool for lock-free reads.
func (v *Vault) Read() *Repositories { return v.read }

// Write runs fn in one IMMEDIATE transaction while holding the writer
// lock. The sync anchor is advanced first so every row fn touches is
// stamped with the new anchor. fn must not block on the network.
func (v *Vault) Write(ctx context.Context, fn func(ctx context.Context, r *Repositories) error) error {
	v.writeMu.Lock()
	defer v.writeMu.Unlock()

	err := dbx.WithTx(ctx, v.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		r := NewRepositories(tx)
		if _, err := r.Metadata.BumpAnchor(ctx); err != nil {
			return err
		}
		return fn(ctx, r)
	})
	if err != nil {
		return err
	}
	v.publish()
	return nil
}

// Subscribe returns a channel that receives a value after committed
// writes. Signals coalesce: a slow reader sees one pending signal for any
// number of writes. Call the returned func to unsubscribe.
func (v *Vault) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	v.subsMu.Lock()
	id := v.nextSub
	v.nextSub++
	v.subs[id] = ch
	v.subsMu.Unlock()

	return ch, func() {
		v.subsMu.Lock()
		defer v.subsMu.Unlock()
		if _, ok := v.subs[id]; ok {
			delete(v.subs, id)
			close(ch)
		}
	}
}

func (v *Vault) publish() {
	v.subsMu.Lock()
	defer v.subsMu.Unlock()
	for _, ch := range v.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (v *Vault) Close() error {
	v.subsMu.Lock()
	for id, ch := range v.subs {
		delete(v.subs, id)
		close(ch)
	}
	v.subsMu.Unlock()
	return v.db.Close()
}
