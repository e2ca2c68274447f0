// Package workingset follows the favorited and tagged items of a vault and
// tells the file system host what entered, changed or left that set.
package workingset

import (
	"context"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/gophvault/internal/client/models"
	"github.com/dmitrijs2005/gophvault/internal/client/notify"
	"github.com/dmitrijs2005/gophvault/internal/client/projection"
	"github.com/dmitrijs2005/gophvault/internal/client/vault"
	"github.com/dmitrijs2005/gophvault/internal/logging"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

// The anchor moves on every write, including ones the host cannot see.
var sameItems = []cmp.Option{
	cmpopts.EquateErrors(),
	cmpopts.IgnoreFields(models.ItemMetadata{}, "SyncAnchor"),
	cmpopts.SortSlices(func(a, b models.Item) bool { return a.ID() < b.ID() }),
	cmpopts.EquateEmpty(),
}

type Projector struct {
	vault    *vault.Vault
	notifier notify.Notifier
	logger   logging.Logger

	mu      sync.Mutex
	current []models.Item
	primed  bool
}

func New(v *vault.Vault, n notify.Notifier, logger logging.Logger) *Projector {
	return &Projector{vault: v, notifier: n, logger: logger.With("component", "workingset")}
}

// Refresh recomputes the working set and emits the difference to the
// previous computation. The first call only records the set.
func (p *Projector) Refresh(ctx context.Context) error {
	r := p.vault.Read()
	metas, err := r.Metadata.WorkingSet(ctx)
	if err != nil {
		return fmt.Errorf("working set: %w", err)
	}
	items, err := projection.Build(ctx, r, metas)
	if err != nil {
		return fmt.Errorf("working set: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	old, primed := p.current, p.primed
	p.current, p.primed = items, true
	if !primed {
		return nil
	}

	removed := missing(old, items)
	if len(removed) > 0 {
		p.notifier.WorkingSetRemoved(ctx, removed)
	}
	changed := !cmp.Equal(old, items, sameItems...)
	if changed {
		p.notifier.WorkingSetUpdated(ctx, items)
	}
	if len(removed) > 0 || changed {
		p.logger.Debug(ctx, "working set changed", "size", len(items), "removed", len(removed))
		p.notifier.WorkingSetChanged(ctx)
	}
	return nil
}

// Run refreshes after every committed vault write until ctx ends.
func (p *Projector) Run(ctx context.Context) error {
	changes, unsubscribe := p.vault.Subscribe()
	defer unsubscribe()

	if err := p.Refresh(ctx); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-changes:
			if !ok {
				return nil
			}
			if err := p.Refresh(ctx); err != nil {
				p.logger.Warn(ctx, "failed to refresh working set", "error", err)
			}
		}
	}
}

// Items returns the last computed working set.
func (p *Projector) Items() []models.Item {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.Item(nil), p.current...)
}

func missing(old, current []models.Item) []int64 {
	keep := make(map[int64]struct{}, len(current))
	for _, it := range current {
		keep[it.ID()] = struct{}{}
	}
	var out []int64
	for _, it := range old {
		if _, ok := keep[it.ID()]; !ok {
			out = append(out, it.ID())
		}
	}
	return out
}
