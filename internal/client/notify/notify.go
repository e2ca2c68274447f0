// Package notify carries change signals from the sync engine to the file
// system host.
package notify

import (
	"context"
	"sync"

	"github.com/dmitrijs2005/gophvault/internal/client/models"
	"github.com/dmitrijs2005/gophvault/internal/logging"
)

// Notifier receives item and working-set changes. Calls happen after the
// change committed and must not block for long.
type Notifier interface {
	ItemUpdated(ctx context.Context, item models.Item)
	ItemRemoved(ctx context.Context, id int64)

	WorkingSetRemoved(ctx context.Context, ids []int64)
	WorkingSetUpdated(ctx context.Context, items []models.Item)
	// WorkingSetChanged follows a batch of WorkingSetRemoved/WorkingSetUpdated calls.
	WorkingSetChanged(ctx context.Context)
}

// Nop drops every signal.
type Nop struct{}

func (Nop) ItemUpdated(context.Context, models.Item)         {}
func (Nop) ItemRemoved(context.Context, int64)               {}
func (Nop) WorkingSetRemoved(context.Context, []int64)       {}
func (Nop) WorkingSetUpdated(context.Context, []models.Item) {}
func (Nop) WorkingSetChanged(context.Context)                {}

// LoggingNotifier writes signals to a logger at debug level.
type LoggingNotifier struct {
	logger logging.Logger
}

func NewLoggingNotifier(logger logging.Logger) *LoggingNotifier {
	return &LoggingNotifier{logger: logger.With("component", "notify")}
}

func (n *LoggingNotifier) ItemUpdated(ctx context.Context, item models.Item) {
	n.logger.Debug(ctx, "item updated", "item_id", item.ID(), "path", item.Metadata.Path, "status", item.Metadata.Status)
}

func (n *LoggingNotifier) ItemRemoved(ctx context.Context, id int64) {
	n.logger.Debug(ctx, "item removed", "item_id", id)
}

func (n *LoggingNotifier) WorkingSetRemoved(ctx context.Context, ids []int64) {
	n.logger.Debug(ctx, "removed from working set", "count", len(ids))
}

func (n *LoggingNotifier) WorkingSetUpdated(ctx context.Context, items []models.Item) {
	n.logger.Debug(ctx, "working set updated", "count", len(items))
}

func (n *LoggingNotifier) WorkingSetChanged(ctx context.Context) {
	n.logger.Debug(ctx, "working set changed")
}

// Recorder keeps every signal in memory.
type Recorder struct {
	mu                sync.Mutex
	updated           []models.Item
	removed           []int64
	workingSetRemoved [][]int64
	workingSetUpdated [][]models.Item
	refreshes         int
}

func (r *Recorder) ItemUpdated(_ context.Context, item models.Item) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updated = append(r.updated, item)
}

func (r *Recorder) ItemRemoved(_ context.Context, id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed = append(r.removed, id)
}

func (r *Recorder) WorkingSetRemoved(_ context.Context, ids []int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workingSetRemoved = append(r.workingSetRemoved, ids)
}

func (r *Recorder) WorkingSetUpdated(_ context.Context, items []models.Item) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workingSetUpdated = append(r.workingSetUpdated, items)
}

func (r *Recorder) WorkingSetChanged(context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refreshes++
}

func (r *Recorder) Updated() []models.Item {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Item(nil), r.updated...)
}

func (r *Recorder) Removed() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.removed...)
}

func (r *Recorder) WorkingSetRemovals() [][]int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]int64(nil), r.workingSetRemoved...)
}

func (r *Recorder) WorkingSetUpdates() [][]models.Item {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]models.Item(nil), r.workingSetUpdated...)
}

func (r *Recorder) Refreshes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.refreshes
}
