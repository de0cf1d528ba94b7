package sqlite

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/webquiz/quiztunnel/internal/domain"
)

const (
	journalWriteTimeout = 5 * time.Second
	pruneEvery          = 50
)

// Journal appends status events to the store and keeps it bounded.
type Journal struct {
	store *Store
	log   *slog.Logger
	keep  int

	mu       sync.Mutex
	appended int
}

// NewJournal records into store, retaining the newest keep events. A
// non-positive keep disables pruning.
func NewJournal(store *Store, keep int, logger *slog.Logger) *Journal {
	if logger == nil {
		logger = slog.Default()
	}
	return &Journal{store: store, log: logger, keep: keep}
}

// Record stores ev. Failures are logged, never returned.
func (j *Journal) Record(ev domain.StatusEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), journalWriteTimeout)
	defer cancel()
	if err := j.store.AppendEvent(ctx, ev); err != nil {
		j.log.Warn("journal append failed", "err", err, "seq", ev.Seq)
		return
	}
	if j.keep <= 0 {
		return
	}
	j.mu.Lock()
	j.appended++
	due := j.appended%pruneEvery == 0
	j.mu.Unlock()
	if !due {
		return
	}
	n, err := j.store.PruneEvents(ctx, j.keep)
	if err != nil {
		j.log.Warn("journal prune failed", "err", err)
		return
	}
	if n > 0 {
		j.log.Debug("journal pruned", "deleted", n)
	}
}
