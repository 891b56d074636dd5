// Package replay keeps the local record of origin transactions that were
// already turned into mint attempts.
//
// The record is bookkeeping only. The target network's request id
// uniqueness is what prevents double mints; losing this state costs
// redundant submissions, not correctness.
package replay

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/unicitynetwork/sol-bridge-go/core/logging"
	"github.com/unicitynetwork/sol-bridge-go/core/types"
	"go.uber.org/zap"
)

// Store persists snapshots. Save must never drop signatures already stored
// or lower the stored height.
type Store interface {
	// Load returns the stored snapshot, or an empty one when nothing was saved.
	Load(ctx context.Context) (*types.ProcessedSnapshot, error)
	// Save persists snapshot merged with what is stored.
	Save(ctx context.Context, snapshot *types.ProcessedSnapshot) error
	Close() error
}

// Guard is the in-memory processed set backed by a Store. Entries are only
// added and the checked height only increases.
type Guard struct {
	mu        sync.Mutex
	store     Store
	processed map[string]struct{}
	height    uint64
	dirty     bool
	logger    *zap.Logger
	now       func() time.Time
}

// NewGuard returns an empty guard over store. Call Load before use.
func NewGuard(store Store, logger *zap.Logger) *Guard {
	return &Guard{
		store:     store,
		processed: map[string]struct{}{},
		logger:    logging.Or(logger).With(zap.String("component", "replay_guard")),
		now:       time.Now,
	}
}

func (g *Guard) IsProcessed(sig string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.processed[sig]
	return ok
}

// MarkProcessed records sig. It does not move the checked height: a
// signature settling says nothing about older ones still in flight.
func (g *Guard) MarkProcessed(sig string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.processed[sig]; !ok {
		g.processed[sig] = struct{}{}
		g.dirty = true
	}
}

// AdvanceHeight raises the checked height. Lower values are ignored.
func (g *Guard) AdvanceHeight(height uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if height > g.height {
		g.height = height
		g.dirty = true
	}
}

func (g *Guard) LastCheckedHeight() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.height
}

func (g *Guard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.processed)
}

// Load merges the stored snapshot into memory.
func (g *Guard) Load(ctx context.Context) error {
	snap, err := g.store.Load(ctx)
	if err != nil {
		return errors.Wrap(err, "load processed transactions")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, sig := range snap.ProcessedTransactions {
		g.processed[sig] = struct{}{}
	}
	if snap.LastCheckedHeight > g.height {
		g.height = snap.LastCheckedHeight
	}
	g.logger.Info("loaded processed transactions",
		zap.Int("count", len(g.processed)), zap.Uint64("last_checked_height", g.height))
	return nil
}

// Snapshot returns the current state with signatures sorted.
func (g *Guard) Snapshot() *types.ProcessedSnapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.snapshot()
}

func (g *Guard) snapshot() *types.ProcessedSnapshot {
	sigs := make([]string, 0, len(g.processed))
	for sig := range g.processed {
		sigs = append(sigs, sig)
	}
	sort.Strings(sigs)
	return &types.ProcessedSnapshot{
		ProcessedTransactions: sigs,
		LastCheckedHeight:     g.height,
		SavedAt:               g.now().UTC(),
	}
}

// Flush saves the state if it changed since the last flush.
func (g *Guard) Flush(ctx context.Context) error {
	g.mu.Lock()
	if !g.dirty {
		g.mu.Unlock()
		return nil
	}
	snap := g.snapshot()
	g.dirty = false
	g.mu.Unlock()

	if err := g.store.Save(ctx, snap); err != nil {
		g.mu.Lock()
		g.dirty = true
		g.mu.Unlock()
		return errors.Wrap(err, "save processed transactions")
	}
	g.logger.Debug("flushed processed transactions",
		zap.Int("count", len(snap.ProcessedTransactions)), zap.Uint64("last_checked_height", snap.LastCheckedHeight))
	return nil
}
