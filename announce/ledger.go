package announce

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// announcedStore is the slice of StateStore the ledger needs.
type announcedStore interface {
	GetAnnouncedIDs(ctx context.Context, guildID string) (map[string]struct{}, error)
	SaveAnnouncedIDs(ctx context.Context, guildID string, ids []string) error
}

// Ledger is the in-memory view of every guild's announced set.
//
// A guild's set is loaded from the store on first use. Claim marks an id as
// announced immediately; the id is written back by the next Flush. Ids whose
// write fails stay pending and keep blocking re-dispatch in memory.
type Ledger struct {
	store announcedStore

	mu     sync.Mutex
	guilds map[string]*guildLedger
}

type guildLedger struct {
	mu      sync.Mutex
	loaded  bool
	seen    map[string]struct{}
	pending []string
}

// NewLedger returns an empty ledger over store.
func NewLedger(store announcedStore) *Ledger {
	return &Ledger{store: store, guilds: make(map[string]*guildLedger)}
}

func (l *Ledger) guild(id string) *guildLedger {
	l.mu.Lock()
	defer l.mu.Unlock()
	g, ok := l.guilds[id]
	if !ok {
		g = &guildLedger{seen: make(map[string]struct{})}
		l.guilds[id] = g
	}
	return g
}

// load must be called with g.mu held.
func (l *Ledger) load(ctx context.Context, guildID string, g *guildLedger) error {
	if g.loaded {
		return nil
	}
	ids, err := l.store.GetAnnouncedIDs(ctx, guildID)
	if err != nil {
		return fmt.Errorf("load announced ids for guild %s: %w", guildID, err)
	}
	for id := range ids {
		g.seen[id] = struct{}{}
	}
	g.loaded = true
	return nil
}

// Claim atomically checks and marks itemID for guildID. It returns true when
// the caller is the first to claim the id and must dispatch it.
func (l *Ledger) Claim(ctx context.Context, guildID, itemID string) (bool, error) {
	g := l.guild(guildID)
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := l.load(ctx, guildID, g); err != nil {
		return false, err
	}
	if _, ok := g.seen[itemID]; ok {
		return false, nil
	}
	g.seen[itemID] = struct{}{}
	g.pending = append(g.pending, itemID)
	return true, nil
}

// Pending returns the number of claimed ids not yet written.
func (l *Ledger) Pending() int {
	l.mu.Lock()
	guilds := make([]*guildLedger, 0, len(l.guilds))
	for _, g := range l.guilds {
		guilds = append(guilds, g)
	}
	l.mu.Unlock()
	n := 0
	for _, g := range guilds {
		g.mu.Lock()
		n += len(g.pending)
		g.mu.Unlock()
	}
	return n
}

// Flush writes every guild's pending ids, one store call per guild. It returns
// the number of ids written and the joined errors of the guilds that failed.
func (l *Ledger) Flush(ctx context.Context) (int, error) {
	l.mu.Lock()
	ids := make([]string, 0, len(l.guilds))
	guilds := make([]*guildLedger, 0, len(l.guilds))
	for id, g := range l.guilds {
		ids = append(ids, id)
		guilds = append(guilds, g)
	}
	l.mu.Unlock()

	written := 0
	var errs []error
	for i, g := range guilds {
		g.mu.Lock()
		batch := g.pending
		g.pending = nil
		g.mu.Unlock()
		if len(batch) == 0 {
			continue
		}
		if err := l.store.SaveAnnouncedIDs(ctx, ids[i], batch); err != nil {
			g.mu.Lock()
			g.pending = append(batch, g.pending...)
			g.mu.Unlock()
			errs = append(errs, fmt.Errorf("guild %s (%d ids): %w", ids[i], len(batch), err))
			continue
		}
		written += len(batch)
	}
	return written, errors.Join(errs...)
}
