// Package cache keeps a read-optimized snapshot of the catalog tables next to
// the store of record. Entries load through from the store on a miss and are
// dropped a partition at a time after writes commit.
package cache

import (
	"context"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"modcatalog/catalog"
	"modcatalog/db"
)

// Key names an invalidation scope.
type Key string

const (
	Mods          Key = "mods"
	ModVersions   Key = "modVersions"
	GameVersions  Key = "gameVersions"
	EditProposals Key = "editProposals"
)

// KeyForTable maps an EditProposal target table to its cache scope.
func KeyForTable(table string) Key {
	if table == db.TableMods {
		return Mods
	}
	return ModVersions
}

// Refresher is what write paths depend on.
type Refresher interface {
	Refresh(keys ...Key)
}

// Nop is a Refresher that does nothing.
type Nop struct{}

func (Nop) Refresh(...Key) {}

type partition[K comparable, V any] struct {
	entries *lru.Cache[K, V]
	load    func(context.Context, K) (V, error)

	mu  sync.Mutex // guards gen, and orders Add against Purge
	gen uint64
}

func newPartition[K comparable, V any](size int, load func(context.Context, K) (V, error)) *partition[K, V] {
	entries, err := lru.New[K, V](size)
	if err != nil {
		// size is always positive here
		panic(err)
	}
	return &partition[K, V]{entries: entries, load: load}
}

func (p *partition[K, V]) get(ctx context.Context, k K) (V, error) {
	if v, ok := p.entries.Get(k); ok {
		return v, nil
	}
	p.mu.Lock()
	gen := p.gen
	p.mu.Unlock()

	v, err := p.load(ctx, k)
	if err != nil {
		return v, err
	}

	// A refresh that raced with the load makes v possibly stale; skip it.
	p.mu.Lock()
	if p.gen == gen {
		p.entries.Add(k, v)
	}
	p.mu.Unlock()
	return v, nil
}

func (p *partition[K, V]) purge() {
	p.mu.Lock()
	p.gen++
	p.entries.Purge()
	p.mu.Unlock()
}

// Cache is a read-through cache over a catalog.Store.
type Cache struct {
	log *zap.SugaredLogger

	mods         *partition[uint, db.Mod]
	versions     *partition[uint, db.ModVersion]
	versionsOf   *partition[uint, []db.ModVersion]
	gameVersions *partition[uint, db.GameVersion]
	defaults     *partition[string, db.GameVersion]
	proposals    *partition[uint, db.EditProposal]
	pending      *partition[int, []db.EditProposal]
}

// New builds a cache holding up to size entries per partition.
func New(store *catalog.Store, size int, log *zap.SugaredLogger) *Cache {
	if size <= 0 {
		size = 1024
	}
	return &Cache{
		log: log,
		mods: newPartition(size, func(ctx context.Context, id uint) (db.Mod, error) {
			return deref(store.Mod(ctx, id))
		}),
		versions: newPartition(size, func(ctx context.Context, id uint) (db.ModVersion, error) {
			return deref(store.ModVersion(ctx, id))
		}),
		versionsOf: newPartition(size, store.VersionsOfMod),
		gameVersions: newPartition(size, func(ctx context.Context, id uint) (db.GameVersion, error) {
			return deref(store.GameVersion(ctx, id))
		}),
		defaults: newPartition(size, func(ctx context.Context, game string) (db.GameVersion, error) {
			return deref(store.DefaultGameVersion(ctx, game))
		}),
		proposals: newPartition(size, func(ctx context.Context, id uint) (db.EditProposal, error) {
			return deref(store.Proposal(ctx, id))
		}),
		pending: newPartition(1, store.PendingProposals),
	}
}

func deref[T any](v *T, err error) (T, error) {
	if err != nil {
		var zero T
		return zero, err
	}
	return *v, nil
}

// Refresh drops the named partitions. Callers invoke it after their write
// has committed.
func (c *Cache) Refresh(keys ...Key) {
	for _, k := range keys {
		switch k {
		case Mods:
			c.mods.purge()
		case ModVersions:
			c.versions.purge()
			c.versionsOf.purge()
		case GameVersions:
			c.gameVersions.purge()
			c.defaults.purge()
		case EditProposals:
			c.proposals.purge()
			c.pending.purge()
		default:
			c.log.Warnw("Unknown cache partition", zap.String("key", string(k)))
			continue
		}
		c.log.Debugw("Cache partition refreshed", zap.String("key", string(k)))
	}
}

// Returned rows are copies, but their slice fields are shared with the cache
// and must not be modified.

// Mod reads a mod through the cache.
func (c *Cache) Mod(ctx context.Context, id uint) (*db.Mod, error) {
	v, err := c.mods.get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// ModVersion reads a mod version through the cache.
func (c *Cache) ModVersion(ctx context.Context, id uint) (*db.ModVersion, error) {
	v, err := c.versions.get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// VersionsOfMod reads every version of a mod through the cache.
func (c *Cache) VersionsOfMod(ctx context.Context, modID uint) ([]db.ModVersion, error) {
	return c.versionsOf.get(ctx, modID)
}

// GameVersion reads a game version through the cache.
func (c *Cache) GameVersion(ctx context.Context, id uint) (*db.GameVersion, error) {
	v, err := c.gameVersions.get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// DefaultGameVersion reads a game's default version through the cache.
func (c *Cache) DefaultGameVersion(ctx context.Context, game string) (*db.GameVersion, error) {
	v, err := c.defaults.get(ctx, game)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// Proposal reads an edit proposal through the cache.
func (c *Cache) Proposal(ctx context.Context, id uint) (*db.EditProposal, error) {
	v, err := c.proposals.get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// PendingProposals returns the cached pending queue, oldest first.
func (c *Cache) PendingProposals(ctx context.Context, limit int) ([]db.EditProposal, error) {
	all, err := c.pending.get(ctx, 0)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(all) > limit {
		return all[:limit], nil
	}
	return all, nil
}
