package access

import (
	"context"
	"errors"
	"sync"

	"github.com/brightpath/pdcore/pkg/observability"
)

// Mutator transforms a matrix snapshot during an update. It receives a
// private copy and returns the config to persist (usually the same pointer
// after in-place edits).
type Mutator func(cfg *MatrixConfig) (*MatrixConfig, error)

// Cache holds a process-wide in-memory copy of the matrix so the hot read
// path skips the database. It is handed to request handlers explicitly
// rather than living in a package-level singleton, so tests can run each
// case against an isolated instance.
type Cache struct {
	store   Store
	metrics *observability.Metrics

	mu     sync.RWMutex
	cached *MatrixConfig
}

// NewCache creates an empty cache over store
func NewCache(store Store) *Cache {
	return &Cache{store: store}
}

// NewInstrumentedCache creates a cache that reports hit/miss counters
func NewInstrumentedCache(store Store, metrics *observability.Metrics) *Cache {
	return &Cache{store: store, metrics: metrics}
}

// Get returns the cached matrix, loading through the store on a miss.
// A store ErrNotFound surfaces as ErrConfigMissing: defaulting belongs to
// the bootstrap path, never the read path.
func (c *Cache) Get(ctx context.Context) (*MatrixConfig, error) {
	c.mu.RLock()
	cached := c.cached
	c.mu.RUnlock()
	if cached != nil {
		if c.metrics != nil {
			c.metrics.MatrixCacheHitsTotal.Inc()
		}
		return cached, nil
	}

	if c.metrics != nil {
		c.metrics.MatrixCacheMissesTotal.Inc()
	}
	cfg, err := c.store.Load(ctx)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrConfigMissing
	}
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cached = cfg
	c.mu.Unlock()
	return cfg, nil
}

// Invalidate drops the cached copy. Safe to call on an empty cache.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.cached = nil
	c.mu.Unlock()
}

// Cached reports whether a snapshot is currently held
func (c *Cache) Cached() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cached != nil
}

// Update is the only sanctioned write path. It loads the current document
// from the store (bypassing the cache so the mutator sees fresh state),
// applies mutator, persists, and only then invalidates. If the save fails
// the cache is left untouched, so readers keep the last known-good copy.
//
// Concurrent updates race at the store: last save wins on the whole
// document. There is no version check.
func (c *Cache) Update(ctx context.Context, mutator Mutator) (*MatrixConfig, error) {
	current, err := c.store.Load(ctx)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrConfigMissing
	}
	if err != nil {
		return nil, err
	}

	mutated, err := mutator(current.Clone())
	if err != nil {
		return nil, err
	}
	if err := ValidateMatrix(mutated); err != nil {
		return nil, err
	}

	saved, err := c.store.Save(ctx, mutated)
	if err != nil {
		return nil, err
	}

	// Persist succeeded; now it is safe to drop the stale copy.
	c.Invalidate()
	return saved, nil
}
