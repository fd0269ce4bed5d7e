package points

import (
	"context"
	"sync"

	"github.com/columbiaprep/house-points-app-sub000/internal/models"
)

// CategoryCache holds the active category registry in memory. It is loaded
// lazily, invalidated explicitly after category writes, and injected into
// callers instead of living in package state. Version increments on every
// invalidation so readers can tell whether a snapshot is current.
type CategoryCache struct {
	mu      sync.RWMutex
	load    func(ctx context.Context) ([]models.Category, error)
	byKey   map[string]models.Category
	ordered []models.Category
	version uint64
	loaded  bool
}

func NewCategoryCache(load func(ctx context.Context) ([]models.Category, error)) *CategoryCache {
	return &CategoryCache{load: load}
}

func (c *CategoryCache) ensure(ctx context.Context) error {
	if c.loaded {
		return nil
	}
	cats, err := c.load(ctx)
	if err != nil {
		return err
	}
	byKey := make(map[string]models.Category, len(cats))
	for _, cat := range cats {
		byKey[cat.Key] = cat
	}
	c.byKey = byKey
	c.ordered = cats
	c.loaded = true
	return nil
}

func (c *CategoryCache) Get(ctx context.Context) ([]models.Category, error) {
	c.mu.RLock()
	if c.loaded {
		out := c.ordered
		c.mu.RUnlock()
		return out, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensure(ctx); err != nil {
		return nil, err
	}
	return c.ordered, nil
}

// Lookup reports whether key is a registered category.
func (c *CategoryCache) Lookup(ctx context.Context, key string) (models.Category, bool, error) {
	c.mu.RLock()
	if c.loaded {
		cat, ok := c.byKey[key]
		c.mu.RUnlock()
		return cat, ok, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensure(ctx); err != nil {
		return models.Category{}, false, err
	}
	cat, ok := c.byKey[key]
	return cat, ok, nil
}

// Invalidate drops the snapshot; the next read reloads from the store.
func (c *CategoryCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loaded = false
	c.byKey = nil
	c.ordered = nil
	c.version++
}

func (c *CategoryCache) Version() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}
