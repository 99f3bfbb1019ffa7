package cache

import (
	"context"
	"slices"
	"sync"
	"time"

	"kitchenops/backend/internal/domain"
)

// StockCache holds the stock listing of a unit between mutations.
//
// Every Invalidate bumps the unit's generation. Readers take Generation before
// loading from the store and hand it to Set, which drops the listing when an
// invalidation happened in between.
type StockCache interface {
	Get(ctx context.Context, unitID string) ([]domain.Stock, bool, error)
	Generation(ctx context.Context, unitID string) (int64, error)
	Set(ctx context.Context, unitID string, gen int64, stocks []domain.Stock, ttl time.Duration) error
	Invalidate(ctx context.Context, unitIDs ...string) error
}

type NoopStockCache struct{}

func (NoopStockCache) Get(_ context.Context, _ string) ([]domain.Stock, bool, error) {
	return nil, false, nil
}

func (NoopStockCache) Generation(_ context.Context, _ string) (int64, error) {
	return 0, nil
}

func (NoopStockCache) Set(_ context.Context, _ string, _ int64, _ []domain.Stock, _ time.Duration) error {
	return nil
}

func (NoopStockCache) Invalidate(_ context.Context, _ ...string) error {
	return nil
}

// MemoryStockCache is an in-process cache for single-instance deployments.
type MemoryStockCache struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]memoryEntry
	gens    map[string]int64
}

type memoryEntry struct {
	stocks    []domain.Stock
	expiresAt time.Time
}

func NewMemoryStockCache() *MemoryStockCache {
	return &MemoryStockCache{
		now:     time.Now,
		entries: make(map[string]memoryEntry),
		gens:    make(map[string]int64),
	}
}

func (c *MemoryStockCache) Get(_ context.Context, unitID string) ([]domain.Stock, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[unitID]
	if !ok {
		return nil, false, nil
	}
	if !entry.expiresAt.IsZero() && c.now().After(entry.expiresAt) {
		delete(c.entries, unitID)
		return nil, false, nil
	}
	return slices.Clone(entry.stocks), true, nil
}

func (c *MemoryStockCache) Generation(_ context.Context, unitID string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.gens[unitID], nil
}

func (c *MemoryStockCache) Set(_ context.Context, unitID string, gen int64, stocks []domain.Stock, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.gens[unitID] != gen {
		return nil
	}
	entry := memoryEntry{stocks: slices.Clone(stocks)}
	if ttl > 0 {
		entry.expiresAt = c.now().Add(ttl)
	}
	c.entries[unitID] = entry
	return nil
}

func (c *MemoryStockCache) Invalidate(_ context.Context, unitIDs ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, id := range unitIDs {
		c.gens[id]++
		delete(c.entries, id)
	}
	return nil
}
