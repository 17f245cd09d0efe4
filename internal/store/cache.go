package store

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/BTreeMap/ShiftPipe/internal/models"
)

const (
	// DefaultLookupCacheSize is the number of workers and shifts kept by CachedLookups.
	DefaultLookupCacheSize = 1024
	// DefaultLookupCacheTTL bounds how long an entry edited outside ShiftPipe
	// is served stale.
	DefaultLookupCacheTTL = 5 * time.Minute
)

// Finder is the read side of DirectoryStore used by the engine.
type Finder interface {
	FindWorkerByChannelAddress(ctx context.Context, address string) (*models.Worker, error)
	FindShiftByID(ctx context.Context, id string) (*models.Shift, error)
}

// CachedLookups caches worker and shift reads in front of a Finder. Misses
// are not cached so a worker created by registration is seen at once.
// Entries expire after the TTL; writers inside ShiftPipe also invalidate
// the workers they change.
type CachedLookups struct {
	next    Finder
	workers *expirable.LRU[string, models.Worker]
	shifts  *expirable.LRU[string, models.Shift]
}

// NewCachedLookups wraps next with expiring LRU caches of the given size.
func NewCachedLookups(next Finder, size int, ttl time.Duration) *CachedLookups {
	if size <= 0 {
		size = DefaultLookupCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultLookupCacheTTL
	}
	return &CachedLookups{
		next:    next,
		workers: expirable.NewLRU[string, models.Worker](size, nil, ttl),
		shifts:  expirable.NewLRU[string, models.Shift](size, nil, ttl),
	}
}

func (c *CachedLookups) FindWorkerByChannelAddress(ctx context.Context, address string) (*models.Worker, error) {
	if w, ok := c.workers.Get(address); ok {
		return &w, nil
	}
	w, err := c.next.FindWorkerByChannelAddress(ctx, address)
	if err != nil || w == nil {
		return w, err
	}
	c.workers.Add(address, *w)
	return w, nil
}

func (c *CachedLookups) FindShiftByID(ctx context.Context, id string) (*models.Shift, error) {
	if s, ok := c.shifts.Get(id); ok {
		return &s, nil
	}
	s, err := c.next.FindShiftByID(ctx, id)
	if err != nil || s == nil {
		return s, err
	}
	c.shifts.Add(id, *s)
	return s, nil
}

// InvalidateWorker drops the cached worker for address.
func (c *CachedLookups) InvalidateWorker(address string) {
	c.workers.Remove(address)
}

// InvalidateWorkerID drops every cached entry for the worker with id.
func (c *CachedLookups) InvalidateWorkerID(id string) {
	for _, addr := range c.workers.Keys() {
		if w, ok := c.workers.Peek(addr); ok && w.ID == id {
			c.workers.Remove(addr)
		}
	}
}
