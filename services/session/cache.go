package session

import (
	"container/list"
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/pel/esocialize-portal/models"
)

// Loader fetches or lazily creates the stored principal for an identity.
type Loader interface {
	EnsurePrincipal(ctx context.Context, id models.Identity) (*models.Principal, error)
}

// LookupObserver counts cache hits and misses.
type LookupObserver interface {
	RecordCacheLookup(hit bool)
}

// cacheEntry represents a single cache entry with TTL
type cacheEntry struct {
	principal  *models.Principal
	insertedAt time.Time
	element    *list.Element // For LRU tracking
}

// isExpired checks if the cache entry has expired
func (e *cacheEntry) isExpired(ttl time.Duration) bool {
	return time.Since(e.insertedAt) > ttl
}

// PrincipalCache is an in-memory LRU cache with TTL for principal snapshots.
// Concurrent misses for the same id share one store round trip.
type PrincipalCache struct {
	mu       sync.Mutex
	entries  map[string]*cacheEntry
	lruList  *list.List
	gens     map[string]uint64 // bumped on Invalidate so in-flight loads don't store stale data
	maxSize  int
	ttl      time.Duration
	hits     uint64
	misses   uint64
	group    singleflight.Group
	loader   Loader
	observer LookupObserver
	logger   *zap.Logger
}

// NewPrincipalCache creates a cache. observer may be nil.
func NewPrincipalCache(loader Loader, maxSize int, ttl time.Duration, logger *zap.Logger, observer LookupObserver) *PrincipalCache {
	if maxSize < 1 {
		maxSize = 1
	}
	return &PrincipalCache{
		entries:  make(map[string]*cacheEntry),
		lruList:  list.New(),
		gens:     make(map[string]uint64),
		maxSize:  maxSize,
		ttl:      ttl,
		loader:   loader,
		observer: observer,
		logger:   logger,
	}
}

// Resolve returns a snapshot of the principal behind id. When the store
// cannot be read the snapshot is a pending principal and degraded is true,
// so the caller sees no section access rather than an error page.
//
// A miss starts one shared load that outlives the caller who started it.
// Each caller stops waiting when its own ctx is done.
func (c *PrincipalCache) Resolve(ctx context.Context, id models.Identity) (p *models.Principal, degraded bool) {
	if cached := c.get(id.ID); cached != nil {
		c.observe(true)
		return cached, false
	}
	c.observe(false)

	c.mu.Lock()
	gen := c.gens[id.ID]
	c.mu.Unlock()

	loadCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(id.ID, func() (interface{}, error) {
		loaded, err := c.loader.EnsurePrincipal(loadCtx, id)
		if err != nil {
			return nil, err
		}
		c.set(id.ID, loaded, gen)
		return loaded, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return c.degrade(id, res.Err), true
		}
		return res.Val.(*models.Principal).Clone(), false
	case <-ctx.Done():
		return c.degrade(id, ctx.Err()), true
	}
}

func (c *PrincipalCache) degrade(id models.Identity, err error) *models.Principal {
	c.logger.Warn("principal load failed, serving degraded snapshot",
		zap.String("principal_id", id.ID),
		zap.Error(err))
	return models.NewPendingPrincipal(id)
}

// Invalidate removes a specific cache entry
func (c *PrincipalCache) Invalidate(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gens[id]++
	c.removeEntry(id)
	c.group.Forget(id)
}

// Clear removes all entries from the cache
func (c *PrincipalCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for id := range c.entries {
		c.gens[id]++
	}
	c.entries = make(map[string]*cacheEntry)
	c.lruList.Init()
}

func (c *PrincipalCache) get(id string) *models.Principal {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.entries[id]
	if !exists || entry.isExpired(c.ttl) {
		c.misses++
		if exists {
			c.removeEntry(id)
		}
		return nil
	}

	c.lruList.MoveToFront(entry.element)
	c.hits++
	return entry.principal.Clone()
}

func (c *PrincipalCache) set(id string, p *models.Principal, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.gens[id] != gen {
		return
	}

	if entry, exists := c.entries[id]; exists {
		entry.principal = p.Clone()
		entry.insertedAt = time.Now()
		c.lruList.MoveToFront(entry.element)
		return
	}

	if c.lruList.Len() >= c.maxSize {
		c.evictLRU()
	}

	entry := &cacheEntry{
		principal:  p.Clone(),
		insertedAt: time.Now(),
	}
	entry.element = c.lruList.PushFront(id)
	c.entries[id] = entry
}

func (c *PrincipalCache) observe(hit bool) {
	if c.observer != nil {
		c.observer.RecordCacheLookup(hit)
	}
}

// Stats returns cache statistics
func (c *PrincipalCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return CacheStats{
		Size:    c.lruList.Len(),
		MaxSize: c.maxSize,
		Hits:    c.hits,
		Misses:  c.misses,
		HitRate: c.calculateHitRate(),
	}
}

// CacheStats represents cache statistics
type CacheStats struct {
	Size    int
	MaxSize int
	Hits    uint64
	Misses  uint64
	HitRate float64
}

func (c *PrincipalCache) calculateHitRate() float64 {
	total := c.hits + c.misses
	if total == 0 {
		return 0
	}
	return float64(c.hits) / float64(total)
}

// removeEntry removes an entry from the cache (must be called with lock held)
func (c *PrincipalCache) removeEntry(id string) {
	if entry, exists := c.entries[id]; exists {
		c.lruList.Remove(entry.element)
		delete(c.entries, id)
	}
}

// evictLRU evicts the least recently used entry (must be called with lock held)
func (c *PrincipalCache) evictLRU() {
	back := c.lruList.Back()
	if back == nil {
		return
	}
	id := back.Value.(string)
	c.lruList.Remove(back)
	delete(c.entries, id)
}

// CleanupExpired removes all expired entries and returns how many were dropped
func (c *PrincipalCache) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	expired := make([]string, 0)
	for id, entry := range c.entries {
		if entry.isExpired(c.ttl) {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		c.removeEntry(id)
	}
	return len(expired)
}

// StartCleanupWorker periodically drops expired entries until ctx is done
func (c *PrincipalCache) StartCleanupWorker(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := c.CleanupExpired(); n > 0 {
				c.logger.Debug("expired principal snapshots removed", zap.Int("count", n))
			}
		case <-ctx.Done():
			return
		}
	}
}
