package strategy

import (
	"context"
	"fmt"
	"hash/fnv"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jordanhubbard/venture/internal/database"
	"github.com/jordanhubbard/venture/internal/metrics"
	"github.com/jordanhubbard/venture/pkg/config"
	"github.com/jordanhubbard/venture/pkg/models"
)

// Backend is the storage for the fast-path index.
type Backend interface {
	Get(ctx context.Context, key string) (*models.StrategyCacheEntry, bool)
	Set(ctx context.Context, entry *models.StrategyCacheEntry) error
	Delete(ctx context.Context, key string)
	Entries(ctx context.Context) []*models.StrategyCacheEntry
	Len(ctx context.Context) int
	Clear(ctx context.Context)
}

// Stats tracks index performance for the API surface.
type Stats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
	Rebuilds  int64 `json:"rebuilds"`
	Entries   int64 `json:"entries"`
}

// NewBackend selects the index backend from configuration.
func NewBackend(cfg config.CacheConfig) (Backend, error) {
	switch cfg.Backend {
	case "", "memory":
		return newMemoryBackend(cfg.MaxEntries), nil
	case "redis":
		return newRedisBackend(cfg)
	default:
		return nil, fmt.Errorf("unsupported cache backend: %s", cfg.Backend)
	}
}

// Cache is the scored strategy index in front of the ledger. Reads are
// O(1) against the backend; writes go through the database first (which
// owns the versioned aggregate) and then refresh the index, so the index
// can always be dropped and rebuilt without losing anything.
type Cache struct {
	db      *database.Database
	backend Backend
	metrics *metrics.Metrics
	cfg     config.CacheConfig

	// Striped per-key write locks keep concurrent observations on the
	// same scope serialized without one global lock.
	locks [64]sync.Mutex

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
	rebuilds  atomic.Int64
}

// NewCache creates a cache over the given index backend.
func NewCache(db *database.Database, backend Backend, m *metrics.Metrics, cfg config.CacheConfig) *Cache {
	return &Cache{
		db:      db,
		backend: backend,
		metrics: m,
		cfg:     cfg,
	}
}

func (c *Cache) lockFor(key string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &c.locks[h.Sum32()%uint32(len(c.locks))]
}

// Lookup returns the entry for a scope key. An index miss falls through to
// the database and warms the index; evicted entries stay invisible here.
func (c *Cache) Lookup(ctx context.Context, key models.ScopeKey) (*models.StrategyCacheEntry, bool) {
	if entry, ok := c.backend.Get(ctx, key.String()); ok {
		c.hits.Add(1)
		c.metrics.CacheHits.Inc()
		return entry, true
	}
	c.misses.Add(1)
	c.metrics.CacheMisses.Inc()

	entry, err := c.db.GetStrategyStat(key)
	if err != nil {
		log.Printf("[StrategyCache] Lookup fell through for %s: %v", key, err)
		return nil, false
	}
	if entry == nil {
		return nil, false
	}
	if err := c.backend.Set(ctx, entry); err != nil {
		log.Printf("[StrategyCache] Failed to warm %s: %v", key, err)
	}
	c.metrics.CacheEntries.Set(float64(c.backend.Len(ctx)))
	return entry, true
}

// RecordOutcome folds one settled outcome into the key's aggregate. The
// database write is authoritative; the index is refreshed from its result.
// The caller must have already appended the backing experience, so a
// missing row can be rebuilt from the ledger without losing this outcome.
func (c *Cache) RecordOutcome(ctx context.Context, key models.ScopeKey, strategyName string, success bool, profit float64, at time.Time) (*models.StrategyCacheEntry, error) {
	mu := c.lockFor(key.String())
	mu.Lock()
	defer mu.Unlock()

	entry, err := c.db.RecordStrategyObservation(key, strategyName, success, profit, at)
	if err != nil {
		return nil, fmt.Errorf("failed to record strategy observation: %w", err)
	}
	if err := c.backend.Set(ctx, entry); err != nil {
		log.Printf("[StrategyCache] Failed to refresh %s after observation: %v", key, err)
	}
	c.metrics.CacheEntries.Set(float64(c.backend.Len(ctx)))
	return entry, nil
}

// RebuildEntry reconstructs a key's aggregate by replaying its experiences,
// persists it (clearing any eviction flag), and reinstates it in the index.
func (c *Cache) RebuildEntry(ctx context.Context, key models.ScopeKey) (*models.StrategyCacheEntry, error) {
	mu := c.lockFor(key.String())
	mu.Lock()
	defer mu.Unlock()

	entry, err := c.db.ReplayScope(key)
	if err != nil {
		return nil, fmt.Errorf("failed to replay scope %s: %w", key, err)
	}
	if entry.UsageCount == 0 {
		return nil, fmt.Errorf("no experiences recorded under %s", key)
	}
	if err := c.db.SaveStrategyStat(entry); err != nil {
		return nil, fmt.Errorf("failed to persist rebuilt entry: %w", err)
	}
	if err := c.backend.Set(ctx, entry); err != nil {
		log.Printf("[StrategyCache] Failed to reinstate %s: %v", key, err)
	}

	c.rebuilds.Add(1)
	c.metrics.CacheRebuilds.Inc()
	c.metrics.CacheEntries.Set(float64(c.backend.Len(ctx)))
	log.Printf("[StrategyCache] Rebuilt %s from %d ledger entries", key, entry.UsageCount)
	return entry, nil
}

// Evict removes one key from the fast path. The backing row is flagged,
// not deleted; the ledger keeps everything needed to reconstruct it.
func (c *Cache) Evict(ctx context.Context, key models.ScopeKey) error {
	mu := c.lockFor(key.String())
	mu.Lock()
	defer mu.Unlock()

	if err := c.db.EvictStrategyStat(key); err != nil {
		return fmt.Errorf("failed to evict %s: %w", key, err)
	}
	c.backend.Delete(ctx, key.String())
	c.evictions.Add(1)
	c.metrics.CacheEvictions.Inc()
	c.metrics.CacheEntries.Set(float64(c.backend.Len(ctx)))
	return nil
}

// EvictCold flags every entry that has been idle past the retention
// horizon and scores below the minimum, then prunes the same entries from
// the index. Called from the optimizing phase.
func (c *Cache) EvictCold(ctx context.Context, now time.Time) (int64, error) {
	if c.cfg.RetentionHorizon <= 0 {
		return 0, nil
	}
	horizon := now.Add(-c.cfg.RetentionHorizon)

	flagged, err := c.db.EvictColdStrategyStats(horizon, c.cfg.MinScore)
	if err != nil {
		return 0, fmt.Errorf("failed to evict cold strategies: %w", err)
	}

	for _, entry := range c.backend.Entries(ctx) {
		if entry.LastUsed.Before(horizon) && entry.SuccessRate < c.cfg.MinScore {
			c.backend.Delete(ctx, entry.Key.String())
		}
	}

	if flagged > 0 {
		c.evictions.Add(flagged)
		c.metrics.CacheEvictions.Add(float64(flagged))
		log.Printf("[StrategyCache] Evicted %d cold entries (idle since %s, score < %.2f)",
			flagged, horizon.Format(time.RFC3339), c.cfg.MinScore)
	}
	c.metrics.CacheEntries.Set(float64(c.backend.Len(ctx)))
	return flagged, nil
}

// List returns the live aggregates for a tenant plus the global scope,
// straight from the authoritative rows.
func (c *Cache) List(ctx context.Context, tenantID string) ([]*models.StrategyCacheEntry, error) {
	return c.db.ListStrategyStats(tenantID)
}

// Warm preloads a tenant's live entries into the index, typically at
// startup.
func (c *Cache) Warm(ctx context.Context, tenantID string) error {
	entries, err := c.db.ListStrategyStats(tenantID)
	if err != nil {
		return fmt.Errorf("failed to warm cache for tenant %s: %w", tenantID, err)
	}
	for _, entry := range entries {
		if err := c.backend.Set(ctx, entry); err != nil {
			return err
		}
	}
	c.metrics.CacheEntries.Set(float64(c.backend.Len(ctx)))
	return nil
}

// Stats returns a snapshot of index counters.
func (c *Cache) Stats(ctx context.Context) Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Rebuilds:  c.rebuilds.Load(),
		Entries:   int64(c.backend.Len(ctx)),
	}
}

// memoryBackend is the default in-process index.
type memoryBackend struct {
	mu         sync.RWMutex
	entries    map[string]*models.StrategyCacheEntry
	maxEntries int
}

func newMemoryBackend(maxEntries int) *memoryBackend {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	return &memoryBackend{
		entries:    make(map[string]*models.StrategyCacheEntry),
		maxEntries: maxEntries,
	}
}

func (b *memoryBackend) Get(ctx context.Context, key string) (*models.StrategyCacheEntry, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	entry, ok := b.entries[key]
	if !ok {
		return nil, false
	}
	cp := *entry
	return &cp, true
}

func (b *memoryBackend) Set(ctx context.Context, entry *models.StrategyCacheEntry) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.entries) >= b.maxEntries {
		if _, exists := b.entries[entry.Key.String()]; !exists {
			b.evictStalest()
		}
	}
	cp := *entry
	b.entries[entry.Key.String()] = &cp
	return nil
}

// evictStalest drops the least recently used entry to stay within bounds.
// Caller holds the write lock.
func (b *memoryBackend) evictStalest() {
	var stalest string
	var at time.Time
	first := true
	for key, entry := range b.entries {
		if first || entry.LastUsed.Before(at) {
			stalest, at, first = key, entry.LastUsed, false
		}
	}
	if stalest != "" {
		delete(b.entries, stalest)
	}
}

func (b *memoryBackend) Delete(ctx context.Context, key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.entries, key)
}

func (b *memoryBackend) Entries(ctx context.Context) []*models.StrategyCacheEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*models.StrategyCacheEntry, 0, len(b.entries))
	for _, entry := range b.entries {
		cp := *entry
		out = append(out, &cp)
	}
	return out
}

func (b *memoryBackend) Len(ctx context.Context) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

func (b *memoryBackend) Clear(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = make(map[string]*models.StrategyCacheEntry)
}
