package strategy

import (
	"context"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jordanhubbard/venture/internal/database"
	"github.com/jordanhubbard/venture/internal/metrics"
	"github.com/jordanhubbard/venture/pkg/config"
	"github.com/jordanhubbard/venture/pkg/models"
)

func testCacheConfig() config.CacheConfig {
	return config.CacheConfig{
		Backend:          "memory",
		RetentionHorizon: 30 * 24 * time.Hour,
		MinScore:         0.2,
		MaxEntries:       100,
	}
}

func testCache(t *testing.T, cfg config.CacheConfig) (*Cache, *database.Database) {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	backend, err := NewBackend(cfg)
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}
	return NewCache(db, backend, metrics.NewMetrics(), cfg), db
}

func scopeKey(kind models.StrategyKind) models.ScopeKey {
	return models.ScopeKey{
		TenantID: "t-cache",
		Niche:    "productivity",
		Channel:  models.ChannelCommerce,
		Kind:     kind,
	}
}

// observe mirrors the collector's ordering: the ledger entry lands before
// the aggregate is touched, so a replay always includes the observation.
func observe(t *testing.T, db *database.Database, c *Cache, key models.ScopeKey, success bool, profit float64, at time.Time) {
	t.Helper()
	exp := &models.Experience{
		TenantID:         key.TenantID,
		CycleID:          "cycle-1",
		ActionType:       models.ActionStorePublish,
		ScopeKey:         key.String(),
		Success:          success,
		RevenueGenerated: profit,
		Mode:             models.ModeExploit,
		CreatedAt:        at,
	}
	if err := db.AppendExperience(exp); err != nil {
		t.Fatalf("AppendExperience: %v", err)
	}
	if _, err := c.RecordOutcome(context.Background(), key, "test strategy", success, profit, at); err != nil {
		t.Fatalf("RecordOutcome: %v", err)
	}
}

func TestLookupMissThenHit(t *testing.T) {
	c, db := testCache(t, testCacheConfig())
	ctx := context.Background()
	key := scopeKey(models.KindEbook)

	if _, ok := c.Lookup(ctx, key); ok {
		t.Fatal("lookup of unseen key should miss")
	}

	observe(t, db, c, key, true, 25, time.Now().UTC())

	entry, ok := c.Lookup(ctx, key)
	if !ok {
		t.Fatal("lookup after observation should hit")
	}
	if entry.UsageCount != 1 || entry.SuccessCount != 1 {
		t.Errorf("got usage=%d successes=%d, want 1/1", entry.UsageCount, entry.SuccessCount)
	}

	stats := c.Stats(ctx)
	if stats.Misses == 0 {
		t.Error("miss counter should have advanced")
	}
	if stats.Hits == 0 {
		t.Error("hit counter should have advanced")
	}
	if stats.Entries != 1 {
		t.Errorf("got %d index entries, want 1", stats.Entries)
	}
}

func TestObserveKeepsRunningMean(t *testing.T) {
	c, db := testCache(t, testCacheConfig())
	ctx := context.Background()
	key := scopeKey(models.KindEbook)
	now := time.Now().UTC()

	observe(t, db, c, key, true, 10, now)
	observe(t, db, c, key, false, 0, now.Add(time.Minute))
	observe(t, db, c, key, true, 20, now.Add(2*time.Minute))

	entry, ok := c.Lookup(ctx, key)
	if !ok {
		t.Fatal("expected cache hit")
	}
	if entry.UsageCount != 3 || entry.SuccessCount != 2 {
		t.Fatalf("got usage=%d successes=%d, want 3/2", entry.UsageCount, entry.SuccessCount)
	}
	if math.Abs(entry.SuccessRate-2.0/3.0) > 1e-9 {
		t.Errorf("got success rate %f, want 2/3", entry.SuccessRate)
	}
	// (10 + 0 + 20) / 3
	if math.Abs(entry.AverageProfit-10) > 1e-9 {
		t.Errorf("got average profit %f, want 10", entry.AverageProfit)
	}
}

func TestLookupWarmsFromDatabase(t *testing.T) {
	cfg := testCacheConfig()
	c1, db := testCache(t, cfg)
	key := scopeKey(models.KindCourse)

	observe(t, db, c1, key, true, 40, time.Now().UTC())

	// A fresh index over the same database simulates a restart: the row
	// survives, the fast path repopulates on first lookup.
	backend, err := NewBackend(cfg)
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}
	c2 := NewCache(db, backend, metrics.NewMetrics(), cfg)

	entry, ok := c2.Lookup(context.Background(), key)
	if !ok {
		t.Fatal("restarted cache should find the persisted row")
	}
	if entry.UsageCount != 1 || entry.AverageProfit != 40 {
		t.Errorf("got usage=%d profit=%f, want 1/40", entry.UsageCount, entry.AverageProfit)
	}
	if got := c2.Stats(context.Background()).Entries; got != 1 {
		t.Errorf("got %d index entries after warm lookup, want 1", got)
	}
}

func TestEvictThenRebuildFromLedger(t *testing.T) {
	c, db := testCache(t, testCacheConfig())
	ctx := context.Background()
	key := scopeKey(models.KindTemplate)
	now := time.Now().UTC()

	observe(t, db, c, key, true, 30, now)
	observe(t, db, c, key, false, 0, now.Add(time.Minute))
	observe(t, db, c, key, true, 60, now.Add(2*time.Minute))

	if err := c.Evict(ctx, key); err != nil {
		t.Fatalf("Evict: %v", err)
	}
	if _, ok := c.Lookup(ctx, key); ok {
		t.Fatal("evicted entry should not be served")
	}

	rebuilt, err := c.RebuildEntry(ctx, key)
	if err != nil {
		t.Fatalf("RebuildEntry: %v", err)
	}
	if rebuilt.UsageCount != 3 || rebuilt.SuccessCount != 2 {
		t.Errorf("got usage=%d successes=%d after rebuild, want 3/2", rebuilt.UsageCount, rebuilt.SuccessCount)
	}
	if math.Abs(rebuilt.AverageProfit-30) > 1e-9 {
		t.Errorf("got average profit %f after rebuild, want 30", rebuilt.AverageProfit)
	}

	entry, ok := c.Lookup(ctx, key)
	if !ok {
		t.Fatal("rebuilt entry should be served again")
	}
	if entry.UsageCount != 3 {
		t.Errorf("got usage=%d from lookup, want 3", entry.UsageCount)
	}
}

func TestRebuildWithoutHistoryFails(t *testing.T) {
	c, _ := testCache(t, testCacheConfig())

	_, err := c.RebuildEntry(context.Background(), scopeKey(models.KindTool))
	if err == nil {
		t.Fatal("rebuilding a scope with no ledger entries should fail")
	}
}

func TestEvictColdSparesRecentAndStrong(t *testing.T) {
	c, db := testCache(t, testCacheConfig())
	ctx := context.Background()
	now := time.Now().UTC()
	old := now.Add(-60 * 24 * time.Hour)

	coldWeak := scopeKey(models.KindEbook)
	coldStrong := scopeKey(models.KindCourse)
	freshWeak := scopeKey(models.KindTool)

	observe(t, db, c, coldWeak, false, 0, old)
	observe(t, db, c, coldStrong, true, 40, old)
	observe(t, db, c, freshWeak, false, 0, now)

	evicted, err := c.EvictCold(ctx, now)
	if err != nil {
		t.Fatalf("EvictCold: %v", err)
	}
	if evicted != 1 {
		t.Fatalf("got %d evictions, want 1", evicted)
	}

	if _, ok := c.Lookup(ctx, coldWeak); ok {
		t.Error("cold low-scoring entry should be gone")
	}
	if _, ok := c.Lookup(ctx, coldStrong); !ok {
		t.Error("cold but high-scoring entry should survive")
	}
	if _, ok := c.Lookup(ctx, freshWeak); !ok {
		t.Error("recently used entry should survive regardless of score")
	}
}

func TestConcurrentObservationsStayExact(t *testing.T) {
	c, db := testCache(t, testCacheConfig())
	ctx := context.Background()
	key := scopeKey(models.KindBundle)
	now := time.Now().UTC()

	// Seed the row through the ledger-first path, then hammer it.
	observe(t, db, c, key, true, 10, now)

	const workers = 4
	const perWorker = 10
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				if _, err := c.RecordOutcome(ctx, key, "test strategy", true, 10, now.Add(time.Second)); err != nil {
					t.Errorf("RecordOutcome: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	entry, ok := c.Lookup(ctx, key)
	if !ok {
		t.Fatal("expected cache hit")
	}
	want := int64(1 + workers*perWorker)
	if entry.UsageCount != want {
		t.Errorf("got usage=%d, want %d (no lost updates)", entry.UsageCount, want)
	}
	if entry.SuccessCount != want {
		t.Errorf("got successes=%d, want %d", entry.SuccessCount, want)
	}
	if math.Abs(entry.AverageProfit-10) > 1e-9 {
		t.Errorf("got average profit %f, want 10", entry.AverageProfit)
	}
}

func TestMemoryBackendCapsEntries(t *testing.T) {
	cfg := testCacheConfig()
	cfg.MaxEntries = 2
	c, db := testCache(t, cfg)
	now := time.Now().UTC()

	observe(t, db, c, scopeKey(models.KindEbook), true, 10, now)
	observe(t, db, c, scopeKey(models.KindCourse), true, 10, now.Add(time.Minute))
	observe(t, db, c, scopeKey(models.KindTool), true, 10, now.Add(2*time.Minute))

	if got := c.Stats(context.Background()).Entries; got > 2 {
		t.Errorf("index holds %d entries, want at most 2", got)
	}

	// The displaced entry is still recoverable from its row.
	if _, ok := c.Lookup(context.Background(), scopeKey(models.KindEbook)); !ok {
		t.Error("displaced entry should reload from the database")
	}
}

func TestWarmLoadsTenantEntries(t *testing.T) {
	cfg := testCacheConfig()
	c1, db := testCache(t, cfg)
	now := time.Now().UTC()

	observe(t, db, c1, scopeKey(models.KindEbook), true, 10, now)
	observe(t, db, c1, scopeKey(models.KindCourse), true, 20, now)

	other := models.ScopeKey{TenantID: "t-other", Niche: "fitness", Channel: models.ChannelAds, Kind: models.KindTool}
	observe(t, db, c1, other, true, 5, now)

	backend, err := NewBackend(cfg)
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}
	c2 := NewCache(db, backend, metrics.NewMetrics(), cfg)

	if err := c2.Warm(context.Background(), "t-cache"); err != nil {
		t.Fatalf("Warm: %v", err)
	}
	if got := c2.Stats(context.Background()).Entries; got != 2 {
		t.Errorf("got %d warmed entries, want 2", got)
	}
}

func TestNewBackendRejectsUnknownKind(t *testing.T) {
	_, err := NewBackend(config.CacheConfig{Backend: "memcached"})
	if err == nil {
		t.Fatal("unknown backend kind should be rejected")
	}
}
