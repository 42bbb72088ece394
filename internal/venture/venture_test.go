package venture

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jordanhubbard/venture/pkg/config"
	"github.com/jordanhubbard/venture/pkg/models"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Database.Path = filepath.Join(t.TempDir(), "venture.db")
	cfg.NATS.Enabled = false
	cfg.Channels.SimSeed = 7
	cfg.Channels.SimFailureRate = 0
	cfg.Channels.SocialStagger = time.Millisecond
	cfg.Scheduler.CycleDeadline = 5 * time.Second
	cfg.Security.JWTSecret = "test-secret"
	return cfg
}

func TestNewWiresSubsystems(t *testing.T) {
	v, err := New(testConfig(t))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer v.Shutdown()

	if v.GetDatabase() == nil {
		t.Error("GetDatabase() = nil")
	}
	if v.GetEventBus() == nil {
		t.Error("GetEventBus() = nil")
	}
	if v.GetMetrics() == nil {
		t.Error("GetMetrics() = nil")
	}
	if v.GetRegistry() == nil {
		t.Error("GetRegistry() = nil")
	}
	if v.GetCache() == nil {
		t.Error("GetCache() = nil")
	}
	if v.GetEngine() == nil {
		t.Error("GetEngine() = nil")
	}
	if v.GetDispatcher() == nil {
		t.Error("GetDispatcher() = nil")
	}
	if v.GetCollector() == nil {
		t.Error("GetCollector() = nil")
	}
	if v.GetReinvestor() == nil {
		t.Error("GetReinvestor() = nil")
	}
	if v.GetRunner() == nil {
		t.Error("GetRunner() = nil")
	}
	if v.GetScheduler() == nil {
		t.Error("GetScheduler() = nil")
	}
	if v.GetAuthManager() == nil {
		t.Error("GetAuthManager() = nil")
	}
	if v.GetMessageBus() != nil {
		t.Error("GetMessageBus() != nil with NATS disabled")
	}
	if v.StartedAt().IsZero() {
		t.Error("StartedAt() is zero")
	}
}

func TestShutdownIsIdempotent(t *testing.T) {
	v, err := New(testConfig(t))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	v.Shutdown()
	v.Shutdown()
}

func TestNewRejectsUnknownDatabaseType(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database.Type = "oracle"
	if _, err := New(cfg); err == nil {
		t.Fatal("New() with unknown database type returned no error")
	}
}

func TestNewRejectsUnknownChannelMode(t *testing.T) {
	cfg := testConfig(t)
	cfg.Channels.Mode = "live"
	if _, err := New(cfg); err == nil {
		t.Fatal("New() with unknown channel mode returned no error")
	}
}

func TestCacheFallsBackWhenRedisUnavailable(t *testing.T) {
	cfg := testConfig(t)
	cfg.Cache.Backend = "redis"
	cfg.Cache.RedisURL = "nonsense://nowhere"

	v, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v, want memory fallback", err)
	}
	defer v.Shutdown()
	if v.GetCache() == nil {
		t.Fatal("GetCache() = nil after fallback")
	}
}

func TestManualCycleThroughContainer(t *testing.T) {
	v, err := New(testConfig(t))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer v.Shutdown()

	// Autopilot stays off so the scheduler watches nothing and the manual
	// trigger owns the only cycle.
	tenant := &models.Tenant{
		ID:       "t-container",
		Name:     "Container Smoke",
		Niche:    "fitness",
		Keywords: []string{"home workouts"},
		Persona:  models.PersonaHustler,
		Plan:     models.PlanStarter,
		Status:   models.TenantStatusActive,
		Policy: models.TenantPolicy{
			Channels:          models.AllChannels(),
			ReinvestThreshold: 5000,
		},
	}
	if err := v.GetDatabase().SaveTenant(tenant); err != nil {
		t.Fatalf("SaveTenant() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := v.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	rec, err := v.GetScheduler().TriggerCycle(ctx, tenant.ID, nil)
	if err != nil {
		t.Fatalf("TriggerCycle() error = %v", err)
	}
	if rec.Status != models.CycleStatusCompleted {
		t.Fatalf("cycle status = %s, want %s", rec.Status, models.CycleStatusCompleted)
	}
}
