package venture

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/jordanhubbard/venture/internal/auth"
	"github.com/jordanhubbard/venture/internal/channels"
	"github.com/jordanhubbard/venture/internal/collector"
	"github.com/jordanhubbard/venture/internal/database"
	"github.com/jordanhubbard/venture/internal/dispatch"
	"github.com/jordanhubbard/venture/internal/eventbus"
	"github.com/jordanhubbard/venture/internal/messagebus"
	"github.com/jordanhubbard/venture/internal/metrics"
	"github.com/jordanhubbard/venture/internal/orchestrator"
	"github.com/jordanhubbard/venture/internal/reinvest"
	"github.com/jordanhubbard/venture/internal/strategy"
	"github.com/jordanhubbard/venture/pkg/config"
)

// Venture wires the subsystems of one daemon process: persistence, the
// in-memory event bus (optionally bridged to NATS), the channel registry,
// the decision engine over the strategy cache, the dispatcher, and the
// per-tenant cycle scheduler.
type Venture struct {
	config       *config.Config
	database     *database.Database
	eventBus     *eventbus.EventBus
	messageBus   *messagebus.Mirror
	bridge       *messagebus.Bridge
	metrics      *metrics.Metrics
	registry     *channels.Registry
	cache        *strategy.Cache
	engine       *strategy.Engine
	dispatcher   *dispatch.Dispatcher
	collector    *collector.Collector
	reinvestor   *reinvest.Policy
	runner       *orchestrator.Runner
	scheduler    *orchestrator.Scheduler
	authManager  *auth.Manager
	startedAt    time.Time
	shutdownOnce sync.Once
}

// New creates a new Venture instance
func New(cfg *config.Config) (*Venture, error) {
	m := metrics.NewMetrics()
	eb := eventbus.NewEventBus(0)

	// Initialize NATS message bus if configured. The env var overrides the
	// config so containerized deployments can point at their cluster.
	var messageBus *messagebus.Mirror
	natsURL := cfg.NATS.URL
	if env := os.Getenv("NATS_URL"); env != "" {
		natsURL = env
	}
	if cfg.NATS.Enabled || os.Getenv("NATS_URL") != "" {
		mb, err := messagebus.Connect(messagebus.Config{
			URL:        natsURL,
			StreamName: cfg.NATS.StreamName,
			Timeout:    10 * time.Second,
		})
		if err != nil {
			log.Printf("Warning: failed to initialize NATS message bus: %v", err)
			// Don't fail startup if NATS is unavailable - allow graceful degradation
		} else {
			messageBus = mb
			log.Printf("Initialized NATS message bus at %s", natsURL)
		}
	}

	// Bridge the in-memory EventBus to NATS for cross-node visibility.
	var bridge *messagebus.Bridge
	if messageBus != nil {
		hostname, _ := os.Hostname()
		bridge = messagebus.NewBridge(messageBus, eb, "venture-"+hostname)
	}

	// Persistence is not optional: cycles, the ledger, and the strategy
	// index all live here. Fail startup rather than run stateless.
	var db *database.Database
	var err error
	switch cfg.Database.Type {
	case "postgres":
		db, err = database.NewPostgres(cfg.Database.DSN)
	case "", "sqlite":
		db, err = database.New(cfg.Database.Path)
	default:
		err = fmt.Errorf("unsupported database type: %s", cfg.Database.Type)
	}
	if err != nil {
		eb.Close()
		if messageBus != nil {
			_ = messageBus.Close()
		}
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	registry, err := channels.FromConfig(cfg.Channels)
	if err != nil {
		eb.Close()
		if messageBus != nil {
			_ = messageBus.Close()
		}
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize channels: %w", err)
	}

	// The strategy index degrades to memory when redis is unreachable; it
	// can always be rebuilt from the ledger.
	backend, err := strategy.NewBackend(cfg.Cache)
	if err != nil {
		log.Printf("Warning: failed to initialize %s cache backend: %v (falling back to memory)", cfg.Cache.Backend, err)
		memCfg := cfg.Cache
		memCfg.Backend = "memory"
		backend, _ = strategy.NewBackend(memCfg)
	}
	cache := strategy.NewCache(db, backend, m, cfg.Cache)
	engine := strategy.NewEngine(cache, m, cfg.Decision)

	dispatcher := dispatch.New(registry, eb, m, dispatch.Options{
		Workers:     cfg.Dispatch.PoolSize,
		TaskTimeout: cfg.Dispatch.TaskTimeout,
		MaxAttempts: cfg.Dispatch.MaxAttempts,
		RetryBase:   cfg.Dispatch.BaseBackoff,
		RetryMax:    cfg.Dispatch.MaxBackoff,
	})

	coll := collector.New(db, cache, m)
	pol := reinvest.New(db, m)

	runner := orchestrator.NewRunner(orchestrator.Deps{
		DB:         db,
		Cache:      cache,
		Engine:     engine,
		Dispatcher: dispatcher,
		Collector:  coll,
		Reinvest:   pol,
		Bus:        eb,
		Metrics:    m,
	}, cfg.Scheduler, cfg.Channels.SocialStagger)

	sched := orchestrator.NewScheduler(db, runner, eb, m, cfg.Scheduler)

	jwtSecret := cfg.Security.JWTSecret
	if env := os.Getenv("VENTURE_JWT_SECRET"); env != "" {
		jwtSecret = env
	}
	authMgr := auth.NewManager(jwtSecret)

	return &Venture{
		config:      cfg,
		database:    db,
		eventBus:    eb,
		messageBus:  messageBus,
		bridge:      bridge,
		metrics:     m,
		registry:    registry,
		cache:       cache,
		engine:      engine,
		dispatcher:  dispatcher,
		collector:   coll,
		reinvestor:  pol,
		runner:      runner,
		scheduler:   sched,
		authManager: authMgr,
		startedAt:   time.Now(),
	}, nil
}

// Start begins background work: the NATS bridge (when configured) and the
// per-tenant cycle scheduler. The context governs everything started here;
// Shutdown still runs the orderly teardown.
func (v *Venture) Start(ctx context.Context) error {
	if v.bridge != nil {
		if err := v.bridge.Start(ctx); err != nil {
			log.Printf("Warning: failed to start NATS bridge: %v", err)
		}
	}
	if err := v.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	log.Printf("[Venture] Started (holder %s)", v.scheduler.Holder())
	return nil
}

// Shutdown stops the scheduler, drains the buses, and closes the database.
func (v *Venture) Shutdown() {
	v.shutdownOnce.Do(func() {
		if v.scheduler != nil {
			v.scheduler.Stop()
		}
		if v.bridge != nil {
			v.bridge.Close()
		}
		if v.eventBus != nil {
			v.eventBus.Close()
		}
		if v.messageBus != nil {
			_ = v.messageBus.Close()
		}
		if v.database != nil {
			_ = v.database.Close()
		}
	})
}

// Retune applies the live-tunable sections of a reloaded config. Structural
// settings (ports, storage backend, pool sizes) take effect on restart only.
func (v *Venture) Retune(cfg *config.Config) {
	if cfg == nil {
		return
	}
	v.engine.Retune(cfg.Decision)
}

// GetConfig returns the loaded configuration
func (v *Venture) GetConfig() *config.Config {
	return v.config
}

// GetDatabase returns the database instance
func (v *Venture) GetDatabase() *database.Database {
	return v.database
}

func (v *Venture) GetEventBus() *eventbus.EventBus {
	return v.eventBus
}

// GetMessageBus returns the NATS mirror, nil when not configured
func (v *Venture) GetMessageBus() *messagebus.Mirror {
	return v.messageBus
}

// GetMetrics returns the metrics registry
func (v *Venture) GetMetrics() *metrics.Metrics {
	return v.metrics
}

// GetRegistry returns the channel adapter registry
func (v *Venture) GetRegistry() *channels.Registry {
	return v.registry
}

// GetCache returns the strategy cache
func (v *Venture) GetCache() *strategy.Cache {
	return v.cache
}

// GetEngine returns the decision engine
func (v *Venture) GetEngine() *strategy.Engine {
	return v.engine
}

// GetDispatcher returns the task dispatcher
func (v *Venture) GetDispatcher() *dispatch.Dispatcher {
	return v.dispatcher
}

// GetCollector returns the outcome collector
func (v *Venture) GetCollector() *collector.Collector {
	return v.collector
}

// GetReinvestor returns the reinvestment policy
func (v *Venture) GetReinvestor() *reinvest.Policy {
	return v.reinvestor
}

// GetRunner returns the cycle runner
func (v *Venture) GetRunner() *orchestrator.Runner {
	return v.runner
}

// GetScheduler returns the cycle scheduler
func (v *Venture) GetScheduler() *orchestrator.Scheduler {
	return v.scheduler
}

// GetAuthManager returns the authentication manager
func (v *Venture) GetAuthManager() *auth.Manager {
	return v.authManager
}

// StartedAt returns when this instance was constructed
func (v *Venture) StartedAt() time.Time {
	return v.startedAt
}
