package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jordanhubbard/venture/internal/database"
	"github.com/jordanhubbard/venture/internal/eventbus"
	"github.com/jordanhubbard/venture/internal/metrics"
	"github.com/jordanhubbard/venture/pkg/config"
	"github.com/jordanhubbard/venture/pkg/models"
)

// ErrCycleRunning reports that the tenant's cycle lease is already held,
// here or in another scheduler process.
var ErrCycleRunning = errors.New("cycle already running for tenant")

// resyncInterval bounds how stale the scheduler's tenant set can get
// before tenants added or retired elsewhere are picked up.
const resyncInterval = time.Minute

// Scheduler drives autopilot tenants through recurring cycles. Every
// tenant gets its own tick loop with independent failure backoff, so one
// tenant's broken channel never delays another. Cycle starts are
// single-flight across processes: the database lease decides who runs, and
// losing a renewal cancels the cycle mid-flight.
type Scheduler struct {
	db      *database.Database
	runner  *Runner
	bus     *eventbus.EventBus
	metrics *metrics.Metrics
	cfg     config.SchedulerConfig
	holder  string

	// slots bounds how many cycles run at once in this process.
	slots chan struct{}

	mu      sync.Mutex
	loops   map[string]context.CancelFunc // tenantID -> tick loop
	running map[string]context.CancelFunc // tenantID -> in-flight cycle
	root    context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewScheduler creates a scheduler over the shared runner. Zero config
// values fall back to defaults.
func NewScheduler(db *database.Database, runner *Runner, bus *eventbus.EventBus, m *metrics.Metrics, cfg config.SchedulerConfig) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Minute
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 3
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 15 * time.Minute
	}
	if cfg.FailureBackoff <= 0 {
		cfg.FailureBackoff = time.Minute
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = 4 * time.Hour
	}

	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "venture"
	}
	return &Scheduler{
		db:      db,
		runner:  runner,
		bus:     bus,
		metrics: m,
		cfg:     cfg,
		holder:  fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.New().String()[:8]),
		slots:   make(chan struct{}, cfg.MaxConcurrent),
		loops:   make(map[string]context.CancelFunc),
		running: make(map[string]context.CancelFunc),
	}
}

// Holder returns this scheduler's lease holder identity.
func (s *Scheduler) Holder() string { return s.holder }

// Start launches a tick loop for every autopilot tenant plus a background
// resync that reconciles the loop set against the tenant table.
func (s *Scheduler) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.root = ctx
	s.cancel = cancel
	s.mu.Unlock()

	tenants, err := s.db.ListAutopilotTenants()
	if err != nil {
		cancel()
		return fmt.Errorf("failed to list autopilot tenants: %w", err)
	}
	for _, t := range tenants {
		s.Watch(t)
	}

	s.wg.Add(1)
	go s.resync(ctx)
	log.Printf("[Scheduler] Started %d tenant loops (holder %s)", len(tenants), s.holder)
	return nil
}

// Stop cancels every loop and in-flight cycle and waits for them to drain.
// Cycles terminate CANCELLED with their partial work settled.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	log.Printf("[Scheduler] Stopped")
}

// Watch starts the tick loop for a tenant. Safe to call for a tenant that
// is already watched. The loop interval is read from the tenant policy
// once; call Rewatch after a policy change.
func (s *Scheduler) Watch(t *models.Tenant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.root == nil {
		return
	}
	if _, ok := s.loops[t.ID]; ok {
		return
	}

	interval := t.Policy.CycleInterval
	if interval <= 0 {
		interval = s.cfg.Interval
	}
	ctx, cancel := context.WithCancel(s.root)
	s.loops[t.ID] = cancel
	s.wg.Add(1)
	go s.loop(ctx, t.ID, interval)
	log.Printf("[Scheduler] Watching tenant %s (interval %s)", t.ID, interval)
}

// Unwatch stops the tenant's tick loop. An in-flight cycle for the tenant
// is cancelled with it.
func (s *Scheduler) Unwatch(tenantID string) {
	s.mu.Lock()
	cancel, ok := s.loops[tenantID]
	if ok {
		delete(s.loops, tenantID)
	}
	s.mu.Unlock()
	if ok {
		cancel()
		log.Printf("[Scheduler] Stopped watching tenant %s", tenantID)
	}
}

// Rewatch restarts the tenant's loop so policy changes (interval, channels)
// take effect without waiting for a resync.
func (s *Scheduler) Rewatch(t *models.Tenant) {
	s.Unwatch(t.ID)
	s.Watch(t)
}

// TriggerCycle starts a cycle for the tenant immediately, outside its
// normal cadence. A non-nil override forces the strategy for this cycle.
// Returns ErrCycleRunning when the tenant's lease is already held.
func (s *Scheduler) TriggerCycle(ctx context.Context, tenantID string, override *models.Strategy) (*models.CycleRecord, error) {
	return s.runOnce(ctx, tenantID, override, true)
}

// CancelCycle cancels the tenant's in-flight cycle, if any, and reports
// whether there was one.
func (s *Scheduler) CancelCycle(tenantID string) bool {
	s.mu.Lock()
	cancel, ok := s.running[tenantID]
	s.mu.Unlock()
	if ok {
		cancel()
		log.Printf("[Scheduler] Tenant %s: cycle cancellation requested", tenantID)
	}
	return ok
}

// loop ticks one tenant. Failed cycles push the next attempt out by a
// doubling backoff, reset on the first success; conflicts and skips keep
// the normal cadence.
func (s *Scheduler) loop(ctx context.Context, tenantID string, interval time.Duration) {
	defer s.wg.Done()

	failures := 0
	timer := time.NewTimer(0) // first tick fires immediately
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		_, err := s.runOnce(ctx, tenantID, nil, false)
		next := interval
		switch {
		case err == nil, errors.Is(err, ErrCycleRunning):
			failures = 0
		case errors.Is(err, context.Canceled):
			return
		default:
			failures++
			if delay := backoffDelay(s.cfg.FailureBackoff, s.cfg.BackoffCap, failures); delay > next {
				next = delay
			}
			log.Printf("[Scheduler] Tenant %s: %d consecutive cycle failures, next attempt in %s",
				tenantID, failures, next)
		}
		timer.Reset(next)
	}
}

// runOnce runs a single lease-guarded cycle for the tenant. Tick runs skip
// paused or non-autopilot tenants silently; manual runs refuse only
// archived tenants.
func (s *Scheduler) runOnce(ctx context.Context, tenantID string, override *models.Strategy, manual bool) (*models.CycleRecord, error) {
	tenant, err := s.db.GetTenant(tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load tenant %s: %w", tenantID, err)
	}
	if manual {
		if tenant.Status == models.TenantStatusArchived {
			return nil, fmt.Errorf("tenant %s is archived", tenantID)
		}
	} else if tenant.Status != models.TenantStatusActive || !tenant.AutopilotEnabled {
		log.Printf("[Scheduler] Tenant %s: inactive or autopilot off, skipping tick", tenantID)
		s.bus.PublishCycleEvent(eventbus.EventTypeCycleSkipped, tenantID, "", map[string]interface{}{
			"reason": "autopilot_disabled",
		})
		return nil, nil
	}

	acquired, holder, err := s.db.AcquireCycleLease(tenantID, s.holder, s.cfg.LeaseTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire cycle lease: %w", err)
	}
	if !acquired {
		s.metrics.CycleConflicts.WithLabelValues(tenantID).Inc()
		s.auditConflict(tenantID, holder)
		s.bus.PublishCycleEvent(eventbus.EventTypeCycleConflict, tenantID, "", map[string]interface{}{
			"holder": holder,
		})
		log.Printf("[Scheduler] Tenant %s: cycle lease held by %s, skipping", tenantID, holder)
		return nil, ErrCycleRunning
	}
	defer func() {
		if err := s.db.ReleaseCycleLease(tenantID, s.holder); err != nil {
			log.Printf("[Scheduler] Tenant %s: failed to release cycle lease: %v", tenantID, err)
		}
	}()

	select {
	case s.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-s.slots }()

	cycleCtx, cancelCycle := context.WithCancel(ctx)
	defer cancelCycle()
	s.mu.Lock()
	s.running[tenantID] = cancelCycle
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.running, tenantID)
		s.mu.Unlock()
	}()
	go s.keepLease(cycleCtx, tenantID, cancelCycle)

	return s.runner.RunCycle(cycleCtx, tenant, override)
}

// keepLease renews the tenant's cycle lease while the cycle runs. Losing
// the lease cancels the cycle so two holders never drive the same tenant.
func (s *Scheduler) keepLease(ctx context.Context, tenantID string, lost context.CancelFunc) {
	interval := s.cfg.LeaseTTL / 3
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			renewed, err := s.db.RenewCycleLease(tenantID, s.holder, s.cfg.LeaseTTL)
			if err != nil {
				log.Printf("[Scheduler] Tenant %s: lease renewal error: %v", tenantID, err)
				continue
			}
			if !renewed {
				log.Printf("[Scheduler] Tenant %s: cycle lease lost, cancelling cycle", tenantID)
				lost()
				return
			}
		}
	}
}

// resync reconciles the loop set against the tenant table so tenants
// created, paused or retired after startup converge without a restart.
func (s *Scheduler) resync(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(resyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tenants, err := s.db.ListAutopilotTenants()
			if err != nil {
				log.Printf("[Scheduler] Resync failed: %v", err)
				continue
			}
			active := make(map[string]bool, len(tenants))
			for _, t := range tenants {
				active[t.ID] = true
				s.Watch(t)
			}

			s.mu.Lock()
			var stale []string
			for id := range s.loops {
				if !active[id] {
					stale = append(stale, id)
				}
			}
			s.mu.Unlock()
			for _, id := range stale {
				s.Unwatch(id)
			}
		}
	}
}

func (s *Scheduler) auditConflict(tenantID, holder string) {
	payload, _ := json.Marshal(map[string]string{"holder": holder})
	ev := &models.AIEvent{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		EventType: "cycle.conflict",
		Payload:   string(payload),
		Success:   true,
		CreatedAt: time.Now(),
	}
	if err := s.db.AppendEvent(ev); err != nil {
		log.Printf("[Scheduler] Failed to record conflict event: %v", err)
		return
	}
	s.metrics.EventsPublished.WithLabelValues("cycle.conflict", tenantID).Inc()
}

// backoffDelay doubles the base delay per consecutive failure up to the cap.
func backoffDelay(base, limit time.Duration, failures int) time.Duration {
	delay := base
	for i := 1; i < failures; i++ {
		delay *= 2
		if delay >= limit {
			return limit
		}
	}
	if delay > limit {
		return limit
	}
	return delay
}
