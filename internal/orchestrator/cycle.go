package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/jordanhubbard/venture/internal/channels"
	"github.com/jordanhubbard/venture/internal/collector"
	"github.com/jordanhubbard/venture/internal/database"
	"github.com/jordanhubbard/venture/internal/dispatch"
	"github.com/jordanhubbard/venture/internal/eventbus"
	"github.com/jordanhubbard/venture/internal/metrics"
	"github.com/jordanhubbard/venture/internal/reinvest"
	"github.com/jordanhubbard/venture/internal/strategy"
	"github.com/jordanhubbard/venture/pkg/config"
	"github.com/jordanhubbard/venture/pkg/models"
)

// Deps are the collaborators a Runner drives a cycle through. All of them
// are injected; the runner holds no process-wide state of its own.
type Deps struct {
	DB         *database.Database
	Cache      *strategy.Cache
	Engine     *strategy.Engine
	Dispatcher *dispatch.Dispatcher
	Collector  *collector.Collector
	Reinvest   *reinvest.Policy
	Bus        *eventbus.EventBus
	Metrics    *metrics.Metrics
}

// Runner executes complete business cycles: analyze, create, deploy,
// market, monitor, optimize, reinvest. One Runner serves every tenant;
// per-cycle state lives in the cycle record and the ledger, so any runner
// process can pick up any tenant.
type Runner struct {
	db         *database.Database
	cache      *strategy.Cache
	engine     *strategy.Engine
	dispatcher *dispatch.Dispatcher
	collector  *collector.Collector
	reinvest   *reinvest.Policy
	bus        *eventbus.EventBus
	metrics    *metrics.Metrics
	cfg        config.SchedulerConfig
	stagger    time.Duration
}

// NewRunner creates a cycle runner. stagger spaces the publish times of a
// cycle's social posts; the posts are queued on the channel immediately,
// so a long stagger never holds the cycle open.
func NewRunner(deps Deps, cfg config.SchedulerConfig, stagger time.Duration) *Runner {
	if cfg.CycleDeadline <= 0 {
		cfg.CycleDeadline = 10 * time.Minute
	}
	if stagger <= 0 {
		stagger = time.Hour
	}
	return &Runner{
		db:         deps.DB,
		cache:      deps.Cache,
		engine:     deps.Engine,
		dispatcher: deps.Dispatcher,
		collector:  deps.Collector,
		reinvest:   deps.Reinvest,
		bus:        deps.Bus,
		metrics:    deps.Metrics,
		cfg:        cfg,
		stagger:    stagger,
	}
}

// cycleRun is the working state of one cycle for one tenant. Policy and
// plan limits are snapshotted once at start; mid-cycle tenant edits apply
// from the next tick.
type cycleRun struct {
	r        *Runner
	tenant   *models.Tenant
	policy   models.TenantPolicy
	limits   models.PlanLimits
	rec      *models.CycleRecord
	prev     *models.CycleRecord
	override *models.Strategy
	deadline time.Time

	decision  *strategy.Decision
	directive *models.ReinvestmentDirective
	products  []builtProduct
	outcomes  []dispatch.Outcome
	taskStrat map[string]models.Strategy
	settled   bool
}

// builtProduct pairs a generated asset with the strategy that produced it.
type builtProduct struct {
	product  channels.Product
	strategy models.Strategy
}

// RunCycle executes one full cycle for the tenant and returns the
// persisted record. A non-nil override forces the strategy, bypassing the
// scored history. Cancelling ctx terminates the cycle CANCELLED after the
// work already dispatched has been settled; only integrity errors (a
// failed decision, a missing adapter, a dead store) return an error, which
// also marks the cycle FAILED.
func (r *Runner) RunCycle(ctx context.Context, tenant *models.Tenant, override *models.Strategy) (*models.CycleRecord, error) {
	if tenant == nil {
		return nil, fmt.Errorf("cycle requires a tenant")
	}

	start := time.Now()
	prev, err := r.db.LatestCycle(tenant.ID)
	if err != nil {
		log.Printf("[Orchestrator] Tenant %s: failed to load previous cycle: %v", tenant.ID, err)
	}

	rec := &models.CycleRecord{
		ID:        uuid.New().String(),
		TenantID:  tenant.ID,
		Phase:     models.PhaseIdle,
		Status:    models.CycleStatusRunning,
		StartedAt: start,
	}
	if err := r.db.InsertCycle(rec); err != nil {
		return nil, fmt.Errorf("failed to record cycle start: %w", err)
	}
	log.Printf("[Orchestrator] Tenant %s: cycle %s started", tenant.ID, rec.ID)
	r.audit(rec, "cycle.started", true, 0, nil)
	r.bus.PublishCycleEvent(eventbus.EventTypeCycleStarted, tenant.ID, rec.ID, nil)

	run := &cycleRun{
		r:         r,
		tenant:    tenant,
		policy:    tenant.Policy.Normalize(),
		limits:    tenant.Plan.Limits(),
		rec:       rec,
		prev:      prev,
		override:  override,
		deadline:  start.Add(r.cfg.CycleDeadline),
		taskStrat: make(map[string]models.Strategy),
	}
	return r.finish(ctx, run, run.execute(ctx), start)
}

// execute walks the forward phases in order. Cancellation is checked at
// every boundary so an operator stop never starts another phase.
func (c *cycleRun) execute(ctx context.Context) error {
	phases := []struct {
		phase models.CyclePhase
		work  func(context.Context) error
	}{
		{models.PhaseAnalyzing, c.analyze},
		{models.PhaseCreating, c.create},
		{models.PhaseDeploying, c.deploy},
		{models.PhaseMarketing, c.market},
		{models.PhaseMonitoring, c.monitor},
		{models.PhaseOptimizing, c.optimize},
		{models.PhaseReinvesting, c.reinvest},
	}
	for _, p := range phases {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.r.advance(c.rec, p.phase); err != nil {
			return err
		}
		if err := p.work(ctx); err != nil {
			return err
		}
	}
	return nil
}

// finish settles the cycle record into its terminal shape and emits the
// closing events and metrics.
func (r *Runner) finish(ctx context.Context, run *cycleRun, runErr error, start time.Time) (*models.CycleRecord, error) {
	rec := run.rec
	now := time.Now()
	rec.FinishedAt = &now
	elapsed := now.Sub(start)

	switch {
	case runErr == nil:
		rec.Status = models.CycleStatusCompleted
		if run.degraded() {
			rec.Status = models.CycleStatusDegraded
		}
		if err := r.advance(rec, models.PhaseIdle); err != nil {
			log.Printf("[Orchestrator] Tenant %s: failed to close cycle %s: %v", rec.TenantID, rec.ID, err)
		}
		eventType, busType := "cycle.completed", eventbus.EventTypeCycleCompleted
		if rec.Status == models.CycleStatusDegraded {
			eventType, busType = "cycle.degraded", eventbus.EventTypeCycleDegraded
		}
		revenue := netRevenue(run.outcomes)
		r.audit(rec, eventType, true, revenue, map[string]interface{}{"status": string(rec.Status)})
		r.bus.PublishCycleEvent(busType, rec.TenantID, rec.ID, map[string]interface{}{
			"status":   string(rec.Status),
			"strategy": rec.Strategy,
			"revenue":  revenue,
		})
		r.metrics.RecordCycle(rec.TenantID, string(rec.Status), elapsed.Seconds())
		log.Printf("[Orchestrator] Tenant %s: cycle %s finished %s in %s (net %.2f)",
			rec.TenantID, rec.ID, rec.Status, elapsed.Round(time.Millisecond), revenue)
		return rec, nil

	case errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded):
		// Dispatched work is not retracted; settle what already ran so the
		// ledger keeps the partial cycle.
		run.settleLeftovers(context.WithoutCancel(ctx))
		rec.Status = models.CycleStatusCancelled
		if err := r.advance(rec, models.PhaseCancelled); err != nil {
			log.Printf("[Orchestrator] Tenant %s: failed to mark cycle %s cancelled: %v", rec.TenantID, rec.ID, err)
		}
		r.audit(rec, "cycle.cancelled", false, 0, nil)
		r.bus.PublishCycleEvent(eventbus.EventTypeCycleCancelled, rec.TenantID, rec.ID, nil)
		r.metrics.RecordCycle(rec.TenantID, string(rec.Status), elapsed.Seconds())
		log.Printf("[Orchestrator] Tenant %s: cycle %s cancelled after %s", rec.TenantID, rec.ID, elapsed.Round(time.Millisecond))
		return rec, nil

	default:
		rec.Status = models.CycleStatusFailed
		rec.Error = runErr.Error()
		if err := r.advance(rec, models.PhaseFailed); err != nil {
			log.Printf("[Orchestrator] Tenant %s: failed to mark cycle %s failed: %v", rec.TenantID, rec.ID, err)
		}
		r.audit(rec, "cycle.failed", false, 0, map[string]interface{}{"error": runErr.Error()})
		r.bus.PublishCycleEvent(eventbus.EventTypeCycleFailed, rec.TenantID, rec.ID, map[string]interface{}{
			"error": runErr.Error(),
		})
		r.metrics.RecordCycle(rec.TenantID, string(rec.Status), elapsed.Seconds())
		log.Printf("[Orchestrator] Tenant %s: cycle %s failed: %v", rec.TenantID, rec.ID, runErr)
		return rec, runErr
	}
}

// advance moves the cycle to the next phase, persists it, and records the
// transition in the audit log, metrics and the live bus.
func (r *Runner) advance(rec *models.CycleRecord, to models.CyclePhase) error {
	from := rec.Phase
	if !models.CanTransition(from, to) {
		return fmt.Errorf("illegal cycle transition %s -> %s", from, to)
	}
	rec.Phase = to
	if err := r.db.UpdateCycle(rec); err != nil {
		return fmt.Errorf("failed to persist phase %s: %w", to, err)
	}
	r.metrics.RecordPhaseTransition(rec.TenantID, string(from), string(to))
	r.audit(rec, "cycle.phase", true, 0, map[string]interface{}{"from": string(from), "to": string(to)})
	r.bus.PublishCycleEvent(eventbus.EventTypeCyclePhase, rec.TenantID, rec.ID, map[string]interface{}{
		"from": string(from),
		"to":   string(to),
	})
	return nil
}

// audit appends one AIEvent for the cycle. Audit failures are logged, not
// fatal: the cycle record itself still captures the state.
func (r *Runner) audit(rec *models.CycleRecord, eventType string, success bool, revenue float64, payload map[string]interface{}) {
	var body string
	if payload != nil {
		if b, err := json.Marshal(payload); err == nil {
			body = string(b)
		}
	}
	ev := &models.AIEvent{
		ID:            uuid.New().String(),
		TenantID:      rec.TenantID,
		CycleID:       rec.ID,
		EventType:     eventType,
		Payload:       body,
		Success:       success,
		RevenueImpact: revenue,
		CreatedAt:     time.Now(),
	}
	if err := r.db.AppendEvent(ev); err != nil {
		log.Printf("[Orchestrator] Failed to record %s event: %v", eventType, err)
		return
	}
	r.metrics.EventsPublished.WithLabelValues(eventType, rec.TenantID).Inc()
}

// analyze runs the decision engine over the cached history and records the
// chosen strategy.
func (c *cycleRun) analyze(ctx context.Context) error {
	patterns, err := c.r.db.ListSuccessPatterns(c.tenant.ID)
	if err != nil {
		log.Printf("[Orchestrator] Tenant %s: failed to load success patterns: %v", c.tenant.ID, err)
	}
	directive, err := c.r.db.LatestDirective(c.tenant.ID)
	if err != nil {
		log.Printf("[Orchestrator] Tenant %s: failed to load latest directive: %v", c.tenant.ID, err)
	}
	// A directive is consumed by the first cycle that starts after it was
	// issued; older ones are spent.
	if directive != nil && c.prev != nil && !directive.CreatedAt.After(c.prev.StartedAt) {
		directive = nil
	}
	c.directive = directive

	dec, err := c.r.engine.Decide(ctx, strategy.Input{
		Tenant:    c.tenant,
		Channels:  c.policy.Channels,
		Directive: directive,
		Override:  c.override,
		Patterns:  patterns,
	})
	if err != nil {
		return fmt.Errorf("decision failed: %w", err)
	}
	c.decision = dec
	c.rec.Strategy = dec.Strategy.Name
	c.rec.Mode = dec.Mode
	c.recordDecision(dec)
	return nil
}

func (c *cycleRun) recordDecision(dec *strategy.Decision) {
	body, _ := json.Marshal(map[string]interface{}{
		"strategy":   dec.Strategy.Name,
		"kind":       string(dec.Strategy.Kind),
		"niche":      dec.Strategy.Niche,
		"price":      dec.Strategy.Price,
		"ad_budget":  dec.Strategy.AdBudget,
		"confidence": dec.Confidence,
		"candidates": len(dec.Candidates),
	})
	exp := &models.Experience{
		ID:         uuid.New().String(),
		TenantID:   c.tenant.ID,
		CycleID:    c.rec.ID,
		ActionType: models.ActionDecision,
		Context:    string(body),
		Success:    true,
		Mode:       dec.Mode,
		CreatedAt:  time.Now(),
	}
	if err := c.r.db.AppendExperience(exp); err != nil {
		log.Printf("[Orchestrator] Failed to record decision experience: %v", err)
	}

	eventType, busType := "decision.made", eventbus.EventTypeDecisionMade
	if dec.Mode == models.ModeOverride {
		eventType, busType = "decision.override", eventbus.EventTypeDecisionOverride
	}
	c.r.audit(c.rec, eventType, true, 0, map[string]interface{}{
		"strategy":   dec.Strategy.Name,
		"mode":       string(dec.Mode),
		"confidence": dec.Confidence,
	})
	c.r.bus.PublishCycleEvent(busType, c.tenant.ID, c.rec.ID, map[string]interface{}{
		"strategy":   dec.Strategy.Name,
		"mode":       string(dec.Mode),
		"confidence": dec.Confidence,
	})
	log.Printf("[Orchestrator] Tenant %s: %s strategy %q (confidence %.2f)",
		c.tenant.ID, dec.Mode, dec.Strategy.Name, dec.Confidence)
}

// create dispatches content generation for each planned product line.
func (c *cycleRun) create(ctx context.Context) error {
	if !hasChannel(c.policy.Channels, models.ChannelContent) {
		log.Printf("[Orchestrator] Tenant %s: content channel not enabled, skipping creation", c.tenant.ID)
		return nil
	}

	strategies := c.productStrategies()
	tasks := make([]dispatch.Task, 0, len(strategies))
	for _, strat := range strategies {
		t := dispatch.Task{
			ID:       uuid.New().String(),
			TenantID: c.tenant.ID,
			CycleID:  c.rec.ID,
			Channel:  models.ChannelContent,
			Kind:     dispatch.TaskGenerate,
			Generate: &channels.GenerateRequest{
				Niche:     strat.Niche,
				Kind:      strat.Kind,
				Keywords:  strat.Keywords,
				PriceHint: strat.Price,
			},
		}
		c.taskStrat[t.ID] = strat
		tasks = append(tasks, t)
	}

	before := len(c.outcomes)
	if err := c.dispatch(ctx, tasks); err != nil {
		return err
	}
	for i := before; i < len(c.outcomes); i++ {
		out := &c.outcomes[i]
		if !out.Succeeded() {
			continue
		}
		strat := c.taskStrat[out.TaskID]
		c.products = append(c.products, builtProduct{
			product:  productFromOutcome(strat, out),
			strategy: strat,
		})
	}
	log.Printf("[Orchestrator] Tenant %s: generated %d of %d products", c.tenant.ID, len(c.products), len(tasks))
	return nil
}

// productStrategies plans this cycle's product attempts: the decided
// strategy, plus further ranked candidates when the tenant fans out, plus
// one extra line when a fresh new_product directive funds it. The plan's
// per-cycle product ceiling bounds all of it.
func (c *cycleRun) productStrategies() []models.Strategy {
	out := []models.Strategy{c.decision.Strategy}
	limit := c.limits.MaxProductsPerCycle

	if c.policy.FanOutAll {
		for _, cand := range c.decision.Candidates {
			if len(out) >= limit {
				break
			}
			if !containsStrategy(out, cand.Strategy) {
				out = append(out, cand.Strategy)
			}
		}
	}
	if c.directive != nil && c.directive.Action == models.DirectiveNewProduct && len(out) < limit {
		for _, cand := range c.decision.Candidates {
			if !containsStrategy(out, cand.Strategy) {
				out = append(out, cand.Strategy)
				log.Printf("[Orchestrator] Tenant %s: reinvestment directive adds product line %q",
					c.tenant.ID, cand.Strategy.Name)
				break
			}
		}
	}
	return out
}

// deploy publishes every generated product to the commerce channel.
func (c *cycleRun) deploy(ctx context.Context) error {
	if !hasChannel(c.policy.Channels, models.ChannelCommerce) {
		log.Printf("[Orchestrator] Tenant %s: commerce channel not enabled, skipping deployment", c.tenant.ID)
		return nil
	}
	if len(c.products) == 0 {
		log.Printf("[Orchestrator] Tenant %s: no products to deploy", c.tenant.ID)
		return nil
	}

	tasks := make([]dispatch.Task, 0, len(c.products))
	for _, bp := range c.products {
		product := bp.product
		t := dispatch.Task{
			ID:       uuid.New().String(),
			TenantID: c.tenant.ID,
			CycleID:  c.rec.ID,
			Channel:  models.ChannelCommerce,
			Kind:     dispatch.TaskPublish,
			Publish:  &product,
		}
		c.taskStrat[t.ID] = bp.strategy
		tasks = append(tasks, t)
	}
	return c.dispatch(ctx, tasks)
}

// market launches the ad campaign for the live listings and queues the
// cycle's social posts, publish times spaced by the configured stagger.
func (c *cycleRun) market(ctx context.Context) error {
	strat := c.decision.Strategy
	var tasks []dispatch.Task

	if hasChannel(c.policy.Channels, models.ChannelAds) && strat.AdBudget > 0 {
		if c.publishedAny() {
			t := dispatch.Task{
				ID:       uuid.New().String(),
				TenantID: c.tenant.ID,
				CycleID:  c.rec.ID,
				Channel:  models.ChannelAds,
				Kind:     dispatch.TaskLaunch,
				Launch: &channels.LaunchRequest{
					Budget:    strat.AdBudget,
					Targeting: strat.Keywords,
					Creative:  fmt.Sprintf("%s for %s", strat.Name, c.tenant.Niche),
				},
			}
			c.taskStrat[t.ID] = strat
			tasks = append(tasks, t)
		} else {
			log.Printf("[Orchestrator] Tenant %s: skipping ads, no live listing to promote", c.tenant.ID)
		}
	}

	if hasChannel(c.policy.Channels, models.ChannelSocial) {
		now := time.Now()
		for i := 0; i < c.limits.MaxSocialPosts; i++ {
			t := dispatch.Task{
				ID:       uuid.New().String(),
				TenantID: c.tenant.ID,
				CycleID:  c.rec.ID,
				Channel:  models.ChannelSocial,
				Kind:     dispatch.TaskSchedule,
				Schedule: &channels.ScheduleRequest{
					Content: socialCopy(c.tenant, strat, i),
					At:      now.Add(time.Duration(i) * c.r.stagger),
				},
			}
			c.taskStrat[t.ID] = strat
			tasks = append(tasks, t)
		}
	}

	if len(tasks) == 0 {
		log.Printf("[Orchestrator] Tenant %s: no marketing work this cycle", c.tenant.ID)
		return nil
	}
	return c.dispatch(ctx, tasks)
}

// monitor settles every outcome through the collector and snapshots the
// per-channel breakdown onto the cycle record.
func (c *cycleRun) monitor(ctx context.Context) error {
	for i := range c.outcomes {
		out := &c.outcomes[i]
		strat, ok := c.taskStrat[out.TaskID]
		if !ok {
			strat = c.decision.Strategy
		}
		if _, err := c.r.collector.SettleOutcome(ctx, strat, c.decision.Mode, out); err != nil {
			return fmt.Errorf("failed to settle outcome %s: %w", out.OutcomeID, err)
		}
	}
	c.settled = true
	c.rec.Channels = channelResults(c.outcomes)
	log.Printf("[Orchestrator] Tenant %s: settled %d outcomes", c.tenant.ID, len(c.outcomes))
	return nil
}

// optimize prunes cold entries from the strategy cache index. The backing
// rows and the ledger survive, so pruning failures only cost lookups.
func (c *cycleRun) optimize(ctx context.Context) error {
	evicted, err := c.r.cache.EvictCold(ctx, time.Now())
	if err != nil {
		log.Printf("[Orchestrator] Tenant %s: cache pruning failed: %v", c.tenant.ID, err)
		return nil
	}
	if evicted > 0 {
		log.Printf("[Orchestrator] Evicted %d cold strategy entries", evicted)
		c.r.bus.PublishCycleEvent(eventbus.EventTypeStrategyEvicted, c.tenant.ID, c.rec.ID, map[string]interface{}{
			"evicted": evicted,
		})
	}
	return nil
}

// reinvest evaluates the profit window and surfaces any directive issued.
func (c *cycleRun) reinvest(ctx context.Context) error {
	dir, err := c.r.reinvest.Evaluate(ctx, c.tenant, c.rec.ID, c.decision.Mode, time.Now())
	if err != nil {
		return fmt.Errorf("failed to evaluate reinvestment: %w", err)
	}
	if dir != nil {
		c.r.bus.PublishCycleEvent(eventbus.EventTypeReinvestDirective, c.tenant.ID, c.rec.ID, map[string]interface{}{
			"action":  string(dir.Action),
			"amount":  dir.Amount,
			"channel": string(dir.Channel),
		})
	}
	return nil
}

// dispatch runs tasks under the cycle's work deadline and accumulates the
// settled outcomes for MONITORING. The returned error is systemic only; a
// task failing is an outcome, not an error.
func (c *cycleRun) dispatch(ctx context.Context, tasks []dispatch.Task) error {
	if len(tasks) == 0 {
		return nil
	}
	dctx, cancel := context.WithDeadline(ctx, c.deadline)
	defer cancel()
	outs, err := c.r.dispatcher.Dispatch(dctx, tasks)
	if err != nil {
		return fmt.Errorf("dispatch failed: %w", err)
	}
	c.outcomes = append(c.outcomes, outs...)
	return nil
}

// settleLeftovers records the outcomes a cancelled or failed cycle already
// holds. Settlement is idempotent, so this can never double-book.
func (c *cycleRun) settleLeftovers(ctx context.Context) {
	if c.settled || c.decision == nil {
		return
	}
	for i := range c.outcomes {
		out := &c.outcomes[i]
		strat, ok := c.taskStrat[out.TaskID]
		if !ok {
			strat = c.decision.Strategy
		}
		if _, err := c.r.collector.SettleOutcome(ctx, strat, c.decision.Mode, out); err != nil {
			log.Printf("[Orchestrator] Failed to settle outcome %s after cancellation: %v", out.OutcomeID, err)
		}
	}
	if len(c.outcomes) > 0 {
		c.rec.Channels = channelResults(c.outcomes)
	}
}

// degraded reports whether any task failed to settle cleanly.
func (c *cycleRun) degraded() bool {
	for i := range c.outcomes {
		if c.outcomes[i].Result != dispatch.ResultSucceeded {
			return true
		}
	}
	return false
}

// publishedAny reports whether at least one listing went live this cycle.
func (c *cycleRun) publishedAny() bool {
	for i := range c.outcomes {
		if c.outcomes[i].Channel == models.ChannelCommerce && c.outcomes[i].Succeeded() {
			return true
		}
	}
	return false
}

// productFromOutcome rebuilds the generated product from the adapter
// payload, falling back to the strategy's own fields.
func productFromOutcome(strat models.Strategy, out *dispatch.Outcome) channels.Product {
	p := channels.Product{
		Title: strat.Name,
		Price: strat.Price,
		Kind:  strat.Kind,
		Niche: strat.Niche,
	}
	if out.Payload == nil {
		return p
	}
	if v, ok := out.Payload["product_id"].(string); ok {
		p.ID = v
	}
	if v, ok := out.Payload["title"].(string); ok && v != "" {
		p.Title = v
	}
	if v, ok := out.Payload["price"].(float64); ok && v > 0 {
		p.Price = v
	}
	if v, ok := out.Payload["kind"].(string); ok && v != "" {
		p.Kind = models.StrategyKind(v)
	}
	return p
}

// channelResults aggregates outcomes into the per-channel breakdown, in
// stable channel order.
func channelResults(outs []dispatch.Outcome) []models.ChannelResult {
	byChannel := make(map[models.Channel]*models.ChannelResult)
	for i := range outs {
		o := &outs[i]
		cr := byChannel[o.Channel]
		if cr == nil {
			cr = &models.ChannelResult{Channel: o.Channel}
			byChannel[o.Channel] = cr
		}
		switch o.Result {
		case dispatch.ResultSucceeded:
			cr.Succeeded++
		case dispatch.ResultFailed:
			cr.Failed++
		default:
			cr.Degraded++
		}
		cr.Revenue += o.Revenue
	}

	var results []models.ChannelResult
	for _, ch := range models.AllChannels() {
		if cr, ok := byChannel[ch]; ok {
			results = append(results, *cr)
		}
	}
	return results
}

func netRevenue(outs []dispatch.Outcome) float64 {
	var total float64
	for i := range outs {
		total += outs[i].Revenue - outs[i].Cost
	}
	return total
}

func socialCopy(t *models.Tenant, strat models.Strategy, n int) string {
	tone := t.Persona.Profile().Tone
	return fmt.Sprintf("%s pick %d for %s: %s", tone, n+1, t.Niche, strat.Name)
}

func containsStrategy(list []models.Strategy, s models.Strategy) bool {
	for _, have := range list {
		if have.Name == s.Name && have.Kind == s.Kind {
			return true
		}
	}
	return false
}

func hasChannel(chs []models.Channel, ch models.Channel) bool {
	for _, c := range chs {
		if c == ch {
			return true
		}
	}
	return false
}
