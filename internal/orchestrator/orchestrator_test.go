package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

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

type contentFunc func(ctx context.Context, req channels.GenerateRequest) (*channels.Product, error)

func (f contentFunc) Generate(ctx context.Context, req channels.GenerateRequest) (*channels.Product, error) {
	return f(ctx, req)
}

type commerceFunc func(ctx context.Context, product channels.Product) (*channels.Listing, error)

func (f commerceFunc) Publish(ctx context.Context, product channels.Product) (*channels.Listing, error) {
	return f(ctx, product)
}

type adsFunc func(ctx context.Context, req channels.LaunchRequest) (*channels.Campaign, error)

func (f adsFunc) Launch(ctx context.Context, req channels.LaunchRequest) (*channels.Campaign, error) {
	return f(ctx, req)
}

type testStack struct {
	db     *database.Database
	bus    *eventbus.EventBus
	runner *Runner
}

func newTestStack(t *testing.T, registry *channels.Registry) *testStack {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	m := metrics.NewMetrics()
	cacheCfg := config.CacheConfig{
		Backend:          "memory",
		RetentionHorizon: 30 * 24 * time.Hour,
		MinScore:         0.2,
		MaxEntries:       100,
	}
	backend, err := strategy.NewBackend(cacheCfg)
	if err != nil {
		t.Fatalf("failed to build cache backend: %v", err)
	}
	cache := strategy.NewCache(db, backend, m, cacheCfg)
	engine := strategy.NewEngine(cache, m, config.DecisionConfig{
		SuccessWeight:     0.5,
		ProfitWeight:      0.3,
		RecencyWeight:     0.2,
		RecencyHalfLife:   7,
		PriorWeight:       5,
		MinSamples:        3,
		ExploitThreshold:  0.5,
		ExploreConfidence: 0.3,
	})

	bus := eventbus.NewEventBus(0)
	t.Cleanup(func() { bus.Close() })

	dispatcher := dispatch.New(registry, bus, m, dispatch.Options{
		Workers:     4,
		TaskTimeout: 5 * time.Second,
		MaxAttempts: 2,
		RetryBase:   time.Millisecond,
		RetryMax:    5 * time.Millisecond,
	})
	runner := NewRunner(Deps{
		DB:         db,
		Cache:      cache,
		Engine:     engine,
		Dispatcher: dispatcher,
		Collector:  collector.New(db, cache, m),
		Reinvest:   reinvest.New(db, m),
		Bus:        bus,
		Metrics:    m,
	}, config.SchedulerConfig{CycleDeadline: 5 * time.Second}, time.Millisecond)

	return &testStack{db: db, bus: bus, runner: runner}
}

func simRegistry(t *testing.T, failureRate float64) *channels.Registry {
	t.Helper()
	sim := channels.NewSimulator(channels.SimOptions{Seed: 7, FailureRate: failureRate})
	r := channels.NewRegistry()
	r.RegisterContent(sim)
	r.RegisterCommerce(sim)
	r.RegisterAds(sim)
	r.RegisterSocial(sim)
	return r
}

// orchTenant uses the starter plan: one product line, two social posts,
// ten dollar ad ceiling. The reinvestment threshold sits far above what a
// single simulated cycle can earn, so no directive fires mid-test.
func orchTenant(id string) *models.Tenant {
	return &models.Tenant{
		ID:               id,
		Name:             "Orchestrated Fitness",
		Niche:            "fitness",
		Keywords:         []string{"home workouts"},
		Persona:          models.PersonaHustler,
		Plan:             models.PlanStarter,
		Status:           models.TenantStatusActive,
		AutopilotEnabled: true,
		Policy: models.TenantPolicy{
			Channels:          models.AllChannels(),
			ReinvestThreshold: 5000,
		},
	}
}

func eventsOfType(evs []*models.AIEvent, eventType string) []*models.AIEvent {
	var out []*models.AIEvent
	for _, ev := range evs {
		if ev.EventType == eventType {
			out = append(out, ev)
		}
	}
	return out
}

func experiencesOf(exps []*models.Experience, action models.ActionType) []*models.Experience {
	var out []*models.Experience
	for _, exp := range exps {
		if exp.ActionType == action {
			out = append(out, exp)
		}
	}
	return out
}

func TestRunCycleRequiresTenant(t *testing.T) {
	stack := newTestStack(t, simRegistry(t, 0))
	if _, err := stack.runner.RunCycle(context.Background(), nil, nil); err == nil {
		t.Fatal("RunCycle(nil tenant) returned no error")
	}
}

func TestCycleCompletesAllPhases(t *testing.T) {
	stack := newTestStack(t, simRegistry(t, 0))
	tenant := orchTenant("t-happy")

	rec, err := stack.runner.RunCycle(context.Background(), tenant, nil)
	if err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}
	if rec.Status != models.CycleStatusCompleted {
		t.Fatalf("Status = %s, want %s (error %q)", rec.Status, models.CycleStatusCompleted, rec.Error)
	}
	if rec.Phase != models.PhaseIdle {
		t.Errorf("Phase = %s, want %s", rec.Phase, models.PhaseIdle)
	}
	if rec.Mode != models.ModeExplore {
		t.Errorf("Mode = %s, want %s", rec.Mode, models.ModeExplore)
	}
	if rec.Strategy == "" {
		t.Error("cycle record has no strategy name")
	}
	if rec.FinishedAt == nil {
		t.Error("FinishedAt not set")
	}

	stored, err := stack.db.GetCycle(rec.ID)
	if err != nil {
		t.Fatalf("GetCycle() error = %v", err)
	}
	if stored.Status != models.CycleStatusCompleted || stored.Phase != models.PhaseIdle {
		t.Errorf("persisted cycle = %s/%s, want %s/%s",
			stored.Status, stored.Phase, models.CycleStatusCompleted, models.PhaseIdle)
	}

	// Starter plan work: 1 generate, 1 publish, 1 ad launch, 2 social posts.
	byChannel := make(map[models.Channel]models.ChannelResult)
	for _, cr := range stored.Channels {
		byChannel[cr.Channel] = cr
	}
	wantSucceeded := map[models.Channel]int{
		models.ChannelContent:  1,
		models.ChannelCommerce: 1,
		models.ChannelAds:      1,
		models.ChannelSocial:   2,
	}
	for ch, want := range wantSucceeded {
		if got := byChannel[ch].Succeeded; got != want {
			t.Errorf("channel %s succeeded = %d, want %d", ch, got, want)
		}
	}

	exps, err := stack.db.ListExperiencesByCycle(rec.ID)
	if err != nil {
		t.Fatalf("ListExperiencesByCycle() error = %v", err)
	}
	if len(exps) != 6 {
		t.Fatalf("experiences = %d, want 6", len(exps))
	}
	wantActions := map[models.ActionType]int{
		models.ActionDecision:      1,
		models.ActionProductCreate: 1,
		models.ActionStorePublish:  1,
		models.ActionAdLaunch:      1,
		models.ActionSocialPost:    2,
	}
	for action, want := range wantActions {
		if got := len(experiencesOf(exps, action)); got != want {
			t.Errorf("%s experiences = %d, want %d", action, got, want)
		}
	}
	for _, exp := range exps {
		if !exp.Success {
			t.Errorf("experience %s/%s not marked successful", exp.ActionType, exp.ID)
		}
	}

	evs, err := stack.db.ListEventsByCycle(rec.ID)
	if err != nil {
		t.Fatalf("ListEventsByCycle() error = %v", err)
	}
	for eventType, want := range map[string]int{
		"cycle.started":   1,
		"cycle.completed": 1,
		"decision.made":   1,
	} {
		if got := len(eventsOfType(evs, eventType)); got != want {
			t.Errorf("%s events = %d, want %d", eventType, got, want)
		}
	}

	// Seven forward phases plus the closing wrap back to IDLE, every hop legal.
	phaseEvents := eventsOfType(evs, "cycle.phase")
	if len(phaseEvents) != 8 {
		t.Fatalf("cycle.phase events = %d, want 8", len(phaseEvents))
	}
	seen := make(map[string]bool)
	for _, ev := range phaseEvents {
		var hop struct {
			From string `json:"from"`
			To   string `json:"to"`
		}
		if err := json.Unmarshal([]byte(ev.Payload), &hop); err != nil {
			t.Fatalf("failed to decode phase payload %q: %v", ev.Payload, err)
		}
		if !models.CanTransition(models.CyclePhase(hop.From), models.CyclePhase(hop.To)) {
			t.Errorf("recorded illegal transition %s -> %s", hop.From, hop.To)
		}
		seen[hop.From+">"+hop.To] = true
	}
	for _, hop := range []string{"IDLE>ANALYZING", "REINVESTING>IDLE"} {
		if !seen[hop] {
			t.Errorf("missing phase transition %s", hop)
		}
	}

	taskDone, err := stack.db.CountCycleEvents(rec.ID, "task.completed")
	if err != nil {
		t.Fatalf("CountCycleEvents() error = %v", err)
	}
	if taskDone != 5 {
		t.Errorf("task.completed events = %d, want 5", taskDone)
	}
}

func TestCycleDegradedWhenAdsExhaustRetries(t *testing.T) {
	sim := channels.NewSimulator(channels.SimOptions{Seed: 7})
	registry := channels.NewRegistry()
	registry.RegisterContent(sim)
	registry.RegisterSocial(sim)
	registry.RegisterCommerce(commerceFunc(func(ctx context.Context, product channels.Product) (*channels.Listing, error) {
		return &channels.Listing{
			ListingID: "list-fit-1",
			URL:       "https://shop.test/list-fit-1",
			Status:    "published",
			Units:     3,
			Revenue:   87,
		}, nil
	}))
	registry.RegisterAds(adsFunc(func(ctx context.Context, req channels.LaunchRequest) (*channels.Campaign, error) {
		return nil, &models.TransientAdapterError{Channel: models.ChannelAds, Err: errors.New("ad auction flapping")}
	}))

	stack := newTestStack(t, registry)
	tenant := orchTenant("t-degraded")
	start := time.Now().Add(-time.Minute)

	rec, err := stack.runner.RunCycle(context.Background(), tenant, nil)
	if err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}
	if rec.Status != models.CycleStatusDegraded {
		t.Fatalf("Status = %s, want %s", rec.Status, models.CycleStatusDegraded)
	}
	if rec.Phase != models.PhaseIdle {
		t.Errorf("Phase = %s, want %s", rec.Phase, models.PhaseIdle)
	}

	var ads models.ChannelResult
	for _, cr := range rec.Channels {
		if cr.Channel == models.ChannelAds {
			ads = cr
		}
	}
	if ads.Degraded != 1 || ads.Succeeded != 0 {
		t.Errorf("ads result = %+v, want 1 degraded, 0 succeeded", ads)
	}

	exps, err := stack.db.ListExperiencesByCycle(rec.ID)
	if err != nil {
		t.Fatalf("ListExperiencesByCycle() error = %v", err)
	}
	adExps := experiencesOf(exps, models.ActionAdLaunch)
	if len(adExps) != 1 {
		t.Fatalf("ad_launch experiences = %d, want 1", len(adExps))
	}
	if adExps[0].Success {
		t.Error("degraded ad launch recorded as success")
	}
	if len(adExps[0].LessonsLearned) == 0 {
		t.Error("degraded ad launch carries no lesson")
	}

	// The listing revenue lands under commerce; the dead campaign books nothing.
	profit, err := stack.db.WindowProfitBySource(tenant.ID, start, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("WindowProfitBySource() error = %v", err)
	}
	if got := profit["commerce"]; got != 87 {
		t.Errorf("commerce profit = %.2f, want 87.00", got)
	}
	if _, ok := profit["ads"]; ok {
		t.Errorf("ads profit recorded for a campaign that never launched: %.2f", profit["ads"])
	}

	completed, err := stack.db.CountCycleEvents(rec.ID, "task.completed")
	if err != nil {
		t.Fatalf("CountCycleEvents() error = %v", err)
	}
	failed, err := stack.db.CountCycleEvents(rec.ID, "task.failed")
	if err != nil {
		t.Fatalf("CountCycleEvents() error = %v", err)
	}
	if completed != 4 || failed != 1 {
		t.Errorf("task events = %d completed, %d failed, want 4 and 1", completed, failed)
	}

	evs, err := stack.db.ListEventsByCycle(rec.ID)
	if err != nil {
		t.Fatalf("ListEventsByCycle() error = %v", err)
	}
	if got := len(eventsOfType(evs, "cycle.degraded")); got != 1 {
		t.Errorf("cycle.degraded events = %d, want 1", got)
	}
	if got := len(eventsOfType(evs, "cycle.completed")); got != 0 {
		t.Errorf("cycle.completed events = %d, want 0", got)
	}
}

func TestCancelledCycleSettlesDispatchedWork(t *testing.T) {
	started := make(chan struct{})
	var once sync.Once
	sim := channels.NewSimulator(channels.SimOptions{Seed: 7})
	registry := channels.NewRegistry()
	registry.RegisterContent(sim)
	registry.RegisterAds(sim)
	registry.RegisterSocial(sim)
	registry.RegisterCommerce(commerceFunc(func(ctx context.Context, product channels.Product) (*channels.Listing, error) {
		once.Do(func() { close(started) })
		<-ctx.Done()
		return nil, ctx.Err()
	}))

	stack := newTestStack(t, registry)
	tenant := orchTenant("t-cancel")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	type result struct {
		rec *models.CycleRecord
		err error
	}
	done := make(chan result, 1)
	go func() {
		rec, err := stack.runner.RunCycle(ctx, tenant, nil)
		done <- result{rec, err}
	}()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("cycle never reached the commerce channel")
	}
	cancel()

	var res result
	select {
	case res = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled cycle did not finish")
	}
	if res.err != nil {
		t.Fatalf("cancelled RunCycle() error = %v, want nil", res.err)
	}
	rec := res.rec
	if rec.Status != models.CycleStatusCancelled {
		t.Fatalf("Status = %s, want %s", rec.Status, models.CycleStatusCancelled)
	}
	if rec.Phase != models.PhaseCancelled {
		t.Errorf("Phase = %s, want %s", rec.Phase, models.PhaseCancelled)
	}

	// The generate that finished and the publish that was cut off are both
	// in the ledger; marketing never started.
	exps, err := stack.db.ListExperiencesByCycle(rec.ID)
	if err != nil {
		t.Fatalf("ListExperiencesByCycle() error = %v", err)
	}
	created := experiencesOf(exps, models.ActionProductCreate)
	if len(created) != 1 || !created[0].Success {
		t.Errorf("product_create experiences = %+v, want 1 successful", created)
	}
	published := experiencesOf(exps, models.ActionStorePublish)
	if len(published) != 1 || published[0].Success {
		t.Errorf("store_publish experiences = %+v, want 1 unsuccessful", published)
	}
	if n := len(experiencesOf(exps, models.ActionAdLaunch)); n != 0 {
		t.Errorf("ad_launch experiences = %d, want 0", n)
	}
	if n := len(experiencesOf(exps, models.ActionSocialPost)); n != 0 {
		t.Errorf("social_post experiences = %d, want 0", n)
	}

	evs, err := stack.db.ListEventsByCycle(rec.ID)
	if err != nil {
		t.Fatalf("ListEventsByCycle() error = %v", err)
	}
	if got := len(eventsOfType(evs, "cycle.cancelled")); got != 1 {
		t.Errorf("cycle.cancelled events = %d, want 1", got)
	}

	stored, err := stack.db.GetCycle(rec.ID)
	if err != nil {
		t.Fatalf("GetCycle() error = %v", err)
	}
	if stored.Status != models.CycleStatusCancelled {
		t.Errorf("persisted status = %s, want %s", stored.Status, models.CycleStatusCancelled)
	}
}

func TestOverrideForcesStrategy(t *testing.T) {
	stack := newTestStack(t, simRegistry(t, 0))
	tenant := orchTenant("t-override")
	override := &models.Strategy{
		Name:     "hand picked",
		Kind:     models.KindEbook,
		Niche:    "fitness",
		Price:    12,
		AdBudget: 5,
	}

	rec, err := stack.runner.RunCycle(context.Background(), tenant, override)
	if err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}
	if rec.Status != models.CycleStatusCompleted {
		t.Fatalf("Status = %s, want %s", rec.Status, models.CycleStatusCompleted)
	}
	if rec.Mode != models.ModeOverride {
		t.Errorf("Mode = %s, want %s", rec.Mode, models.ModeOverride)
	}
	if rec.Strategy != "hand picked" {
		t.Errorf("Strategy = %q, want %q", rec.Strategy, "hand picked")
	}

	evs, err := stack.db.ListEventsByCycle(rec.ID)
	if err != nil {
		t.Fatalf("ListEventsByCycle() error = %v", err)
	}
	if got := len(eventsOfType(evs, "decision.override")); got != 1 {
		t.Errorf("decision.override events = %d, want 1", got)
	}
	if got := len(eventsOfType(evs, "decision.made")); got != 0 {
		t.Errorf("decision.made events = %d, want 0", got)
	}
}

func TestFailedCycleRecordsError(t *testing.T) {
	// No content adapter: the creation dispatch is a configuration failure,
	// not a degraded task.
	sim := channels.NewSimulator(channels.SimOptions{Seed: 7})
	registry := channels.NewRegistry()
	registry.RegisterCommerce(sim)
	registry.RegisterAds(sim)
	registry.RegisterSocial(sim)

	stack := newTestStack(t, registry)
	tenant := orchTenant("t-broken")

	rec, err := stack.runner.RunCycle(context.Background(), tenant, nil)
	if err == nil {
		t.Fatal("RunCycle() with no content adapter returned no error")
	}
	if rec.Status != models.CycleStatusFailed {
		t.Fatalf("Status = %s, want %s", rec.Status, models.CycleStatusFailed)
	}
	if rec.Phase != models.PhaseFailed {
		t.Errorf("Phase = %s, want %s", rec.Phase, models.PhaseFailed)
	}
	if rec.Error == "" {
		t.Error("failed cycle has no error message")
	}

	evs, err := stack.db.ListEventsByCycle(rec.ID)
	if err != nil {
		t.Fatalf("ListEventsByCycle() error = %v", err)
	}
	if got := len(eventsOfType(evs, "cycle.failed")); got != 1 {
		t.Errorf("cycle.failed events = %d, want 1", got)
	}
}

func TestProductLinePlanning(t *testing.T) {
	s1 := models.Strategy{Name: "a", Kind: models.KindEbook}
	s2 := models.Strategy{Name: "b", Kind: models.KindCourse}
	s3 := models.Strategy{Name: "c", Kind: models.KindTemplate}
	newProduct := &models.ReinvestmentDirective{Action: models.DirectiveNewProduct}

	tests := []struct {
		name      string
		fanOut    bool
		limit     int
		directive *models.ReinvestmentDirective
		want      []string
	}{
		{name: "single line without fan out", limit: 3, want: []string{"a"}},
		{name: "fan out fills the plan limit", fanOut: true, limit: 2, want: []string{"a", "b"}},
		{name: "fan out skips the chosen strategy", fanOut: true, limit: 4, want: []string{"a", "b", "c"}},
		{name: "fresh directive adds one extra line", limit: 3, directive: newProduct, want: []string{"a", "b"}},
		{name: "directive respects the plan ceiling", limit: 1, directive: newProduct, want: []string{"a"}},
		{name: "fan out leaves no room for the directive", fanOut: true, limit: 2, directive: newProduct, want: []string{"a", "b"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			run := &cycleRun{
				tenant:    &models.Tenant{ID: "t-plan"},
				policy:    models.TenantPolicy{FanOutAll: tc.fanOut},
				limits:    models.PlanLimits{MaxProductsPerCycle: tc.limit},
				directive: tc.directive,
				decision: &strategy.Decision{
					Strategy:   s1,
					Candidates: []strategy.Candidate{{Strategy: s1}, {Strategy: s2}, {Strategy: s3}},
				},
			}
			var got []string
			for _, s := range run.productStrategies() {
				got = append(got, s.Name)
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("productStrategies() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestSchedulerRunsOnCadence(t *testing.T) {
	stack := newTestStack(t, simRegistry(t, 0))
	tenant := orchTenant("t-cadence")
	tenant.Policy.CycleInterval = 50 * time.Millisecond
	if err := stack.db.SaveTenant(tenant); err != nil {
		t.Fatalf("SaveTenant() error = %v", err)
	}

	sched := NewScheduler(stack.db, stack.runner, stack.bus, metrics.NewMetrics(), config.SchedulerConfig{
		Interval:       time.Minute,
		MaxConcurrent:  2,
		LeaseTTL:       time.Second,
		FailureBackoff: 100 * time.Millisecond,
		BackoffCap:     time.Second,
	})
	if err := sched.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		cycles, err := stack.db.ListCycles(tenant.ID, 10)
		if err != nil {
			t.Fatalf("ListCycles() error = %v", err)
		}
		if len(cycles) >= 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("wanted 2 cycles on a 50ms cadence, got %d", len(cycles))
		}
		time.Sleep(10 * time.Millisecond)
	}
	sched.Stop()

	cycles, err := stack.db.ListCycles(tenant.ID, 10)
	if err != nil {
		t.Fatalf("ListCycles() error = %v", err)
	}
	completed := 0
	for _, c := range cycles {
		switch c.Status {
		case models.CycleStatusCompleted:
			completed++
		case models.CycleStatusCancelled:
			// Stop may cut the last cycle short.
		default:
			t.Errorf("cycle %s finished %s (error %q)", c.ID, c.Status, c.Error)
		}
	}
	if completed < 2 {
		t.Errorf("completed cycles = %d, want at least 2", completed)
	}
}

func TestSchedulerReportsConflict(t *testing.T) {
	stack := newTestStack(t, simRegistry(t, 0))
	tenant := orchTenant("t-conflict")
	if err := stack.db.SaveTenant(tenant); err != nil {
		t.Fatalf("SaveTenant() error = %v", err)
	}

	acquired, _, err := stack.db.AcquireCycleLease(tenant.ID, "rival-holder", time.Hour)
	if err != nil || !acquired {
		t.Fatalf("AcquireCycleLease() = %v, %v, want acquired", acquired, err)
	}

	sched := NewScheduler(stack.db, stack.runner, stack.bus, metrics.NewMetrics(), config.SchedulerConfig{})
	_, err = sched.TriggerCycle(context.Background(), tenant.ID, nil)
	if !errors.Is(err, ErrCycleRunning) {
		t.Fatalf("TriggerCycle() error = %v, want ErrCycleRunning", err)
	}

	cycles, err := stack.db.ListCycles(tenant.ID, 10)
	if err != nil {
		t.Fatalf("ListCycles() error = %v", err)
	}
	if len(cycles) != 0 {
		t.Errorf("cycles started despite held lease: %d", len(cycles))
	}

	evs, err := stack.db.ListEvents(tenant.ID, 10)
	if err != nil {
		t.Fatalf("ListEvents() error = %v", err)
	}
	conflicts := eventsOfType(evs, "cycle.conflict")
	if len(conflicts) != 1 {
		t.Fatalf("cycle.conflict events = %d, want 1", len(conflicts))
	}
	if !strings.Contains(conflicts[0].Payload, "rival-holder") {
		t.Errorf("conflict payload %q does not name the holder", conflicts[0].Payload)
	}
}

func TestSchedulerSingleFlight(t *testing.T) {
	gate := make(chan struct{})
	started := make(chan struct{}, 4)
	sim := channels.NewSimulator(channels.SimOptions{Seed: 7})
	registry := channels.NewRegistry()
	registry.RegisterCommerce(sim)
	registry.RegisterAds(sim)
	registry.RegisterSocial(sim)
	registry.RegisterContent(contentFunc(func(ctx context.Context, req channels.GenerateRequest) (*channels.Product, error) {
		select {
		case started <- struct{}{}:
		default:
		}
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return &channels.Product{
			ID:    "p-gate",
			Title: "Gated Guide",
			Price: 19,
			Kind:  req.Kind,
			Niche: req.Niche,
		}, nil
	}))

	stack := newTestStack(t, registry)
	tenant := orchTenant("t-flight")
	if err := stack.db.SaveTenant(tenant); err != nil {
		t.Fatalf("SaveTenant() error = %v", err)
	}

	cfg := config.SchedulerConfig{LeaseTTL: time.Minute}
	schedA := NewScheduler(stack.db, stack.runner, stack.bus, metrics.NewMetrics(), cfg)
	schedB := NewScheduler(stack.db, stack.runner, stack.bus, metrics.NewMetrics(), cfg)
	if schedA.Holder() == schedB.Holder() {
		t.Fatalf("schedulers share holder identity %q", schedA.Holder())
	}

	type result struct {
		rec *models.CycleRecord
		err error
	}
	done := make(chan result, 1)
	go func() {
		rec, err := schedA.TriggerCycle(context.Background(), tenant.ID, nil)
		done <- result{rec, err}
	}()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("first cycle never reached the content channel")
	}

	if _, err := schedB.TriggerCycle(context.Background(), tenant.ID, nil); !errors.Is(err, ErrCycleRunning) {
		t.Fatalf("concurrent TriggerCycle() error = %v, want ErrCycleRunning", err)
	}

	close(gate)
	var res result
	select {
	case res = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("first cycle did not finish after release")
	}
	if res.err != nil {
		t.Fatalf("first TriggerCycle() error = %v", res.err)
	}
	if res.rec.Status != models.CycleStatusCompleted {
		t.Fatalf("first cycle status = %s, want %s", res.rec.Status, models.CycleStatusCompleted)
	}

	rec, err := schedB.TriggerCycle(context.Background(), tenant.ID, nil)
	if err != nil {
		t.Fatalf("TriggerCycle() after release error = %v", err)
	}
	if rec.Status != models.CycleStatusCompleted {
		t.Errorf("second cycle status = %s, want %s", rec.Status, models.CycleStatusCompleted)
	}
}

func TestManualRunBypassesAutopilotGate(t *testing.T) {
	stack := newTestStack(t, simRegistry(t, 0))
	tenant := orchTenant("t-manual")
	tenant.AutopilotEnabled = false
	if err := stack.db.SaveTenant(tenant); err != nil {
		t.Fatalf("SaveTenant() error = %v", err)
	}

	sched := NewScheduler(stack.db, stack.runner, stack.bus, metrics.NewMetrics(), config.SchedulerConfig{})

	rec, err := sched.runOnce(context.Background(), tenant.ID, nil, false)
	if err != nil || rec != nil {
		t.Fatalf("tick runOnce() = %v, %v, want nil, nil for autopilot off", rec, err)
	}
	cycles, err := stack.db.ListCycles(tenant.ID, 10)
	if err != nil {
		t.Fatalf("ListCycles() error = %v", err)
	}
	if len(cycles) != 0 {
		t.Fatalf("tick started a cycle with autopilot off")
	}

	rec, err = sched.TriggerCycle(context.Background(), tenant.ID, nil)
	if err != nil {
		t.Fatalf("manual TriggerCycle() error = %v", err)
	}
	if rec.Status != models.CycleStatusCompleted {
		t.Errorf("manual cycle status = %s, want %s", rec.Status, models.CycleStatusCompleted)
	}

	archived := orchTenant("t-archived")
	archived.Status = models.TenantStatusArchived
	if err := stack.db.SaveTenant(archived); err != nil {
		t.Fatalf("SaveTenant() error = %v", err)
	}
	if _, err := sched.TriggerCycle(context.Background(), archived.ID, nil); err == nil {
		t.Fatal("TriggerCycle() on an archived tenant returned no error")
	}
}

func TestSchedulerBacksOffAfterFailures(t *testing.T) {
	// Content adapter missing: every cycle fails fast.
	sim := channels.NewSimulator(channels.SimOptions{Seed: 7})
	registry := channels.NewRegistry()
	registry.RegisterCommerce(sim)
	registry.RegisterAds(sim)
	registry.RegisterSocial(sim)

	stack := newTestStack(t, registry)
	tenant := orchTenant("t-backoff")
	if err := stack.db.SaveTenant(tenant); err != nil {
		t.Fatalf("SaveTenant() error = %v", err)
	}

	sched := NewScheduler(stack.db, stack.runner, stack.bus, metrics.NewMetrics(), config.SchedulerConfig{
		Interval:       25 * time.Millisecond,
		LeaseTTL:       time.Second,
		FailureBackoff: 200 * time.Millisecond,
		BackoffCap:     time.Second,
	})
	if err := sched.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	time.Sleep(750 * time.Millisecond)
	sched.Stop()

	cycles, err := stack.db.ListCycles(tenant.ID, 50)
	if err != nil {
		t.Fatalf("ListCycles() error = %v", err)
	}
	// On a 25ms cadence 750ms would fit ~30 attempts; the doubling backoff
	// (200, 400, 800ms) keeps it to a handful.
	if len(cycles) < 2 || len(cycles) > 5 {
		t.Errorf("failed cycles in 750ms = %d, want 2..5 with backoff", len(cycles))
	}
	failedCount := 0
	for _, c := range cycles {
		switch c.Status {
		case models.CycleStatusFailed:
			failedCount++
		case models.CycleStatusCancelled:
			// Stop may intersect an attempt.
		default:
			t.Errorf("cycle %s status = %s with no content adapter", c.ID, c.Status)
		}
	}
	if failedCount < 2 {
		t.Errorf("failed cycles = %d, want at least 2", failedCount)
	}
}

func TestBackoffDelayDoubles(t *testing.T) {
	tests := []struct {
		base     time.Duration
		limit    time.Duration
		failures int
		want     time.Duration
	}{
		{time.Minute, 4 * time.Hour, 1, time.Minute},
		{time.Minute, 4 * time.Hour, 2, 2 * time.Minute},
		{time.Minute, 4 * time.Hour, 3, 4 * time.Minute},
		{time.Minute, 4 * time.Hour, 10, 4 * time.Hour},
		{time.Minute, 30 * time.Second, 1, 30 * time.Second},
		{time.Minute, 30 * time.Second, 5, 30 * time.Second},
	}
	for _, tc := range tests {
		t.Run(fmt.Sprintf("%dx%s", tc.failures, tc.base), func(t *testing.T) {
			if got := backoffDelay(tc.base, tc.limit, tc.failures); got != tc.want {
				t.Errorf("backoffDelay(%s, %s, %d) = %s, want %s", tc.base, tc.limit, tc.failures, got, tc.want)
			}
		})
	}
}
