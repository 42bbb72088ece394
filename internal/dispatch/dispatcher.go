package dispatch

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/jordanhubbard/venture/internal/channels"
	"github.com/jordanhubbard/venture/internal/eventbus"
	"github.com/jordanhubbard/venture/internal/metrics"
	"github.com/jordanhubbard/venture/pkg/models"
)

// Options bounds dispatcher behavior. Zero values fall back to defaults.
type Options struct {
	Workers     int           // max concurrent channel calls across all tenants
	TaskTimeout time.Duration // per-attempt timeout
	MaxAttempts int           // attempts per task; only transient failures retry
	RetryBase   time.Duration // first backoff delay
	RetryMax    time.Duration // backoff cap
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 8
	}
	if o.TaskTimeout <= 0 {
		o.TaskTimeout = 30 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.RetryBase <= 0 {
		o.RetryBase = 500 * time.Millisecond
	}
	if o.RetryMax <= 0 {
		o.RetryMax = 10 * time.Second
	}
	return o
}

// Dispatcher fans a cycle's tasks out to channel adapters. Tasks are fully
// isolated from each other: one task's failure or slowness never aborts a
// sibling. The shared worker slots bound concurrent adapter calls across
// every tenant in the process.
type Dispatcher struct {
	registry *channels.Registry
	bus      *eventbus.EventBus
	metrics  *metrics.Metrics
	opts     Options
	slots    chan struct{}
}

// New creates a dispatcher over the channel registry.
func New(registry *channels.Registry, bus *eventbus.EventBus, m *metrics.Metrics, opts Options) *Dispatcher {
	opts = opts.withDefaults()
	return &Dispatcher{
		registry: registry,
		bus:      bus,
		metrics:  m,
		opts:     opts,
		slots:    make(chan struct{}, opts.Workers),
	}
}

// Dispatch runs every task concurrently under ctx, which carries the cycle
// deadline, and returns one settled outcome per task in input order. Tasks
// still pending when ctx expires settle degraded rather than blocking the
// cycle. The only error returned is systemic: a task names a channel with
// no registered implementation.
func (d *Dispatcher) Dispatch(ctx context.Context, tasks []Task) ([]Outcome, error) {
	if err := d.checkChannels(tasks); err != nil {
		return nil, err
	}

	outcomes := make([]Outcome, len(tasks))
	var wg sync.WaitGroup
	for i := range tasks {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i] = d.run(ctx, tasks[i])
		}(i)
	}
	wg.Wait()
	return outcomes, nil
}

// checkChannels verifies every task's channel has an implementation before
// any work starts. A missing channel is a configuration failure for the
// whole cycle, not a per-task outcome.
func (d *Dispatcher) checkChannels(tasks []Task) error {
	for _, t := range tasks {
		var err error
		switch t.Kind {
		case TaskGenerate:
			_, err = d.registry.Content()
		case TaskPublish:
			_, err = d.registry.Commerce()
		case TaskLaunch:
			_, err = d.registry.Ads()
		case TaskSchedule:
			_, err = d.registry.Social()
		default:
			err = fmt.Errorf("unknown task kind %q", t.Kind)
		}
		if err != nil {
			return fmt.Errorf("task %s: %w", t.ID, err)
		}
	}
	return nil
}

func (d *Dispatcher) run(ctx context.Context, t Task) Outcome {
	out := Outcome{
		OutcomeID: OutcomeID(t.TenantID, t.CycleID, t.ID),
		TaskID:    t.ID,
		TenantID:  t.TenantID,
		CycleID:   t.CycleID,
		Channel:   t.Channel,
		Kind:      t.Kind,
		StartedAt: time.Now(),
	}

	// Wait for a worker slot; a cycle deadline hit while queued degrades
	// the task instead of blocking.
	select {
	case d.slots <- struct{}{}:
		defer func() { <-d.slots }()
	case <-ctx.Done():
		return d.settle(out, ResultDegraded, nil, ctx.Err())
	}

	if !t.NotBefore.IsZero() {
		if wait := time.Until(t.NotBefore); wait > 0 {
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return d.settle(out, ResultDegraded, nil, ctx.Err())
			}
		}
	}

	d.metrics.TasksDispatched.WithLabelValues(t.TenantID, string(t.Channel)).Inc()
	d.bus.PublishTaskEvent(eventbus.EventTypeTaskDispatched, t.TenantID, t.CycleID, string(t.Channel), map[string]interface{}{
		"task_id": t.ID,
		"kind":    string(t.Kind),
	})

	backoff := d.opts.RetryBase
	var lastErr error
	for attempt := 1; attempt <= d.opts.MaxAttempts; attempt++ {
		out.Attempts = attempt

		attemptStart := time.Now()
		attemptCtx, cancel := context.WithTimeout(ctx, d.opts.TaskTimeout)
		payload, revenue, cost, err := d.execute(attemptCtx, t)
		cancel()
		d.metrics.RecordTaskAttempt(string(t.Channel), err == nil, time.Since(attemptStart).Seconds())

		if err == nil {
			out.Revenue = revenue
			out.Cost = cost
			return d.settle(out, ResultSucceeded, payload, nil)
		}
		lastErr = err

		// The cycle deadline or an operator cancel ends the series here.
		if ctx.Err() != nil {
			return d.settle(out, ResultDegraded, nil, lastErr)
		}
		if models.IsPermanent(err) {
			return d.settle(out, ResultFailed, nil, lastErr)
		}
		if attempt == d.opts.MaxAttempts {
			break
		}

		log.Printf("[Dispatcher] Task %s attempt %d/%d on %s failed: %v, retrying in %v",
			t.ID, attempt, d.opts.MaxAttempts, t.Channel, err, backoff)
		d.metrics.TaskRetries.WithLabelValues(t.TenantID, string(t.Channel)).Inc()
		d.bus.PublishTaskEvent(eventbus.EventTypeTaskRetried, t.TenantID, t.CycleID, string(t.Channel), map[string]interface{}{
			"task_id": t.ID,
			"attempt": attempt,
			"error":   err.Error(),
		})

		select {
		case <-ctx.Done():
			return d.settle(out, ResultDegraded, nil, lastErr)
		case <-time.After(jittered(backoff)):
		}
		if backoff < d.opts.RetryMax {
			backoff *= 2
		}
	}

	// Transient failures all the way through: the task degrades, the cycle
	// goes on.
	return d.settle(out, ResultDegraded, nil, fmt.Errorf("retries exhausted: %w", lastErr))
}

func (d *Dispatcher) settle(out Outcome, result Result, payload map[string]interface{}, err error) Outcome {
	out.Result = result
	out.Payload = payload
	out.FinishedAt = time.Now()
	if err != nil {
		out.Error = err.Error()
	}

	d.metrics.TaskOutcomes.WithLabelValues(out.TenantID, string(out.Channel), string(result)).Inc()
	eventType := eventbus.EventTypeTaskCompleted
	if result != ResultSucceeded {
		eventType = eventbus.EventTypeTaskFailed
	}
	d.bus.PublishTaskEvent(eventType, out.TenantID, out.CycleID, string(out.Channel), map[string]interface{}{
		"task_id":    out.TaskID,
		"outcome_id": out.OutcomeID,
		"result":     string(result),
		"attempts":   out.Attempts,
		"revenue":    out.Revenue,
	})

	if result != ResultSucceeded {
		log.Printf("[Dispatcher] Task %s on %s settled %s after %d attempts: %s",
			out.TaskID, out.Channel, result, out.Attempts, out.Error)
	}
	return out
}

// execute performs one attempt of the task's operation.
func (d *Dispatcher) execute(ctx context.Context, t Task) (map[string]interface{}, float64, float64, error) {
	switch t.Kind {
	case TaskGenerate:
		gen, err := d.registry.Content()
		if err != nil {
			return nil, 0, 0, &models.PermanentAdapterError{Channel: t.Channel, Err: err}
		}
		if t.Generate == nil {
			return nil, 0, 0, &models.PermanentAdapterError{Channel: t.Channel, Err: fmt.Errorf("missing generate request")}
		}
		product, err := gen.Generate(ctx, *t.Generate)
		if err != nil {
			return nil, 0, 0, err
		}
		return map[string]interface{}{
			"product_id": product.ID,
			"title":      product.Title,
			"price":      product.Price,
			"kind":       string(product.Kind),
		}, 0, 0, nil

	case TaskPublish:
		pub, err := d.registry.Commerce()
		if err != nil {
			return nil, 0, 0, &models.PermanentAdapterError{Channel: t.Channel, Err: err}
		}
		if t.Publish == nil {
			return nil, 0, 0, &models.PermanentAdapterError{Channel: t.Channel, Err: fmt.Errorf("missing product")}
		}
		listing, err := pub.Publish(ctx, *t.Publish)
		if err != nil {
			return nil, 0, 0, err
		}
		return map[string]interface{}{
			"listing_id": listing.ListingID,
			"url":        listing.URL,
			"units":      listing.Units,
		}, listing.Revenue, 0, nil

	case TaskLaunch:
		ads, err := d.registry.Ads()
		if err != nil {
			return nil, 0, 0, &models.PermanentAdapterError{Channel: t.Channel, Err: err}
		}
		if t.Launch == nil {
			return nil, 0, 0, &models.PermanentAdapterError{Channel: t.Channel, Err: fmt.Errorf("missing launch request")}
		}
		campaign, err := ads.Launch(ctx, *t.Launch)
		if err != nil {
			return nil, 0, 0, err
		}
		return map[string]interface{}{
			"campaign_id": campaign.CampaignID,
			"status":      campaign.Status,
			"spend":       campaign.Spend,
		}, campaign.AttributedRevenue, campaign.Spend, nil

	case TaskSchedule:
		social, err := d.registry.Social()
		if err != nil {
			return nil, 0, 0, &models.PermanentAdapterError{Channel: t.Channel, Err: err}
		}
		if t.Schedule == nil {
			return nil, 0, 0, &models.PermanentAdapterError{Channel: t.Channel, Err: fmt.Errorf("missing schedule request")}
		}
		post, err := social.Schedule(ctx, *t.Schedule)
		if err != nil {
			return nil, 0, 0, err
		}
		return map[string]interface{}{
			"post_id": post.PostID,
			"status":  post.Status,
			"reach":   post.Reach,
		}, 0, 0, nil

	default:
		return nil, 0, 0, &models.PermanentAdapterError{Channel: t.Channel, Err: fmt.Errorf("unknown task kind %q", t.Kind)}
	}
}

// jittered spreads a delay by ±25% so synchronized retries fan out.
func jittered(delay time.Duration) time.Duration {
	if half := int64(delay / 2); half > 0 {
		return delay - delay/4 + time.Duration(rand.Int63n(half))
	}
	return delay
}
