package reinvest

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/jordanhubbard/venture/internal/database"
	"github.com/jordanhubbard/venture/internal/metrics"
	"github.com/jordanhubbard/venture/pkg/models"
)

// Policy turns realized profit into reinvestment directives. Each directive
// records the profit-ledger watermark it was derived from; a window that
// has not advanced past the previous watermark never produces another one.
type Policy struct {
	db      *database.Database
	metrics *metrics.Metrics
}

// New creates a reinvestment policy over the database.
func New(db *database.Database, m *metrics.Metrics) *Policy {
	return &Policy{db: db, metrics: m}
}

// Evaluate sums the tenant's trailing profit window and issues at most one
// directive. Returns nil when the window is below the threshold or the
// ledger has not moved since the last directive.
func (p *Policy) Evaluate(ctx context.Context, tenant *models.Tenant, cycleID string, mode models.DecisionMode, now time.Time) (*models.ReinvestmentDirective, error) {
	if tenant == nil {
		return nil, fmt.Errorf("reinvestment requires a tenant")
	}
	policy := tenant.Policy.Normalize()

	start := now.AddDate(0, 0, -policy.WindowDays)
	net, watermark, err := p.db.WindowProfit(tenant.ID, start, now)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate profit window: %w", err)
	}
	if net < policy.ReinvestThreshold || watermark == 0 {
		return nil, nil
	}

	last, err := p.db.LatestDirective(tenant.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load last directive: %w", err)
	}
	if last != nil && last.Watermark >= watermark {
		log.Printf("[Reinvest] Tenant %s: window watermark %d already evaluated", tenant.ID, watermark)
		return nil, nil
	}

	bySource, err := p.db.WindowProfitBySource(tenant.ID, start, now)
	if err != nil {
		return nil, fmt.Errorf("failed to break down profit window: %w", err)
	}
	best := bestChannel(bySource)

	amount := net * policy.ReinvestRate
	if amount > policy.MaxTestBudget {
		amount = policy.MaxTestBudget
	}

	// A surplus of at least twice the threshold on a multi-product plan
	// funds a new product line; otherwise scale what already works.
	action := models.DirectiveRaiseBudget
	if tenant.Plan.Limits().MaxProductsPerCycle > 1 && net >= 2*policy.ReinvestThreshold {
		action = models.DirectiveNewProduct
	}

	dir := &models.ReinvestmentDirective{
		TenantID:    tenant.ID,
		CycleID:     cycleID,
		Action:      action,
		Channel:     best,
		Fraction:    policy.ReinvestRate,
		Amount:      amount,
		WindowStart: start,
		WindowEnd:   now,
		Watermark:   watermark,
		CreatedAt:   now,
	}
	if err := p.db.InsertDirective(dir); err != nil {
		return nil, err
	}

	p.record(dir, net, mode)
	p.metrics.DirectivesIssued.WithLabelValues(tenant.ID, string(action)).Inc()
	log.Printf("[Reinvest] Tenant %s: %s %.2f toward %s (window net %.2f over %d days)",
		tenant.ID, action, amount, best, net, policy.WindowDays)
	return dir, nil
}

// record appends the ledger entry and audit event behind a directive.
// Failures here are logged, not fatal: the directive row itself is the
// at-most-once anchor.
func (p *Policy) record(dir *models.ReinvestmentDirective, net float64, mode models.DecisionMode) {
	payload, _ := json.Marshal(map[string]interface{}{
		"directive_id": dir.ID,
		"action":       dir.Action,
		"channel":      dir.Channel,
		"amount":       dir.Amount,
		"fraction":     dir.Fraction,
		"window_net":   net,
		"watermark":    dir.Watermark,
	})

	exp := &models.Experience{
		TenantID:   dir.TenantID,
		CycleID:    dir.CycleID,
		ActionType: models.ActionReinvest,
		Context:    string(payload),
		Success:    true,
		Mode:       mode,
		CreatedAt:  dir.CreatedAt,
	}
	if err := p.db.AppendExperience(exp); err != nil {
		log.Printf("[Reinvest] Failed to append directive experience: %v", err)
	}

	ev := &models.AIEvent{
		TenantID:  dir.TenantID,
		CycleID:   dir.CycleID,
		EventType: "reinvest.directive",
		Payload:   string(payload),
		Success:   true,
		CreatedAt: dir.CreatedAt,
	}
	if err := p.db.AppendEvent(ev); err != nil {
		log.Printf("[Reinvest] Failed to append directive event: %v", err)
	}
}

// bestChannel returns the source with the highest net contribution.
func bestChannel(bySource map[string]float64) models.Channel {
	var best models.Channel
	bestNet := 0.0
	for source, net := range bySource {
		if best == "" || net > bestNet {
			best = models.Channel(source)
			bestNet = net
		}
	}
	return best
}
