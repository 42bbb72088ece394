package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/jordanhubbard/venture/internal/database"
	"github.com/jordanhubbard/venture/internal/dispatch"
	"github.com/jordanhubbard/venture/internal/metrics"
	"github.com/jordanhubbard/venture/internal/strategy"
	"github.com/jordanhubbard/venture/pkg/models"
)

// Collector absorbs settled task outcomes into the ledgers and the
// strategy cache. The database settlement is atomic and gated on the
// outcome id, so redelivered outcomes replay as no-ops; the cache folds
// only after the ledger write, keeping the ledger the source of truth.
type Collector struct {
	db      *database.Database
	cache   *strategy.Cache
	metrics *metrics.Metrics
}

// New creates a collector over the database and strategy cache.
func New(db *database.Database, cache *strategy.Cache, m *metrics.Metrics) *Collector {
	return &Collector{db: db, cache: cache, metrics: m}
}

// SettleOutcome writes one task outcome's experience, audit event, and
// optional profit entry, then folds the observation into the strategy
// aggregates. Returns false when the outcome id was already settled.
func (c *Collector) SettleOutcome(ctx context.Context, strat models.Strategy, mode models.DecisionMode, out *dispatch.Outcome) (bool, error) {
	if out == nil {
		return false, fmt.Errorf("settlement requires an outcome")
	}

	key := models.ScopeKey{
		TenantID: out.TenantID,
		Niche:    strat.Niche,
		Channel:  out.Channel,
		Kind:     strat.Kind,
	}

	settlement := &database.Settlement{
		OutcomeID:  out.OutcomeID,
		TenantID:   out.TenantID,
		CycleID:    out.CycleID,
		Channel:    string(out.Channel),
		Status:     string(out.Result),
		Experience: buildExperience(key, strat, mode, out),
		Event:      buildEvent(out),
		Profit:     buildProfit(out),
	}

	settled, err := c.db.SettleTaskOutcome(settlement)
	if err != nil {
		return false, fmt.Errorf("failed to settle outcome %s: %w", out.OutcomeID, err)
	}
	if !settled {
		log.Printf("[Collector] Outcome %s already settled, skipping", out.OutcomeID)
		return false, nil
	}

	if settlement.Profit != nil {
		c.metrics.ProfitEntries.WithLabelValues(out.TenantID, string(settlement.Profit.Category)).Inc()
	}
	if out.Revenue > 0 {
		c.metrics.RevenueTotal.WithLabelValues(out.TenantID, string(out.Channel)).Add(out.Revenue)
	}

	// The experience row is durable; a failed fold here only means the
	// fast-path aggregate lags until the next rebuild.
	profit := out.Revenue - out.Cost
	at := out.FinishedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	if _, err := c.cache.RecordOutcome(ctx, key, strat.Name, out.Succeeded(), profit, at); err != nil {
		log.Printf("[Collector] Failed to fold outcome %s into strategy stats: %v", out.OutcomeID, err)
	}
	globalKey := models.ScopeKey{Niche: strat.Niche, Channel: out.Channel, Kind: strat.Kind, Global: true}
	if _, err := c.cache.RecordOutcome(ctx, globalKey, strat.Name, out.Succeeded(), profit, at); err != nil {
		log.Printf("[Collector] Failed to fold outcome %s into global stats: %v", out.OutcomeID, err)
	}

	if err := c.recordPattern(key, strat, out, at); err != nil {
		log.Printf("[Collector] Failed to fold outcome %s into success patterns: %v", out.OutcomeID, err)
	}

	return true, nil
}

// recordPattern folds the outcome into the pattern aggregate for its scope,
// storing the attempted shape so later decisions can compare against it.
func (c *Collector) recordPattern(key models.ScopeKey, strat models.Strategy, out *dispatch.Outcome, at time.Time) error {
	shape, err := strategy.EncodePatternShape(strategy.PatternShape{
		Niche:    strat.Niche,
		Price:    strat.Price,
		Keywords: strat.Keywords,
	})
	if err != nil {
		return err
	}

	pattern := &models.SuccessPattern{
		PatternType: "strategy",
		PatternKey:  key.String(),
		TenantID:    key.TenantID,
		PatternData: shape,
	}
	return c.db.UpsertSuccessPattern(pattern, out.Succeeded(), out.Revenue-out.Cost, at)
}

func buildExperience(key models.ScopeKey, strat models.Strategy, mode models.DecisionMode, out *dispatch.Outcome) *models.Experience {
	contextJSON, _ := json.Marshal(map[string]interface{}{
		"strategy":  strat.Name,
		"kind":      strat.Kind,
		"niche":     strat.Niche,
		"price":     strat.Price,
		"ad_budget": strat.AdBudget,
		"task_id":   out.TaskID,
		"channel":   out.Channel,
	})

	resultJSON, _ := json.Marshal(out.Payload)

	var lessons []string
	if !out.Succeeded() && out.Error != "" {
		lessons = append(lessons, fmt.Sprintf("%s %s failed after %d attempts: %s", out.Channel, out.Kind, out.Attempts, out.Error))
	}

	// The ledger stores the net so that replaying it reproduces the same
	// aggregate the incremental fold builds.
	return &models.Experience{
		TenantID:         out.TenantID,
		CycleID:          out.CycleID,
		ActionType:       actionFor(out.Kind),
		ScopeKey:         key.String(),
		Context:          string(contextJSON),
		Result:           string(resultJSON),
		Success:          out.Succeeded(),
		RevenueGenerated: out.Revenue - out.Cost,
		LessonsLearned:   lessons,
		Mode:             mode,
		CreatedAt:        out.FinishedAt,
	}
}

func buildEvent(out *dispatch.Outcome) *models.AIEvent {
	eventType := "task.completed"
	if !out.Succeeded() {
		eventType = "task.failed"
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"outcome_id": out.OutcomeID,
		"task_id":    out.TaskID,
		"channel":    out.Channel,
		"kind":       out.Kind,
		"result":     out.Result,
		"attempts":   out.Attempts,
		"revenue":    out.Revenue,
		"cost":       out.Cost,
		"error":      out.Error,
	})

	return &models.AIEvent{
		TenantID:      out.TenantID,
		CycleID:       out.CycleID,
		EventType:     eventType,
		Payload:       string(payload),
		Success:       out.Succeeded(),
		RevenueImpact: out.Revenue - out.Cost,
		CreatedAt:     out.FinishedAt,
	}
}

// buildProfit maps money movement to at most one ledger entry. Pure revenue
// and pure cost keep their category; a task that both earned and spent
// records the net under the profit category.
func buildProfit(out *dispatch.Outcome) *models.ProfitLog {
	if out.Revenue == 0 && out.Cost == 0 {
		return nil
	}

	entry := &models.ProfitLog{
		TenantID:   out.TenantID,
		Source:     string(out.Channel),
		OutcomeID:  out.OutcomeID,
		RecordedAt: out.FinishedAt,
	}
	switch {
	case out.Cost == 0:
		entry.Amount = out.Revenue
		entry.Category = models.ProfitRevenue
	case out.Revenue == 0:
		entry.Amount = out.Cost
		entry.Category = models.ProfitCost
	default:
		entry.Amount = out.Revenue - out.Cost
		entry.Category = models.ProfitNet
	}
	return entry
}

func actionFor(kind dispatch.TaskKind) models.ActionType {
	switch kind {
	case dispatch.TaskGenerate:
		return models.ActionProductCreate
	case dispatch.TaskPublish:
		return models.ActionStorePublish
	case dispatch.TaskLaunch:
		return models.ActionAdLaunch
	case dispatch.TaskSchedule:
		return models.ActionSocialPost
	}
	return models.ActionType(string(kind))
}
