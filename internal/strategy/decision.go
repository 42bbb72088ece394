package strategy

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jordanhubbard/venture/internal/metrics"
	"github.com/jordanhubbard/venture/pkg/config"
	"github.com/jordanhubbard/venture/pkg/models"
)

// defaultPrior is the assumed success rate for scopes with no global
// history at all.
const defaultPrior = 0.5

// Input carries everything one decision may consider. The tenant snapshot
// is taken once at cycle start and never re-read mid-decision.
type Input struct {
	Tenant    *models.Tenant
	Channels  []models.Channel
	Directive *models.ReinvestmentDirective
	Override  *models.Strategy
	Patterns  []*models.SuccessPattern
	Now       time.Time
}

// Candidate is one ranked option with its scoring breakdown.
type Candidate struct {
	Strategy     models.Strategy `json:"strategy"`
	Key          models.ScopeKey `json:"key"`
	EV           float64         `json:"ev"`
	ShrunkRate   float64         `json:"shrunk_rate"`
	PatternScore float64         `json:"pattern_score"`
	UsageCount   int64           `json:"usage_count"`
	LastUsed     time.Time       `json:"last_used"`
}

// Decision is the engine's output for one cycle.
type Decision struct {
	Mode       models.DecisionMode `json:"mode"`
	Strategy   models.Strategy     `json:"strategy"`
	Candidates []Candidate         `json:"candidates,omitempty"`
	Confidence float64             `json:"confidence"`
}

// Engine ranks strategies by expected value over the cache and falls back
// to persona templates when history gives nothing worth exploiting.
type Engine struct {
	cache   *Cache
	metrics *metrics.Metrics

	mu  sync.RWMutex
	cfg config.DecisionConfig
}

// NewEngine creates a decision engine over the strategy cache.
func NewEngine(cache *Cache, m *metrics.Metrics, cfg config.DecisionConfig) *Engine {
	return &Engine{cache: cache, metrics: m, cfg: cfg}
}

// Retune replaces the scoring tunables. In-flight decisions keep the
// snapshot they started with.
func (e *Engine) Retune(cfg config.DecisionConfig) {
	e.mu.Lock()
	e.cfg = cfg
	e.mu.Unlock()
	log.Printf("[Decision] Tunables updated (weights %.2f/%.2f/%.2f, exploit threshold %.2f)",
		cfg.SuccessWeight, cfg.ProfitWeight, cfg.RecencyWeight, cfg.ExploitThreshold)
}

func (e *Engine) tunables() config.DecisionConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

// Decide selects a strategy for the cycle. A manual override bypasses all
// history; otherwise cached aggregates are scored and the best candidate
// is exploited only when its pattern match clears the threshold.
func (e *Engine) Decide(ctx context.Context, in Input) (*Decision, error) {
	if in.Tenant == nil {
		return nil, fmt.Errorf("decision requires a tenant")
	}
	if in.Now.IsZero() {
		in.Now = time.Now()
	}
	if len(in.Channels) == 0 {
		in.Channels = in.Tenant.Policy.Channels
	}

	if in.Override != nil {
		e.metrics.DecisionsTotal.WithLabelValues(in.Tenant.ID, string(models.ModeOverride)).Inc()
		log.Printf("[Decision] Tenant %s: manual override to %q", in.Tenant.ID, in.Override.Name)
		return &Decision{
			Mode:       models.ModeOverride,
			Strategy:   e.applyDirective(in, *in.Override),
			Confidence: 1.0,
		}, nil
	}

	cfg := e.tunables()
	candidates := e.rankCandidates(ctx, in, cfg)

	if len(candidates) > 0 && candidates[0].PatternScore > cfg.ExploitThreshold {
		top := candidates[0]
		e.metrics.DecisionsTotal.WithLabelValues(in.Tenant.ID, string(models.ModeExploit)).Inc()
		log.Printf("[Decision] Tenant %s: exploiting %q (ev=%.3f, match=%.2f, n=%d)",
			in.Tenant.ID, top.Strategy.Name, top.EV, top.PatternScore, top.UsageCount)
		return &Decision{
			Mode:       models.ModeExploit,
			Strategy:   e.applyDirective(in, top.Strategy),
			Candidates: candidates,
			Confidence: top.PatternScore,
		}, nil
	}

	explore := e.exploreStrategy(in)
	e.metrics.DecisionsTotal.WithLabelValues(in.Tenant.ID, string(models.ModeExplore)).Inc()
	log.Printf("[Decision] Tenant %s: exploring %q (%d candidates below threshold)",
		in.Tenant.ID, explore.Name, len(candidates))
	return &Decision{
		Mode:       models.ModeExplore,
		Strategy:   e.applyDirective(in, explore),
		Candidates: candidates,
		Confidence: cfg.ExploreConfidence,
	}, nil
}

// rankCandidates scores every cached (niche, channel, kind) aggregate in
// scope and returns them ordered by expected value, most recent first on
// ties.
func (e *Engine) rankCandidates(ctx context.Context, in Input, cfg config.DecisionConfig) []Candidate {
	profile := in.Tenant.Persona.Profile()
	patterns := indexPatterns(in.Patterns)

	var entries []*models.StrategyCacheEntry
	for _, channel := range in.Channels {
		for _, kind := range profile.PreferredKinds {
			key := models.ScopeKey{TenantID: in.Tenant.ID, Niche: in.Tenant.Niche, Channel: channel, Kind: kind}
			if entry, ok := e.cache.Lookup(ctx, key); ok {
				entries = append(entries, entry)
			}
		}
	}

	// Normalize profit against the best candidate in this ranking.
	var maxProfit float64
	for _, entry := range entries {
		if entry.AverageProfit > maxProfit {
			maxProfit = entry.AverageProfit
		}
	}

	candidates := make([]Candidate, 0, len(entries))
	for _, entry := range entries {
		shrunk := e.shrunkRate(ctx, entry, cfg)

		profitScore := 0.0
		if maxProfit > 0 && entry.AverageProfit > 0 {
			profitScore = entry.AverageProfit / maxProfit
		}

		recency := 0.0
		if !entry.LastUsed.IsZero() {
			ageDays := in.Now.Sub(entry.LastUsed).Hours() / 24
			if ageDays < 0 {
				ageDays = 0
			}
			recency = math.Pow(0.5, ageDays/float64(cfg.RecencyHalfLife))
		}

		ev := cfg.SuccessWeight*shrunk + cfg.ProfitWeight*profitScore + cfg.RecencyWeight*recency
		e.metrics.StrategiesScored.WithLabelValues(in.Tenant.ID).Observe(ev)

		strategy := e.candidateStrategy(in, entry, patterns)
		candidates = append(candidates, Candidate{
			Strategy:     strategy,
			Key:          entry.Key,
			EV:           ev,
			ShrunkRate:   shrunk,
			PatternScore: e.patternMatch(in, strategy),
			UsageCount:   entry.UsageCount,
			LastUsed:     entry.LastUsed,
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if diff := candidates[i].EV - candidates[j].EV; math.Abs(diff) > 1e-9 {
			return diff > 0
		}
		return candidates[i].LastUsed.After(candidates[j].LastUsed)
	})
	return candidates
}

// shrunkRate pulls small samples toward the global prior:
// rate' = (successes + W*prior) / (usage + W). Entries at or past the
// minimum sample size keep their raw rate.
func (e *Engine) shrunkRate(ctx context.Context, entry *models.StrategyCacheEntry, cfg config.DecisionConfig) float64 {
	if entry.UsageCount >= cfg.MinSamples {
		return entry.SuccessRate
	}

	prior := defaultPrior
	globalKey := models.ScopeKey{Niche: entry.Key.Niche, Channel: entry.Key.Channel, Kind: entry.Key.Kind, Global: true}
	if global, ok := e.cache.Lookup(ctx, globalKey); ok && global.UsageCount > 0 {
		prior = global.SuccessRate
	}

	w := cfg.PriorWeight
	return (float64(entry.SuccessCount) + w*prior) / (float64(entry.UsageCount) + w)
}

// candidateStrategy turns a cached aggregate back into an executable
// strategy, preferring the recorded pattern shape over persona defaults.
func (e *Engine) candidateStrategy(in Input, entry *models.StrategyCacheEntry, patterns map[string]PatternShape) models.Strategy {
	profile := in.Tenant.Persona.Profile()

	name := entry.StrategyName
	if name == "" {
		name = fmt.Sprintf("%s %s", in.Tenant.Niche, entry.Key.Kind)
	}

	price := (profile.PriceFloor + profile.PriceCeiling) / 2
	keywords := in.Tenant.Keywords
	if shape, ok := patterns[entry.Key.String()]; ok {
		if shape.Price > 0 {
			price = shape.Price
		}
		if len(shape.Keywords) > 0 {
			keywords = shape.Keywords
		}
	}

	return models.Strategy{
		Name:     name,
		Kind:     entry.Key.Kind,
		Niche:    entry.Key.Niche,
		Price:    price,
		Keywords: keywords,
		AdBudget: e.baseAdBudget(in),
	}
}

// exploreStrategy builds a fresh attempt from the persona's templates. The
// preferred kind rotates by day so consecutive explorations vary without
// any hidden state.
func (e *Engine) exploreStrategy(in Input) models.Strategy {
	profile := in.Tenant.Persona.Profile()
	kinds := profile.PreferredKinds
	kind := kinds[in.Now.YearDay()%len(kinds)]

	return models.Strategy{
		Name:     fmt.Sprintf("%s %s experiment", in.Tenant.Niche, kind),
		Kind:     kind,
		Niche:    in.Tenant.Niche,
		Price:    (profile.PriceFloor + profile.PriceCeiling) / 2,
		Keywords: in.Tenant.Keywords,
		AdBudget: e.baseAdBudget(in),
	}
}

// baseAdBudget sizes the test spend from the plan ceiling and the
// persona's risk appetite, never past the tenant's test budget cap.
func (e *Engine) baseAdBudget(in Input) float64 {
	profile := in.Tenant.Persona.Profile()
	limits := in.Tenant.Plan.Limits()

	budget := limits.MaxDailyAdBudget * profile.RiskTolerance
	if limit := in.Tenant.Policy.MaxTestBudget; limit > 0 && budget > limit {
		budget = limit
	}
	return budget
}

// applyDirective folds the prior cycle's reinvestment directive into the
// selected strategy. Raised budgets stay within the plan ceiling.
func (e *Engine) applyDirective(in Input, s models.Strategy) models.Strategy {
	if in.Directive == nil {
		return s
	}
	switch in.Directive.Action {
	case models.DirectiveRaiseBudget:
		s.AdBudget += in.Directive.Amount
		if ceiling := in.Tenant.Plan.Limits().MaxDailyAdBudget; s.AdBudget > ceiling {
			s.AdBudget = ceiling
		}
	case models.DirectiveNewProduct:
		// Handled by the orchestrator as an extra product attempt; the
		// selected strategy itself is unchanged.
	}
	return s
}

// patternMatch scores how well a candidate fits what the tenant is trying
// to do: niche identity 0.4, price within 20 percent 0.3, keyword overlap
// up to 0.3, normalized over the factors actually present.
func (e *Engine) patternMatch(in Input, s models.Strategy) float64 {
	profile := in.Tenant.Persona.Profile()
	targetPrice := (profile.PriceFloor + profile.PriceCeiling) / 2

	score := 0.0
	factors := 0.0

	if in.Tenant.Niche != "" && s.Niche != "" {
		if strings.EqualFold(in.Tenant.Niche, s.Niche) {
			score += 0.4
		}
		factors += 0.4
	}

	if targetPrice > 0 && s.Price > 0 {
		if math.Abs(targetPrice-s.Price)/s.Price < 0.2 {
			score += 0.3
		}
		factors += 0.3
	}

	if len(in.Tenant.Keywords) > 0 && len(s.Keywords) > 0 {
		common := 0
		for _, kw := range in.Tenant.Keywords {
			for _, sk := range s.Keywords {
				if strings.EqualFold(kw, sk) {
					common++
					break
				}
			}
		}
		score += 0.3 * float64(common) / float64(len(s.Keywords))
		factors += 0.3
	}

	if factors == 0 {
		return 0
	}
	return score / factors
}

func indexPatterns(patterns []*models.SuccessPattern) map[string]PatternShape {
	out := make(map[string]PatternShape, len(patterns))
	for _, p := range patterns {
		shape, err := DecodePatternShape(p.PatternData)
		if err != nil {
			continue
		}
		out[p.PatternKey] = shape
	}
	return out
}
