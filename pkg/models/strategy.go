package models

import (
	"fmt"
	"time"
)

// StrategyKind is the closed set of asset types a strategy can produce
type StrategyKind string

const (
	KindEbook    StrategyKind = "ebook"
	KindCourse   StrategyKind = "course"
	KindTemplate StrategyKind = "template"
	KindTool     StrategyKind = "tool"
	KindBundle   StrategyKind = "bundle"
)

// Valid reports whether the kind is a known variant.
func (k StrategyKind) Valid() bool {
	switch k {
	case KindEbook, KindCourse, KindTemplate, KindTool, KindBundle:
		return true
	}
	return false
}

// Strategy is one concrete thing to attempt in a cycle: what to build,
// how to price it, and which keywords to push.
type Strategy struct {
	Name     string       `json:"name"`
	Kind     StrategyKind `json:"kind"`
	Niche    string       `json:"niche"`
	Price    float64      `json:"price"`
	Keywords []string     `json:"keywords,omitempty"`
	AdBudget float64      `json:"ad_budget"`
}

// ScopeKey identifies a strategy cache entry. Global controls whether the
// aggregate is shared across tenants; tenant-scoped keys never mix with
// global ones.
type ScopeKey struct {
	TenantID string       `json:"tenant_id,omitempty"`
	Niche    string       `json:"niche"`
	Channel  Channel      `json:"channel"`
	Kind     StrategyKind `json:"kind"`
	Global   bool         `json:"global,omitempty"`
}

// String renders the key in its canonical index form.
func (k ScopeKey) String() string {
	scope := k.TenantID
	if k.Global {
		scope = "global"
	}
	return fmt.Sprintf("%s|%s|%s|%s", scope, k.Niche, k.Channel, k.Kind)
}

// StrategyCacheEntry is the scored fast-path summary used to bias
// selection. average_profit is the exact running mean of all profit-bearing
// outcomes recorded under the key; success_rate is successes/usage_count.
type StrategyCacheEntry struct {
	Key           ScopeKey  `json:"key"`
	StrategyName  string    `json:"strategy_name"`
	AverageProfit float64   `json:"average_profit"`
	UsageCount    int64     `json:"usage_count"`
	SuccessCount  int64     `json:"success_count"`
	SuccessRate   float64   `json:"success_rate"`
	LastUsed      time.Time `json:"last_used"`
	Version       int64     `json:"version"`
	Evicted       bool      `json:"evicted,omitempty"`
}

// Observe folds one settled outcome into the entry, keeping the running
// mean exact: new_avg = old_avg + (outcome - old_avg) / (count + 1).
func (e *StrategyCacheEntry) Observe(success bool, profit float64, at time.Time) {
	e.AverageProfit = e.AverageProfit + (profit-e.AverageProfit)/float64(e.UsageCount+1)
	e.UsageCount++
	if success {
		e.SuccessCount++
	}
	e.SuccessRate = float64(e.SuccessCount) / float64(e.UsageCount)
	if at.After(e.LastUsed) {
		e.LastUsed = at
	}
	e.Version++
}

// SuccessPattern is the broader aggregate derived from experiences sharing
// a pattern key (a niche/price/keyword shape rather than a single cache
// scope). Kept for analytics and for rebuilding the cache after damage.
type SuccessPattern struct {
	PatternType   string    `json:"pattern_type"`
	PatternKey    string    `json:"pattern_key"`
	TenantID      string    `json:"tenant_id,omitempty"`
	Global        bool      `json:"global,omitempty"`
	PatternData   string    `json:"pattern_data,omitempty"` // JSON blob describing the shape
	SuccessCount  int64     `json:"success_count"`
	UsageCount    int64     `json:"usage_count"`
	SuccessRate   float64   `json:"success_rate"`
	AverageProfit float64   `json:"average_profit"`
	LastUsed      time.Time `json:"last_used"`
	Version       int64     `json:"version"`
}
