package models

import "time"

// TenantStatus represents the lifecycle state of a tenant
type TenantStatus string

const (
	TenantStatusActive   TenantStatus = "active"
	TenantStatusPaused   TenantStatus = "paused"
	TenantStatusArchived TenantStatus = "archived"
)

// Tenant represents an independently orchestrated business unit
type Tenant struct {
	ID               string       `json:"id"`
	Name             string       `json:"name"`
	Niche            string       `json:"niche"`
	Keywords         []string     `json:"keywords,omitempty"`
	Persona          Persona      `json:"persona"`
	Plan             Plan         `json:"plan"`
	Status           TenantStatus `json:"status"`
	AutopilotEnabled bool         `json:"autopilot_enabled"`
	Policy           TenantPolicy `json:"policy"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

// TenantPolicy holds the per-tenant orchestration settings. A cycle reads
// the policy exactly once at start; mid-cycle edits apply from the next tick.
type TenantPolicy struct {
	ReinvestThreshold float64       `json:"reinvest_threshold"`
	ReinvestRate      float64       `json:"reinvest_rate"`
	MaxTestBudget     float64       `json:"max_test_budget"`
	WindowDays        int           `json:"window_days"`
	CycleInterval     time.Duration `json:"cycle_interval"`
	Channels          []Channel     `json:"channels"`
	FanOutAll         bool          `json:"fan_out_all"` // dispatch every ranked strategy, not just the top one
}

// Normalize fills zero-valued policy fields with defaults.
func (p TenantPolicy) Normalize() TenantPolicy {
	if p.ReinvestThreshold <= 0 {
		p.ReinvestThreshold = 1.0
	}
	if p.ReinvestRate <= 0 || p.ReinvestRate > 1 {
		p.ReinvestRate = 0.5
	}
	if p.MaxTestBudget <= 0 {
		p.MaxTestBudget = 25.0
	}
	if p.WindowDays <= 0 {
		p.WindowDays = 30
	}
	if p.CycleInterval <= 0 {
		p.CycleInterval = 30 * time.Minute
	}
	if len(p.Channels) == 0 {
		p.Channels = AllChannels()
	}
	return p
}

// Channel identifies an external collaborator class
type Channel string

const (
	ChannelContent  Channel = "content"
	ChannelCommerce Channel = "commerce"
	ChannelAds      Channel = "ads"
	ChannelSocial   Channel = "social"
)

// AllChannels returns every channel in dispatch order.
func AllChannels() []Channel {
	return []Channel{ChannelContent, ChannelCommerce, ChannelAds, ChannelSocial}
}

// Plan represents a tenant's subscription tier
type Plan string

const (
	PlanStarter Plan = "starter"
	PlanGrowth  Plan = "growth"
	PlanScale   Plan = "scale"
)

// PlanLimits bounds what a single cycle may attempt on a given plan
type PlanLimits struct {
	MaxProductsPerCycle int     `json:"max_products_per_cycle"`
	MaxDailyAdBudget    float64 `json:"max_daily_ad_budget"`
	MaxSocialPosts      int     `json:"max_social_posts"`
}

// Limits returns the immutable limits for a plan. Unknown plans get
// starter limits so a bad value can never unlock spend.
func (p Plan) Limits() PlanLimits {
	switch p {
	case PlanGrowth:
		return PlanLimits{
			MaxProductsPerCycle: 3,
			MaxDailyAdBudget:    50.0,
			MaxSocialPosts:      4,
		}
	case PlanScale:
		return PlanLimits{
			MaxProductsPerCycle: 5,
			MaxDailyAdBudget:    200.0,
			MaxSocialPosts:      8,
		}
	default:
		return PlanLimits{
			MaxProductsPerCycle: 1,
			MaxDailyAdBudget:    10.0,
			MaxSocialPosts:      2,
		}
	}
}

// Valid reports whether the plan is a known tier.
func (p Plan) Valid() bool {
	switch p {
	case PlanStarter, PlanGrowth, PlanScale:
		return true
	}
	return false
}
