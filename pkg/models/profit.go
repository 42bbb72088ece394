package models

import "time"

// ProfitCategory classifies a profit ledger entry
type ProfitCategory string

const (
	ProfitRevenue ProfitCategory = "revenue"
	ProfitCost    ProfitCategory = "cost"
	ProfitNet     ProfitCategory = "profit"
)

// ProfitLog is one append-only realized-money entry. OutcomeID ties the
// entry to the settled task outcome that produced it; the unique constraint
// on it is what keeps at-least-once delivery from double-counting.
type ProfitLog struct {
	ID         string         `json:"id"`
	TenantID   string         `json:"tenant_id"`
	Source     string         `json:"source"` // channel or strategy name
	Amount     float64        `json:"amount"`
	Category   ProfitCategory `json:"category"`
	OutcomeID  string         `json:"outcome_id"`
	RecordedAt time.Time      `json:"recorded_at"`
}

// KPIReport aggregates the numbers the admin surface shows per tenant.
type KPIReport struct {
	TenantID        string    `json:"tenant_id"`
	TotalRevenue    float64   `json:"total_revenue"`
	WindowRevenue   float64   `json:"window_revenue"`
	WindowDays      int       `json:"window_days"`
	ActiveCampaigns int       `json:"active_campaigns"`
	CyclesRun       int64     `json:"cycles_run"`
	SuccessRate     float64   `json:"success_rate"`
	GeneratedAt     time.Time `json:"generated_at"`
}

// DirectiveAction is the closed set of reinvestment moves
type DirectiveAction string

const (
	DirectiveRaiseBudget DirectiveAction = "raise_budget"
	DirectiveNewProduct  DirectiveAction = "new_product"
)

// ReinvestmentDirective is the output of one profit-window evaluation. The
// watermark is the highest profit row considered; re-evaluating a window
// that yields the same watermark must not produce another directive.
type ReinvestmentDirective struct {
	ID          string          `json:"id"`
	TenantID    string          `json:"tenant_id"`
	CycleID     string          `json:"cycle_id"`
	Action      DirectiveAction `json:"action"`
	Channel     Channel         `json:"channel,omitempty"`
	Fraction    float64         `json:"fraction"` // share of window profit to redeploy
	Amount      float64         `json:"amount"`   // capped absolute spend
	WindowStart time.Time       `json:"window_start"`
	WindowEnd   time.Time       `json:"window_end"`
	Watermark   int64           `json:"watermark"`
	CreatedAt   time.Time       `json:"created_at"`
}
