package models

import "time"

// ActionType classifies what a ledger entry attempted
type ActionType string

const (
	ActionDecision      ActionType = "decision"
	ActionProductCreate ActionType = "product_create"
	ActionStorePublish  ActionType = "store_publish"
	ActionAdLaunch      ActionType = "ad_launch"
	ActionSocialPost    ActionType = "social_post"
	ActionReinvest      ActionType = "reinvest"
)

// DecisionMode records how the strategy behind an experience was chosen
type DecisionMode string

const (
	ModeExploit  DecisionMode = "exploit"
	ModeExplore  DecisionMode = "explore"
	ModeOverride DecisionMode = "override"
)

// Experience is one immutable ledger entry: an attempted action and its
// outcome. Entries are append-only; corrections are written as new
// compensating entries, never edits.
type Experience struct {
	ID               string       `json:"id"`
	TenantID         string       `json:"tenant_id"`
	Seq              int64        `json:"seq"` // per-tenant monotonic
	CycleID          string       `json:"cycle_id"`
	ActionType       ActionType   `json:"action_type"`
	ScopeKey         string       `json:"scope_key,omitempty"` // canonical strategy scope
	Context          string       `json:"context,omitempty"`   // JSON: strategy, channel, inputs
	Result           string       `json:"result,omitempty"`    // JSON: collaborator response
	Success          bool         `json:"success"`
	RevenueGenerated float64      `json:"revenue_generated"`
	LessonsLearned   []string     `json:"lessons_learned,omitempty"`
	Mode             DecisionMode `json:"mode"`
	CreatedAt        time.Time    `json:"created_at"`
}

// AIEvent is one append-only audit record of a decision or dispatched
// action. The event log is the source of truth for rebuilding derived
// aggregates.
type AIEvent struct {
	ID            string    `json:"id"`
	TenantID      string    `json:"tenant_id"`
	CycleID       string    `json:"cycle_id,omitempty"`
	EventType     string    `json:"event_type"`
	Payload       string    `json:"payload,omitempty"` // JSON
	Success       bool      `json:"success"`
	RevenueImpact float64   `json:"revenue_impact"`
	CreatedAt     time.Time `json:"created_at"`
}
