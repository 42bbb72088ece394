package models

import "time"

// CyclePhase is one state of the per-tenant cycle machine
type CyclePhase string

const (
	PhaseIdle        CyclePhase = "IDLE"
	PhaseAnalyzing   CyclePhase = "ANALYZING"
	PhaseCreating    CyclePhase = "CREATING"
	PhaseDeploying   CyclePhase = "DEPLOYING"
	PhaseMarketing   CyclePhase = "MARKETING"
	PhaseMonitoring  CyclePhase = "MONITORING"
	PhaseOptimizing  CyclePhase = "OPTIMIZING"
	PhaseReinvesting CyclePhase = "REINVESTING"
	PhaseFailed      CyclePhase = "FAILED"
	PhaseCancelled   CyclePhase = "CANCELLED"
)

// phaseOrder is the forward path of the machine. FAILED and CANCELLED are
// reachable from any non-terminal phase and absorb the cycle.
var phaseOrder = []CyclePhase{
	PhaseIdle,
	PhaseAnalyzing,
	PhaseCreating,
	PhaseDeploying,
	PhaseMarketing,
	PhaseMonitoring,
	PhaseOptimizing,
	PhaseReinvesting,
}

// Next returns the phase that follows p on the forward path. The final
// forward phase wraps back to IDLE; terminal phases return themselves.
func (p CyclePhase) Next() CyclePhase {
	for i, ph := range phaseOrder {
		if ph == p {
			if i == len(phaseOrder)-1 {
				return PhaseIdle
			}
			return phaseOrder[i+1]
		}
	}
	return p
}

// Terminal reports whether the phase absorbs the cycle.
func (p CyclePhase) Terminal() bool {
	return p == PhaseFailed || p == PhaseCancelled
}

// CanTransition reports whether from -> to is a legal move: one forward
// step, the final wrap to IDLE, or a jump to FAILED/CANCELLED from any
// non-terminal phase.
func CanTransition(from, to CyclePhase) bool {
	if from.Terminal() {
		return false
	}
	if to == PhaseFailed || to == PhaseCancelled {
		return true
	}
	return from.Next() == to && to != from
}

// CycleStatus is the user-visible summary of a cycle
type CycleStatus string

const (
	CycleStatusIdle      CycleStatus = "IDLE"
	CycleStatusRunning   CycleStatus = "RUNNING"
	CycleStatusCompleted CycleStatus = "COMPLETED"
	CycleStatusDegraded  CycleStatus = "DEGRADED"
	CycleStatusFailed    CycleStatus = "FAILED"
	CycleStatusCancelled CycleStatus = "CANCELLED"
)

// ChannelResult is the per-channel breakdown of the most recent cycle
type ChannelResult struct {
	Channel   Channel `json:"channel"`
	Succeeded int     `json:"succeeded"`
	Failed    int     `json:"failed"`
	Degraded  int     `json:"degraded"`
	Revenue   float64 `json:"revenue"`
}

// CycleRecord is the persisted trace of one cycle for one tenant.
type CycleRecord struct {
	ID         string          `json:"id"`
	TenantID   string          `json:"tenant_id"`
	Phase      CyclePhase      `json:"phase"`
	Status     CycleStatus     `json:"status"`
	Strategy   string          `json:"strategy,omitempty"`
	Mode       DecisionMode    `json:"mode,omitempty"`
	Error      string          `json:"error,omitempty"`
	Channels   []ChannelResult `json:"channels,omitempty"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}
