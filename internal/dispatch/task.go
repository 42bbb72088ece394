package dispatch

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jordanhubbard/venture/internal/channels"
	"github.com/jordanhubbard/venture/pkg/models"
)

// TaskKind is the operation a task performs on its channel.
type TaskKind string

const (
	TaskGenerate TaskKind = "generate"
	TaskPublish  TaskKind = "publish"
	TaskLaunch   TaskKind = "launch"
	TaskSchedule TaskKind = "schedule"
)

// Task is one independent unit of channel work within a cycle. Exactly one
// of the request fields matching Kind is set.
type Task struct {
	ID       string         `json:"id"`
	TenantID string         `json:"tenant_id"`
	CycleID  string         `json:"cycle_id"`
	Channel  models.Channel `json:"channel"`
	Kind     TaskKind       `json:"kind"`

	Generate *channels.GenerateRequest `json:"generate,omitempty"`
	Publish  *channels.Product         `json:"publish,omitempty"`
	Launch   *channels.LaunchRequest   `json:"launch,omitempty"`
	Schedule *channels.ScheduleRequest `json:"schedule,omitempty"`

	// NotBefore delays execution, used to stagger social posts.
	NotBefore time.Time `json:"not_before,omitempty"`
}

// Result classifies a settled task.
type Result string

const (
	ResultSucceeded Result = "succeeded"
	ResultFailed    Result = "failed"
	ResultDegraded  Result = "degraded"
)

// Outcome is the settled record of one task attempt series. OutcomeID is
// deterministic, so a redelivered or re-run task can never forge a second
// identity for the same work.
type Outcome struct {
	OutcomeID string         `json:"outcome_id"`
	TaskID    string         `json:"task_id"`
	TenantID  string         `json:"tenant_id"`
	CycleID   string         `json:"cycle_id"`
	Channel   models.Channel `json:"channel"`
	Kind      TaskKind       `json:"kind"`
	Result    Result         `json:"result"`
	Attempts  int            `json:"attempts"`
	Revenue   float64        `json:"revenue"`
	Cost      float64        `json:"cost"`
	Error     string         `json:"error,omitempty"`

	// Payload carries the adapter response for the experience record.
	Payload map[string]interface{} `json:"payload,omitempty"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Succeeded reports whether the task settled successfully.
func (o *Outcome) Succeeded() bool { return o.Result == ResultSucceeded }

// OutcomeID derives the stable identity for a task's outcome: a v5 UUID of
// tenant|cycle|task. The same task in the same cycle always settles under
// the same id.
func OutcomeID(tenantID, cycleID, taskID string) string {
	name := fmt.Sprintf("%s|%s|%s", tenantID, cycleID, taskID)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String()
}
