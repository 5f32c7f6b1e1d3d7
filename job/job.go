package job

import (
	"time"

	batch "github.com/whoisdsmith/SmartFileOrganizer"
	"github.com/whoisdsmith/SmartFileOrganizer/id"
)

// State represents the lifecycle state of a job.
type State string

const (
	// StateCreated means the job exists but has not been submitted.
	StateCreated State = "created"
	// StateQueued means the job is eligible and waiting for a worker.
	StateQueued State = "queued"
	// StateWaiting means the job is submitted but blocked on unmet
	// dependencies or group sequencing.
	StateWaiting State = "waiting"
	// StateRunning means a worker is currently executing the job.
	StateRunning State = "running"
	// StatePaused means the job is held back from scheduling until
	// resumed.
	StatePaused State = "paused"
	// StateCompleted means the job finished successfully.
	StateCompleted State = "completed"
	// StateFailed means the job failed and will not be retried.
	StateFailed State = "failed"
	// StateCanceled means the job was canceled, either explicitly or
	// because a dependency or group sibling failed.
	StateCanceled State = "canceled"
)

// Terminal reports whether s is a terminal state. Terminal jobs accept
// no further transitions and their Result/LastError are immutable.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCanceled
}

// Priority determines dequeue ordering among otherwise-eligible jobs.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

var priorityNames = map[Priority]string{
	PriorityLow:      "low",
	PriorityNormal:   "normal",
	PriorityHigh:     "high",
	PriorityCritical: "critical",
}

// String returns the lowercase name of the priority.
func (p Priority) String() string {
	if s, ok := priorityNames[p]; ok {
		return s
	}
	return "normal"
}

// ParsePriority maps a lowercase priority name back to a Priority.
// Unknown names map to PriorityNormal, matching how stored records from
// older versions degrade.
func ParsePriority(s string) Priority {
	for p, name := range priorityNames {
		if name == s {
			return p
		}
	}
	return PriorityNormal
}

// MarshalText implements encoding.TextMarshaler.
func (p Priority) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Priority) UnmarshalText(data []byte) error {
	*p = ParsePriority(string(data))
	return nil
}

// Job represents a unit of work to be scheduled and executed.
//
// A Job is owned exclusively by the engine from submission until it
// reaches a terminal state; callers observe it through query and wait
// operations. The GroupID back-reference is id-based: groups look
// members up by id, so no ownership cycle exists between Job and Group.
type Job struct {
	batch.Entity

	ID        id.JobID    `json:"id"`
	Task      string      `json:"task"`
	Payload   []byte      `json:"payload,omitempty"`
	Priority  Priority    `json:"priority"`
	DependsOn []id.JobID  `json:"depends_on,omitempty"`
	State     State       `json:"state"`
	Retry     RetryPolicy `json:"retry"`
	Attempt   int         `json:"attempt"`
	Result    []byte      `json:"result,omitempty"`
	LastError string      `json:"last_error,omitempty"`
	GroupID   id.GroupID  `json:"group_id,omitempty"`

	Tags     []string          `json:"tags,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`

	Timeout time.Duration `json:"timeout,omitempty"`

	// Progress is reported cooperatively by the task body via
	// task.Control; it is advisory and not part of the state machine.
	Progress        float64 `json:"progress"`
	ProgressMessage string  `json:"progress_message,omitempty"`

	// RunAt is the earliest time the job may be handed to a worker.
	// Retry backoff pushes it into the future.
	RunAt      time.Time  `json:"run_at"`
	QueuedAt   *time.Time `json:"queued_at,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Terminal reports whether the job has reached a terminal state.
func (j *Job) Terminal() bool { return j.State.Terminal() }

// Clone returns a shallow copy with its own dependency, tag, and
// metadata containers, so stores and observers can hold snapshots
// without racing against scheduler mutation.
func (j *Job) Clone() *Job {
	cp := *j
	if len(j.DependsOn) > 0 {
		cp.DependsOn = append([]id.JobID(nil), j.DependsOn...)
	}
	if len(j.Tags) > 0 {
		cp.Tags = append([]string(nil), j.Tags...)
	}
	if len(j.Metadata) > 0 {
		cp.Metadata = make(map[string]string, len(j.Metadata))
		for k, v := range j.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}
