package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/whoisdsmith/SmartFileOrganizer/ext"
	"github.com/whoisdsmith/SmartFileOrganizer/group"
	"github.com/whoisdsmith/SmartFileOrganizer/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension     = (*Extension)(nil)
	_ ext.JobQueued     = (*Extension)(nil)
	_ ext.JobStarted    = (*Extension)(nil)
	_ ext.JobCompleted  = (*Extension)(nil)
	_ ext.JobFailed     = (*Extension)(nil)
	_ ext.JobRetrying   = (*Extension)(nil)
	_ ext.JobCanceled   = (*Extension)(nil)
	_ ext.GroupFinished = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement. It is
// defined locally so this package does not depend on any particular
// history store — callers inject the concrete backend at wiring time.
type Recorder interface {
	// Record persists a fully-formed audit event.
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is one entry in the batch operation history.
type AuditEvent struct {
	// What happened
	Action   string `json:"action"`
	Resource string `json:"resource"`
	Category string `json:"category"`

	// Details
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Severity constants.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Outcome constants.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Extension bridges batch lifecycle events to an audit trail backend,
// giving the application a persistent history of what the engine did to
// the user's files. Each lifecycle hook emits a structured audit event
// through the [Recorder].
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided
// Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements ext.Extension.
func (e *Extension) Name() string { return "audit-hook" }

// ── Job lifecycle hooks ─────────────────────────────

// OnJobQueued implements ext.JobQueued.
func (e *Extension) OnJobQueued(ctx context.Context, j *job.Job) error {
	return e.record(ctx, ActionJobQueued, SeverityInfo, OutcomeSuccess,
		ResourceJob, j.ID.String(), nil,
		"task", j.Task,
		"priority", j.Priority.String(),
	)
}

// OnJobStarted implements ext.JobStarted.
func (e *Extension) OnJobStarted(ctx context.Context, j *job.Job) error {
	return e.record(ctx, ActionJobStarted, SeverityInfo, OutcomeSuccess,
		ResourceJob, j.ID.String(), nil,
		"task", j.Task,
		"attempt", j.Attempt,
	)
}

// OnJobCompleted implements ext.JobCompleted.
func (e *Extension) OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	return e.record(ctx, ActionJobCompleted, SeverityInfo, OutcomeSuccess,
		ResourceJob, j.ID.String(), nil,
		"task", j.Task,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnJobFailed implements ext.JobFailed.
func (e *Extension) OnJobFailed(ctx context.Context, j *job.Job, jobErr error) error {
	return e.record(ctx, ActionJobFailed, SeverityCritical, OutcomeFailure,
		ResourceJob, j.ID.String(), jobErr,
		"task", j.Task,
		"attempt", j.Attempt,
		"max_attempts", j.Retry.MaxAttempts,
	)
}

// OnJobRetrying implements ext.JobRetrying.
func (e *Extension) OnJobRetrying(ctx context.Context, j *job.Job, attempt int, nextRunAt time.Time) error {
	return e.record(ctx, ActionJobRetrying, SeverityWarning, OutcomeFailure,
		ResourceJob, j.ID.String(), nil,
		"task", j.Task,
		"attempt", attempt,
		"next_run_at", nextRunAt.Format(time.RFC3339),
	)
}

// OnJobCanceled implements ext.JobCanceled.
func (e *Extension) OnJobCanceled(ctx context.Context, j *job.Job) error {
	return e.record(ctx, ActionJobCanceled, SeverityWarning, OutcomeFailure,
		ResourceJob, j.ID.String(), nil,
		"task", j.Task,
		"reason", j.LastError,
	)
}

// ── Group lifecycle hooks ───────────────────────────

// OnGroupFinished implements ext.GroupFinished.
func (e *Extension) OnGroupFinished(ctx context.Context, g *group.Group, status group.Status) error {
	severity, outcome := SeverityInfo, OutcomeSuccess
	if status != group.StatusCompleted {
		severity, outcome = SeverityWarning, OutcomeFailure
	}
	return e.record(ctx, ActionGroupFinished, severity, outcome,
		ResourceGroup, g.ID.String(), nil,
		"name", g.Name,
		"status", string(status),
		"members", len(g.MemberIDs),
	)
}

// ── Internal helpers ────────────────────────────────

// record builds and sends an audit event if the action is enabled.
// The kvPairs argument is a list of key-value pairs added to Metadata.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   categoryFor(resource),
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}

func categoryFor(resource string) string {
	if resource == ResourceGroup {
		return CategoryGroup
	}
	return CategoryJob
}
