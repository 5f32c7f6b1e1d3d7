// Package ext defines the extension system for the batch engine.
// Extensions are notified of lifecycle events (job queued, completed,
// failed, etc.) and can react to them — logging, metrics, tracing, etc.
//
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
package ext

import (
	"context"
	"time"

	"github.com/whoisdsmith/SmartFileOrganizer/group"
	"github.com/whoisdsmith/SmartFileOrganizer/job"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Job lifecycle hooks
// ──────────────────────────────────────────────────

// JobQueued is called after a job is successfully submitted to the
// scheduler.
type JobQueued interface {
	OnJobQueued(ctx context.Context, j *job.Job) error
}

// JobStarted is called when a worker begins executing a job.
type JobStarted interface {
	OnJobStarted(ctx context.Context, j *job.Job) error
}

// JobCompleted is called after a job finishes successfully.
type JobCompleted interface {
	OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error
}

// JobFailed is called when a job fails terminally (no more retries).
type JobFailed interface {
	OnJobFailed(ctx context.Context, j *job.Job, err error) error
}

// JobRetrying is called when a job fails but is scheduled for retry.
type JobRetrying interface {
	OnJobRetrying(ctx context.Context, j *job.Job, attempt int, nextRunAt time.Time) error
}

// JobCanceled is called when a job reaches the canceled state, whether
// by direct request, dependency failure, or group propagation.
type JobCanceled interface {
	OnJobCanceled(ctx context.Context, j *job.Job) error
}

// ──────────────────────────────────────────────────
// Group and engine hooks
// ──────────────────────────────────────────────────

// GroupFinished is called once when the last member of a group reaches
// a terminal state.
type GroupFinished interface {
	OnGroupFinished(ctx context.Context, g *group.Group, status group.Status) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
