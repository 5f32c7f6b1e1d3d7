// Package worker provides the job execution engine — an Executor that
// invokes registered task handlers through middleware, and a Pool of
// goroutines that pull eligible jobs from the scheduler.
package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/whoisdsmith/SmartFileOrganizer/id"
	"github.com/whoisdsmith/SmartFileOrganizer/job"
	"github.com/whoisdsmith/SmartFileOrganizer/middleware"
	"github.com/whoisdsmith/SmartFileOrganizer/task"
)

// Reporter receives the outcome of each execution attempt. The
// scheduler implements it; every attempt ends in exactly one of the
// three outcome calls.
type Reporter interface {
	MarkCompleted(ctx context.Context, jobID id.JobID, result []byte) error
	Requeue(ctx context.Context, jobID id.JobID, runErr error, delay time.Duration) error
	MarkFailed(ctx context.Context, jobID id.JobID, runErr error) error
	UpdateProgress(ctx context.Context, jobID id.JobID, pct float64, message string) error
}

// Executor runs a single job through middleware and the registered task
// handler, then routes the outcome through the retry coordinator to the
// reporter.
type Executor struct {
	registry *task.Registry
	reporter Reporter
	retry    *Coordinator
	mw       middleware.Middleware
	logger   *slog.Logger
}

// NewExecutor creates an Executor with the given dependencies.
func NewExecutor(
	registry *task.Registry,
	reporter Reporter,
	retry *Coordinator,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Executor {
	return &Executor{
		registry: registry,
		reporter: reporter,
		retry:    retry,
		mw:       middleware.Chain(mws...),
		logger:   logger,
	}
}

// Execute runs one attempt of a job.
// On success the result is recorded and the job completes.
// On failure the retry coordinator decides between a delayed requeue
// and terminal failure. A job whose task has no registered handler
// fails immediately: retrying cannot fix a missing registration.
func (e *Executor) Execute(ctx context.Context, j *job.Job) error {
	handler, err := e.registry.Resolve(j.Task)
	if err != nil {
		e.logger.Error("no handler for task",
			slog.String("task", j.Task),
			slog.String("job_id", j.ID.String()),
		)
		if reportErr := e.reporter.MarkFailed(ctx, j.ID, err); reportErr != nil {
			return reportErr
		}
		return err
	}

	// Handlers report progress through the Control in their context.
	// Reports are forwarded with a background context: the job's
	// progress should still be recorded when its own context is
	// canceled mid-update.
	jobID := j.ID
	ctrl := task.NewControl(func(pct float64, message string) {
		if err := e.reporter.UpdateProgress(context.Background(), jobID, pct, message); err != nil {
			e.logger.Debug("progress update dropped",
				slog.String("job_id", jobID.String()),
				slog.String("error", err.Error()),
			)
		}
	})

	terminal := func(ctx context.Context) ([]byte, error) {
		return handler(task.NewContext(ctx, ctrl), j.Payload)
	}

	result, runErr := e.mw(ctx, j, terminal)
	if runErr != nil {
		// Outcomes are reported with a background context so a
		// canceled job context cannot block the state transition.
		return e.retry.HandleFailure(context.Background(), j, runErr)
	}
	return e.reporter.MarkCompleted(context.Background(), j.ID, result)
}
