package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/whoisdsmith/SmartFileOrganizer/backoff"
	"github.com/whoisdsmith/SmartFileOrganizer/job"
)

// Coordinator decides what happens to a failed attempt: a delayed
// requeue when the job's retry policy has attempts left, or terminal
// failure once it is exhausted.
type Coordinator struct {
	reporter Reporter
	fallback backoff.Strategy
	logger   *slog.Logger
}

// NewCoordinator creates a retry coordinator. fallback supplies delays
// for jobs whose policy has no base delay configured; nil means
// backoff.DefaultStrategy().
func NewCoordinator(reporter Reporter, fallback backoff.Strategy, logger *slog.Logger) *Coordinator {
	if fallback == nil {
		fallback = backoff.DefaultStrategy()
	}
	return &Coordinator{
		reporter: reporter,
		fallback: fallback,
		logger:   logger,
	}
}

// HandleFailure routes one failed attempt. j.Attempt is the attempt
// that just failed, counted from 1.
func (c *Coordinator) HandleFailure(ctx context.Context, j *job.Job, runErr error) error {
	if j.Retry.Exhausted(j.Attempt) {
		c.logger.Warn("job failed after exhausting retries",
			slog.String("job_id", j.ID.String()),
			slog.String("task", j.Task),
			slog.Int("attempts", j.Attempt),
			slog.String("error", runErr.Error()),
		)
		if reportErr := c.reporter.MarkFailed(ctx, j.ID, runErr); reportErr != nil {
			return reportErr
		}
		return runErr
	}

	delay := c.delay(j)
	c.logger.Info("job scheduled for retry",
		slog.String("job_id", j.ID.String()),
		slog.String("task", j.Task),
		slog.Int("attempt", j.Attempt),
		slog.Int("max_attempts", j.Retry.MaxAttempts),
		slog.Duration("delay", delay),
		slog.String("error", runErr.Error()),
	)
	if reportErr := c.reporter.Requeue(ctx, j.ID, runErr, delay); reportErr != nil {
		return reportErr
	}
	return runErr
}

// delay computes the wait before the next attempt. j.Attempt counts
// completed attempts from 1; the policy counts from 0, so the first
// retry waits the base delay either way.
func (c *Coordinator) delay(j *job.Job) time.Duration {
	if j.Retry.BaseDelay > 0 {
		return j.Retry.Delay(j.Attempt - 1)
	}
	return c.fallback.Delay(j.Attempt)
}
