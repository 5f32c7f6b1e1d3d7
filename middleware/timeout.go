package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	batch "github.com/whoisdsmith/SmartFileOrganizer"
	"github.com/whoisdsmith/SmartFileOrganizer/job"
)

// Timeout returns middleware that enforces a per-job execution deadline.
// If the job has a non-zero Timeout, a context.WithTimeout wraps the
// handler call. A handler that overruns its deadline fails with
// ErrJobTimeout; whether that attempt is retried is the retry policy's
// call, like any other failure.
func Timeout(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) ([]byte, error) {
		if j.Timeout <= 0 {
			return next(ctx)
		}
		logger.Debug("job timeout set",
			slog.String("job_id", j.ID.String()),
			slog.Duration("timeout", j.Timeout),
		)
		ctx, cancel := context.WithTimeout(ctx, j.Timeout)
		defer cancel()

		result, err := next(ctx)
		if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("%w: task %s exceeded %s", batch.ErrJobTimeout, j.Task, j.Timeout)
		}
		return result, err
	}
}
