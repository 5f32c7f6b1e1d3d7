package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/whoisdsmith/SmartFileOrganizer/job"
)

// Logging returns middleware that logs job start and completion.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) ([]byte, error) {
		logger.Info("job started",
			slog.String("task", j.Task),
			slog.String("job_id", j.ID.String()),
			slog.String("priority", j.Priority.String()),
			slog.Int("attempt", j.Attempt),
		)

		start := time.Now()
		result, err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Error("job failed",
				slog.String("task", j.Task),
				slog.String("job_id", j.ID.String()),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("job completed",
				slog.String("task", j.Task),
				slog.String("job_id", j.ID.String()),
				slog.Duration("elapsed", elapsed),
			)
		}

		return result, err
	}
}
