package bunstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	batch "github.com/whoisdsmith/SmartFileOrganizer"
	"github.com/whoisdsmith/SmartFileOrganizer/id"
	"github.com/whoisdsmith/SmartFileOrganizer/job"
)

// SaveJob inserts or overwrites the job record keyed by its id.
// ON CONFLICT upsert works identically on the SQLite and PostgreSQL
// dialects, so every state transition is one idempotent write.
func (s *Store) SaveJob(ctx context.Context, j *job.Job) error {
	m := toJobModel(j)
	_, err := s.db.NewInsert().Model(m).
		On("CONFLICT (id) DO UPDATE").
		Set("task = EXCLUDED.task").
		Set("payload = EXCLUDED.payload").
		Set("state = EXCLUDED.state").
		Set("priority = EXCLUDED.priority").
		Set("depends_on = EXCLUDED.depends_on").
		Set("retry_max_attempts = EXCLUDED.retry_max_attempts").
		Set("retry_base_delay = EXCLUDED.retry_base_delay").
		Set("retry_multiplier = EXCLUDED.retry_multiplier").
		Set("retry_max_delay = EXCLUDED.retry_max_delay").
		Set("attempt = EXCLUDED.attempt").
		Set("result = EXCLUDED.result").
		Set("last_error = EXCLUDED.last_error").
		Set("group_id = EXCLUDED.group_id").
		Set("tags = EXCLUDED.tags").
		Set("metadata = EXCLUDED.metadata").
		Set("timeout_ns = EXCLUDED.timeout_ns").
		Set("progress = EXCLUDED.progress").
		Set("progress_message = EXCLUDED.progress_message").
		Set("run_at = EXCLUDED.run_at").
		Set("queued_at = EXCLUDED.queued_at").
		Set("started_at = EXCLUDED.started_at").
		Set("finished_at = EXCLUDED.finished_at").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("batch/bun: save job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by id.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	m := new(jobModel)
	err := s.db.NewSelect().Model(m).
		Where("id = ?", jobID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, batch.ErrJobNotFound
		}
		return nil, fmt.Errorf("batch/bun: get job: %w", err)
	}
	return fromJobModel(m)
}

// DeleteJob removes a job record by id.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	res, err := s.db.NewDelete().
		TableExpr("batch_jobs").
		Where("id = ?", jobID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("batch/bun: delete job: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return batch.ErrJobNotFound
	}
	return nil
}

// ListJobs returns jobs matching opts, ordered by CreatedAt ascending.
// Tag filtering happens in Go: tags live in a JSON text column and the
// dialects disagree on JSON operators.
func (s *Store) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	var models []jobModel
	q := s.db.NewSelect().Model(&models)

	if opts.State != "" {
		q = q.Where("state = ?", string(opts.State))
	}
	q = q.Order("created_at ASC")

	if opts.Tag == "" {
		// Pagination can be pushed down only when no Go-side filter runs.
		if opts.Limit > 0 {
			q = q.Limit(opts.Limit)
		}
		if opts.Offset > 0 {
			q = q.Offset(opts.Offset)
		}
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("batch/bun: list jobs: %w", err)
	}

	jobs := make([]*job.Job, 0, len(models))
	for i := range models {
		j, convErr := fromJobModel(&models[i])
		if convErr != nil {
			return nil, fmt.Errorf("batch/bun: list jobs convert: %w", convErr)
		}
		if opts.Tag != "" && !hasTag(j, opts.Tag) {
			continue
		}
		jobs = append(jobs, j)
	}

	if opts.Tag != "" {
		jobs = page(jobs, opts.Offset, opts.Limit)
	}
	return jobs, nil
}

// PendingJobs returns every job not in a terminal state, ordered by
// CreatedAt ascending. This is the recovery query run at startup.
func (s *Store) PendingJobs(ctx context.Context) ([]*job.Job, error) {
	var models []jobModel
	err := s.db.NewSelect().Model(&models).
		Where("state NOT IN (?, ?, ?)",
			string(job.StateCompleted), string(job.StateFailed), string(job.StateCanceled)).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("batch/bun: pending jobs: %w", err)
	}

	jobs := make([]*job.Job, 0, len(models))
	for i := range models {
		j, convErr := fromJobModel(&models[i])
		if convErr != nil {
			return nil, fmt.Errorf("batch/bun: pending jobs convert: %w", convErr)
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// CountJobs returns the number of jobs matching opts.
func (s *Store) CountJobs(ctx context.Context, opts job.ListOpts) (int64, error) {
	if opts.Tag != "" {
		jobs, err := s.ListJobs(ctx, job.ListOpts{State: opts.State, Tag: opts.Tag})
		if err != nil {
			return 0, err
		}
		return int64(len(jobs)), nil
	}

	q := s.db.NewSelect().TableExpr("batch_jobs")
	if opts.State != "" {
		q = q.Where("state = ?", string(opts.State))
	}
	count, err := q.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("batch/bun: count jobs: %w", err)
	}
	return int64(count), nil
}

func hasTag(j *job.Job, tag string) bool {
	for _, t := range j.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

func page(jobs []*job.Job, offset, limit int) []*job.Job {
	if offset > 0 {
		if offset >= len(jobs) {
			return nil
		}
		jobs = jobs[offset:]
	}
	if limit > 0 && limit < len(jobs) {
		jobs = jobs[:limit]
	}
	return jobs
}
