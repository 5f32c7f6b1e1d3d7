package job

import (
	"context"

	"github.com/whoisdsmith/SmartFileOrganizer/id"
)

// ListOpts controls filtering for job list queries.
type ListOpts struct {
	// State filters by job state. Empty means all states.
	State State
	// Tag filters to jobs carrying the tag. Empty means all jobs.
	Tag string
	// Limit is the maximum number of jobs to return. Zero means no limit.
	Limit int
	// Offset is the number of jobs to skip.
	Offset int
}

// Store defines the persistence contract for jobs. Records are written
// append-or-overwrite keyed by id after every state transition, so that
// PendingJobs can reconstruct the set of non-terminal jobs after a
// restart.
type Store interface {
	// SaveJob inserts or overwrites the job record keyed by its id.
	SaveJob(ctx context.Context, j *Job) error

	// GetJob retrieves a job by id.
	GetJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// DeleteJob removes a job record by id.
	DeleteJob(ctx context.Context, jobID id.JobID) error

	// ListJobs returns jobs matching the given options, ordered by
	// CreatedAt ascending.
	ListJobs(ctx context.Context, opts ListOpts) ([]*Job, error)

	// PendingJobs returns every job not in a terminal state.
	PendingJobs(ctx context.Context) ([]*Job, error)

	// CountJobs returns the number of jobs matching the given options.
	CountJobs(ctx context.Context, opts ListOpts) (int64, error)
}
